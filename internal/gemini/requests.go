package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/JaapHaitsma/pdf2epub/internal/epub"
	"github.com/JaapHaitsma/pdf2epub/internal/jsonrepair"
)

const sectionsInstruction = "Analyze this PDF and return JSON with all logical sections in reading order. " +
	"Return only JSON with shape: {\"sections\": [{\"index\": integer starting at 1, \"type\": one of " +
	"'title','copyright','dedication','preface','foreword','prologue','introduction','toc','chapter'," +
	"'appendix','acknowledgments','epilogue','afterword','notes','glossary','bibliography','index', " +
	"\"title\": string}]}. Focus on logical structure, not pages. Do not include full content here."

const metadataInstruction = "Extract bibliographic metadata for this book and return JSON only. " +
	"Fields: title (string); authors (array of strings); isbn (string, digits/dashes, null if none); " +
	"language (ISO 639-1 like 'en' if known); publisher (string); date (YYYY or YYYY-MM or YYYY-MM-DD); " +
	"description (string summary); subjects (array of strings)."

// Sections asks the model to enumerate every logical book unit in reading
// order. A response without a well-formed "sections" array is a structural
// failure and is returned as an error.
func (c *Client) Sections(ctx context.Context, file *File) ([]epub.Section, error) {
	reqID := uuid.NewString()
	c.log.Info("requesting section list", "request_id", reqID, "model", c.model)

	raw, err := c.generateJSON(ctx, sectionsInstruction, file)
	if err != nil {
		return nil, fmt.Errorf("sections request failed: %w", err)
	}
	c.debugDump("sections", raw)

	repaired, err := jsonrepair.Repair(raw)
	if err != nil {
		return nil, fmt.Errorf("sections response is not JSON: %w", err)
	}
	if err := validate(sectionsSchema, repaired); err != nil {
		return nil, fmt.Errorf("sections response has wrong shape: %w", err)
	}
	var env struct {
		Sections []epub.Section `json:"sections"`
	}
	if err := json.Unmarshal(repaired, &env); err != nil {
		return nil, fmt.Errorf("failed to decode sections: %w", err)
	}
	c.log.Info("received section list", "request_id", reqID, "sections", len(env.Sections))
	return env.Sections, nil
}

// xhtmlAliases are the keys tried, in order, for the section body. Models
// drift between these names even when told the required one.
var xhtmlAliases = []string{"xhtml", "html", "content", "section_html"}

// SectionContent asks the model for one section's body as an XHTML fragment
// plus any figure references worth extracting.
func (c *Client) SectionContent(ctx context.Context, file *File, sec epub.Section) (epub.SectionContent, error) {
	reqID := uuid.NewString()
	c.log.Info("requesting section content",
		"request_id", reqID, "index", sec.Index, "type", sec.Type, "title", sec.Title)

	secType := sec.Type
	if secType == "" {
		secType = "section"
	}
	instruction := fmt.Sprintf(
		"Extract the specified book section from the PDF and return JSON only. "+
			"The JSON object must include:\n"+
			"- \"xhtml\": a complete HTML5 fragment for this section (no scripts).\n"+
			"- \"images\": an array (possibly empty) of figures that appear in this section, each "+
			"{\"filename\": short descriptive name with extension, \"label\": caption or purpose, "+
			"\"box_2d\": [x0,y0,x1,y1] bounding box on the page, \"page_index\": 1-based PDF page}. "+
			"Reference each listed figure from the xhtml as <img src=\"images/FILENAME\"/>.\n"+
			"Return only JSON. Section to extract: index=%d, type=%q, title=%q.",
		sec.Index, secType, sec.Title)

	raw, err := c.generateJSON(ctx, instruction, file)
	if err != nil {
		return epub.SectionContent{}, fmt.Errorf("section %d request failed: %w", sec.Index, err)
	}
	c.debugDump(fmt.Sprintf("sec%02d", sec.Index), raw)

	repaired, err := jsonrepair.Repair(raw)
	if err != nil {
		return epub.SectionContent{}, fmt.Errorf("section %d response is not JSON: %w", sec.Index, err)
	}
	if err := validate(sectionContentSchema, repaired); err != nil {
		return epub.SectionContent{}, fmt.Errorf("section %d response has wrong shape: %w", sec.Index, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(repaired, &fields); err != nil {
		return epub.SectionContent{}, fmt.Errorf("failed to decode section %d: %w", sec.Index, err)
	}
	var out epub.SectionContent
	for _, key := range xhtmlAliases {
		if v, ok := fields[key]; ok {
			var s string
			if json.Unmarshal(v, &s) == nil && s != "" {
				out.XHTML = s
				break
			}
		}
	}
	if v, ok := fields["images"]; ok {
		if err := json.Unmarshal(v, &out.Images); err != nil {
			c.log.Warn("ignoring undecodable images array",
				"request_id", reqID, "index", sec.Index, "error", err)
			out.Images = nil
		}
	}
	return out, nil
}

// metadataAliases maps each metadata field to the response keys tried for
// it, in order of preference.
var metadataAliases = []struct {
	field string
	keys  []string
}{
	{"title", []string{"title", "book_title"}},
	{"authors", []string{"authors", "author"}},
	{"isbn", []string{"isbn", "identifier"}},
	{"language", []string{"language", "lang"}},
	{"publisher", []string{"publisher"}},
	{"date", []string{"date", "published", "publication_date"}},
	{"description", []string{"description", "summary"}},
	{"subjects", []string{"subjects", "keywords"}},
}

// Metadata asks the model for bibliographic metadata. Any recognizable JSON
// object is accepted; unrecognized or missing fields stay zero-valued.
func (c *Client) Metadata(ctx context.Context, file *File) (epub.Metadata, error) {
	reqID := uuid.NewString()
	c.log.Info("requesting book metadata", "request_id", reqID, "model", c.model)

	raw, err := c.generateJSON(ctx, metadataInstruction, file)
	if err != nil {
		return epub.Metadata{}, fmt.Errorf("metadata request failed: %w", err)
	}
	c.debugDump("metadata", raw)

	repaired, err := jsonrepair.Repair(raw)
	if err != nil {
		return epub.Metadata{}, fmt.Errorf("metadata response is not JSON: %w", err)
	}
	if err := validate(metadataSchema, repaired); err != nil {
		return epub.Metadata{}, fmt.Errorf("metadata response has wrong shape: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(repaired, &fields); err != nil {
		return epub.Metadata{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return resolveMetadata(fields), nil
}

// resolveMetadata maps a loose response object into Metadata using the alias
// table, coercing bare strings into single-element lists where a list is
// expected.
func resolveMetadata(fields map[string]any) epub.Metadata {
	var md epub.Metadata
	for _, alias := range metadataAliases {
		var v any
		for _, key := range alias.keys {
			if got, ok := fields[key]; ok && got != nil {
				v = got
				break
			}
		}
		if v == nil {
			continue
		}
		switch alias.field {
		case "title":
			md.Title = asString(v)
		case "authors":
			md.Authors = asStringList(v)
		case "isbn":
			md.ISBN = asString(v)
		case "language":
			md.Language = asString(v)
		case "publisher":
			md.Publisher = asString(v)
		case "date":
			md.Date = asString(v)
		case "description":
			md.Description = asString(v)
		case "subjects":
			md.Subjects = asStringList(v)
		}
	}
	return md
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStringList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func validate(schema *jsonschema.Schema, doc json.RawMessage) error {
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}

// debugDump writes a raw pre-repair model response next to the output when
// debug capture is enabled. Failures are logged and ignored.
func (c *Client) debugDump(label, raw string) {
	if c.debugDir == "" {
		return
	}
	name := fmt.Sprintf("%s_%s_raw.json", c.debugStem, label)
	path := filepath.Join(c.debugDir, name)
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		c.log.Warn("failed to write debug dump", "path", path, "error", err)
	}
}
