package gemini

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Response shape schemas. These validate the structural contract of repaired
// model output; field-level salvage (key aliases, string/list coercion)
// happens after validation passes.
const sectionsSchemaJSON = `{
  "type": "object",
  "required": ["sections"],
  "properties": {
    "sections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["index", "title"],
        "properties": {
          "index": {"type": "integer"},
          "type": {"type": "string"},
          "title": {"type": "string"}
        }
      }
    }
  }
}`

const sectionContentSchemaJSON = `{
  "type": "object",
  "properties": {
    "images": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["filename", "box_2d", "page_index"],
        "properties": {
          "filename": {"type": "string"},
          "label": {"type": "string"},
          "box_2d": {
            "type": "array",
            "minItems": 4,
            "maxItems": 4,
            "items": {"type": "number"}
          },
          "page_index": {"type": "integer", "minimum": 1}
        }
      }
    }
  }
}`

const metadataSchemaJSON = `{"type": "object"}`

var (
	sectionsSchema       = mustCompile("sections.json", sectionsSchemaJSON)
	sectionContentSchema = mustCompile("section_content.json", sectionContentSchemaJSON)
	metadataSchema       = mustCompile("metadata.json", metadataSchemaJSON)
)

func mustCompile(name, src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(src)); err != nil {
		panic(fmt.Sprintf("gemini: bad schema %s: %v", name, err))
	}
	return c.MustCompile(name)
}
