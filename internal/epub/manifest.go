// Package epub assembles model-extracted book sections into an EPUB file
// manifest and materializes it as a valid OCF container.
package epub

import (
	"fmt"
	"log/slog"
	"path"
	"strings"
	"unicode"
)

// NullUUIDURN is the publication identifier used when no ISBN is known.
const NullUUIDURN = "urn:uuid:00000000-0000-0000-0000-000000000000"

// Section is one logical book unit as enumerated by the external model.
// Ordering defines reading order; Index is advisory only.
type Section struct {
	Index     int    `json:"index"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	PageStart int    `json:"page_start,omitempty"`
	PageEnd   int    `json:"page_end,omitempty"`
}

// ImageRef is a figure reference reported by the model for one section.
// Box holds a rectangle in one of several coordinate conventions; PageIndex
// is 1-based into the source PDF.
type ImageRef struct {
	Filename  string     `json:"filename"`
	Label     string     `json:"label,omitempty"`
	Box       [4]float64 `json:"box_2d"`
	PageIndex int        `json:"page_index"`
}

// SectionContent is the model's extraction result for one section.
type SectionContent struct {
	XHTML  string     `json:"xhtml"`
	Images []ImageRef `json:"images,omitempty"`
}

// ManifestFile is one file in the accumulating output manifest. Encoding
// "utf-8" means Content holds text; an empty Encoding means Binary holds raw
// bytes. Paths are relative with POSIX separators.
type ManifestFile struct {
	Path     string
	Content  string
	Binary   []byte
	Encoding string
}

// Manifest is the complete set of files for one EPUB.
type Manifest struct {
	Files []ManifestFile
}

// Metadata is best-effort bibliographic metadata. Any field may be empty and
// degrades to a default when the package document is generated.
type Metadata struct {
	Title       string
	Authors     []string
	ISBN        string
	Language    string
	Publisher   string
	Date        string
	Description string
	Subjects    []string
}

// Identifier returns the publication identifier: urn:isbn when an ISBN is
// known, the fixed null-UUID URN otherwise.
func (m Metadata) Identifier() string {
	if m.ISBN != "" {
		return "urn:isbn:" + m.ISBN
	}
	return NullUUIDURN
}

// Cover describes an optional cover image and its wrapper page.
type Cover struct {
	ImageID    string
	ImageHref  string
	ImageMedia string
	PageID     string
	PageHref   string
	Binary     []byte
}

type chapterEntry struct {
	ID    string
	Href  string
	Title string
	Type  string
}

type imageEntry struct {
	ID    string
	Href  string
	Media string
}

// Builder accumulates chapters and images into a Manifest. It owns the
// used-name maps for the lifetime of one conversion; it is not safe for
// concurrent use and is not meant to be reused across conversions.
type Builder struct {
	stem           string
	files          []ManifestFile
	entries        []chapterEntry
	images         []imageEntry
	cover          *Cover
	usedNames      map[string]int
	usedImageNames map[string]int
	log            *slog.Logger
}

// NewBuilder creates a Builder for one conversion. stem is the output file
// stem, used as the fallback book title. The shared stylesheet is added
// immediately so every chapter can link it.
func NewBuilder(stem string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Builder{
		stem:           stem,
		usedNames:      make(map[string]int),
		usedImageNames: make(map[string]int),
		log:            logger,
	}
	b.files = append(b.files, ManifestFile{
		Path:     "OEBPS/styles.css",
		Content:  defaultStylesheet,
		Encoding: "utf-8",
	})
	return b
}

// Slugify lowercases text and collapses every non-alphanumeric run into a
// single hyphen. Returns "" when nothing alphanumeric survives.
func Slugify(text string) string {
	var out strings.Builder
	prevHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out.WriteRune(r)
			prevHyphen = false
		} else if !prevHyphen {
			out.WriteByte('-')
			prevHyphen = true
		}
	}
	return strings.Trim(out.String(), "-")
}

// uniqueName disambiguates repeats of base: the first occurrence is
// returned unsuffixed, repeats get -01, -02, ... in encounter order.
func uniqueName(base string, used map[string]int) string {
	count := used[base] + 1
	used[base] = count
	if count == 1 {
		return base
	}
	return fmt.Sprintf("%s-%02d", base, count-1)
}

// UniqueBasename derives a collision-free chapter basename from the section
// title, falling back to the section type and then to "section".
func (b *Builder) UniqueBasename(title, secType string) string {
	base := Slugify(title)
	if base == "" {
		base = Slugify(secType)
	}
	if base == "" {
		base = "section"
	}
	return uniqueName(base, b.usedNames)
}

// AddSection appends one chapter document. fragment must already be a full
// XHTML document (see WrapXHTML); href is returned for navigation.
func (b *Builder) AddSection(sec Section, xhtml string) string {
	base := b.UniqueBasename(sec.Title, sec.Type)
	href := base + ".xhtml"
	b.files = append(b.files, ManifestFile{
		Path:     "OEBPS/" + href,
		Content:  xhtml,
		Encoding: "utf-8",
	})
	// The manifest ID comes from encounter position, not the model's
	// advisory index, which can repeat.
	b.entries = append(b.entries, chapterEntry{
		ID:    fmt.Sprintf("sec%02d", len(b.entries)+1),
		Href:  href,
		Title: sec.Title,
		Type:  sec.Type,
	})
	b.log.Debug("added section", "index", sec.Index, "type", sec.Type, "href", href)
	return href
}

// RegisterImage adds image bytes under the shared images/ namespace,
// disambiguating repeated filenames independently of chapter names. The
// returned href is relative to OEBPS (e.g. "images/figure-01.png").
func (b *Builder) RegisterImage(filename string, data []byte) string {
	name := normalizeImageName(filename)
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	key := uniqueName(stem, b.usedImageNames)
	final := key + ext

	href := "images/" + final
	b.files = append(b.files, ManifestFile{
		Path:   "OEBPS/" + href,
		Binary: data,
	})
	b.images = append(b.images, imageEntry{
		ID:    "img-" + Slugify(key),
		Href:  href,
		Media: mediaTypeForExt(ext),
	})
	b.log.Debug("registered image", "href", href, "bytes", len(data))
	return href
}

// SetCover installs the cover image and its wrapper page. A later call
// replaces an earlier one, which is how a user-provided cover wins over an
// auto-derived one.
func (b *Builder) SetCover(data []byte, mediaType string) {
	ext := extForMediaType(mediaType)
	b.cover = &Cover{
		ImageID:    "cover-image",
		ImageHref:  "images/cover" + ext,
		ImageMedia: mediaType,
		PageID:     "cover",
		PageHref:   "cover.xhtml",
		Binary:     data,
	}
}

// Finalize assembles navigation, NCX, OPF, cover and container files and
// returns the completed manifest. meta may be zero-valued; every field
// degrades to a default so a manifest is always producible.
func (b *Builder) Finalize(meta Metadata) Manifest {
	if meta.Title == "" {
		meta.Title = b.stem
	}
	if meta.Language == "" {
		meta.Language = "en"
	}

	files := make([]ManifestFile, 0, len(b.files)+8)
	files = append(files, ManifestFile{
		Path:     "mimetype",
		Content:  "application/epub+zip",
		Encoding: "utf-8",
	})
	files = append(files, ManifestFile{
		Path:     "META-INF/container.xml",
		Content:  containerXML,
		Encoding: "utf-8",
	})

	if b.cover != nil {
		files = append(files, ManifestFile{
			Path:   "OEBPS/" + b.cover.ImageHref,
			Binary: b.cover.Binary,
		})
		files = append(files, ManifestFile{
			Path:     "OEBPS/" + b.cover.PageHref,
			Content:  BuildCoverXHTML(b.cover.ImageHref),
			Encoding: "utf-8",
		})
	}

	files = append(files, b.files...)
	files = append(files,
		ManifestFile{Path: "OEBPS/nav.xhtml", Content: buildNavXHTML(meta.Title, b.entries), Encoding: "utf-8"},
		ManifestFile{Path: "OEBPS/toc.ncx", Content: buildTocNCX(meta.Identifier(), meta.Title, b.entries), Encoding: "utf-8"},
		ManifestFile{Path: "OEBPS/content.opf", Content: buildContentOPF(meta, b.entries, b.images, b.cover), Encoding: "utf-8"},
	)

	b.log.Info("manifest assembled",
		"chapters", len(b.entries), "images", len(b.images), "files", len(files))
	return Manifest{Files: files}
}

func normalizeImageName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := strings.ToLower(path.Ext(name))
	stem := Slugify(strings.TrimSuffix(name, path.Ext(name)))
	if stem == "" {
		stem = "image"
	}
	if ext == "" {
		ext = ".png"
	}
	return stem + ext
}

func mediaTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

func extForMediaType(media string) string {
	switch media {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/svg+xml":
		return ".svg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

const containerXML = `<?xml version='1.0' encoding='utf-8'?>
<container version='1.0' xmlns='urn:oasis:names:tc:opendocument:xmlns:container'>
  <rootfiles>
    <rootfile full-path='OEBPS/content.opf' media-type='application/oebps-package+xml'/>
  </rootfiles>
</container>
`

const defaultStylesheet = `body{font-family:serif;line-height:1.5;} ` +
	`h1,h2,h3{font-family:sans-serif;} ` +
	`img{max-width:100%; height:auto;} code,pre{font-family:monospace;}`
