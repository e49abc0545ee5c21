package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/JaapHaitsma/pdf2epub/internal/epub"
	"github.com/JaapHaitsma/pdf2epub/internal/gemini"
	"github.com/JaapHaitsma/pdf2epub/internal/geometry"
	"github.com/JaapHaitsma/pdf2epub/internal/pdf"
)

// ErrInputNotFound signals a missing input PDF; the CLI maps it to its own
// exit code.
var ErrInputNotFound = errors.New("input PDF not found")

// ModelClient is the slice of the external model used by a conversion.
type ModelClient interface {
	UploadPDF(ctx context.Context, path string) (*gemini.File, error)
	Sections(ctx context.Context, file *gemini.File) ([]epub.Section, error)
	SectionContent(ctx context.Context, file *gemini.File, sec epub.Section) (epub.SectionContent, error)
	Metadata(ctx context.Context, file *gemini.File) (epub.Metadata, error)
}

// Document is the slice of the PDF collaborator used by a conversion.
type Document interface {
	PageCount() int
	PageRect(page int) (geometry.Rect, error)
	CropFigure(ctx context.Context, page int, rect geometry.Rect) ([]byte, error)
	DeriveCover(ctx context.Context) ([]byte, string, error)
}

// Options parameterizes one conversion run.
type Options struct {
	Input       string
	Output      string // defaults to Input with .epub
	CoverPath   string // optional explicit cover image; wins over the derived one
	KeepSources bool
	WrapWidth   int
}

// Converter runs PDF to EPUB conversions. Zero fields are filled with the
// real collaborators; tests inject fakes.
type Converter struct {
	Client  ModelClient
	OpenDoc func(path string) (Document, error)
	Log     *slog.Logger
}

// New returns a Converter backed by the real PDF collaborator.
func New(client ModelClient, log *slog.Logger) *Converter {
	if log == nil {
		log = slog.Default()
	}
	return &Converter{
		Client: client,
		OpenDoc: func(path string) (Document, error) {
			return pdf.Open(path)
		},
		Log: log,
	}
}

// Convert runs the whole pipeline: upload, section enumeration, sequential
// per-section extraction, metadata, cover, staging and packaging. Sections
// are processed strictly in order; the builder's name maps are not safe for
// concurrent use.
func (cv *Converter) Convert(ctx context.Context, opts Options) error {
	if opts.Output == "" {
		opts.Output = strings.TrimSuffix(opts.Input, ".pdf") + ".epub"
	}
	if opts.WrapWidth == 0 {
		opts.WrapWidth = 100
	}

	if _, err := os.Stat(opts.Input); err != nil {
		return fmt.Errorf("%w: %s", ErrInputNotFound, opts.Input)
	}

	cv.Log.Info("reading PDF", "path", opts.Input)
	doc, err := cv.OpenDoc(opts.Input)
	if err != nil {
		return err
	}

	file, err := cv.Client.UploadPDF(ctx, opts.Input)
	if err != nil {
		return err
	}

	sections, err := cv.Client.Sections(ctx, file)
	if err != nil {
		return err
	}
	if len(sections) == 0 {
		cv.Log.Warn("model returned no sections, falling back to a single section")
		sections = []epub.Section{{Index: 1, Type: "section", Title: pdf.Stem(opts.Input)}}
	}

	builder := epub.NewBuilder(pdf.Stem(opts.Output), cv.Log)
	for i, sec := range sections {
		sec = normalizeSection(sec, i)
		if err := cv.addSection(ctx, builder, doc, file, sec, opts.WrapWidth); err != nil {
			return err
		}
	}

	meta, err := cv.Client.Metadata(ctx, file)
	if err != nil {
		cv.Log.Warn("metadata fetch failed, using defaults", "error", err)
		meta = epub.Metadata{}
	}

	cv.resolveCover(ctx, builder, doc, opts.CoverPath)

	manifest := builder.Finalize(meta)
	epub.RepairManifest(&manifest)

	staging := epub.StagingDir(opts.Output)
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("failed to clear staging dir: %w", err)
	}
	if err := epub.WriteManifestToDir(manifest, staging); err != nil {
		return err
	}
	cv.Log.Info("zipping EPUB", "out", opts.Output)
	if err := epub.ZipEPUBFromDir(staging, opts.Output); err != nil {
		return err
	}
	if !opts.KeepSources {
		if err := os.RemoveAll(staging); err != nil {
			cv.Log.Warn("failed to remove staging dir", "path", staging, "error", err)
		}
	}
	return nil
}

// addSection fetches one section's content, extracts its usable figures,
// strips references to the rest and adds the finished chapter document.
func (cv *Converter) addSection(ctx context.Context, builder *epub.Builder, doc Document, file *gemini.File, sec epub.Section, wrapWidth int) error {
	content, err := cv.Client.SectionContent(ctx, file, sec)
	if err != nil {
		return err
	}

	xhtml := content.XHTML
	var stripped []string
	for _, img := range content.Images {
		href, ok := cv.extractImage(ctx, builder, doc, img)
		if !ok {
			stripped = append(stripped, img.Filename)
			continue
		}
		// The model references figures as images/<filename>; collision
		// suffixing may have renamed the registered file.
		if href != "images/"+img.Filename {
			xhtml = strings.ReplaceAll(xhtml, `"images/`+img.Filename+`"`, `"`+href+`"`)
			xhtml = strings.ReplaceAll(xhtml, `'images/`+img.Filename+`'`, `'`+href+`'`)
		}
	}
	if len(stripped) > 0 {
		xhtml = epub.StripImageRefs(xhtml, stripped)
	}

	xhtml = epub.EnsureTitleHeading(xhtml, sec.Title)
	xhtml = epub.NormalizeEntities(xhtml)
	xhtml = epub.SoftWrap(xhtml, wrapWidth)
	builder.AddSection(sec, epub.WrapXHTML(sec.Title, xhtml))
	return nil
}

// extractImage crops one referenced figure from its page and registers it,
// reporting false when the reference is decorative or unusable so the caller
// strips it from the chapter body.
func (cv *Converter) extractImage(ctx context.Context, builder *epub.Builder, doc Document, img epub.ImageRef) (string, bool) {
	if geometry.IsDecorative(geometry.UnitBox(img.Box)) {
		cv.Log.Debug("skipping decorative image", "filename", img.Filename, "box", img.Box)
		return "", false
	}
	if img.PageIndex < 1 || img.PageIndex > doc.PageCount() {
		cv.Log.Warn("image page out of range", "filename", img.Filename, "page", img.PageIndex)
		return "", false
	}
	pageRect, err := doc.PageRect(img.PageIndex)
	if err != nil {
		cv.Log.Warn("failed to read page dimensions", "page", img.PageIndex, "error", err)
		return "", false
	}
	data, err := doc.CropFigure(ctx, img.PageIndex, geometry.NormalizeBox(img.Box, pageRect))
	if err != nil {
		cv.Log.Warn("failed to extract figure", "filename", img.Filename, "page", img.PageIndex, "error", err)
		return "", false
	}
	return builder.RegisterImage(img.Filename, data), true
}

// resolveCover installs the cover: an explicit image file when given, the
// rendered first PDF page otherwise. Failures leave the book coverless.
func (cv *Converter) resolveCover(ctx context.Context, builder *epub.Builder, doc Document, coverPath string) {
	if coverPath != "" {
		data, media, err := pdf.ReadCoverFile(coverPath)
		if err == nil {
			builder.SetCover(data, media)
			return
		}
		cv.Log.Warn("failed to read cover file, deriving from first page", "path", coverPath, "error", err)
	}
	data, media, err := doc.DeriveCover(ctx)
	if err != nil {
		cv.Log.Warn("failed to derive cover from first page", "error", err)
		return
	}
	builder.SetCover(data, media)
}

// normalizeSection fills model-omitted fields: a positional index, a
// lowercased default type and a title derived from the type.
func normalizeSection(sec epub.Section, position int) epub.Section {
	if sec.Index == 0 {
		sec.Index = position + 1
	}
	sec.Type = strings.ToLower(strings.TrimSpace(sec.Type))
	if sec.Type == "" {
		sec.Type = "section"
	}
	if sec.Title == "" {
		sec.Title = strings.ToUpper(sec.Type[:1]) + sec.Type[1:]
	}
	return sec
}
