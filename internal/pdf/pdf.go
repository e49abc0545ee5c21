// Package pdf wraps the PDF collaborators: pdfcpu for document geometry,
// pdftoppm (poppler-utils) for page rasterization, and imaging for figure
// cropping and cover derivation.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/JaapHaitsma/pdf2epub/internal/geometry"
)

// Rendering defaults. 300 DPI matches scan-quality extraction; covers are
// rendered lighter and downscaled.
const (
	FigureDPI = 300
	CoverDPI  = 150

	coverMaxWidth  = 1600
	coverMaxHeight = 2560
	coverQuality   = 85
)

// Document is an opened source PDF with cached page geometry.
type Document struct {
	path      string
	pageCount int
	pageRects []geometry.Rect
}

// Open validates the file and reads its page count and per-page media boxes.
func Open(path string) (*Document, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("PDF not found: %s", path)
	}

	count, err := api.PageCountFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	dims, err := api.PageDimsFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get page dimensions: %w", err)
	}

	rects := make([]geometry.Rect, len(dims))
	for i, d := range dims {
		rects[i] = geometry.Rect{X0: 0, Y0: 0, X1: d.Width, Y1: d.Height}
	}

	return &Document{path: path, pageCount: count, pageRects: rects}, nil
}

// Path returns the source file path.
func (d *Document) Path() string { return d.path }

// PageCount returns the number of pages.
func (d *Document) PageCount() int { return d.pageCount }

// PageRect returns the media box of a 1-based page in PDF points.
func (d *Document) PageRect(page int) (geometry.Rect, error) {
	if page < 1 || page > len(d.pageRects) {
		return geometry.Rect{}, fmt.Errorf("page %d out of range (1-%d)", page, len(d.pageRects))
	}
	return d.pageRects[page-1], nil
}

// RenderPage rasterizes a 1-based page via pdftoppm at the given DPI.
func (d *Document) RenderPage(ctx context.Context, page, dpi int) (image.Image, error) {
	if page < 1 || page > d.pageCount {
		return nil, fmt.Errorf("page %d out of range (1-%d)", page, d.pageCount)
	}

	tmpDir, err := os.MkdirTemp("", "pdf2epub-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := filepath.Join(tmpDir, "page")
	pageStr := fmt.Sprintf("%d", page)
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", fmt.Sprintf("%d", dpi),
		"-singlefile",
		d.path,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	img, err := imaging.Open(outputPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered page: %w", err)
	}
	return img, nil
}

// CropFigure renders the page and crops the given page-point rectangle,
// returning PNG bytes. rect must already be normalized into page
// coordinates (see geometry.NormalizeBox).
func (d *Document) CropFigure(ctx context.Context, page int, rect geometry.Rect) ([]byte, error) {
	img, err := d.RenderPage(ctx, page, FigureDPI)
	if err != nil {
		return nil, err
	}
	pageRect, err := d.PageRect(page)
	if err != nil {
		return nil, err
	}

	// Map page points to raster pixels.
	scaleX := float64(img.Bounds().Dx()) / pageRect.Width()
	scaleY := float64(img.Bounds().Dy()) / pageRect.Height()
	px := image.Rect(
		int(rect.X0*scaleX), int(rect.Y0*scaleY),
		int(rect.X1*scaleX), int(rect.Y1*scaleY),
	)

	cropped := imaging.Crop(img, px)
	if cropped.Bounds().Empty() {
		return nil, fmt.Errorf("figure crop is empty for page %d", page)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode figure: %w", err)
	}
	return buf.Bytes(), nil
}

// DeriveCover rasterizes the first page and downscales it into a JPEG cover.
func (d *Document) DeriveCover(ctx context.Context) ([]byte, string, error) {
	img, err := d.RenderPage(ctx, 1, CoverDPI)
	if err != nil {
		return nil, "", fmt.Errorf("failed to derive cover: %w", err)
	}
	fitted := imaging.Fit(img, coverMaxWidth, coverMaxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(coverQuality)); err != nil {
		return nil, "", fmt.Errorf("failed to encode cover: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// ReadCoverFile loads a user-provided cover image as-is, returning its bytes
// and media type. A user-provided cover always wins over a derived one.
func ReadCoverFile(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read cover image: %w", err)
	}
	media := "image/png"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		media = "image/jpeg"
	case ".gif":
		media = "image/gif"
	case ".webp":
		media = "image/webp"
	case ".svg":
		media = "image/svg+xml"
	}
	return data, media, nil
}

// Stem returns the base filename without extension, used as the default
// book title and output stem.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
