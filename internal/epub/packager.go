package epub

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrMissingMimetype indicates the manifest reached the zip step without a
// mimetype entry. This is a defect in accumulated manifest state, not a
// recoverable condition.
var ErrMissingMimetype = errors.New("EPUB 'mimetype' file missing in manifest output")

// RepairManifest enforces the container invariants before writing: a
// mimetype entry at position 0 and a META-INF/container.xml pointing at the
// OPF. Existing entries are left alone.
func RepairManifest(m *Manifest) {
	hasMimetype := false
	hasContainer := false
	for _, f := range m.Files {
		switch f.Path {
		case "mimetype":
			hasMimetype = true
		case "META-INF/container.xml":
			hasContainer = true
		}
	}
	if !hasMimetype {
		m.Files = append([]ManifestFile{{
			Path:     "mimetype",
			Content:  "application/epub+zip",
			Encoding: "utf-8",
		}}, m.Files...)
	}
	if !hasContainer {
		m.Files = append(m.Files, ManifestFile{
			Path:     "META-INF/container.xml",
			Content:  containerXML,
			Encoding: "utf-8",
		})
	}
}

// WriteManifestToDir materializes the manifest under outDir, creating
// parent directories as needed. Text entries are written with their declared
// encoding, binary entries as raw bytes.
func WriteManifestToDir(m Manifest, outDir string) error {
	RepairManifest(&m)
	for _, f := range m.Files {
		dst := filepath.Join(outDir, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", f.Path, err)
		}
		data := f.Binary
		if f.Encoding != "" {
			data = []byte(f.Content)
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
	}
	return nil
}

// ZipEPUBFromDir zips the staged directory into out per the EPUB container
// rule: the mimetype entry comes first and is stored uncompressed, every
// other entry is DEFLATE-compressed in filesystem walk order.
func ZipEPUBFromDir(srcDir, out string) error {
	mimetypePath := filepath.Join(srcDir, "mimetype")
	mimetypeData, err := os.ReadFile(mimetypePath)
	if err != nil {
		return ErrMissingMimetype
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		return fmt.Errorf("failed to create mimetype entry: %w", err)
	}
	if _, err := w.Write(mimetypeData); err != nil {
		return fmt.Errorf("failed to write mimetype entry: %w", err)
	}

	err = filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "mimetype" {
			return nil
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: rel, Method: zip.Deflate})
		if err != nil {
			return fmt.Errorf("failed to create zip entry %s: %w", rel, err)
		}
		src, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", p, err)
		}
		defer src.Close()
		if _, err := io.Copy(w, src); err != nil {
			return fmt.Errorf("failed to compress %s: %w", rel, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to zip %s: %w", srcDir, err)
	}
	return nil
}

// StagingDir returns the staging directory path for an output file:
// <dir>/<stem>_epub_src.
func StagingDir(outFile string) string {
	dir := filepath.Dir(outFile)
	stem := strings.TrimSuffix(filepath.Base(outFile), filepath.Ext(outFile))
	return filepath.Join(dir, stem+"_epub_src")
}
