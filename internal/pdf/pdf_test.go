package pdf

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope.pdf")); err == nil {
		t.Fatal("Open succeeded on a missing file")
	}
}

func TestStem(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/books/moby-dick.pdf", "moby-dick"},
		{"plain", "plain"},
		{"dir/archive.tar.pdf", "archive.tar"},
	}
	for _, tc := range cases {
		if got := Stem(tc.in); got != tc.want {
			t.Errorf("Stem(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestReadCoverFileMediaTypes(t *testing.T) {
	dir := t.TempDir()
	cases := []struct{ name, media string }{
		{"c.jpg", "image/jpeg"},
		{"c.JPEG", "image/jpeg"},
		{"c.png", "image/png"},
		{"c.webp", "image/webp"},
		{"c.gif", "image/gif"},
	}
	for _, tc := range cases {
		path := filepath.Join(dir, tc.name)
		if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		data, media, err := ReadCoverFile(path)
		if err != nil {
			t.Fatalf("ReadCoverFile(%s) failed: %v", tc.name, err)
		}
		if media != tc.media {
			t.Errorf("ReadCoverFile(%s) media = %q, want %q", tc.name, media, tc.media)
		}
		if len(data) != 3 {
			t.Errorf("ReadCoverFile(%s) returned %d bytes", tc.name, len(data))
		}
	}
}

func TestReadCoverFileMissing(t *testing.T) {
	if _, _, err := ReadCoverFile(filepath.Join(t.TempDir(), "gone.png")); err == nil {
		t.Fatal("ReadCoverFile succeeded on a missing file")
	}
}
