package epub

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"testing"
)

// assertWellFormed fails the test when doc is not parseable XML.
func assertWellFormed(t *testing.T, doc string) {
	t.Helper()
	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		_, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			t.Fatalf("document is not well-formed XML: %v\n%s", err, doc)
		}
	}
}

func TestEscapeXMLSinglePass(t *testing.T) {
	if got := EscapeXML("A & B"); got != "A &amp; B" {
		t.Fatalf("EscapeXML(\"A & B\") = %q", got)
	}
	// Not idempotent: the second pass escapes the ampersand again.
	if got := EscapeXML(EscapeXML("A & B")); got != "A &amp;amp; B" {
		t.Fatalf("double escape = %q", got)
	}
	if got := EscapeXML(`<a href="x">'q'</a>`); got != "&lt;a href=&quot;x&quot;&gt;&apos;q&apos;&lt;/a&gt;" {
		t.Fatalf("full escape = %q", got)
	}
}

func TestWrapXHTMLWellFormed(t *testing.T) {
	doc := WrapXHTML("Ch & One", "<h1>Ch &amp; One</h1><p>Body</p>")
	assertWellFormed(t, doc)
	if !strings.Contains(doc, "<title>Ch &amp; One</title>") {
		t.Error("title not escaped")
	}
	if !strings.Contains(doc, "xml:lang='en'") {
		t.Error("xml:lang missing")
	}
	if !strings.Contains(doc, "href='styles.css'") {
		t.Error("stylesheet link missing")
	}
}

func TestNormalizeEntities(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Copyright &copy; 1975", "Copyright &#169; 1975"},
		{"A &amp; B", "A &amp; B"},
		{"A & B", "A &amp; B"},
		{"&#169; stays", "&#169; stays"},
		{"&#x2014; stays", "&#x2014; stays"},
		{"em&mdash;dash", "em&#8212;dash"},
		{"&unknownent; x", "&amp;unknownent; x"},
		{"Fish &chips", "Fish &amp;chips"},
	}
	for _, tc := range cases {
		if got := NormalizeEntities(tc.in); got != tc.want {
			t.Errorf("NormalizeEntities(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeEntitiesMakesFragmentParseable(t *testing.T) {
	frag := NormalizeEntities("<p>Copyright &copy; 1975 &mdash; all rights reserved</p>")
	assertWellFormed(t, WrapXHTML("Test", frag))
}

func TestEnsureTitleHeadingExisting(t *testing.T) {
	frag := "<h1>Chapter One</h1><p>text</p>"
	if got := EnsureTitleHeading(frag, "Chapter One"); got != frag {
		t.Fatalf("heading duplicated: %q", got)
	}
	// Case-insensitive, trimmed match, h2 also counts.
	frag = "<h2>  chapter one </h2><p>text</p>"
	if got := EnsureTitleHeading(frag, "Chapter One"); got != frag {
		t.Fatalf("case-insensitive match failed: %q", got)
	}
}

func TestEnsureTitleHeadingPrepends(t *testing.T) {
	got := EnsureTitleHeading("<p>text</p>", "Intro & Outro")
	if !strings.HasPrefix(got, "<h1>Intro &amp; Outro</h1>") {
		t.Fatalf("heading not prepended: %q", got)
	}
	if !strings.Contains(got, "<p>text</p>") {
		t.Fatalf("fragment lost: %q", got)
	}
	// An h3 does not satisfy the heading requirement.
	got = EnsureTitleHeading("<h3>Chapter One</h3>", "Chapter One")
	if !strings.HasPrefix(got, "<h1>Chapter One</h1>") {
		t.Fatalf("h3 wrongly accepted: %q", got)
	}
}

func TestStripImageRefs(t *testing.T) {
	html := `<p>a</p><img src="images/border.png" alt="b"/><p>c</p>` +
		`<img class='x' src='images/rule.png'><img src="images/keep.png"/>`
	got := StripImageRefs(html, []string{"border.png", "rule.png"})
	if strings.Contains(got, "border.png") || strings.Contains(got, "rule.png") {
		t.Fatalf("decorative refs survive: %q", got)
	}
	if !strings.Contains(got, "images/keep.png") {
		t.Fatalf("content image stripped: %q", got)
	}
	if !strings.Contains(got, "<p>a</p>") || !strings.Contains(got, "<p>c</p>") {
		t.Fatalf("surrounding markup damaged: %q", got)
	}
}

func TestSoftWrapPlainText(t *testing.T) {
	long := "<p>" + strings.Repeat("word ", 40) + "end</p>"
	got := SoftWrap(long, 60)
	for _, line := range strings.Split(got, "\n") {
		if len(line) > 60 {
			t.Fatalf("line longer than width: %q", line)
		}
	}
	if strings.ReplaceAll(got, "\n", " ") != strings.ReplaceAll(long, "\n", " ") {
		t.Fatal("wrapping changed content beyond line breaks")
	}
}

func TestSoftWrapSkipsPreAndCode(t *testing.T) {
	pre := "<pre><code>" + strings.Repeat("x", 200) + "</code></pre>"
	if got := SoftWrap(pre, 80); got != pre {
		t.Fatalf("pre/code content rewrapped: %q", got)
	}

	mixed := "<pre>\n" + strings.Repeat("y", 150) + "\n</pre>\n<p>" + strings.Repeat("word ", 40) + "</p>"
	got := SoftWrap(mixed, 60)
	if !strings.Contains(got, strings.Repeat("y", 150)) {
		t.Fatal("pre block line was wrapped")
	}
	lines := strings.Split(got, "\n")
	last := lines[len(lines)-1]
	if len(last) > 60 {
		t.Fatalf("paragraph after pre not wrapped: %q", last)
	}
}

func TestSoftWrapNeverBreaksWords(t *testing.T) {
	long := strings.Repeat("a", 100)
	if got := SoftWrap("<p>"+long+"</p>", 40); !strings.Contains(got, long) {
		t.Fatalf("word broken: %q", got)
	}
}

func TestBuildCoverXHTML(t *testing.T) {
	x := BuildCoverXHTML("images/cover.jpg")
	for _, want := range []string{
		"<html xmlns='http://www.w3.org/1999/xhtml'",
		"xmlns:epub='http://www.idpf.org/2007/ops'",
		"<meta name='viewport' content='width=device-width, initial-scale=1'/>",
		"<img src='images/cover.jpg' alt='Cover'/>",
	} {
		if !strings.Contains(x, want) {
			t.Errorf("cover xhtml missing %q", want)
		}
	}
}
