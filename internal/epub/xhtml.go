package epub

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// EscapeXML escapes the five XML-predefined characters. It is a single-pass
// escape: applying it to already-escaped text double-escapes the ampersands.
func EscapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}

// WrapXHTML produces a complete XHTML document around an already-filtered
// body fragment. The fragment is included verbatim; only the title is
// escaped.
func WrapXHTML(title, fragment string) string {
	return "<?xml version='1.0' encoding='utf-8'?>\n" +
		"<html xmlns='http://www.w3.org/1999/xhtml' xml:lang='en'>\n" +
		"  <head>\n" +
		fmt.Sprintf("    <title>%s</title>\n", EscapeXML(title)) +
		"    <meta charset='utf-8'/>\n" +
		"    <link rel='stylesheet' type='text/css' href='styles.css'/>\n" +
		"  </head>\n" +
		"  <body>\n" +
		fragment + "\n" +
		"  </body>\n" +
		"</html>\n"
}

// BuildCoverXHTML produces the cover wrapper page for an image href relative
// to OEBPS.
func BuildCoverXHTML(imageHref string) string {
	return "<?xml version='1.0' encoding='utf-8'?>\n" +
		"<html xmlns='http://www.w3.org/1999/xhtml' xmlns:epub='http://www.idpf.org/2007/ops'>\n" +
		"  <head>\n" +
		"    <title>Cover</title>\n" +
		"    <meta name='viewport' content='width=device-width, initial-scale=1'/>\n" +
		"  </head>\n" +
		"  <body>\n" +
		"    <section epub:type='cover'>\n" +
		fmt.Sprintf("      <img src='%s' alt='Cover'/>\n", EscapeXML(imageHref)) +
		"    </section>\n" +
		"  </body>\n" +
		"</html>\n"
}

// namedEntities maps HTML named entities that XML does not define to numeric
// character references.
var namedEntities = map[string]string{
	"nbsp":   "&#160;",
	"copy":   "&#169;",
	"reg":    "&#174;",
	"sect":   "&#167;",
	"para":   "&#182;",
	"middot": "&#183;",
	"deg":    "&#176;",
	"plusmn": "&#177;",
	"frac12": "&#189;",
	"times":  "&#215;",
	"divide": "&#247;",
	"ndash":  "&#8211;",
	"mdash":  "&#8212;",
	"lsquo":  "&#8216;",
	"rsquo":  "&#8217;",
	"ldquo":  "&#8220;",
	"rdquo":  "&#8221;",
	"dagger": "&#8224;",
	"bull":   "&#8226;",
	"hellip": "&#8230;",
	"trade":  "&#8482;",
	"euro":   "&#8364;",
	"pound":  "&#163;",
	"cent":   "&#162;",
	"laquo":  "&#171;",
	"raquo":  "&#187;",
}

func isPredefinedEntity(name string) bool {
	switch name {
	case "amp", "lt", "gt", "quot", "apos":
		return true
	}
	return false
}

func isNumericEntity(name string) bool {
	if len(name) < 2 || name[0] != '#' {
		return false
	}
	digits := name[1:]
	hex := false
	if digits[0] == 'x' || digits[0] == 'X' {
		hex = true
		digits = digits[1:]
	}
	if digits == "" {
		return false
	}
	for _, c := range digits {
		switch {
		case c >= '0' && c <= '9':
		case hex && (c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'):
		default:
			return false
		}
	}
	return true
}

// NormalizeEntities rewrites entity references so the output uses only the
// five XML-predefined named entities: known HTML names become numeric
// character references, unknown names and bare ampersands are escaped.
func NormalizeEntities(s string) string {
	var out strings.Builder
	out.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '&' {
			out.WriteByte(c)
			continue
		}
		semi := strings.IndexByte(s[i:], ';')
		if semi > 1 && semi <= 10 {
			name := s[i+1 : i+semi]
			if isPredefinedEntity(name) || isNumericEntity(name) {
				out.WriteString(s[i : i+semi+1])
				i += semi
				continue
			}
			if numeric, ok := namedEntities[name]; ok {
				out.WriteString(numeric)
				i += semi
				continue
			}
		}
		out.WriteString("&amp;")
	}
	return out.String()
}

// EnsureTitleHeading guarantees the fragment carries a heading matching the
// section title. An existing <h1> or <h2> whose trimmed text equals the
// title case-insensitively counts; otherwise an escaped <h1> is prepended.
func EnsureTitleHeading(fragment, title string) string {
	want := strings.ToLower(strings.TrimSpace(title))
	if want != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
		if err == nil {
			found := false
			doc.Find("h1, h2").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
				if strings.ToLower(strings.TrimSpace(sel.Text())) == want {
					found = true
					return false
				}
				return true
			})
			if found {
				return fragment
			}
		}
	}
	return fmt.Sprintf("<h1>%s</h1>\n%s", EscapeXML(title), fragment)
}

// StripImageRefs removes every <img> tag whose src points at
// images/<filename> for any of the given filenames, in both single- and
// double-quoted attribute forms. Used to drop references to decorative
// images so no dangling href survives.
func StripImageRefs(html string, filenames []string) string {
	for _, name := range filenames {
		if name == "" {
			continue
		}
		quoted := regexp.QuoteMeta("images/" + name)
		re := regexp.MustCompile(`<img[^>]*src=(?:"` + quoted + `"|'` + quoted + `')[^>]*/?>`)
		html = re.ReplaceAllString(html, "")
	}
	return html
}

// SoftWrap reflows lines longer than width at whitespace boundaries, leaving
// <pre> and <code> regions untouched. Words longer than the width are never
// broken; tag and attribute integrity is preserved because breaks happen
// only at spaces.
func SoftWrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	var out []string
	depth := 0
	for _, line := range lines {
		opens := strings.Count(line, "<pre") + strings.Count(line, "<code")
		closes := strings.Count(line, "</pre>") + strings.Count(line, "</code>")
		inCode := depth > 0 || opens > 0
		depth += opens - closes
		if depth < 0 {
			depth = 0
		}
		if inCode || len(line) <= width {
			out = append(out, line)
			continue
		}
		out = append(out, wrapLine(line, width)...)
	}
	return strings.Join(out, "\n")
}

func wrapLine(line string, width int) []string {
	indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
	words := strings.Fields(line)
	if len(words) == 0 {
		return []string{line}
	}
	var wrapped []string
	cur := indent + words[0]
	for _, w := range words[1:] {
		if len(cur)+1+len(w) > width {
			wrapped = append(wrapped, cur)
			cur = indent + w
			continue
		}
		cur += " " + w
	}
	wrapped = append(wrapped, cur)
	return wrapped
}
