package epub

import (
	"fmt"
	"strings"
)

// buildNavXHTML creates the EPUB3 navigation document listing every chapter
// in reading order.
func buildNavXHTML(bookTitle string, entries []chapterEntry) string {
	var sb strings.Builder
	sb.WriteString("<?xml version='1.0' encoding='utf-8'?>\n")
	sb.WriteString("<html xmlns='http://www.w3.org/1999/xhtml' xmlns:epub='http://www.idpf.org/2007/ops'>\n")
	sb.WriteString("  <head>\n")
	sb.WriteString(fmt.Sprintf("    <title>%s</title>\n", EscapeXML(bookTitle)))
	sb.WriteString("    <meta charset='utf-8'/>\n")
	sb.WriteString("  </head>\n")
	sb.WriteString("  <body>\n")
	sb.WriteString("    <nav epub:type='toc' id='toc'>\n")
	sb.WriteString(fmt.Sprintf("      <h2>%s</h2>\n", EscapeXML(bookTitle)))
	sb.WriteString("      <ol>\n")
	for _, ch := range entries {
		sb.WriteString(fmt.Sprintf("        <li><a href='%s'>%s</a></li>\n",
			EscapeXML(ch.Href), EscapeXML(ch.Title)))
	}
	sb.WriteString("      </ol>\n")
	sb.WriteString("    </nav>\n")
	sb.WriteString("  </body>\n")
	sb.WriteString("</html>\n")
	return sb.String()
}

// buildTocNCX creates the legacy EPUB2 NCX table of contents, listed
// alongside nav.xhtml for reader compatibility.
func buildTocNCX(uid, bookTitle string, entries []chapterEntry) string {
	var sb strings.Builder
	sb.WriteString("<?xml version='1.0' encoding='UTF-8'?>\n")
	sb.WriteString("<ncx xmlns='http://www.daisy.org/z3986/2005/ncx/' version='2005-1'>\n")
	sb.WriteString("  <head>\n")
	sb.WriteString(fmt.Sprintf("    <meta name='dtb:uid' content='%s'/>\n", EscapeXML(uid)))
	sb.WriteString("    <meta name='dtb:depth' content='1'/>\n")
	sb.WriteString("    <meta name='dtb:totalPageCount' content='0'/>\n")
	sb.WriteString("    <meta name='dtb:maxPageNumber' content='0'/>\n")
	sb.WriteString("  </head>\n")
	sb.WriteString(fmt.Sprintf("  <docTitle><text>%s</text></docTitle>\n", EscapeXML(bookTitle)))
	sb.WriteString("  <navMap>\n")
	for i, ch := range entries {
		title := ch.Title
		if title == "" {
			title = fmt.Sprintf("Section %d", i+1)
		}
		sb.WriteString(fmt.Sprintf("    <navPoint id='navPoint-%d' playOrder='%d'>\n", i+1, i+1))
		sb.WriteString(fmt.Sprintf("      <navLabel><text>%s</text></navLabel>\n", EscapeXML(title)))
		sb.WriteString(fmt.Sprintf("      <content src='%s'/>\n", EscapeXML(ch.Href)))
		sb.WriteString("    </navPoint>\n")
	}
	sb.WriteString("  </navMap>\n")
	sb.WriteString("</ncx>\n")
	return sb.String()
}
