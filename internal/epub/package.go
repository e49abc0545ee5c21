package epub

import (
	"fmt"
	"strings"
)

// buildContentOPF creates the OPF package document. The package stays
// EPUB2-style (version 2.0, NCX spine) for reader compatibility; nav.xhtml
// is still declared for EPUB3 readers.
func buildContentOPF(meta Metadata, entries []chapterEntry, images []imageEntry, cover *Cover) string {
	var sb strings.Builder
	sb.WriteString("<?xml version='1.0' encoding='utf-8'?>\n")
	sb.WriteString("<package xmlns='http://www.idpf.org/2007/opf' version='2.0' unique-identifier='bookid'>\n")

	sb.WriteString("  <metadata xmlns:dc='http://purl.org/dc/elements/1.1/' xmlns:opf='http://www.idpf.org/2007/opf'>\n")
	sb.WriteString(fmt.Sprintf("    <dc:title>%s</dc:title>\n", EscapeXML(meta.Title)))
	for _, a := range meta.Authors {
		sb.WriteString(fmt.Sprintf("    <dc:creator>%s</dc:creator>\n", EscapeXML(a)))
	}
	sb.WriteString(fmt.Sprintf("    <dc:identifier id='bookid'>%s</dc:identifier>\n", EscapeXML(meta.Identifier())))
	sb.WriteString(fmt.Sprintf("    <dc:language>%s</dc:language>\n", EscapeXML(meta.Language)))
	if meta.Publisher != "" {
		sb.WriteString(fmt.Sprintf("    <dc:publisher>%s</dc:publisher>\n", EscapeXML(meta.Publisher)))
	}
	if meta.Date != "" {
		sb.WriteString(fmt.Sprintf("    <dc:date>%s</dc:date>\n", EscapeXML(meta.Date)))
	}
	if meta.Description != "" {
		sb.WriteString(fmt.Sprintf("    <dc:description>%s</dc:description>\n", EscapeXML(meta.Description)))
	}
	for _, s := range meta.Subjects {
		sb.WriteString(fmt.Sprintf("    <dc:subject>%s</dc:subject>\n", EscapeXML(s)))
	}
	if cover != nil {
		sb.WriteString(fmt.Sprintf("    <meta name='cover' content='%s'/>\n", cover.ImageID))
	}
	sb.WriteString("    <meta property='dcterms:modified'>1970-01-01T00:00:00Z</meta>\n")
	sb.WriteString("  </metadata>\n")

	sb.WriteString("  <manifest>\n")
	sb.WriteString("    <item id='ncx' href='toc.ncx' media-type='application/x-dtbncx+xml'/>\n")
	sb.WriteString("    <item id='nav' href='nav.xhtml' media-type='application/xhtml+xml'/>\n")
	sb.WriteString("    <item id='css' href='styles.css' media-type='text/css'/>\n")
	if cover != nil {
		sb.WriteString(fmt.Sprintf("    <item id='%s' href='%s' media-type='%s'/>\n",
			cover.ImageID, EscapeXML(cover.ImageHref), cover.ImageMedia))
		sb.WriteString(fmt.Sprintf("    <item id='%s' href='%s' media-type='application/xhtml+xml'/>\n",
			cover.PageID, EscapeXML(cover.PageHref)))
	}
	for _, ch := range entries {
		sb.WriteString(fmt.Sprintf("    <item id='%s' href='%s' media-type='application/xhtml+xml'/>\n",
			ch.ID, EscapeXML(ch.Href)))
	}
	for _, img := range images {
		sb.WriteString(fmt.Sprintf("    <item id='%s' href='%s' media-type='%s'/>\n",
			img.ID, EscapeXML(img.Href), img.Media))
	}
	sb.WriteString("  </manifest>\n")

	sb.WriteString("  <spine toc='ncx'>\n")
	if cover != nil {
		sb.WriteString(fmt.Sprintf("    <itemref idref='%s' linear='no'/>\n", cover.PageID))
	}
	for _, ch := range entries {
		sb.WriteString(fmt.Sprintf("    <itemref idref='%s'/>\n", ch.ID))
	}
	sb.WriteString("  </spine>\n")

	if cover != nil {
		sb.WriteString("  <guide>\n")
		sb.WriteString(fmt.Sprintf("    <reference type='cover' title='Cover' href='%s'/>\n",
			EscapeXML(cover.PageHref)))
		sb.WriteString("  </guide>\n")
	}

	sb.WriteString("</package>\n")
	return sb.String()
}
