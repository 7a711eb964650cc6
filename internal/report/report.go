// Package report renders the final research document to disk.
package report

import (
	"bufio"
	"os"
	"regexp"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// WriteMarkdown writes the report text to path.
func WriteMarkdown(markdown, path string) error {
	return os.WriteFile(path, []byte(markdown), 0o644)
}

var linkRe = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`) // [text](url)

// WritePDF renders a minimal PDF from Markdown text, preserving paragraphs
// and turning Markdown links into clickable PDF links. Headings get larger
// type; full Markdown layout is intentionally out of scope.
func WritePDF(markdown, path string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.AddPage()

	scanner := bufio.NewScanner(strings.NewReader(markdown))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		s := strings.TrimSpace(scanner.Text())
		if s == "" {
			pdf.Ln(5)
			continue
		}
		if strings.HasPrefix(s, "#") {
			i := 0
			for i < len(s) && s[i] == '#' {
				i++
			}
			text := strings.TrimSpace(s[i:])
			if text == "" {
				continue
			}
			size := 14.0
			if i >= 2 {
				size = 12.0
			}
			pdf.SetFont("Helvetica", "B", size)
			pdf.CellFormat(0, 8, text, "", 1, "L", false, 0, "")
			pdf.SetFont("Helvetica", "", 11)
			continue
		}
		parts := linkRe.FindAllStringSubmatchIndex(s, -1)
		if len(parts) == 0 {
			pdf.MultiCell(0, 5, s, "", "L", false)
			continue
		}
		pos := 0
		for _, m := range parts {
			if m[0] > pos {
				pdf.Write(5, s[pos:m[0]])
			}
			text := s[m[2]:m[3]]
			url := s[m[4]:m[5]]
			if strings.HasPrefix(url, "#") {
				pdf.Write(5, text)
			} else {
				pdf.WriteLinkString(5, text, url)
			}
			pos = m[1]
		}
		if pos < len(s) {
			pdf.Write(5, s[pos:])
		}
		pdf.Ln(6)
	}
	return pdf.OutputFileAndClose(path)
}
