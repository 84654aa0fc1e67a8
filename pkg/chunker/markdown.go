package chunker

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PageMarker records where a page's text begins in the assembled
// markdown document. Markers are sorted by Pos; pages are 1-based.
type PageMarker struct {
	Pos  int
	Page int
}

// DocumentInfo carries what the chunker needs besides the text itself.
type DocumentInfo struct {
	TotalPages  int
	PageMarkers []PageMarker
}

// ConvertPDFToMarkdown extracts per-page text from a PDF and joins the
// pages with newlines, recording one page marker per page boundary.
// Heading lines already present in the exported text keep their ATX
// prefixes, so the header splitter can pick them up downstream.
func ConvertPDFToMarkdown(data []byte) (markdown string, info *DocumentInfo, err error) {
	// The pdf package panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = &InputError{Reason: fmt.Sprintf("failed to parse PDF: %v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, &InputError{Reason: fmt.Sprintf("failed to open PDF: %v", err)}
	}

	totalPages := reader.NumPage()
	if totalPages == 0 {
		return "", nil, &InputError{Reason: "document has zero pages"}
	}

	info = &DocumentInfo{TotalPages: totalPages}

	var parts []string
	charPos := 0
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)

		content := ""
		if !page.V.IsNull() {
			if text, pageErr := page.GetPlainText(nil); pageErr == nil {
				content = text
			}
		}

		info.PageMarkers = append(info.PageMarkers, PageMarker{Pos: charPos, Page: i})
		parts = append(parts, content)
		charPos += len(content) + 1
	}

	markdown = strings.Join(parts, "\n")
	if strings.TrimSpace(markdown) == "" {
		return "", nil, &InputError{Reason: "no extractable text in document"}
	}

	return markdown, info, nil
}

// pageRange maps a character span onto the 1-based page interval it
// covers. Spans outside every marker clamp to the document bounds.
func pageRange(charStart, charEnd int, markers []PageMarker, totalPages int) (int, int) {
	if len(markers) == 0 {
		return 1, 1
	}

	pageStart := 1
	for _, m := range markers {
		if charStart < m.Pos {
			break
		}
		pageStart = m.Page
	}

	pageEnd := totalPages
	for _, m := range markers {
		if charEnd <= m.Pos {
			pageEnd = m.Page - 1
			break
		}
		pageEnd = m.Page
	}

	if pageEnd < pageStart {
		pageEnd = pageStart
	}
	return pageStart, pageEnd
}
