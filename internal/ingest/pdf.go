package ingest

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/xxxsen/kbassist/internal/model"
)

// extractPDF returns one page per non-empty PDF page, numbered from 1.
func extractPDF(data []byte) (pages []model.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("read pdf page %d: %w", i, err)
		}
		text = cleanText(text)
		if text == "" {
			continue
		}
		pages = append(pages, model.Page{
			Number: i,
			Format: model.PageFormatText,
			Text:   text,
		})
	}
	return pages, nil
}
