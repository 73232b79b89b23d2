package extract

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// groupsPDF extracts one text group per non-empty page, tagged with its
// 1-based page number.
func groupsPDF(content []byte) ([]TextGroup, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	var groups []TextGroup
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		groups = append(groups, TextGroup{
			Text:     text,
			Metadata: map[string]string{"page": strconv.Itoa(i)},
		})
	}
	return groups, nil
}
