package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// groupsExcel extracts one text group per non-empty sheet, rows joined with
// tabs, tagged with the sheet name.
func groupsExcel(content []byte) ([]TextGroup, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var groups []TextGroup
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		var buf strings.Builder
		for _, row := range rows {
			buf.WriteString(strings.Join(row, "\t"))
			buf.WriteByte('\n')
		}
		text := strings.TrimSpace(buf.String())
		if text == "" {
			continue
		}
		groups = append(groups, TextGroup{
			Text:     text,
			Metadata: map[string]string{"sheet": sheet},
		})
	}
	return groups, nil
}
