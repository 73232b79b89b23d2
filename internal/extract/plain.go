package extract

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// groupsPlain splits UTF-8 text into one group per blank-line-separated
// paragraph, tagged with its 1-based paragraph number. Invalid UTF-8
// sequences are replaced with the replacement character.
func groupsPlain(content []byte) ([]TextGroup, error) {
	text := string(content)
	if !utf8.Valid(content) {
		text = strings.ToValidUTF8(text, "�")
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var groups []TextGroup
	n := 0
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n++
		groups = append(groups, TextGroup{
			Text:     para,
			Metadata: map[string]string{"paragraph": strconv.Itoa(n)},
		})
	}
	return groups, nil
}
