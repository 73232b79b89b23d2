// Package extract converts raw document bytes into ordered text groups with
// metadata. The filesystem consumes groups to build document resources but
// performs no format-specific parsing itself.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TextGroup is one ordered unit of extracted text plus its origin metadata,
// e.g. the page or sheet it came from.
type TextGroup struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Extractor extracts text groups from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Groups reads the file at path and returns its text groups in document
// order. The format is chosen by extension.
func (e *Extractor) Groups(path string) ([]TextGroup, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	return e.GroupsFromBytes(content, ext)
}

// GroupsFromBytes extracts text groups from content based on the given
// extension. ext should include the leading dot (e.g. ".pdf"). Unknown
// extensions are treated as plain text.
func (e *Extractor) GroupsFromBytes(content []byte, ext string) ([]TextGroup, error) {
	switch ext {
	case ".pdf":
		return groupsPDF(content)
	case ".docx", ".odt", ".rtf":
		return groupsDOCX(content)
	case ".xlsx":
		return groupsExcel(content)
	case ".pptx":
		return groupsPPTX(content)
	case ".odp":
		return groupsODF(content, "ODP")
	case ".ods":
		return groupsODF(content, "ODS")
	default:
		return groupsPlain(content)
	}
}
