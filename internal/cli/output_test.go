package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kura/internal/vfs"
	"github.com/hyperjump/kura/internal/vrpath"
)

func sampleResults(t *testing.T) []vfs.SearchResult {
	t.Helper()
	path, err := vrpath.FromString("/docs/intro")
	if err != nil {
		t.Fatal(err)
	}
	return []vfs.SearchResult{
		{
			Entry: vfs.FSEntry{
				Path: path,
				Name: "intro",
				Kind: vfs.EntryItem,
				Text: "a fairly long body of text that should be shown",
			},
			Score: 0.91,
		},
	}
}

func TestWriteSearchResults_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResults(t), 12*time.Millisecond, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Found 1 results in 12ms", "/docs/intro", "Score: 0.9100"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteSearchResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResults(t), time.Millisecond, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["total"] != float64(1) {
		t.Errorf("total = %v", decoded["total"])
	}
}

func TestWriteListing_Text(t *testing.T) {
	root, _ := vrpath.FromString("/")
	docs, _ := vrpath.FromString("/docs")
	item, _ := vrpath.FromString("/docs/intro")
	folder := &vfs.FSFolder{
		Path: root,
		Folders: []*vfs.FSFolder{
			{
				Path: docs,
				Name: "docs",
				Entries: []vfs.FSEntry{
					{Path: item, Name: "intro", Kind: vfs.EntryItem, NodeCount: 3, HasSource: true},
				},
			},
		},
	}
	var buf bytes.Buffer
	if err := WriteListing(&buf, folder, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "docs/") {
		t.Errorf("missing folder line:\n%s", out)
	}
	if !strings.Contains(out, "* intro") {
		t.Errorf("missing source marker on item line:\n%s", out)
	}
}

func TestWriteEntry_Text(t *testing.T) {
	path, _ := vrpath.FromString("/docs/intro")
	entry := vfs.FSEntry{
		Path:      path,
		Name:      "intro",
		Kind:      vfs.EntryItem,
		NodeCount: 2,
		HasSource: true,
	}
	var buf bytes.Buffer
	if err := WriteEntry(&buf, entry, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Path: /docs/intro", "Kind: item", "Nodes: 2", "Source: attached"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTruncateWords(t *testing.T) {
	if got := TruncateWords("one two three four", 2); got != "one two..." {
		t.Errorf("TruncateWords = %q", got)
	}
	if got := TruncateWords("one two", 5); got != "one two" {
		t.Errorf("TruncateWords = %q", got)
	}
}
