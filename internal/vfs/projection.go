package vfs

import (
	"sort"
	"time"

	"github.com/hyperjump/kura/internal/resource"
	"github.com/hyperjump/kura/internal/vrpath"
)

// EntryKind classifies what an FSEntry points at.
type EntryKind string

const (
	// EntryItem is a saved document resource.
	EntryItem EntryKind = "item"
	// EntryText is a text node inside a resource (search results only).
	EntryText EntryKind = "text"
	// EntryReference is a header node pointing at another resource by key.
	EntryReference EntryKind = "reference"
	// EntryFolder appears only in search results, for folders that carry
	// their own embedding.
	EntryFolder EntryKind = "folder"
)

// metadata key marking that raw source bytes were stored for an entry
const sourceMetadataKey = "has_source"

// FSEntry is the read-only projection of a non-folder entry handed to
// callers instead of internal node types.
type FSEntry struct {
	Path         vrpath.Path       `json:"path"`
	Name         string            `json:"name"`
	Kind         EntryKind         `json:"kind"`
	ResourceID   string            `json:"resource_id,omitempty"`
	ReferenceKey string            `json:"reference_key,omitempty"`
	NodeCount    int               `json:"node_count,omitempty"`
	Text         string            `json:"text,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	DataTagNames []string          `json:"data_tag_names,omitempty"`
	HasSource    bool              `json:"has_source"`
	LastWritten  time.Time         `json:"last_written"`
}

// FSFolder is the read-only projection of a folder. Subfolders carry their
// own contents only when the listing was recursive.
type FSFolder struct {
	Path        vrpath.Path `json:"path"`
	Name        string      `json:"name"`
	Folders     []*FSFolder `json:"folders,omitempty"`
	Entries     []FSEntry   `json:"entries,omitempty"`
	LastWritten time.Time   `json:"last_written"`
}

// entryFromNode projects a non-folder node. Returns ok=false for folder
// nodes, which project to FSFolder instead.
func entryFromNode(path vrpath.Path, node resource.Node) (FSEntry, bool) {
	entry := FSEntry{
		Path:         path,
		Name:         node.ID,
		Metadata:     node.Metadata,
		DataTagNames: node.DataTagNames,
		HasSource:    node.Metadata[sourceMetadataKey] == "true",
		LastWritten:  node.LastWritten,
	}
	switch {
	case node.Content == nil:
		return FSEntry{}, false
	case node.Content.Kind() == resource.KindText:
		text, _ := node.Text()
		entry.Kind = EntryText
		entry.Text = text
	case node.Content.Kind() == resource.KindHeader:
		header, _ := node.Header()
		entry.Kind = EntryReference
		entry.ReferenceKey = header.ReferenceKey()
		entry.NodeCount = header.NodeCount
	default:
		res, _ := node.Resource()
		if _, isFolder := res.(*resource.MapResource); isFolder {
			return FSEntry{}, false
		}
		entry.Kind = EntryItem
		entry.ResourceID = res.ResourceID()
		entry.NodeCount = res.NodeCount()
	}
	return entry, true
}

// folderProjection builds the FSFolder for folder at path. When recursive is
// false, subfolders appear as empty shells.
func folderProjection(path vrpath.Path, folder *resource.MapResource, recursive bool) *FSFolder {
	out := &FSFolder{
		Path:        path,
		Name:        folder.Name(),
		LastWritten: folder.LastWritten(),
	}
	for _, node := range folder.Nodes() {
		childPath := path.Push(node.ID)
		if res, ok := node.Resource(); ok {
			if sub, isFolder := res.(*resource.MapResource); isFolder {
				if recursive {
					out.Folders = append(out.Folders, folderProjection(childPath, sub, true))
				} else {
					out.Folders = append(out.Folders, &FSFolder{
						Path:        childPath,
						Name:        sub.Name(),
						LastWritten: sub.LastWritten(),
					})
				}
				continue
			}
		}
		if entry, ok := entryFromNode(childPath, node); ok {
			out.Entries = append(out.Entries, entry)
		}
	}
	sort.Slice(out.Folders, func(i, j int) bool { return out.Folders[i].Name < out.Folders[j].Name })
	sort.Slice(out.Entries, func(i, j int) bool { return out.Entries[i].Name < out.Entries[j].Name })
	return out
}
