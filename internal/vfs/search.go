package vfs

import (
	"container/heap"
	"context"
	"fmt"
	"sort"

	"github.com/hyperjump/kura/internal/acl"
	"github.com/hyperjump/kura/internal/resource"
	"github.com/hyperjump/kura/internal/vrpath"
)

// SearchResult pairs a scored entry with its similarity to the query.
type SearchResult struct {
	Entry FSEntry `json:"entry"`
	Score float64 `json:"score"`
}

// VectorSearch scores every embedded node in the subtree rooted at scope
// against the query vector and returns at most k results, scores descending,
// all at least minScore. Equal scores break ties toward the shallower and
// lexicographically earlier path. Folders without their own embedding are
// traversed but not scored. A query whose width matches none of the
// profile's accepted models fails with ErrModelMismatch rather than scoring
// zero everywhere.
//
// The subtree is cloned under the read lock and scored after release, so a
// long scan over a large tree never blocks a writer.
func (r *Reader) VectorSearch(ctx context.Context, scope vrpath.Path, query []float32, k int, minScore float64) ([]SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidPath)
	}

	state, err := r.fs.profile(ctx, r.owner)
	if err != nil {
		return nil, err
	}
	state.mu.RLock()
	in := state.internals

	if !in.acceptsDimensions(len(query)) {
		state.mu.RUnlock()
		return nil, fmt.Errorf("%w: no accepted model of profile %s produces %d-dimensional vectors",
			resource.ErrModelMismatch, in.Profile, len(query))
	}

	var root resource.VectorResource
	if scope.IsRoot() {
		root = in.Core
	} else {
		node, err := in.resolveNode(scope)
		if err != nil {
			state.mu.RUnlock()
			return nil, err
		}
		res, ok := node.Resource()
		if !ok {
			state.mu.RUnlock()
			return nil, fmt.Errorf("%w: %s is not searchable", ErrResourceTypeMismatch, scope)
		}
		root = res
	}
	if err := r.require(in, scope, acl.LevelRead); err != nil {
		state.mu.RUnlock()
		return nil, err
	}
	snapshot := root.Copy()
	state.mu.RUnlock()

	top := &topK{k: k}
	heap.Init(top)
	scoreSubtree(top, scope, snapshot, query, minScore)

	results := make([]SearchResult, len(top.items))
	for i := range top.items {
		results[i] = SearchResult{Entry: top.items[i].entry, Score: top.items[i].score}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.Path.Compare(results[j].Entry.Path) < 0
	})
	return results, nil
}

// scoreSubtree walks res depth-first, offering every embedded node to the
// running top-k. base is the path of res itself.
func scoreSubtree(top *topK, base vrpath.Path, res resource.VectorResource, query []float32, minScore float64) {
	for _, node := range res.Nodes() {
		path := base.Push(node.ID)
		if node.Embedding != nil {
			score := node.Embedding.Score(query)
			if score >= minScore {
				top.offer(candidate{score: score, path: path, entry: searchEntry(path, node)})
			}
		}
		if nested, ok := node.Resource(); ok {
			scoreSubtree(top, path, nested, query, minScore)
		}
	}
}

// searchEntry projects a scored node. Folder nodes carrying an embedding
// appear as folder-kind entries.
func searchEntry(path vrpath.Path, node resource.Node) FSEntry {
	if entry, ok := entryFromNode(path, node); ok {
		return entry
	}
	entry := FSEntry{
		Path:        path,
		Name:        node.ID,
		Kind:        EntryFolder,
		HasSource:   false,
		LastWritten: node.LastWritten,
	}
	if res, ok := node.Resource(); ok {
		entry.ResourceID = res.ResourceID()
		entry.NodeCount = res.NodeCount()
	}
	return entry
}

type candidate struct {
	score float64
	path  vrpath.Path
	entry FSEntry
}

// worseThan orders candidates for eviction: lower score is worse; at equal
// score the deeper or lexicographically later path is worse.
func (c candidate) worseThan(other candidate) bool {
	if c.score != other.score {
		return c.score < other.score
	}
	return c.path.Compare(other.path) > 0
}

// topK is a bounded min-heap over candidates: the root is the current worst,
// evicted when a better candidate arrives at capacity.
type topK struct {
	k     int
	items []candidate
}

func (h *topK) Len() int           { return len(h.items) }
func (h *topK) Less(i, j int) bool { return h.items[i].worseThan(h.items[j]) }
func (h *topK) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *topK) Push(x any)         { h.items = append(h.items, x.(candidate)) }
func (h *topK) Pop() any {
	last := len(h.items) - 1
	out := h.items[last]
	h.items = h.items[:last]
	return out
}

func (h *topK) offer(c candidate) {
	if len(h.items) < h.k {
		heap.Push(h, c)
		return
	}
	if h.items[0].worseThan(c) {
		h.items[0] = c
		heap.Fix(h, 0)
	}
}
