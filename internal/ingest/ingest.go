// Package ingest turns files on disk into embedded items inside a profile's
// vector filesystem. It extracts text, chunks it, embeds each chunk, and
// saves the assembled resource together with the original file bytes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/extract"
	"github.com/hyperjump/kura/internal/fileid"
	"github.com/hyperjump/kura/internal/identity"
	"github.com/hyperjump/kura/internal/resource"
	"github.com/hyperjump/kura/internal/vfs"
	"github.com/hyperjump/kura/internal/vrpath"
	"github.com/hyperjump/kura/pkg/utils"
)

const (
	defaultChunkSize    = 256
	defaultChunkOverlap = 32
	maxKeywords         = 20
)

// Ingester imports files into a profile's filesystem.
type Ingester struct {
	fs         *vfs.VectorFS
	owner      identity.Identity
	embedder   embedding.Embedder
	extractor  *extract.Extractor
	chunker    *Chunker
	keepSource bool
	log        *zap.Logger
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(ing *Ingester) { ing.log = l }
}

// WithChunker overrides the default chunking window.
func WithChunker(c *Chunker) Option {
	return func(ing *Ingester) { ing.chunker = c }
}

// WithoutSourceBytes disables storing the original file bytes with each item.
func WithoutSourceBytes() Option {
	return func(ing *Ingester) { ing.keepSource = false }
}

// NewIngester creates an ingester that writes into owner's filesystem.
func NewIngester(vectorFS *vfs.VectorFS, owner identity.Identity, embedder embedding.Embedder, opts ...Option) *Ingester {
	ing := &Ingester{
		fs:         vectorFS,
		owner:      owner,
		embedder:   embedder,
		extractor:  extract.NewExtractor(),
		chunker:    NewChunker(defaultChunkSize, defaultChunkOverlap),
		keepSource: true,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// EnsureFolder creates every missing folder along path.
func (ing *Ingester) EnsureFolder(ctx context.Context, path vrpath.Path) error {
	writer := ing.fs.NewWriter(ing.owner, ing.owner)
	current := vrpath.Root()
	for _, name := range path.Components() {
		if _, err := writer.CreateFolder(ctx, current, name); err != nil && !errors.Is(err, vfs.ErrAlreadyExists) {
			return fmt.Errorf("create folder %q: %w", name, err)
		}
		current = current.Push(name)
	}
	return nil
}

// IngestFile imports a single file as an item under folder. It returns the
// item path and whether the file was actually imported. A file whose item is
// newer than the file's modification time is skipped.
func (ing *Ingester) IngestFile(ctx context.Context, absPath string, folder vrpath.Path) (vrpath.Path, bool, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return vrpath.Path{}, false, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return vrpath.Path{}, false, fmt.Errorf("not a regular file: %s", absPath)
	}

	name := fileid.ResourceName(absPath)
	itemPath := folder.Push(name)

	reader := ing.fs.NewReader(ing.owner, ing.owner)
	entry, err := reader.Entry(ctx, itemPath)
	switch {
	case err == nil:
		if entry.LastWritten.After(info.ModTime()) {
			ing.log.Debug("ingest skipping unchanged file",
				zap.String("file", absPath), zap.String("path", itemPath.String()))
			return itemPath, false, nil
		}
	case errors.Is(err, vfs.ErrNodeNotFound), errors.Is(err, vfs.ErrPathNotFound):
	default:
		return vrpath.Path{}, false, err
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return vrpath.Path{}, false, fmt.Errorf("read file: %w", err)
	}
	groups, err := ing.extractor.GroupsFromBytes(content, filepath.Ext(absPath))
	if err != nil {
		return vrpath.Path{}, false, fmt.Errorf("extract %s: %w", absPath, err)
	}

	doc, err := ing.BuildResource(ctx, name, groups)
	if err != nil {
		return vrpath.Path{}, false, err
	}
	if doc.NodeCount() == 0 {
		ing.log.Debug("ingest skipping file with no text", zap.String("file", absPath))
		return itemPath, false, nil
	}

	var source []byte
	if ing.keepSource {
		source = content
	}
	writer := ing.fs.NewWriter(ing.owner, ing.owner)
	saved, err := writer.SaveResource(ctx, folder, doc, source)
	if err != nil {
		return vrpath.Path{}, false, err
	}
	ing.log.Info("ingested file",
		zap.String("file", absPath),
		zap.String("path", saved.String()),
		zap.Int("chunks", doc.NodeCount()))
	return saved, true, nil
}

// IngestDirectory walks root and imports every regular file whose extension
// is in extensions (all files when extensions is empty). It returns the
// number of files imported and keeps going past per-file failures.
func (ing *Ingester) IngestDirectory(ctx context.Context, root string, folder vrpath.Path, extensions []string) (int, error) {
	if err := ing.EnsureFolder(ctx, folder); err != nil {
		return 0, err
	}
	ingested := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !extensionAllowed(filepath.Ext(path), extensions) {
			return nil
		}
		// Resolve symlinks so only regular files are imported.
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		if _, ok, err := ing.IngestFile(ctx, path, folder); err != nil {
			ing.log.Warn("ingest failed", zap.String("file", path), zap.Error(err))
		} else if ok {
			ingested++
		}
		return ctx.Err()
	})
	if err != nil {
		return ingested, fmt.Errorf("walk %s: %w", root, err)
	}
	return ingested, nil
}

// Remove deletes the item previously imported from absPath, if present.
func (ing *Ingester) Remove(ctx context.Context, absPath string, folder vrpath.Path) error {
	itemPath := folder.Push(fileid.ResourceName(absPath))
	writer := ing.fs.NewWriter(ing.owner, ing.owner)
	err := writer.DeleteEntry(ctx, itemPath)
	if errors.Is(err, vfs.ErrNodeNotFound) || errors.Is(err, vfs.ErrPathNotFound) {
		return nil
	}
	return err
}

// BuildResource assembles an embedded document resource from extracted text
// groups. Each group is chunked and every chunk becomes one text node
// carrying the group's metadata.
func (ing *Ingester) BuildResource(ctx context.Context, name string, groups []extract.TextGroup) (*resource.DocResource, error) {
	doc := resource.NewDocResource(name, ing.embedder.Model())

	var texts []string
	var metas []map[string]string
	for _, group := range groups {
		text := normalize(group.Text)
		if text == "" {
			continue
		}
		chunks := ing.chunker.Split(text)
		for i, chunk := range chunks {
			meta := make(map[string]string, len(group.Metadata)+1)
			for k, v := range group.Metadata {
				meta[k] = v
			}
			if len(chunks) > 1 {
				meta["chunk"] = strconv.Itoa(i + 1)
			}
			texts = append(texts, chunk)
			metas = append(metas, meta)
		}
	}
	if len(texts) == 0 {
		return doc, nil
	}

	vectors, err := ing.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))
	}
	for i, text := range texts {
		if _, err := doc.AppendText(text, metas[i], nil, embedding.NewEmbedding(vectors[i])); err != nil {
			return nil, err
		}
	}

	keywords := extractKeywords(strings.Join(texts, " "), maxKeywords)
	doc.SetKeywords(keywords)

	summary := strings.Join(keywords, " ")
	if summary == "" {
		summary = texts[0]
	}
	vector, err := ing.embedder.Embed(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("embed resource: %w", err)
	}
	utils.NormalizeL2(vector)
	doc.SetResourceEmbedding(embedding.NewEmbedding(vector))
	return doc, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, a := range allowed {
		if strings.TrimPrefix(strings.ToLower(a), ".") == ext {
			return true
		}
	}
	return false
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "from": true, "are": true, "was": true, "were": true,
	"have": true, "has": true, "had": true, "not": true, "but": true,
	"you": true, "your": true, "they": true, "their": true, "its": true,
}

// extractKeywords returns the most frequent words of text, longest runs of
// letters only, excluding common stopwords.
func extractKeywords(text string, max int) []string {
	counts := make(map[string]int)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()[]{}")
		if len(word) < 4 || stopwords[word] {
			continue
		}
		counts[word]++
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > max {
		words = words[:max]
	}
	return words
}
