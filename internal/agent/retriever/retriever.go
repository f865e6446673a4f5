// Package retriever indexes the markdown rules corpus and answers
// similarity queries over it. It backs the dynatrace_documentation tool.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/moolen/lookout/internal/agent/tools"
	"github.com/moolen/lookout/internal/logging"
)

// GeneralTopic is the topic of documents at the corpus root.
const GeneralTopic = "general"

const defaultTopK = 4

type Config struct {
	RulesDir     string
	IndexPath    string
	TopK         int
	ChunkSize    int
	ChunkOverlap int
}

// Retriever owns the index and the embedder used to query it. It is a
// lifecycle component: Start loads the index, rebuilding it when needed.
type Retriever struct {
	cfg      Config
	index    *Index
	embedder Embedder
	splitter *Splitter
	logger   *logging.Logger

	mu    sync.Mutex
	ready bool
}

func New(cfg Config, embedder Embedder) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("retriever requires an embedder")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1200
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 100
	}
	index, err := OpenIndex(cfg.IndexPath)
	if err != nil {
		return nil, err
	}
	return &Retriever{
		cfg:      cfg,
		index:    index,
		embedder: embedder,
		splitter: NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		logger:   logging.GetLogger("retriever"),
	}, nil
}

func (r *Retriever) Name() string { return "retriever" }

func (r *Retriever) Start(ctx context.Context) error {
	return r.EnsureIndex(ctx)
}

func (r *Retriever) Stop(ctx context.Context) error {
	return r.index.Close()
}

// EnsureIndex loads the persisted index. It is rebuilt from the corpus when
// it is empty or was built with a different embedder.
func (r *Retriever) EnsureIndex(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return nil
	}

	built, err := r.index.EmbedderName(ctx)
	if err != nil {
		return err
	}
	count, err := r.index.Count(ctx)
	if err != nil {
		return err
	}
	if built == r.embedder.Name() && count > 0 {
		r.logger.Debug("loaded index with %d chunks", count)
		r.ready = true
		return nil
	}

	r.logger.Info("rebuilding index (built with %q, %d chunks)", built, count)
	if _, err := r.rebuild(ctx); err != nil {
		return err
	}
	r.ready = true
	return nil
}

// Rebuild re-reads the corpus and replaces the index. It returns the number
// of chunks indexed.
func (r *Retriever) Rebuild(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.rebuild(ctx)
	if err != nil {
		return 0, err
	}
	r.ready = true
	return n, nil
}

func (r *Retriever) rebuild(ctx context.Context) (int, error) {
	chunks, err := LoadCorpus(r.cfg.RulesDir, r.splitter)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		r.logger.Warn("no markdown documents found under %s", r.cfg.RulesDir)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := r.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed corpus: %w", err)
	}
	if err := r.index.Replace(ctx, r.embedder.Name(), chunks, vectors); err != nil {
		return 0, err
	}
	r.logger.InfoWithFields("index rebuilt",
		logging.Field("chunks", len(chunks)),
		logging.Field("embedder", r.embedder.Name()))
	return len(chunks), nil
}

// Retrieve returns up to k documents for query, optionally limited to a
// topic. k <= 0 uses the configured default.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, topic string) ([]Document, error) {
	if err := r.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = r.cfg.TopK
	}
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return r.index.Search(ctx, vector, k, strings.ToLower(strings.TrimSpace(topic)))
}

// Search implements tools.Searcher.
func (r *Retriever) Search(ctx context.Context, query, topic string) ([]tools.Snippet, error) {
	docs, err := r.Retrieve(ctx, query, 0, topic)
	if err != nil {
		return nil, err
	}
	snippets := make([]tools.Snippet, len(docs))
	for i, d := range docs {
		snippets[i] = tools.Snippet{Text: d.Text, Source: d.Source, Topic: d.Topic}
	}
	return snippets, nil
}

// LoadCorpus walks dir for markdown files and splits them into chunks. A
// missing directory yields no chunks.
func LoadCorpus(dir string, splitter *Splitter) ([]Chunk, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".md") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	var chunks []Chunk
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil, err
		}
		rel = filepath.ToSlash(rel)
		topic := TopicOf(rel)
		for _, text := range splitter.Split(string(data)) {
			chunks = append(chunks, Chunk{Source: rel, Topic: topic, Text: text})
		}
	}
	return chunks, nil
}

// TopicOf returns the first path segment of a corpus-relative path, or
// GeneralTopic for files at the root.
func TopicOf(rel string) string {
	rel = filepath.ToSlash(rel)
	if i := strings.Index(rel, "/"); i > 0 {
		return strings.ToLower(rel[:i])
	}
	return GeneralTopic
}
