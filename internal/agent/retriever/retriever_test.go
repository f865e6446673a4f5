package retriever

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"dynatrace_master_rules.md": "# Master rules\n\nAlways verify a DQL statement with verify_dql before calling execute_dql.",
		"reference/dql.md": "# DQL reference\n\nfetch logs | filter loglevel == \"ERROR\" | summarize count(), by: {dt.entity.service}\n\n" +
			"Use timeseries for metrics, e.g. timeseries avg(dt.host.cpu.usage).",
		"workflows/problems.md": "# Problem workflow\n\nList open problems first, then fetch problem details by problem id.",
		"workflows/notes.txt":   "not markdown, must be ignored",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return dir
}

func newTestRetriever(t *testing.T, rules, indexPath string, embedder Embedder) *Retriever {
	t.Helper()
	r, err := New(Config{RulesDir: rules, IndexPath: indexPath}, embedder)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Stop(context.Background()) })
	return r
}

func TestTopicOf(t *testing.T) {
	assert.Equal(t, "reference", TopicOf("reference/dql.md"))
	assert.Equal(t, "workflows", TopicOf("Workflows/a/b.md"))
	assert.Equal(t, GeneralTopic, TopicOf("dynatrace_master_rules.md"))
}

func TestLoadCorpus(t *testing.T) {
	dir := writeCorpus(t)
	chunks, err := LoadCorpus(dir, NewSplitter(1200, 100))
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	sources := map[string]string{}
	for _, c := range chunks {
		sources[c.Source] = c.Topic
	}
	assert.Equal(t, map[string]string{
		"dynatrace_master_rules.md": GeneralTopic,
		"reference/dql.md":          "reference",
		"workflows/problems.md":     "workflows",
	}, sources)

	missing, err := LoadCorpus(filepath.Join(dir, "nope"), NewSplitter(1200, 100))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestRetrieveRanksRelevantChunkFirst(t *testing.T) {
	r := newTestRetriever(t, writeCorpus(t), filepath.Join(t.TempDir(), "index.db"), NewHashEmbedder(0))
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	docs, err := r.Retrieve(ctx, "verify DQL before execute_dql", 2, "")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "dynatrace_master_rules.md", docs[0].Source)
	assert.GreaterOrEqual(t, docs[0].Score, docs[1].Score)

	docs, err = r.Retrieve(ctx, "problem details", 0, "workflows")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "workflows", docs[0].Topic)
}

func TestSearchImplementsSearcher(t *testing.T) {
	r := newTestRetriever(t, writeCorpus(t), filepath.Join(t.TempDir(), "index.db"), NewHashEmbedder(64))

	snippets, err := r.Search(context.Background(), "timeseries cpu usage", "reference")
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, "reference/dql.md", snippets[0].Source)
	assert.Contains(t, snippets[0].Text, "timeseries")
}

type countingEmbedder struct {
	*HashEmbedder
	name  string
	calls int
}

func (c *countingEmbedder) Name() string { return c.name }

func (c *countingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	return c.HashEmbedder.EmbedDocuments(ctx, texts)
}

func TestEnsureIndexLoadsOrRebuilds(t *testing.T) {
	rules := writeCorpus(t)
	indexPath := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	first := &countingEmbedder{HashEmbedder: NewHashEmbedder(32), name: "hash:a"}
	r := newTestRetriever(t, rules, indexPath, first)
	require.NoError(t, r.EnsureIndex(ctx))
	require.NoError(t, r.EnsureIndex(ctx))
	assert.Equal(t, 1, first.calls)
	require.NoError(t, r.Stop(ctx))

	same := &countingEmbedder{HashEmbedder: NewHashEmbedder(32), name: "hash:a"}
	r = newTestRetriever(t, rules, indexPath, same)
	require.NoError(t, r.EnsureIndex(ctx))
	assert.Zero(t, same.calls, "persisted index is reused")
	require.NoError(t, r.Stop(ctx))

	other := &countingEmbedder{HashEmbedder: NewHashEmbedder(32), name: "hash:b"}
	r = newTestRetriever(t, rules, indexPath, other)
	require.NoError(t, r.EnsureIndex(ctx))
	assert.Equal(t, 1, other.calls, "embedder change forces a rebuild")
}

func TestRebuildWithEmptyCorpus(t *testing.T) {
	r := newTestRetriever(t, filepath.Join(t.TempDir(), "missing"), filepath.Join(t.TempDir(), "index.db"), NewHashEmbedder(0))
	n, err := r.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	docs, err := r.Retrieve(context.Background(), "anything", 3, "")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSplitterRespectsChunkSizeAndOverlap(t *testing.T) {
	var paragraphs []string
	for i := 0; i < 30; i++ {
		paragraphs = append(paragraphs, strings.Repeat("word ", 20)+"end")
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks := NewSplitter(300, 50).Split(text)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 300)
		assert.NotEmpty(t, strings.TrimSpace(c))
	}
}

func TestSplitterFallsBackToSmallerSeparators(t *testing.T) {
	long := strings.Repeat("a", 25)
	chunks := NewSplitter(10, 0).Split(long)
	assert.Equal(t, []string{"aaaaaaaaaa", "aaaaaaaaaa", "aaaaa"}, chunks)

	chunks = NewSplitter(12, 4).Split("alpha beta gamma delta")
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 12)
	}
	assert.Equal(t, "alpha beta", chunks[0])
}

func TestShortTextIsSingleChunk(t *testing.T) {
	assert.Equal(t, []string{"short text"}, NewSplitter(1200, 100).Split("short text"))
	assert.Empty(t, NewSplitter(1200, 100).Split("   "))
}

func TestFloat32RoundTripAndCosine(t *testing.T) {
	v := []float32{0.5, -1.25, 3}
	assert.Equal(t, v, decodeFloat32s(encodeFloat32s(v)))
	assert.Nil(t, decodeFloat32s([]byte{1, 2, 3}))

	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-6)
	assert.Zero(t, cosineSimilarity(v, []float32{1}))
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestHashEmbedderIsDeterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(128)
	a, err := e.EmbedQuery(context.Background(), "List open problems")
	require.NoError(t, err)
	b, err := e.EmbedQuery(context.Background(), "list OPEN problems")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 128)
	assert.InDelta(t, 1.0, cosineSimilarity(a, a), 1e-6)
	assert.Equal(t, "hash:128", e.Name())
}

func TestNewEmbedder(t *testing.T) {
	e, err := NewEmbedder(context.Background(), "hash", "", "")
	require.NoError(t, err)
	assert.Equal(t, "hash:512", e.Name())

	_, err = NewEmbedder(context.Background(), "genai", "", "")
	assert.Error(t, err, "genai needs an API key")

	_, err = NewEmbedder(context.Background(), "openai", "", "")
	assert.Error(t, err)
}
