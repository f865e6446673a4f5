package retriever

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"google.golang.org/genai"
)

// Embedder turns text into vectors. Name identifies the vector space; an
// index built with one name is rebuilt when queried through another.
type Embedder interface {
	Name() string
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// NewEmbedder builds the embedder named by kind: "hash" or "genai".
func NewEmbedder(ctx context.Context, kind, model, apiKey string) (Embedder, error) {
	switch kind {
	case "", "hash":
		return NewHashEmbedder(0), nil
	case "genai":
		return NewGenaiEmbedder(ctx, apiKey, model)
	default:
		return nil, fmt.Errorf("unknown embedder %q", kind)
	}
}

// =============================================================================
// HASH EMBEDDER
// =============================================================================

const defaultHashDims = 512

// HashEmbedder maps word and word-bigram features into a fixed number of
// buckets. It needs no network and is deterministic, which makes it the
// default for tests and for setups without an embedding key.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = defaultHashDims
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Name() string {
	return fmt.Sprintf("hash:%d", e.dims)
}

func (e *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dims)
	words := tokenize(text)
	for i, w := range words {
		e.add(vec, w, 1)
		if i > 0 {
			e.add(vec, words[i-1]+" "+w, 0.5)
		}
	}
	normalize(vec)
	return vec
}

func (e *HashEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// =============================================================================
// GOOGLE GENAI EMBEDDER
// =============================================================================

// genaiBatchSize is the most contents the embedding endpoint accepts per call.
const genaiBatchSize = 100

// GenaiEmbedder embeds through the Gemini API with retrieval task types.
type GenaiEmbedder struct {
	client *genai.Client
	model  string
}

func NewGenaiEmbedder(ctx context.Context, apiKey, model string) (*GenaiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required for the genai embedder")
	}
	if model == "" {
		model = "text-embedding-004"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenaiEmbedder{client: client, model: model}, nil
}

func (e *GenaiEmbedder) Name() string {
	return "genai:" + e.model
}

func (e *GenaiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += genaiBatchSize {
		end := min(start+genaiBatchSize, len(texts))
		vecs, err := e.embed(ctx, texts[start:end], "RETRIEVAL_DOCUMENT")
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *GenaiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *GenaiEmbedder) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: task,
	})
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("GenAI returned %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}
	vecs := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vecs[i] = emb.Values
	}
	return vecs, nil
}
