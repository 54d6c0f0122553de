package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ragcore/internal/core/domain"
	"github.com/custodia-labs/ragcore/internal/core/ports/driven"
)

// fakeLLM replays canned replies in sequence.
type fakeLLM struct {
	replies []string
	errs    []error
	calls   int
	prompts []string
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, _ driven.GenerateOptions) (string, error) {
	idx := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	if idx < len(f.replies) {
		return f.replies[idx], nil
	}
	return "", errors.New("no reply configured")
}

func (f *fakeLLM) ModelName() string           { return "fake-llm" }
func (f *fakeLLM) Ping(_ context.Context) error { return nil }
func (f *fakeLLM) Close() error                 { return nil }

// fakeEmbedder returns a deterministic vector per text. Embed is called from
// concurrent goroutines, so the counter is guarded.
type fakeEmbedder struct {
	mu     sync.Mutex
	failOn string
	calls  int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failOn != "" && text == f.failOn {
		return nil, errors.New("embed blew up")
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func (f *fakeEmbedder) Dimensions() int              { return 3 }
func (f *fakeEmbedder) ModelName() string            { return "fake-embed" }
func (f *fakeEmbedder) Ping(_ context.Context) error { return nil }
func (f *fakeEmbedder) Close() error                 { return nil }

const validResponseJSON = `{
  "claims": [
    {
      "text": "The sky is blue.",
      "evidencePointers": [
        {"sourceKind": "file", "sourcePathOrUrl": "sky.txt", "snippet": "the sky is blue", "confidence": 0.9}
      ],
      "confidence": 0.9
    }
  ],
  "summary": "The sky is blue.",
  "overallConfidence": 0.9,
  "evidenceGaps": []
}`

func TestGenerateStructured_FirstAttemptSucceeds(t *testing.T) {
	llm := &fakeLLM{replies: []string{validResponseJSON}}
	client := NewGenerationClient(llm, &fakeEmbedder{})

	resp := client.GenerateStructured(context.Background(), "what colour is the sky?", "sky.txt: the sky is blue")

	require.NotNil(t, resp)
	require.Len(t, resp.Claims, 1)
	assert.Equal(t, "The sky is blue.", resp.Claims[0].Text)
	assert.Equal(t, 1, llm.calls)
}

func TestGenerateStructured_RetriesInvalidPayload(t *testing.T) {
	llm := &fakeLLM{replies: []string{
		"definitely not json",
		validResponseJSON,
	}}
	client := NewGenerationClient(llm, &fakeEmbedder{})

	resp := client.GenerateStructured(context.Background(), "q", "ctx")

	require.Len(t, resp.Claims, 1)
	assert.Equal(t, 2, llm.calls)
}

func TestGenerateStructured_ClaimWithoutEvidenceIsRetried(t *testing.T) {
	noEvidence := `{"claims":[{"text":"unbacked","evidencePointers":[],"confidence":0.5}],"summary":"s","overallConfidence":0.5}`
	llm := &fakeLLM{replies: []string{noEvidence, validResponseJSON}}
	client := NewGenerationClient(llm, &fakeEmbedder{})

	resp := client.GenerateStructured(context.Background(), "q", "ctx")

	require.Len(t, resp.Claims, 1)
	assert.Equal(t, "The sky is blue.", resp.Claims[0].Text)
	assert.Equal(t, 2, llm.calls)
}

func TestGenerateStructured_DegradesAfterMaxRetries(t *testing.T) {
	llm := &fakeLLM{replies: []string{"bad", "worse", "still bad"}}
	client := NewGenerationClient(llm, &fakeEmbedder{})

	resp := client.GenerateStructured(context.Background(), "q", "ctx")

	require.NotNil(t, resp)
	assert.Empty(t, resp.Claims)
	assert.NotNil(t, resp.Claims)
	assert.Zero(t, resp.OverallConfidence)
	assert.NotEmpty(t, resp.EvidenceGaps)
	assert.Equal(t, DefaultMaxRetries, llm.calls)
}

func TestGenerateStructured_TransportErrorsCountAsAttempts(t *testing.T) {
	boom := errors.New("connection refused")
	llm := &fakeLLM{errs: []error{boom, boom, boom}}
	client := NewGenerationClient(llm, &fakeEmbedder{})

	resp := client.GenerateStructured(context.Background(), "q", "ctx")

	assert.Empty(t, resp.Claims)
	assert.Equal(t, DefaultMaxRetries, llm.calls)
}

func TestGenerateStructured_NoLLMDegrades(t *testing.T) {
	client := NewGenerationClient(nil, &fakeEmbedder{})

	resp := client.GenerateStructured(context.Background(), "q", "ctx")

	assert.Empty(t, resp.Claims)
	assert.Zero(t, resp.OverallConfidence)
}

func TestParseStructuredResponse_CodeFenceTolerance(t *testing.T) {
	fenced := "```json\n" + validResponseJSON + "\n```"
	resp, err := parseStructuredResponse(fenced)

	require.NoError(t, err)
	assert.Len(t, resp.Claims, 1)
}

func TestParseStructuredResponse_SurroundingProse(t *testing.T) {
	chatty := "Sure! Here is the answer:\n" + validResponseJSON + "\nLet me know if you need more."
	resp, err := parseStructuredResponse(chatty)

	require.NoError(t, err)
	assert.Len(t, resp.Claims, 1)
}

func TestParseStructuredResponse_InvalidConfidence(t *testing.T) {
	bad := `{"claims":[],"summary":"s","overallConfidence":1.5}`
	_, err := parseStructuredResponse(bad)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidResponse)
}

func TestEmbedBatch_PreservesOrderAcrossBatches(t *testing.T) {
	embedder := &fakeEmbedder{}
	client := NewGenerationClient(&fakeLLM{}, embedder, WithEmbedBatchSize(4))

	texts := make([]string, 11)
	for i := range texts {
		texts[i] = fmt.Sprintf("text number %d padded to length %d", i, i)
	}

	embeddings, err := client.EmbedBatch(context.Background(), texts)

	require.NoError(t, err)
	require.Len(t, embeddings, len(texts))
	for i, emb := range embeddings {
		require.Len(t, emb, 3)
		assert.Equal(t, float32(len(texts[i])), emb[0], "embedding %d out of order", i)
	}
	assert.Equal(t, len(texts), embedder.calls)
}

func TestEmbedBatch_AnyFailureAbortsAll(t *testing.T) {
	embedder := &fakeEmbedder{failOn: "poison"}
	client := NewGenerationClient(&fakeLLM{}, embedder, WithEmbedBatchSize(3))

	embeddings, err := client.EmbedBatch(context.Background(), []string{"ok", "poison", "also ok"})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailed)
	assert.Nil(t, embeddings)
}

func TestEmbedBatch_Empty(t *testing.T) {
	client := NewGenerationClient(&fakeLLM{}, &fakeEmbedder{})

	embeddings, err := client.EmbedBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Nil(t, embeddings)
}

func TestEmbedBatch_NoEmbedder(t *testing.T) {
	client := NewGenerationClient(&fakeLLM{}, nil)

	_, err := client.EmbedBatch(context.Background(), []string{"a"})

	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestEmbedBatch_RateLimitFailureWaitsForDispatched(t *testing.T) {
	embedder := &fakeEmbedder{}
	// The burst admits one text; the second wait exceeds the deadline.
	client := NewGenerationClient(&fakeLLM{}, embedder,
		WithEmbedBatchSize(3), WithEmbedRateLimit(0.001))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	embeddings, err := client.EmbedBatch(ctx, []string{"one", "two", "three"})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailed)
	assert.Nil(t, embeddings)

	// The goroutine dispatched before the limiter gave up has finished; no
	// writes can land after EmbedBatch returns.
	embedder.mu.Lock()
	defer embedder.mu.Unlock()
	assert.Equal(t, 1, embedder.calls)
}

func makeResults(scores ...float64) []domain.RetrievalResult {
	results := make([]domain.RetrievalResult, len(scores))
	for i, s := range scores {
		results[i] = domain.RetrievalResult{
			Chunk:    domain.DocumentChunk{ID: fmt.Sprintf("c%d", i), Content: fmt.Sprintf("passage %d", i)},
			Score:    s,
			Distance: 1 - s,
		}
	}
	return results
}

func TestRerank_NoRerankerPassesThrough(t *testing.T) {
	client := NewGenerationClient(&fakeLLM{}, &fakeEmbedder{})
	results := makeResults(0.5, 0.9, 0.7)

	reranked := client.Rerank(context.Background(), "q", results, 2)

	require.Len(t, reranked, 2)
	assert.Equal(t, "c1", reranked[0].Chunk.ID)
	assert.Equal(t, "c2", reranked[1].Chunk.ID)
}

func TestRerank_RescoresWithModel(t *testing.T) {
	reranker := &fakeLLM{replies: []string{"2", "9", "5"}}
	client := NewGenerationClient(&fakeLLM{}, &fakeEmbedder{}, WithReranker(reranker))
	results := makeResults(0.9, 0.5, 0.7)

	reranked := client.Rerank(context.Background(), "q", results, 2)

	require.Len(t, reranked, 2)
	assert.Equal(t, "c1", reranked[0].Chunk.ID)
	assert.InDelta(t, 0.9, reranked[0].Score, 1e-9)
	assert.Equal(t, "c2", reranked[1].Chunk.ID)
	assert.Equal(t, 3, reranker.calls)
}

func TestRerank_ModelFailureFallsBack(t *testing.T) {
	reranker := &fakeLLM{errs: []error{errors.New("down")}}
	client := NewGenerationClient(&fakeLLM{}, &fakeEmbedder{}, WithReranker(reranker))
	results := makeResults(0.5, 0.9)

	reranked := client.Rerank(context.Background(), "q", results, 2)

	require.Len(t, reranked, 2)
	assert.Equal(t, "c1", reranked[0].Chunk.ID)
	assert.InDelta(t, 0.9, reranked[0].Score, 1e-9)
}

func TestParseRerankScore(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"7", 0.7},
		{"Relevance: 8.5/10", 0.85},
		{"10", 1.0},
		{"42", 1.0},
		{"no number here", 0.5},
		{"", 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.InDelta(t, tt.want, parseRerankScore(tt.in), 1e-9)
		})
	}
}
