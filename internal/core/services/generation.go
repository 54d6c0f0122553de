package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/ragcore/internal/core/domain"
	"github.com/custodia-labs/ragcore/internal/core/ports/driven"
	"github.com/custodia-labs/ragcore/internal/logger"
)

// Default generation parameters.
const (
	DefaultMaxRetries     = 3
	DefaultEmbedBatchSize = 10
)

const generateSystemPrompt = `You are an evidence-traced analysis assistant.
Answer ONLY from the provided context. Respond with a single JSON object:
{
  "claims": [
    {
      "text": "one factual assertion",
      "evidencePointers": [
        {
          "sourceKind": "file",
          "sourcePathOrUrl": "path or url from the context",
          "page": null,
          "lineStart": null,
          "lineEnd": null,
          "snippet": "verbatim supporting excerpt",
          "confidence": 0.0
        }
      ],
      "confidence": 0.0
    }
  ],
  "summary": "short answer to the question",
  "overallConfidence": 0.0,
  "evidenceGaps": ["aspects the context does not cover"]
}
Every claim MUST carry at least one evidence pointer citing the context.
All confidence values are between 0 and 1. If the context cannot answer the
question, return an empty claims array and name the gaps.`

const degradedSummary = "Unable to produce a reliable evidence-traced answer."

// rerankScoreRe extracts the first number from a reranker reply.
var rerankScoreRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

// GenerationClient wraps the model services with the behaviour the pipeline
// needs: structured generation that retries and then degrades instead of
// failing, batched concurrent embedding, and optional LLM reranking.
type GenerationClient struct {
	llm        driven.LLMService
	embedder   driven.EmbeddingService
	reranker   driven.LLMService
	maxRetries int
	batchSize  int
	limiter    *rate.Limiter
}

// GenerationOption configures a GenerationClient.
type GenerationOption func(*GenerationClient)

// WithReranker sets the model used for second-pass relevance scoring.
// Without one, reranking is a pass-through sort and truncate.
func WithReranker(llm driven.LLMService) GenerationOption {
	return func(c *GenerationClient) { c.reranker = llm }
}

// WithMaxRetries sets the generation attempt ceiling.
func WithMaxRetries(n int) GenerationOption {
	return func(c *GenerationClient) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithEmbedBatchSize sets how many texts are embedded concurrently.
func WithEmbedBatchSize(n int) GenerationOption {
	return func(c *GenerationClient) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithEmbedRateLimit caps embedding calls at rps requests per second.
func WithEmbedRateLimit(rps float64) GenerationOption {
	return func(c *GenerationClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// NewGenerationClient creates a generation client around the given services.
func NewGenerationClient(llm driven.LLMService, embedder driven.EmbeddingService, opts ...GenerationOption) *GenerationClient {
	c := &GenerationClient{
		llm:        llm,
		embedder:   embedder,
		maxRetries: DefaultMaxRetries,
		batchSize:  DefaultEmbedBatchSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateStructured asks the model for an evidence-traced answer to the
// question given the retrieved context. Invalid payloads are retried up to
// the attempt ceiling; after that a degraded response with zero claims and
// zero confidence is returned. This method never returns an error.
func (c *GenerationClient) GenerateStructured(ctx context.Context, question, contextText string) *domain.EvidenceTracedResponse {
	if c.llm == nil {
		return domain.DegradedResponse(degradedSummary, "no generative model configured")
	}

	prompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, question)

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		raw, err := c.llm.Generate(ctx, prompt, driven.GenerateOptions{
			System:     generateSystemPrompt,
			JSONFormat: true,
		})
		if err != nil {
			logger.Warn("generation attempt %d/%d failed: %v", attempt, c.maxRetries, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		resp, err := parseStructuredResponse(raw)
		if err != nil {
			logger.Warn("generation attempt %d/%d produced invalid payload: %v", attempt, c.maxRetries, err)
			continue
		}

		logger.Debug("generation succeeded on attempt %d with %d claims", attempt, len(resp.Claims))
		return resp
	}

	logger.Warn("generation degraded after %d attempts", c.maxRetries)
	return domain.DegradedResponse(degradedSummary,
		"the model did not return a valid structured response")
}

// parseStructuredResponse decodes a model reply into an
// EvidenceTracedResponse, tolerating markdown code fences and surrounding
// prose, and validates the evidence invariants.
func parseStructuredResponse(raw string) (*domain.EvidenceTracedResponse, error) {
	payload := strings.TrimSpace(raw)

	// Models sometimes wrap JSON in fences or prose despite instructions.
	if start := strings.Index(payload, "{"); start >= 0 {
		if end := strings.LastIndex(payload, "}"); end > start {
			payload = payload[start : end+1]
		}
	}

	var resp domain.EvidenceTracedResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidResponse, err)
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	if resp.Claims == nil {
		resp.Claims = []domain.Claim{}
	}
	return &resp, nil
}

// EmbedBatch embeds texts in order, processing them in concurrent batches.
// Any single failure aborts the whole call; the result is all embeddings or
// none.
func (c *GenerationClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.embedder == nil {
		return nil, domain.ErrEmbeddingUnavailable
	}
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, len(texts))

	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		var wg sync.WaitGroup
		errs := make([]error, end-start)

		var limitErr error
		for i := start; i < end; i++ {
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					limitErr = err
					break
				}
			}

			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				emb, err := c.embedder.Embed(ctx, texts[i])
				if err != nil {
					errs[i-start] = err
					return
				}
				embeddings[i] = emb
			}(i)
		}
		// Dispatched goroutines must finish before the slices escape.
		wg.Wait()

		if limitErr != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, limitErr)
		}

		for _, err := range errs {
			if err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
			}
		}

		logger.Debug("embedded batch %d-%d of %d texts", start, end-1, len(texts))
	}

	return embeddings, nil
}

// EmbedQuery embeds a single query string.
func (c *GenerationClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if c.embedder == nil {
		return nil, domain.ErrEmbeddingUnavailable
	}
	emb, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
	}
	return emb, nil
}

// Rerank rescores results against the question with the reranker model and
// returns the top topK by the new score. Without a reranker, or when any
// reranker call fails, results are passed through sorted by retrieval score.
func (c *GenerationClient) Rerank(ctx context.Context, question string, results []domain.RetrievalResult, topK int) []domain.RetrievalResult {
	if topK <= 0 || topK > len(results) {
		topK = len(results)
	}
	if c.reranker == nil {
		return passThrough(results, topK)
	}

	rescored := make([]domain.RetrievalResult, len(results))
	copy(rescored, results)

	for i := range rescored {
		prompt := fmt.Sprintf(
			"Rate how relevant this passage is to the question on a scale of 0 to 10.\nReply with only the number.\n\nQuestion: %s\n\nPassage:\n%s",
			question, rescored[i].Chunk.Content)

		raw, err := c.reranker.Generate(ctx, prompt, driven.GenerateOptions{MaxTokens: 8})
		if err != nil {
			logger.Warn("reranker failed, falling back to retrieval order: %v", err)
			return passThrough(results, topK)
		}

		rescored[i].Score = parseRerankScore(raw)
		rescored[i].Distance = 1 - rescored[i].Score
	}

	sort.SliceStable(rescored, func(a, b int) bool {
		return rescored[a].Score > rescored[b].Score
	})
	return rescored[:topK]
}

// passThrough sorts by existing score and truncates.
func passThrough(results []domain.RetrievalResult, topK int) []domain.RetrievalResult {
	out := make([]domain.RetrievalResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Score > out[b].Score
	})
	return out[:topK]
}

// parseRerankScore pulls a 0-10 score out of a model reply and normalises it
// to [0,1]. Unparseable replies score a neutral 0.5.
func parseRerankScore(raw string) float64 {
	match := rerankScoreRe.FindString(raw)
	if match == "" {
		return 0.5
	}
	n, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0.5
	}
	score := n / 10
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
