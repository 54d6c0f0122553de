package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/custodia-labs/ragcore/internal/core/domain"
	"github.com/custodia-labs/ragcore/internal/core/ports/driven"
	"github.com/custodia-labs/ragcore/internal/core/ports/driving"
	"github.com/custodia-labs/ragcore/internal/logger"
)

var _ driving.Pipeline = (*RAGPipeline)(nil)

const noEvidenceSummary = "No relevant evidence found in the document corpus."

// snippetLimit caps backfilled evidence snippets.
const snippetLimit = 200

// RAGPipeline orchestrates ingestion and querying: extraction, chunking,
// embedding, storage, retrieval, reranking, generation, and evidence
// reconciliation. It implements driving.Pipeline.
type RAGPipeline struct {
	processor *DocumentProcessor
	gen       *GenerationClient
	store     driven.ChunkStore
	extractor driven.TextExtractor
	chunkCfg  ChunkConfig
}

// PipelineOption configures a RAGPipeline.
type PipelineOption func(*RAGPipeline)

// WithChunkConfig overrides the default chunking parameters.
func WithChunkConfig(cfg ChunkConfig) PipelineOption {
	return func(p *RAGPipeline) { p.chunkCfg = cfg }
}

// NewRAGPipeline wires the pipeline's collaborators together.
func NewRAGPipeline(
	processor *DocumentProcessor,
	gen *GenerationClient,
	store driven.ChunkStore,
	extractor driven.TextExtractor,
	opts ...PipelineOption,
) *RAGPipeline {
	p := &RAGPipeline{
		processor: processor,
		gen:       gen,
		store:     store,
		extractor: extractor,
		chunkCfg:  DefaultChunkConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IngestFile extracts, chunks, embeds, and persists a local file. Any stage
// failure aborts the ingestion with nothing persisted.
func (p *RAGPipeline) IngestFile(ctx context.Context, path string) (*domain.IngestResult, error) {
	extracted, err := p.extractor.ExtractFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	return p.ingest(ctx, path, domain.SourceFile, extracted)
}

// IngestURL fetches a URL and ingests its text.
func (p *RAGPipeline) IngestURL(ctx context.Context, url string) (*domain.IngestResult, error) {
	extracted, err := p.extractor.ExtractURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", url, err)
	}
	return p.ingest(ctx, url, domain.SourceURL, extracted)
}

// IngestDirectory walks dir and ingests every regular file, continuing past
// per-file failures. Unsupported formats are skipped silently; other failures
// are logged and skipped. Each document remains all-or-nothing.
func (p *RAGPipeline) IngestDirectory(ctx context.Context, dir string) ([]*domain.IngestResult, error) {
	var results []*domain.IngestResult

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		res, err := p.IngestFile(ctx, path)
		if err != nil {
			if errors.Is(err, domain.ErrUnsupportedFormat) {
				logger.Debug("skipping unsupported file %s", path)
			} else {
				logger.Warn("ingest %s failed: %v", path, err)
			}
			return nil
		}

		results = append(results, res)
		return nil
	})
	if err != nil {
		return results, fmt.Errorf("walk %s: %w", dir, err)
	}

	logger.Info("ingested %d documents from %s", len(results), dir)
	return results, nil
}

// ingest runs the common chunk-embed-persist stages for one document.
func (p *RAGPipeline) ingest(ctx context.Context, source string, kind domain.SourceKind, extracted *driven.ExtractResult) (*domain.IngestResult, error) {
	start := time.Now()
	logger.Section("Ingest " + source)

	documentID := uuid.New().String()
	base := domain.ChunkMetadata{
		SourceKind: kind,
		Source:     source,
		FileHash:   extracted.FileHash,
	}

	chunks := p.processor.ChunkText(documentID, extracted.Text, base, p.chunkCfg)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s contains no extractable text", domain.ErrInvalidInput, source)
	}
	logger.Debug("split %s into %d chunks", source, len(chunks))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embeddings, err := p.gen.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", source, err)
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}

	if err := p.store.AddChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("persist %s: %w", source, err)
	}

	result := &domain.IngestResult{
		DocumentID:    documentID,
		Source:        source,
		SourceKind:    kind,
		FileHash:      extracted.FileHash,
		ChunkCount:    len(chunks),
		EmbeddedCount: len(chunks),
		PageCount:     extracted.PageCount,
		Elapsed:       time.Since(start),
	}
	logger.Info("ingested %s: %d chunks in %s", source, result.ChunkCount, result.Elapsed)
	return result, nil
}

// Query answers a question with evidence-traced claims grounded in the
// stored corpus. Retrieval results below the confidence threshold are
// discarded; when nothing passes, the canonical no-evidence response is
// returned without invoking generation.
func (p *RAGPipeline) Query(ctx context.Context, question string, opts domain.QueryOptions) (*domain.QueryResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", domain.ErrInvalidInput)
	}
	opts = normaliseOptions(opts)

	start := time.Now()
	logger.Section("Query")
	logger.Debug("question: %s", question)

	queryEmbedding, err := p.gen.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	retrievalStart := time.Now()
	candidates, err := p.store.SearchSimilar(ctx, queryEmbedding, opts.TopK, opts.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	retrieved := candidates[:0:0]
	for _, r := range candidates {
		if r.Score >= opts.ConfidenceThreshold {
			retrieved = append(retrieved, r)
		}
	}
	retrievalElapsed := time.Since(retrievalStart)
	logger.Debug("retrieved %d candidates, %d above threshold %.2f",
		len(candidates), len(retrieved), opts.ConfidenceThreshold)

	if len(retrieved) == 0 {
		return &domain.QueryResult{
			Response: domain.DegradedResponse(noEvidenceSummary, question),
			Timings: domain.QueryTimings{
				Retrieval: retrievalElapsed,
				Total:     time.Since(start),
			},
		}, nil
	}

	rerankStart := time.Now()
	var reranked []domain.RetrievalResult
	if opts.EnableReranking {
		reranked = p.gen.Rerank(ctx, question, retrieved, opts.RerankTopK)
	} else {
		reranked = passThrough(retrieved, min(opts.RerankTopK, len(retrieved)))
	}
	rerankElapsed := time.Since(rerankStart)

	generationStart := time.Now()
	response := p.gen.GenerateStructured(ctx, question, buildContextBlock(reranked))
	p.reconcileEvidence(response, reranked)
	generationElapsed := time.Since(generationStart)

	return &domain.QueryResult{
		Response:  response,
		Retrieved: retrieved,
		Reranked:  reranked,
		Timings: domain.QueryTimings{
			Retrieval:  retrievalElapsed,
			Reranking:  rerankElapsed,
			Generation: generationElapsed,
			Total:      time.Since(start),
		},
	}, nil
}

// DeleteDocument removes a document and all of its chunks.
func (p *RAGPipeline) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("%w: empty document id", domain.ErrInvalidInput)
	}
	return p.store.DeleteDocument(ctx, documentID)
}

// DocumentStats summarises a stored document.
func (p *RAGPipeline) DocumentStats(ctx context.Context, documentID string) (*domain.DocumentStats, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: empty document id", domain.ErrInvalidInput)
	}
	return p.store.Stats(ctx, documentID)
}

// DocumentChunks returns a document's chunks in order.
func (p *RAGPipeline) DocumentChunks(ctx context.Context, documentID string) ([]domain.DocumentChunk, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: empty document id", domain.ErrInvalidInput)
	}
	return p.store.GetChunksByDocument(ctx, documentID)
}

func normaliseOptions(opts domain.QueryOptions) domain.QueryOptions {
	defaults := domain.DefaultQueryOptions()
	if opts.TopK <= 0 {
		opts.TopK = defaults.TopK
	}
	if opts.RerankTopK <= 0 {
		opts.RerankTopK = defaults.RerankTopK
	}
	if opts.ConfidenceThreshold <= 0 || opts.ConfidenceThreshold > 1 {
		opts.ConfidenceThreshold = defaults.ConfidenceThreshold
	}
	return opts
}

// buildContextBlock concatenates chunk contents with per-chunk source
// headers so the model can cite locations.
func buildContextBlock(results []domain.RetrievalResult) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		meta := r.Chunk.Metadata
		b.WriteString("[" + meta.Source)
		if meta.Page != nil {
			fmt.Fprintf(&b, ", page %d", *meta.Page)
		}
		if meta.LineStart != nil && meta.LineEnd != nil {
			fmt.Fprintf(&b, ", lines %d-%d", *meta.LineStart, *meta.LineEnd)
		}
		fmt.Fprintf(&b, ", score %.2f", r.Score)
		b.WriteString("]\n")
		b.WriteString(r.Chunk.Content)
	}
	return b.String()
}

// reconcileEvidence backfills each evidence pointer's location fields from
// the context chunk it cites. Values the model already supplied are never
// overwritten.
func (p *RAGPipeline) reconcileEvidence(resp *domain.EvidenceTracedResponse, used []domain.RetrievalResult) {
	now := time.Now().UTC()

	for ci := range resp.Claims {
		for pi := range resp.Claims[ci].EvidencePointers {
			ptr := &resp.Claims[ci].EvidencePointers[pi]

			chunk := matchChunk(ptr, used)
			if chunk != nil {
				meta := chunk.Metadata
				if ptr.SourceKind == "" {
					ptr.SourceKind = meta.SourceKind
				}
				if ptr.Page == nil {
					ptr.Page = meta.Page
				}
				if ptr.LineStart == nil {
					ptr.LineStart = meta.LineStart
				}
				if ptr.LineEnd == nil {
					ptr.LineEnd = meta.LineEnd
				}
				if ptr.Section == "" {
					ptr.Section = meta.Section
				}
				if ptr.FileHash == "" {
					ptr.FileHash = meta.FileHash
				}
				if ptr.Snippet == "" {
					ptr.Snippet = truncate(chunk.Content, snippetLimit)
				}
			}
			if ptr.ExtractedAt.IsZero() {
				ptr.ExtractedAt = now
			}
		}
	}
}

// matchChunk finds the context chunk a pointer cites: first by snippet
// containment, then by source.
func matchChunk(ptr *domain.EvidencePointer, used []domain.RetrievalResult) *domain.DocumentChunk {
	if ptr.Snippet != "" {
		for i := range used {
			if strings.Contains(used[i].Chunk.Content, ptr.Snippet) {
				return &used[i].Chunk
			}
		}
	}
	for i := range used {
		if used[i].Chunk.Metadata.Source == ptr.Source {
			return &used[i].Chunk
		}
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
