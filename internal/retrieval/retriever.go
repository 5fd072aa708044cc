// Package retrieval finds the policy chunks relevant to a query.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/liliang-cn/policyagent/internal/domain"
	"github.com/liliang-cn/policyagent/internal/llm"
	"github.com/liliang-cn/policyagent/internal/metrics"
	"github.com/liliang-cn/policyagent/internal/vectorindex"
	"go.uber.org/zap"
)

// Re-ranking weights
const (
	similarityWeight = 0.7
	overlapWeight    = 0.3
)

// UseDefaultThreshold asks Retrieve for the configured threshold. Any
// negative threshold does the same; zero admits every hit.
const UseDefaultThreshold = -1.0

// Retriever embeds queries and searches the vector index. Failures never
// reach the caller; they are logged and produce an empty result.
type Retriever struct {
	llm       llm.Capability
	index     vectorindex.Index
	topK      int
	threshold float64
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New creates a retriever with default topK and threshold
func New(capability llm.Capability, index vectorindex.Index, topK int, threshold float64, m *metrics.Metrics, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		llm:       capability,
		index:     index,
		topK:      topK,
		threshold: threshold,
		metrics:   m,
		logger:    logger.Named("retrieval"),
	}
}

// Retrieve returns up to topK chunks whose similarity is at least
// threshold, most similar first. topK <= 0 and a negative threshold use the
// defaults.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, threshold float64) []domain.RetrievedChunk {
	if topK <= 0 {
		topK = r.topK
	}
	if threshold < 0 {
		threshold = r.threshold
	}

	chunks, err := r.search(ctx, query, topK, threshold)
	if err != nil {
		r.logger.Error("Retrieval failed", zap.Error(err))
		return nil
	}

	r.metrics.ObserveRetrieval(len(chunks))
	r.logger.Info("Retrieved documents",
		zap.Int("count", len(chunks)),
		zap.Int("top_k", topK),
		zap.Float64("threshold", threshold),
	)
	return chunks
}

func (r *Retriever) search(ctx context.Context, query string, topK int, threshold float64) ([]domain.RetrievedChunk, error) {
	vec, err := r.llm.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.index.Search(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	kind := r.index.Kind()
	chunks := make([]domain.RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		sim := vectorindex.Similarity(kind, h.Distance)
		if sim < threshold {
			continue
		}
		chunks = append(chunks, domain.RetrievedChunk{ChunkRecord: h.Record, Similarity: sim})
	}
	return chunks, nil
}

// RetrieveWithReranking fetches 2*topK candidates and orders them by a blend
// of vector similarity and query word overlap, keeping topK.
func (r *Retriever) RetrieveWithReranking(ctx context.Context, query string, topK int, threshold float64) []domain.RetrievedChunk {
	if topK <= 0 {
		topK = r.topK
	}

	chunks := r.Retrieve(ctx, query, 2*topK, threshold)
	if len(chunks) == 0 {
		return nil
	}

	queryWords := wordSet(query)
	for i := range chunks {
		overlap := 0.0
		if len(queryWords) > 0 {
			contentWords := wordSet(chunks[i].Content)
			shared := 0
			for w := range queryWords {
				if _, ok := contentWords[w]; ok {
					shared++
				}
			}
			overlap = float64(shared) / float64(len(queryWords))
		}
		chunks[i].Relevance = similarityWeight*chunks[i].Similarity + overlapWeight*overlap
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Relevance > chunks[j].Relevance
	})
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	return chunks
}

// wordSet splits on whitespace after lower-casing
func wordSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// FormatSources renders one citation per distinct source and page, in
// first-seen order.
func FormatSources(chunks []domain.RetrievedChunk) []string {
	details := SourceDetails(chunks)
	sources := make([]string, len(details))
	for i, d := range details {
		sources[i] = d.Document
	}
	return sources
}

// SourceDetails is FormatSources with the page, chunk id and score of the
// first chunk seen for each citation. The score is the re-ranked relevance
// when set, otherwise the similarity.
func SourceDetails(chunks []domain.RetrievedChunk) []domain.SourceDetail {
	details := make([]domain.SourceDetail, 0, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		d := domain.SourceDetail{Document: c.Source()}
		if page, ok := c.Page(); ok {
			d.Document = fmt.Sprintf("%s (Page %d)", d.Document, page)
			d.Page = &page
		}
		if _, dup := seen[d.Document]; dup {
			continue
		}
		seen[d.Document] = struct{}{}

		if id, ok := c.Metadata[domain.MetadataKeyChunkID].(string); ok && id != "" {
			d.ChunkID = id
		} else {
			d.ChunkID = c.ID
		}
		score := c.Similarity
		if c.Relevance > 0 {
			score = c.Relevance
		}
		d.RelevanceScore = &score
		details = append(details, d)
	}
	return details
}
