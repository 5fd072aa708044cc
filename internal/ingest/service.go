package ingest

import (
	"context"
	"fmt"

	"github.com/liliang-cn/policyagent/internal/domain"
	"github.com/liliang-cn/policyagent/internal/llm"
	"github.com/liliang-cn/policyagent/internal/metrics"
	"github.com/liliang-cn/policyagent/internal/vectorindex"
	"go.uber.org/zap"
)

// Service embeds processed documents and adds them to the vector index
type Service struct {
	processor *Processor
	llm       llm.Capability
	index     vectorindex.Index
	batchSize int
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewService creates a new ingest service
func NewService(processor *Processor, capability llm.Capability, index vectorindex.Index, batchSize int, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		processor: processor,
		llm:       capability,
		index:     index,
		batchSize: batchSize,
		metrics:   m,
		logger:    logger.Named("ingest"),
	}
}

// IngestDirectory indexes every supported document below dir
func (s *Service) IngestDirectory(ctx context.Context, dir string) (DocumentStats, error) {
	records, err := s.processor.ProcessDirectory(dir)
	if err != nil {
		return DocumentStats{}, err
	}
	if err := s.Index(ctx, records); err != nil {
		return DocumentStats{}, err
	}
	return Stats(records), nil
}

// IngestFile indexes a single document
func (s *Service) IngestFile(ctx context.Context, path string) (DocumentStats, error) {
	records, err := s.processor.ProcessFile(path)
	if err != nil {
		return DocumentStats{}, err
	}
	if err := s.Index(ctx, records); err != nil {
		return DocumentStats{}, err
	}
	return Stats(records), nil
}

// Index embeds records and adds them to the index
func (s *Service) Index(ctx context.Context, records []domain.ChunkRecord) error {
	if len(records) == 0 {
		s.logger.Warn("No chunks to index")
		return nil
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Content
	}

	vectors, err := s.llm.GenerateEmbeddingsBatch(ctx, texts, s.batchSize)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(records) {
		return fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(records))
	}

	if err := s.index.Add(ctx, vectors, records); err != nil {
		return fmt.Errorf("add to index: %w", err)
	}

	s.metrics.ChunksIngested(len(records))
	s.logger.Info("Chunks indexed",
		zap.Int("chunks", len(records)),
		zap.Int("total", s.index.Count()),
	)
	return nil
}
