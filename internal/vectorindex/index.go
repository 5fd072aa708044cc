// Package vectorindex provides exact nearest-neighbour search over chunk
// embeddings.
package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/liliang-cn/policyagent/internal/domain"
	"go.uber.org/zap"
)

// Index kinds
const (
	KindL2           = "flat_l2"
	KindInnerProduct = "flat_ip"
)

// Hit is one search result
type Hit struct {
	Record   domain.ChunkRecord
	Distance float64
}

// Index is the vector search contract used by retrieval and ingestion
type Index interface {
	Add(ctx context.Context, vectors [][]float32, records []domain.ChunkRecord) error
	Search(ctx context.Context, vector []float32, topK int) ([]Hit, error)
	Count() int
	Kind() string
}

// Store persists what is added to an index
type Store interface {
	Save(ctx context.Context, records []domain.ChunkRecord, vectors [][]float32) error
	LoadAll(ctx context.Context) ([]domain.ChunkRecord, [][]float32, error)
}

// Similarity converts a raw score of the given index kind into [0,1],
// higher meaning closer.
func Similarity(kind string, distance float64) float64 {
	switch kind {
	case KindL2:
		if distance < 0 {
			distance = 0
		}
		return 1 / (1 + distance)
	default:
		return distance
	}
}

// FlatIndex is an exact index using squared Euclidean distance
type FlatIndex struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
	records   []domain.ChunkRecord
	store     Store
	logger    *zap.Logger
}

// NewFlatIndex creates an empty index. A zero dimension is fixed by the
// first vector added. store may be nil for a memory-only index.
func NewFlatIndex(dimension int, store Store, logger *zap.Logger) *FlatIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlatIndex{
		dimension: dimension,
		store:     store,
		logger:    logger.Named("vectorindex"),
	}
}

// Load reads previously persisted chunks from the store
func (f *FlatIndex) Load(ctx context.Context) error {
	if f.store == nil {
		return nil
	}
	records, vectors, err := f.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkDimension(vectors); err != nil {
		return err
	}
	f.vectors = append(f.vectors, vectors...)
	f.records = append(f.records, records...)

	f.logger.Info("Vector index loaded",
		zap.Int("chunks", len(f.records)),
		zap.Int("dimension", f.dimension),
	)
	return nil
}

// checkDimension must be called with the lock held
func (f *FlatIndex) checkDimension(vectors [][]float32) error {
	for _, v := range vectors {
		if f.dimension == 0 {
			f.dimension = len(v)
		}
		if len(v) != f.dimension {
			return fmt.Errorf("%w: vector dimension %d, index dimension %d", domain.ErrInvalidRequest, len(v), f.dimension)
		}
	}
	return nil
}

// Add implements Index. Records are persisted before they become searchable.
func (f *FlatIndex) Add(ctx context.Context, vectors [][]float32, records []domain.ChunkRecord) error {
	if len(vectors) != len(records) {
		return fmt.Errorf("%w: %d vectors for %d records", domain.ErrInvalidRequest, len(vectors), len(records))
	}
	if len(vectors) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dim := f.dimension
	if err := f.checkDimension(vectors); err != nil {
		f.dimension = dim
		return err
	}

	if f.store != nil {
		if err := f.store.Save(ctx, records, vectors); err != nil {
			f.dimension = dim
			return fmt.Errorf("persist chunks: %w", err)
		}
	}

	for i := range vectors {
		f.vectors = append(f.vectors, append([]float32(nil), vectors[i]...))
		f.records = append(f.records, records[i])
	}
	return nil
}

// Search implements Index. Hits are ordered by ascending distance; ties keep
// insertion order.
func (f *FlatIndex) Search(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if topK <= 0 || len(f.vectors) == 0 {
		return nil, nil
	}
	if len(vector) != f.dimension {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d", domain.ErrInvalidRequest, len(vector), f.dimension)
	}

	hits := make([]Hit, len(f.vectors))
	for i, v := range f.vectors {
		hits[i] = Hit{Record: f.records[i], Distance: squaredL2(vector, v)}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})

	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

// Count implements Index
func (f *FlatIndex) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Kind implements Index
func (f *FlatIndex) Kind() string {
	return KindL2
}

// Dimension returns the vector size, zero while the index is empty
func (f *FlatIndex) Dimension() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dimension
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
