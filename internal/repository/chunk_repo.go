package repository

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/liliang-cn/policyagent/internal/domain"
)

// ChunkRepository persists indexed chunks together with their vectors
type ChunkRepository struct {
	db *DB
}

// NewChunkRepository creates a new chunk repository
func NewChunkRepository(db *DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// Save stores records and their vectors in one transaction
func (r *ChunkRepository) Save(ctx context.Context, records []domain.ChunkRecord, vectors [][]float32) error {
	if len(records) != len(vectors) {
		return fmt.Errorf("%w: %d records for %d vectors", domain.ErrInvalidRequest, len(records), len(vectors))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (id, content, metadata, dimension, vector)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, rec := range records {
		metadataJSON, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata of %s: %w", rec.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.Content, string(metadataJSON),
			len(vectors[i]), encodeVector(vectors[i])); err != nil {
			return fmt.Errorf("insert chunk %s: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

// LoadAll returns every stored chunk in insertion order
func (r *ChunkRepository) LoadAll(ctx context.Context) ([]domain.ChunkRecord, [][]float32, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, content, metadata, vector
		FROM chunks ORDER BY seq ASC
	`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		records []domain.ChunkRecord
		vectors [][]float32
	)
	for rows.Next() {
		var (
			rec          domain.ChunkRecord
			metadataJSON sql.NullString
			blob         []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Content, &metadataJSON, &blob); err != nil {
			return nil, nil, err
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
				return nil, nil, fmt.Errorf("decode metadata of %s: %w", rec.ID, err)
			}
		}
		records = append(records, rec)
		vectors = append(vectors, decodeVector(blob))
	}

	return records, vectors, rows.Err()
}

// Count returns the number of stored chunks
func (r *ChunkRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// encodeVector stores float32 values little-endian
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}
