package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/liliang-cn/policyagent/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestChunkRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewChunkRepository(newTestDB(t))

	records := []domain.ChunkRecord{
		{ID: "a", Content: "Employees get 20 vacation days.", Metadata: map[string]any{
			domain.MetadataKeySource: "handbook.pdf",
			domain.MetadataKeyPage:   3,
		}},
		{ID: "b", Content: "Remote work requires approval.", Metadata: map[string]any{
			domain.MetadataKeySource: "remote.md",
		}},
	}
	vectors := [][]float32{{0.1, -2.5, 3}, {1, 0, 0.25}}

	require.NoError(t, repo.Save(ctx, records, vectors))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	gotRecords, gotVectors, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, gotRecords, 2)
	assert.Equal(t, vectors, gotVectors)
	assert.Equal(t, "a", gotRecords[0].ID)
	assert.Equal(t, "handbook.pdf", gotRecords[0].Source())

	page, ok := gotRecords[0].Page()
	assert.True(t, ok)
	assert.Equal(t, 3, page)

	_, ok = gotRecords[1].Page()
	assert.False(t, ok)
}

func TestChunkRepositoryRejectsMismatchedInput(t *testing.T) {
	repo := NewChunkRepository(newTestDB(t))
	err := repo.Save(context.Background(), []domain.ChunkRecord{{ID: "a"}}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, 1.5, -3.25, 1e-7}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.Empty(t, decodeVector(nil))
}

func TestTranscriptRepositoryArchive(t *testing.T) {
	ctx := context.Background()
	repo := NewTranscriptRepository(newTestDB(t))

	start := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	session := &domain.Session{
		ID:           "s-1",
		CreatedAt:    start,
		LastActivity: start.Add(2 * time.Minute),
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "How many vacation days?", Timestamp: start},
			{Role: domain.RoleAssistant, Content: "20 days.", Timestamp: start.Add(time.Minute), Sources: []string{"handbook.pdf (Page 3)"}},
		},
	}
	require.NoError(t, repo.Archive(ctx, session, ReasonExpired))

	got, reason, err := repo.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, ReasonExpired, reason)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, domain.RoleUser, got.Messages[0].Role)
	assert.Equal(t, []string{"handbook.pdf (Page 3)"}, got.Messages[1].Sources)
	assert.True(t, got.CreatedAt.Equal(start))

	// archiving again replaces the transcript
	session.Messages = session.Messages[:1]
	require.NoError(t, repo.Archive(ctx, session, ReasonDeleted))

	got, reason, err = repo.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, ReasonDeleted, reason)
	assert.Len(t, got.Messages, 1)

	sessions, err := repo.CountSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sessions)

	questions, err := repo.CountQuestions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, questions)
}

func TestTranscriptRepositoryGetMissing(t *testing.T) {
	_, _, err := NewTranscriptRepository(newTestDB(t)).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
