package contextstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "context.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutAndSearchRanksByCosineSimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Chunk{
		ID: "a", FeatureID: "f1", Content: "exact match",
		Embedding: []float32{1, 0, 0}, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.Put(ctx, Chunk{
		ID: "b", FeatureID: "f1", Content: "orthogonal",
		Embedding: []float32{0, 1, 0}, CreatedAt: time.Now().UTC(),
	}))

	results, err := s.Search(ctx, "f1", []float32{1, 0, 0}, SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "a", results[0].Chunk.ID)
	require.InDelta(t, 1.0, results[0].Similarity, 1e-9)
}

func TestSearchScopesToFeature(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Chunk{ID: "a", FeatureID: "f1", Content: "x", Embedding: []float32{1, 0}, CreatedAt: time.Now().UTC()}))
	require.NoError(t, s.Put(ctx, Chunk{ID: "b", FeatureID: "f2", Content: "y", Embedding: []float32{1, 0}, CreatedAt: time.Now().UTC()}))

	results, err := s.Search(ctx, "f2", []float32{1, 0}, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0].Chunk.ID)
}

func TestDeleteByFeatureRemovesOnlyThatFeature(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Chunk{ID: "a", FeatureID: "f1", Content: "x", Embedding: []float32{1}, CreatedAt: time.Now().UTC()}))
	require.NoError(t, s.Put(ctx, Chunk{ID: "b", FeatureID: "f2", Content: "y", Embedding: []float32{1}, CreatedAt: time.Now().UTC()}))

	require.NoError(t, s.DeleteByFeature(ctx, "f1"))

	results, err := s.Search(ctx, "", []float32{1}, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "f2", results[0].Chunk.FeatureID)
}

func TestChunkMarkdownSplitsOnBlankLines(t *testing.T) {
	doc := "# Title\n\nFirst paragraph.\n\nSecond paragraph with\ntwo lines."
	chunks := ChunkMarkdown(doc)
	require.Len(t, chunks, 3)
	require.Equal(t, "# Title", chunks[0])
}
