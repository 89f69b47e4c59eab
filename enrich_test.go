package swarmkit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forge9/swarmkit/contextstore"
	"github.com/forge9/swarmkit/feature"
)

func newTestEnricher(t *testing.T) (*Enricher, *SessionController) {
	t.Helper()
	store := feature.NewStore(t.TempDir(), nil)
	controller := NewSessionController(store, nil)
	cs, err := contextstore.New(filepath.Join(t.TempDir(), "context.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return NewEnricher(controller, cs), controller
}

func TestEnrichErrorsOnUnknownFeature(t *testing.T) {
	e, controller := newTestEnricher(t)
	_, err := controller.Init(t.TempDir(), "task", nil, nil)
	require.NoError(t, err)

	_, err = e.Enrich(context.Background(), "missing", []float32{1, 0}, 5)
	require.Error(t, err)
}

func TestEnrichWritesRenderedContextOntoFeature(t *testing.T) {
	e, controller := newTestEnricher(t)
	_, err := controller.Init(t.TempDir(), "task", []feature.Feature{
		{ID: "f1", Status: feature.StatusPending},
	}, nil)
	require.NoError(t, err)

	require.NoError(t, e.store.Put(context.Background(), contextstore.Chunk{
		ID: "c1", FeatureID: "f1", Content: "relevant background",
		Embedding: []float32{1, 0}, CreatedAt: time.Now().UTC(),
	}))

	count, err := e.Enrich(context.Background(), "f1", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	f := controller.Current().Features[0]
	require.Contains(t, f.Context, "relevant background")
}
