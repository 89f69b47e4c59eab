package swarmkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forge9/swarmkit/feature"
	"github.com/forge9/swarmkit/worker"
)

func newTestRuntime(t *testing.T) (*Runtime, *SessionController) {
	t.Helper()
	store := feature.NewStore(t.TempDir(), nil)
	controller := NewSessionController(store, nil)
	adapter := &fakeSchedAdapter{sessions: make(map[string]bool)}
	m := worker.NewManager(adapter, &fakeSchedBuilder{}, t.TempDir(), nil)
	return NewRuntime(controller, nil, m, nil, nil, nil), controller
}

func TestOnTransitionCompletedMarksFeatureCompleted(t *testing.T) {
	r, controller := newTestRuntime(t)
	_, err := controller.Init(t.TempDir(), "task", []feature.Feature{
		{ID: "f1", Status: feature.StatusInProgress, WorkerID: "f1"},
	}, nil)
	require.NoError(t, err)

	r.onTransition(feature.Worker{SessionName: "f1", FeatureID: "f1"}, feature.WorkerCompleted)

	f := controller.Current().Features[0]
	require.Equal(t, feature.StatusCompleted, f.Status)
	require.NotNil(t, f.CompletedAt)
}

func TestOnTransitionCrashedMarksFeatureFailed(t *testing.T) {
	r, controller := newTestRuntime(t)
	_, err := controller.Init(t.TempDir(), "task", []feature.Feature{
		{ID: "f1", Status: feature.StatusInProgress, WorkerID: "f1"},
	}, nil)
	require.NoError(t, err)

	r.onTransition(feature.Worker{SessionName: "f1", FeatureID: "f1"}, feature.WorkerCrashed)

	f := controller.Current().Features[0]
	require.Equal(t, feature.StatusFailed, f.Status)
	require.Equal(t, "worker crashed", f.LastError)
}

func TestOnTransitionAdvancesSessionWhenAllFeaturesTerminal(t *testing.T) {
	r, controller := newTestRuntime(t)
	_, err := controller.Init(t.TempDir(), "task", []feature.Feature{
		{ID: "f1", Status: feature.StatusInProgress, WorkerID: "f1"},
	}, nil)
	require.NoError(t, err)

	r.onTransition(feature.Worker{SessionName: "f1", FeatureID: "f1"}, feature.WorkerCompleted)

	require.Equal(t, feature.SessionCompleted, controller.Current().Status)
}

func TestStartAndStopDrainsCompletionMonitor(t *testing.T) {
	r, controller := newTestRuntime(t)
	_, err := controller.Init(t.TempDir(), "task", nil, nil)
	require.NoError(t, err)

	r.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	r.Stop()
}
