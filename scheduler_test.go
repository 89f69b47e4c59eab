package swarmkit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forge9/swarmkit/feature"
	"github.com/forge9/swarmkit/worker"
)

func newTestSchedulerController(t *testing.T) (*SessionController, *worker.Manager, *fakeSchedAdapter) {
	t.Helper()
	store := feature.NewStore(t.TempDir(), nil)
	controller := NewSessionController(store, nil)
	adapter := &fakeSchedAdapter{sessions: make(map[string]bool)}
	m := worker.NewManager(adapter, &fakeSchedBuilder{}, t.TempDir(), nil)
	return controller, m, adapter
}

type fakeSchedAdapter struct {
	sessions map[string]bool
	spawnErr error
}

func (f *fakeSchedAdapter) SpawnSession(ctx context.Context, name, cwd string, argv []string) error {
	if f.spawnErr != nil {
		return f.spawnErr
	}
	f.sessions[name] = true
	return nil
}
func (f *fakeSchedAdapter) SessionExists(ctx context.Context, name string) (bool, error) {
	return f.sessions[name], nil
}
func (f *fakeSchedAdapter) SendKeys(ctx context.Context, name, text string, pressEnter bool) error {
	return nil
}
func (f *fakeSchedAdapter) Capture(ctx context.Context, name string, lastN int) (string, error) {
	return "", nil
}
func (f *fakeSchedAdapter) Kill(ctx context.Context, name string) error {
	delete(f.sessions, name)
	return nil
}
func (f *fakeSchedAdapter) List(ctx context.Context) ([]string, error) { return nil, nil }

type fakeSchedBuilder struct{}

func (fakeSchedBuilder) BuildArgv(role feature.WorkerRole, f feature.Feature, prompt string) ([]string, error) {
	return []string{"agent", prompt}, nil
}

func TestReadyFeaturesOrdersByPriorityThenID(t *testing.T) {
	controller, m, _ := newTestSchedulerController(t)
	_, err := controller.Init(t.TempDir(), "task", []feature.Feature{
		{ID: "low", Status: feature.StatusPending, DependsOn: []string{"blocker"}},
		{ID: "blocker", Status: feature.StatusPending},
		{ID: "high", Status: feature.StatusPending},
	}, nil)
	require.NoError(t, err)

	s := NewScheduler(controller, m, nil, StrategyBalanced, nil)
	ready := s.ReadyFeatures(controller.Current())

	var ids []string
	for _, f := range ready {
		ids = append(ids, f.ID)
	}
	require.Equal(t, []string{"blocker", "high"}, ids)
}

func TestDispatchStartsWorkersAndUpdatesFeatures(t *testing.T) {
	controller, m, adapter := newTestSchedulerController(t)
	_, err := controller.Init(t.TempDir(), "task", []feature.Feature{
		{ID: "f1", Status: feature.StatusPending, Description: "do it"},
	}, nil)
	require.NoError(t, err)

	s := NewScheduler(controller, m, nil, StrategyBalanced, nil)
	result, err := s.Dispatch(context.Background(), 10, nil, "")
	require.NoError(t, err)
	require.Len(t, result.Started, 1)
	require.Empty(t, result.Failed)
	require.True(t, adapter.sessions["f1"])

	sess := controller.Current()
	require.Equal(t, feature.StatusInProgress, sess.Features[0].Status)
	require.Equal(t, "f1", sess.Features[0].WorkerID)
}

func TestDispatchLeavesSpawnFailuresPending(t *testing.T) {
	controller, m, adapter := newTestSchedulerController(t)
	adapter.spawnErr = errors.New("spawn failed")
	_, err := controller.Init(t.TempDir(), "task", []feature.Feature{
		{ID: "f1", Status: feature.StatusPending},
	}, nil)
	require.NoError(t, err)

	s := NewScheduler(controller, m, nil, StrategyBalanced, nil)
	result, err := s.Dispatch(context.Background(), 10, nil, "")
	require.NoError(t, err)
	require.Empty(t, result.Started)
	require.Len(t, result.Failed, 1)

	sess := controller.Current()
	require.Equal(t, feature.StatusPending, sess.Features[0].Status)
}

func TestPauseSessionKillsInterruptedWorkers(t *testing.T) {
	controller, m, adapter := newTestSchedulerController(t)
	adapter.sessions["f1"] = true
	_, err := controller.Init(t.TempDir(), "task", []feature.Feature{
		{ID: "f1", Status: feature.StatusInProgress, WorkerID: "f1"},
	}, nil)
	require.NoError(t, err)

	s := NewScheduler(controller, m, nil, StrategyBalanced, nil)
	require.NoError(t, s.PauseSession(context.Background()))

	require.False(t, adapter.sessions["f1"])
	require.Equal(t, feature.SessionPaused, controller.Current().Status)
}
