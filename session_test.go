package swarmkit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forge9/swarmkit/feature"
)

func newTestController(t *testing.T) *SessionController {
	t.Helper()
	store := feature.NewStore(t.TempDir(), nil)
	return NewSessionController(store, nil)
}

func TestInitRejectsNonExistentProjectDir(t *testing.T) {
	c := newTestController(t)
	_, err := c.Init("/does/not/exist", "task", nil, nil)
	require.Error(t, err)
}

func TestInitRejectsWhenSessionInProgress(t *testing.T) {
	c := newTestController(t)
	_, err := c.Init(t.TempDir(), "task", nil, nil)
	require.NoError(t, err)

	_, err = c.Init(t.TempDir(), "task2", nil, nil)
	require.ErrorIs(t, err, ErrSessionInProgress)
}

func TestPauseReturnsPendingInProgressFeatures(t *testing.T) {
	c := newTestController(t)
	_, err := c.Init(t.TempDir(), "task", []feature.Feature{
		{ID: "f1", Status: feature.StatusInProgress, WorkerID: "w1"},
		{ID: "f2", Status: feature.StatusPending},
	}, nil)
	require.NoError(t, err)

	interrupted, err := c.Pause()
	require.NoError(t, err)
	require.Len(t, interrupted, 1)
	require.Equal(t, "f1", interrupted[0].ID)
	require.Equal(t, feature.SessionPaused, c.Current().Status)
	require.Equal(t, feature.StatusPending, c.Current().Features[0].Status)
	require.Empty(t, c.Current().Features[0].WorkerID)
}

func TestResumeRequiresPaused(t *testing.T) {
	c := newTestController(t)
	_, err := c.Init(t.TempDir(), "task", nil, nil)
	require.NoError(t, err)

	_, err = c.Resume()
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAdvanceIfDoneCompletesWithoutReview(t *testing.T) {
	c := newTestController(t)
	_, err := c.Init(t.TempDir(), "task", []feature.Feature{
		{ID: "f1", Status: feature.StatusCompleted},
	}, nil)
	require.NoError(t, err)

	sess, advanced, err := c.AdvanceIfDone()
	require.NoError(t, err)
	require.True(t, advanced)
	require.Equal(t, feature.SessionCompleted, sess.Status)
}

func TestAdvanceIfDoneEntersReviewingWhenConfigured(t *testing.T) {
	c := newTestController(t)
	_, err := c.Init(t.TempDir(), "task", []feature.Feature{
		{ID: "f1", Status: feature.StatusCompleted},
	}, &feature.ReviewConfig{Enabled: true})
	require.NoError(t, err)

	sess, advanced, err := c.AdvanceIfDone()
	require.NoError(t, err)
	require.True(t, advanced)
	require.Equal(t, feature.SessionReviewing, sess.Status)

	sess, advanced, err = c.AdvanceIfDone()
	require.NoError(t, err)
	require.False(t, advanced)
	require.Equal(t, feature.SessionReviewing, sess.Status)

	require.NoError(t, c.SetAggregatedReview(feature.AggregatedReview{OverallOK: true}))
	sess, advanced, err = c.AdvanceIfDone()
	require.NoError(t, err)
	require.True(t, advanced)
	require.Equal(t, feature.SessionCompleted, sess.Status)
}

func TestAdvanceIfDoneMarksFailedWhenAnyFeatureFailed(t *testing.T) {
	c := newTestController(t)
	_, err := c.Init(t.TempDir(), "task", []feature.Feature{
		{ID: "f1", Status: feature.StatusCompleted},
		{ID: "f2", Status: feature.StatusFailed},
	}, nil)
	require.NoError(t, err)

	sess, advanced, err := c.AdvanceIfDone()
	require.NoError(t, err)
	require.True(t, advanced)
	require.Equal(t, feature.SessionCompletedWithFails, sess.Status)
}

func TestResetRequiresConfirm(t *testing.T) {
	c := newTestController(t)
	_, err := c.Init(t.TempDir(), "task", nil, nil)
	require.NoError(t, err)

	require.Error(t, c.Reset(false))
	require.NoError(t, c.Reset(true))
	require.Nil(t, c.Current())
}

func TestMutateRequiresActiveSession(t *testing.T) {
	c := newTestController(t)
	err := c.Mutate(func(sess *feature.Session) error { return nil })
	require.ErrorIs(t, err, ErrNoActiveSession)
}
