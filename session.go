package swarmkit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forge9/swarmkit/feature"
	"github.com/forge9/swarmkit/internal/pathsafe"
)

// ErrSessionInProgress is returned by InitSession when a session already
// exists for the project and is not in a terminal state.
var ErrSessionInProgress = fmt.Errorf("swarmkit: session already in progress")

// ErrNoActiveSession is returned by any operation that requires a loaded
// session when none exists.
var ErrNoActiveSession = fmt.Errorf("swarmkit: no active session")

// ErrInvalidTransition is returned when a requested state change is not
// reachable from the session's current status.
var ErrInvalidTransition = fmt.Errorf("swarmkit: invalid session transition")

// SessionController is the single actor that owns the Session document's
// top-level state machine, narrowed to state-machine transitions rather
// than a full subprocess lifecycle (that responsibility belongs to
// worker.Manager and Scheduler).
type SessionController struct {
	store  *feature.Store
	logger *slog.Logger

	mu      sync.Mutex
	session *feature.Session
}

// NewSessionController constructs a SessionController backed by store.
func NewSessionController(store *feature.Store, logger *slog.Logger) *SessionController {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionController{store: store, logger: logger}
}

// Load reads the current session (if any) from disk into memory.
func (c *SessionController) Load() (*feature.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, err := c.store.Load()
	if err != nil {
		return nil, fmt.Errorf("swarmkit: load session: %w", err)
	}
	c.session = sess
	return sess, nil
}

// Current returns the in-memory session, or nil if none is loaded.
func (c *SessionController) Current() *feature.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Init starts a new session for projectDir with the given task
// description and features. Fails with ErrSessionInProgress if an
// existing session is not in a terminal state.
func (c *SessionController) Init(projectDir, taskDescription string, features []feature.Feature, review *feature.ReviewConfig) (*feature.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && !isTerminal(c.session.Status) {
		return nil, ErrSessionInProgress
	}

	resolved, err := pathsafe.ValidateProjectDir(projectDir)
	if err != nil {
		return nil, fmt.Errorf("swarmkit: init session: %w", err)
	}
	projectDir = resolved

	now := time.Now().UTC()
	sess := &feature.Session{
		ProjectDir:      projectDir,
		TaskDescription: taskDescription,
		Status:          feature.SessionInProgress,
		StartTime:       now,
		LastUpdated:     now,
		Features:        features,
		ReviewConfig:    review,
	}
	feature.AppendProgress(sess, "session started: %s", taskDescription)

	if err := c.store.Save(sess); err != nil {
		return nil, fmt.Errorf("swarmkit: save new session: %w", err)
	}
	c.session = sess
	return sess, nil
}

func isTerminal(s feature.SessionStatus) bool {
	return s == feature.SessionCompleted || s == feature.SessionCompletedWithFails
}

// Pause transitions in_progress -> paused, returning every feature that
// was in_progress before the transition so the caller can kill their
// workers (cancellation itself lives in Scheduler; the controller only
// owns the document mutation).
func (c *SessionController) Pause() ([]feature.Feature, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.requireSessionLocked()
	if err != nil {
		return nil, err
	}
	if sess.Status != feature.SessionInProgress {
		return nil, fmt.Errorf("%w: pause requires in_progress, got %s", ErrInvalidTransition, sess.Status)
	}

	var interrupted []feature.Feature
	for i := range sess.Features {
		if sess.Features[i].Status == feature.StatusInProgress {
			interrupted = append(interrupted, sess.Features[i])
			sess.Features[i].Status = feature.StatusPending
			sess.Features[i].WorkerID = ""
		}
	}
	sess.Status = feature.SessionPaused
	feature.AppendProgress(sess, "session paused (%d features returned to pending)", len(interrupted))

	if err := c.store.Save(sess); err != nil {
		return nil, fmt.Errorf("swarmkit: save paused session: %w", err)
	}
	return interrupted, nil
}

// Resume transitions paused -> in_progress. No workers are automatically
// restarted; the caller re-lists ready features afterward.
func (c *SessionController) Resume() (*feature.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.requireSessionLocked()
	if err != nil {
		return nil, err
	}
	if sess.Status != feature.SessionPaused {
		return nil, fmt.Errorf("%w: resume requires paused, got %s", ErrInvalidTransition, sess.Status)
	}
	sess.Status = feature.SessionInProgress
	feature.AppendProgress(sess, "session resumed")

	if err := c.store.Save(sess); err != nil {
		return nil, fmt.Errorf("swarmkit: save resumed session: %w", err)
	}
	return sess, nil
}

// AllFeaturesTerminal reports whether every feature in sess has reached a
// terminal status (completed or failed), the precondition for leaving
// in_progress.
func AllFeaturesTerminal(sess *feature.Session) bool {
	for _, f := range sess.Features {
		if f.Status != feature.StatusCompleted && f.Status != feature.StatusFailed {
			return false
		}
	}
	return true
}

// AdvanceIfDone checks whether every feature has reached a terminal state
// and, if so, transitions the session toward reviewing or a final status:
// review-enabled sessions pass through reviewing first; review-disabled
// sessions go straight to a terminal status. It is a no-op (returns sess
// unchanged, false) if the session is not ready to advance.
func (c *SessionController) AdvanceIfDone() (*feature.Session, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.requireSessionLocked()
	if err != nil {
		return nil, false, err
	}
	if sess.Status != feature.SessionInProgress && sess.Status != feature.SessionReviewing {
		return sess, false, nil
	}
	if !AllFeaturesTerminal(sess) {
		return sess, false, nil
	}

	anyFailed := anyFeatureFailed(sess)

	if sess.Status == feature.SessionInProgress {
		if sess.ReviewConfig != nil && sess.ReviewConfig.Enabled {
			sess.Status = feature.SessionReviewing
			feature.AppendProgress(sess, "all features terminal, entering review")
			if err := c.store.Save(sess); err != nil {
				return nil, false, fmt.Errorf("swarmkit: save reviewing session: %w", err)
			}
			return sess, true, nil
		}
		return c.finishLocked(sess, anyFailed)
	}

	// already reviewing: only advance once AggregatedReview is present.
	if sess.AggregatedReview == nil {
		return sess, false, nil
	}
	return c.finishLocked(sess, anyFailed || !sess.AggregatedReview.OverallOK)
}

func (c *SessionController) finishLocked(sess *feature.Session, anyFailed bool) (*feature.Session, bool, error) {
	now := time.Now().UTC()
	sess.CompletedAt = &now
	if anyFailed {
		sess.Status = feature.SessionCompletedWithFails
		feature.AppendProgress(sess, "session completed with failures")
	} else {
		sess.Status = feature.SessionCompleted
		feature.AppendProgress(sess, "session completed")
	}
	if err := c.store.Save(sess); err != nil {
		return nil, false, fmt.Errorf("swarmkit: save completed session: %w", err)
	}
	return sess, true, nil
}

func anyFeatureFailed(sess *feature.Session) bool {
	for _, f := range sess.Features {
		if f.Status == feature.StatusFailed {
			return true
		}
	}
	return false
}

// Reset clears the session entirely, returning it to init. Callers must
// have already killed every worker; confirm must be true or Reset
// refuses.
func (c *SessionController) Reset(confirm bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !confirm {
		return fmt.Errorf("swarmkit: reset requires explicit confirmation")
	}
	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("swarmkit: reset session: %w", err)
	}
	c.session = nil
	return nil
}

// SetAggregatedReview records the outcome of the review workers (set iff
// every review worker reached a terminal state) and persists it.
func (c *SessionController) SetAggregatedReview(review feature.AggregatedReview) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.requireSessionLocked()
	if err != nil {
		return err
	}
	sess.AggregatedReview = &review
	feature.AppendProgress(sess, "review aggregated: overallOk=%v (%d reports)", review.OverallOK, len(review.Reports))
	if err := c.store.Save(sess); err != nil {
		return fmt.Errorf("swarmkit: save aggregated review: %w", err)
	}
	return nil
}

// Mutate runs fn against the current session under the controller's lock
// and persists the result. This is the single funnel every other
// component (Scheduler, competitive/voting coordinator) routes feature
// and worker mutations through, so no two callers ever race on a
// load-mutate-save cycle.
func (c *SessionController) Mutate(fn func(sess *feature.Session) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.requireSessionLocked()
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	if err := c.store.Save(sess); err != nil {
		return fmt.Errorf("swarmkit: save after mutation: %w", err)
	}
	return nil
}

func (c *SessionController) requireSessionLocked() (*feature.Session, error) {
	if c.session == nil {
		return nil, ErrNoActiveSession
	}
	return c.session, nil
}
