// Package worker implements the worker manager: the lifecycle of workers
// for features, planners, voters, and reviewers, plus heartbeat
// extraction, completion monitoring, and conflict analysis.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/forge9/swarmkit/feature"
)

// SessionAdapter is the subset of process.Adapter (optionally wrapped by
// process.GuardedAdapter) the Worker Manager needs. Depending on an
// interface here, rather than *process.Adapter directly, keeps this
// package's tests free of a real tmux binary.
type SessionAdapter interface {
	SpawnSession(ctx context.Context, name, cwd string, argv []string) error
	SessionExists(ctx context.Context, name string) (bool, error)
	SendKeys(ctx context.Context, name, text string, pressEnter bool) error
	Capture(ctx context.Context, name string, lastN int) (string, error)
	Kill(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}

// ArgvBuilder constructs the argv for a worker's code-agent subprocess.
// The core deliberately does not hardcode a specific binary — that
// construction is an external-contract concern — so callers supply one.
type ArgvBuilder interface {
	BuildArgv(role feature.WorkerRole, f feature.Feature, prompt string) ([]string, error)
}

// TransitionCallback is invoked at most once per worker by the completion
// monitor when it observes a running worker reach a terminal state (P10).
type TransitionCallback func(w feature.Worker, newStatus feature.WorkerStatus)

// Manager is the Worker Manager. It owns no durable state itself: Worker
// records live on the Session document (feature.Store's caller owns the
// load/mutate/save cycle); Manager only drives the Process Adapter and the
// workers/ side-channel files.
type Manager struct {
	adapter    SessionAdapter
	builder    ArgvBuilder
	workersDir string
	logger     *slog.Logger

	mu       sync.Mutex
	reported map[string]bool
}

// NewManager constructs a Manager. workersDir is the `workers/` directory
// under the project's orchestrator state directory.
func NewManager(adapter SessionAdapter, builder ArgvBuilder, workersDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		adapter:    adapter,
		builder:    builder,
		workersDir: workersDir,
		logger:     logger,
		reported:   make(map[string]bool),
	}
}

func (m *Manager) logPath(sessionName string) string { return filepath.Join(m.workersDir, sessionName+".log") }
func (m *Manager) donePath(sessionName string) string { return filepath.Join(m.workersDir, sessionName+".done") }
func (m *Manager) planPath(sessionName string) string { return filepath.Join(m.workersDir, sessionName+".plan.json") }

// ErrDependenciesNotMet is returned by StartWorker when f has an
// incomplete dependency.
var ErrDependenciesNotMet = fmt.Errorf("worker: dependencies not met")

// ErrFeatureNotPending is returned by StartWorker when f is not pending
// (already running or terminal).
var ErrFeatureNotPending = fmt.Errorf("worker: feature is not pending")

// StartWorker spawns the primary implementor for f. Session name equals
// the feature id, keeping the §6 file-layout naming (`<featureId>.log`
// etc.) literal for the common single-worker-per-feature case.
func (m *Manager) StartWorker(ctx context.Context, f feature.Feature, byID map[string]feature.Feature, customPrompt, modelHint string) (feature.Worker, error) {
	if f.Status != feature.StatusPending {
		return feature.Worker{}, ErrFeatureNotPending
	}
	for _, dep := range f.DependsOn {
		if other, ok := byID[dep]; !ok || other.Status != feature.StatusCompleted {
			return feature.Worker{}, ErrDependenciesNotMet
		}
	}
	return m.spawn(ctx, f.ID, feature.RoleImplementor, f, customPrompt)
}

// StartPlannerWorker spawns one side of a competitive-planning pair.
func (m *Manager) StartPlannerWorker(ctx context.Context, f feature.Feature, role feature.WorkerRole, customPrompt string) (feature.Worker, error) {
	if role != feature.RolePlannerA && role != feature.RolePlannerB {
		return feature.Worker{}, fmt.Errorf("worker: invalid planner role %q", role)
	}
	sessionName := f.ID + "-" + string(role)
	return m.spawn(ctx, sessionName, role, f, customPrompt)
}

// StartVotingWorker spawns one redundant implementor for a voting round.
// f is expected to already be the per-voter clone (id = <orig>-voter-k).
func (m *Manager) StartVotingWorker(ctx context.Context, f feature.Feature, customPrompt string) (feature.Worker, error) {
	return m.spawn(ctx, f.ID, feature.RoleVoter, f, customPrompt)
}

// StartReviewWorker spawns a session-wide reviewer, which operates over the
// whole session rather than a single feature.
func (m *Manager) StartReviewWorker(ctx context.Context, kind feature.WorkerRole, sessionDescription string) (feature.Worker, error) {
	if kind != feature.RoleCodeReviewer && kind != feature.RoleArchReviewer {
		return feature.Worker{}, fmt.Errorf("worker: invalid review kind %q", kind)
	}
	placeholder := feature.Feature{ID: "review", Description: sessionDescription}
	sessionName := "review-" + strings.TrimSuffix(string(kind), "Reviewer")
	return m.spawn(ctx, sessionName, kind, placeholder, "")
}

func (m *Manager) spawn(ctx context.Context, sessionName string, role feature.WorkerRole, f feature.Feature, customPrompt string) (feature.Worker, error) {
	prompt := customPrompt
	if prompt == "" {
		prompt = f.Description
	}
	argv, err := m.builder.BuildArgv(role, f, prompt)
	if err != nil {
		return feature.Worker{}, fmt.Errorf("worker: build argv: %w", err)
	}

	if err := os.MkdirAll(m.workersDir, 0o700); err != nil {
		return feature.Worker{}, fmt.Errorf("worker: create workers dir: %w", err)
	}
	// best-effort cleanup of stale side-files from a previous attempt
	_ = os.Remove(m.donePath(sessionName))

	if err := m.adapter.SpawnSession(ctx, sessionName, "", argv); err != nil {
		return feature.Worker{}, fmt.Errorf("worker: spawn session %q: %w", sessionName, err)
	}

	now := time.Now().UTC()
	m.mu.Lock()
	delete(m.reported, sessionName)
	m.mu.Unlock()

	return feature.Worker{
		SessionName: sessionName,
		FeatureID:   f.ID,
		Role:        role,
		Status:      feature.WorkerRunning,
		StartedAt:   now,
		LastSeenAt:  now,
	}, nil
}

// WorkerCheck is the result of CheckWorker/CheckAllWorkers.
type WorkerCheck struct {
	SessionName string               `json:"sessionName"`
	Status      feature.WorkerStatus `json:"status"`
	Output      string               `json:"output"`
}

// CheckWorker captures the tail of sessionName's pane and reports whether
// the session is still alive.
func (m *Manager) CheckWorker(ctx context.Context, sessionName string, lastN int) (WorkerCheck, error) {
	exists, err := m.adapter.SessionExists(ctx, sessionName)
	if err != nil {
		return WorkerCheck{}, fmt.Errorf("worker: check %q: %w", sessionName, err)
	}
	if !exists {
		if m.hasDoneFile(sessionName) {
			return WorkerCheck{SessionName: sessionName, Status: feature.WorkerCompleted}, nil
		}
		return WorkerCheck{SessionName: sessionName, Status: feature.WorkerCrashed}, nil
	}

	output, err := m.adapter.Capture(ctx, sessionName, lastN)
	if err != nil {
		return WorkerCheck{}, fmt.Errorf("worker: capture %q: %w", sessionName, err)
	}
	return WorkerCheck{SessionName: sessionName, Status: feature.WorkerRunning, Output: output}, nil
}

// CheckAllWorkers returns one status per worker in workers: running
// workers are checked live, the others carry their recorded status.
func (m *Manager) CheckAllWorkers(ctx context.Context, workers []feature.Worker) []WorkerCheck {
	out := make([]WorkerCheck, 0, len(workers))
	for _, w := range workers {
		if w.Status != feature.WorkerRunning {
			out = append(out, WorkerCheck{SessionName: w.SessionName, Status: w.Status})
			continue
		}
		check, err := m.CheckWorker(ctx, w.SessionName, 100)
		if err != nil {
			m.logger.Warn("worker: check failed", "session", w.SessionName, "error", err)
			out = append(out, WorkerCheck{SessionName: w.SessionName, Status: feature.WorkerUnknown})
			continue
		}
		out = append(out, check)
	}
	return out
}

// Heartbeat derives a Heartbeat for sessionName without capturing the
// entire output: a bounded tail plus tool-event markers.
func (m *Manager) Heartbeat(ctx context.Context, sessionName string, startedAt time.Time) (Heartbeat, error) {
	tail, err := m.tailLog(sessionName, 200)
	if err != nil {
		return Heartbeat{}, fmt.Errorf("worker: heartbeat %q: %w", sessionName, err)
	}
	return ParseHeartbeat(tail, startedAt), nil
}

// tailLog reads up to maxLines from the bounded worker log file, falling
// back to a live pane capture if the file does not yet exist (a worker may
// not flush to its log file for the first few seconds).
func (m *Manager) tailLog(sessionName string, maxLines int) (string, error) {
	data, err := os.ReadFile(m.logPath(sessionName))
	if err == nil {
		lines := strings.Split(string(data), "\n")
		if len(lines) > maxLines {
			lines = lines[len(lines)-maxLines:]
		}
		return strings.Join(lines, "\n"), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.adapter.Capture(ctx, sessionName, maxLines)
}

// SendMessage injects a text instruction into a running session followed
// by an Enter keypress.
func (m *Manager) SendMessage(ctx context.Context, sessionName, text string) error {
	if err := m.adapter.SendKeys(ctx, sessionName, text, true); err != nil {
		return fmt.Errorf("worker: send message to %q: %w", sessionName, err)
	}
	return nil
}

// KillWorker terminates a single session.
func (m *Manager) KillWorker(ctx context.Context, sessionName string) error {
	if err := m.adapter.Kill(ctx, sessionName); err != nil {
		return fmt.Errorf("worker: kill %q: %w", sessionName, err)
	}
	return nil
}

// KillAllWorkers terminates every named session, collecting (not
// short-circuiting on) individual failures.
func (m *Manager) KillAllWorkers(ctx context.Context, sessionNames []string) error {
	var errs []string
	for _, name := range sessionNames {
		if err := m.KillWorker(ctx, name); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("worker: kill all: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AnalyzeFeatureConflicts delegates to feature.AnalyzeConflicts; kept as a
// Manager method since conflict analysis belongs on the Worker Manager's
// surface even though the computation itself is pure and lives in the
// feature package.
func (m *Manager) AnalyzeFeatureConflicts(features []feature.Feature) []feature.ConflictReason {
	return feature.AnalyzeConflicts(features)
}

// ReadPlanFile reads a planner's plan JSON, returning (nil, false, nil) if
// it has not been written yet.
func (m *Manager) ReadPlanFile(sessionName string) (*PlanFile, bool, error) {
	data, err := os.ReadFile(m.planPath(sessionName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("worker: read plan file: %w", err)
	}
	plan, err := ParsePlanFile(data)
	if err != nil {
		return nil, false, fmt.Errorf("worker: parse plan file: %w", err)
	}
	return plan, true, nil
}

// ReadDoneFile reads a worker's done-file contents, returning ("", false,
// nil) if it does not exist yet.
func (m *Manager) ReadDoneFile(sessionName string) (string, bool, error) {
	data, err := os.ReadFile(m.donePath(sessionName))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("worker: read done file: %w", err)
	}
	return string(data), true, nil
}

func (m *Manager) hasDoneFile(sessionName string) bool {
	_, err := os.Stat(m.donePath(sessionName))
	return err == nil
}

// RunCompletionMonitor starts the background ticker that scans every live
// worker for session disappearance (-> crashed) or a done-file (->
// completed). It owns its own cancellation: callers stop it by cancelling
// ctx. listWorkers is called fresh on every tick so the caller's current
// session document is always used, never a stale copy.
func (m *Manager) RunCompletionMonitor(ctx context.Context, period time.Duration, listWorkers func() []feature.Worker, onTransition TransitionCallback) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scanOnce(ctx, listWorkers(), onTransition)
		}
	}
}

func (m *Manager) scanOnce(ctx context.Context, workers []feature.Worker, onTransition TransitionCallback) {
	for _, w := range workers {
		if w.Status != feature.WorkerRunning {
			continue
		}
		m.mu.Lock()
		if m.reported[w.SessionName] {
			m.mu.Unlock()
			continue
		}
		m.mu.Unlock()

		exists, err := m.adapter.SessionExists(ctx, w.SessionName)
		if err != nil {
			m.logger.Warn("worker: completion monitor check failed", "session", w.SessionName, "error", err)
			continue
		}

		var newStatus feature.WorkerStatus
		switch {
		case m.hasDoneFile(w.SessionName):
			newStatus = feature.WorkerCompleted
		case !exists:
			newStatus = feature.WorkerCrashed
		default:
			continue
		}

		m.mu.Lock()
		if m.reported[w.SessionName] {
			m.mu.Unlock()
			continue
		}
		m.reported[w.SessionName] = true
		m.mu.Unlock()

		onTransition(w, newStatus)
	}
}
