package swarmkit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/forge9/swarmkit/feature"
	"github.com/forge9/swarmkit/protocol"
	"github.com/forge9/swarmkit/worker"
)

// Strategy selects the adaptive-priority adjustment formula a Scheduler
// applies on top of the base score.
type Strategy string

const (
	StrategyBalanced    Strategy = "balanced"
	StrategyBreadthFirst Strategy = "breadth-first"
	StrategyDepthFirst  Strategy = "depth-first"
)

// maxBatchSize is the scheduler's hard dispatch cap (batch size k <= 10).
const maxBatchSize = 10

// DispatchResult reports the outcome of one Dispatch call.
type DispatchResult struct {
	Started   []feature.Worker
	Failed    map[string]error
	Conflicts []feature.ConflictReason
}

// Scheduler handles readiness, adaptive priority, and conflict-checked
// batch dispatch: parallel-limit selection with dependency/conflict
// gating, generalized to a priority-ranked top-k batch over Features.
type Scheduler struct {
	controller *SessionController
	workers    *worker.Manager
	enforcer   *protocol.Enforcer
	strategy   Strategy
	logger     *slog.Logger
}

// NewScheduler constructs a Scheduler. enforcer may be nil, in which case
// pre-execution protocol validation is skipped (no protocols registered).
func NewScheduler(controller *SessionController, workers *worker.Manager, enforcer *protocol.Enforcer, strategy Strategy, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if strategy == "" {
		strategy = StrategyBalanced
	}
	return &Scheduler{controller: controller, workers: workers, enforcer: enforcer, strategy: strategy, logger: logger}
}

// ReadyFeatures returns every feature eligible for dispatch, ranked by
// descending priority.
func (s *Scheduler) ReadyFeatures(sess *feature.Session) []feature.Feature {
	byID := feature.IndexByID(sess.Features)
	var ready []feature.Feature
	for _, f := range sess.Features {
		if feature.IsReady(f, byID) {
			ready = append(ready, f)
		}
	}

	scores := make(map[string]int, len(ready))
	for _, f := range ready {
		scores[f.ID] = s.priority(f, sess.Features)
	}
	sort.Slice(ready, func(i, j int) bool {
		if scores[ready[i].ID] != scores[ready[j].ID] {
			return scores[ready[i].ID] > scores[ready[j].ID]
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

// priority computes the adaptive formula:
// 50*(# pending features blocked by it) + 40*(no dependencies) +
// 30*(low-complexity) - 20*attempts, with strategy adjustments.
func (s *Scheduler) priority(f feature.Feature, all []feature.Feature) int {
	blocked := len(feature.BlockedBy(all, f.ID))
	score := 50*blocked - 20*f.Attempts

	noDeps := len(f.DependsOn) == 0
	if noDeps {
		score += 40
	}
	if f.Complexity > 0 && f.Complexity <= 3 {
		score += 30
	}

	switch s.strategy {
	case StrategyBreadthFirst:
		if noDeps {
			score += 20
		}
	case StrategyDepthFirst:
		score += 30 * blocked
	}
	return score
}

// activeWorkerCount is the live concurrency Resource constraints are
// checked against: workers the completion monitor hasn't yet marked done.
func activeWorkerCount(workers []feature.Worker) int {
	n := 0
	for _, w := range workers {
		if w.Status == feature.WorkerRunning {
			n++
		}
	}
	return n
}

// Dispatch selects up to batchSize ready features by priority, validates
// each against active protocols (pre-execution), runs conflict analysis
// as an advisory pass, then starts workers for the selected features
// concurrently. Partial failures leave the failed features pending with
// unchanged attempts.
func (s *Scheduler) Dispatch(ctx context.Context, batchSize int, customPrompts map[string]string, modelHint string) (DispatchResult, error) {
	if batchSize <= 0 || batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}

	result := DispatchResult{Failed: make(map[string]error)}

	var selected []feature.Feature
	err := s.controller.Mutate(func(sess *feature.Session) error {
		ready := s.ReadyFeatures(sess)
		if len(ready) > batchSize {
			ready = ready[:batchSize]
		}

		result.Conflicts = s.workers.AnalyzeFeatureConflicts(sess.Features)

		byID := feature.IndexByID(sess.Features)
		active := activeWorkerCount(sess.Workers)
		for _, f := range ready {
			if s.enforcer != nil {
				outcome := s.enforcer.ValidatePreExecution(protocol.EvalContext{
					FeatureID:  f.ID,
					ProjectDir: sess.ProjectDir,
					Task:       f.Description,
					Resource:   protocol.ResourceState{ActiveConcurrency: active},
				})
				if !outcome.Allowed {
					result.Failed[f.ID] = fmt.Errorf("swarmkit: blocked by protocol: %d violation(s)", len(outcome.Violations))
					continue
				}
			}
			selected = append(selected, f)
			_ = byID
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	type spawnOutcome struct {
		feature feature.Feature
		w       feature.Worker
		err     error
	}
	outcomes := make(chan spawnOutcome, len(selected))
	byID := featureIndexSnapshot(s.controller)

	for _, f := range selected {
		go func(f feature.Feature) {
			w, err := s.workers.StartWorker(ctx, f, byID, customPrompts[f.ID], modelHint)
			outcomes <- spawnOutcome{feature: f, w: w, err: err}
		}(f)
	}

	for range selected {
		out := <-outcomes
		if out.err != nil {
			result.Failed[out.feature.ID] = out.err
			continue
		}
		result.Started = append(result.Started, out.w)
	}

	if len(result.Started) > 0 {
		err := s.controller.Mutate(func(sess *feature.Session) error {
			startedByID := make(map[string]feature.Worker, len(result.Started))
			for _, w := range result.Started {
				startedByID[w.FeatureID] = w
			}
			for i := range sess.Features {
				w, ok := startedByID[sess.Features[i].ID]
				if !ok {
					continue
				}
				sess.Features[i].Status = feature.StatusInProgress
				sess.Features[i].WorkerID = w.SessionName
				now := time.Now().UTC()
				sess.Features[i].StartedAt = &now
				sess.Workers = append(sess.Workers, w)
			}
			feature.AppendProgress(sess, "dispatched %d worker(s), %d failed", len(result.Started), len(result.Failed))
			return nil
		})
		if err != nil {
			return result, err
		}
	}

	return result, nil
}

func featureIndexSnapshot(c *SessionController) map[string]feature.Feature {
	sess := c.Current()
	if sess == nil {
		return nil
	}
	return feature.IndexByID(sess.Features)
}

// PauseSession cancels every in_progress feature's worker and transitions
// the session to paused.
func (s *Scheduler) PauseSession(ctx context.Context) error {
	interrupted, err := s.controller.Pause()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(interrupted))
	for _, f := range interrupted {
		if f.WorkerID != "" {
			names = append(names, f.WorkerID)
		}
	}
	if err := s.workers.KillAllWorkers(ctx, names); err != nil {
		s.logger.Warn("swarmkit: some workers failed to stop on pause", "error", err)
	}
	return nil
}
