package swarmkit

import (
	"context"
	"log/slog"
	"time"

	"github.com/forge9/swarmkit/feature"
	syncpkg "github.com/forge9/swarmkit/sync"
	"github.com/forge9/swarmkit/worker"
)

// defaultCompletionPeriod is how often the completion monitor polls worker
// side-channel files for a terminal state.
const defaultCompletionPeriod = 5 * time.Second

// Runtime wires the Session Controller, Scheduler, Worker Manager, and Sync
// Manager into a single Start/Stop lifecycle, narrowed to three independent
// polling loops instead of one loop per agent type.
type Runtime struct {
	Controller  *SessionController
	Scheduler   *Scheduler
	Workers     *worker.Manager
	Sync        *syncpkg.Manager
	Competitive *CompetitiveCoordinator
	logger      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRuntime constructs a Runtime. sync may be nil when multi-instance
// coordination is disabled (single-instance deployments).
func NewRuntime(controller *SessionController, scheduler *Scheduler, workers *worker.Manager, sm *syncpkg.Manager, competitive *CompetitiveCoordinator, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{Controller: controller, Scheduler: scheduler, Workers: workers, Sync: sm, Competitive: competitive, logger: logger}
}

// Start launches the completion monitor and, if configured, the sync
// manager's heartbeat/cleanup loops. Each loop owns its own cancellation
// via ctx, mirroring background.go's per-agent goroutines.
func (r *Runtime) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	if r.Sync != nil {
		r.Sync.Start(ctx)
	}

	go func() {
		defer close(r.done)
		r.Workers.RunCompletionMonitor(ctx, defaultCompletionPeriod, r.listWorkers, r.onTransition)
	}()
}

// Stop cancels every running loop and waits for the completion monitor to
// return.
func (r *Runtime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.Sync != nil {
		r.Sync.Stop()
	}
	if r.done != nil {
		<-r.done
	}
}

func (r *Runtime) listWorkers() []feature.Worker {
	sess := r.Controller.Current()
	if sess == nil {
		return nil
	}
	return sess.Workers
}

// onTransition persists a worker's terminal status onto its feature and
// advances the session if every feature has now reached a terminal state.
// Worker completion is reported at most once: RunCompletionMonitor
// guarantees onTransition fires once per worker, and Mutate's single-actor
// funnel guarantees no concurrent writer can race this update.
func (r *Runtime) onTransition(w feature.Worker, newStatus feature.WorkerStatus) {
	err := r.Controller.Mutate(func(sess *feature.Session) error {
		for i := range sess.Features {
			if sess.Features[i].ID != w.FeatureID || sess.Features[i].WorkerID != w.SessionName {
				continue
			}
			switch newStatus {
			case feature.WorkerCompleted:
				sess.Features[i].Status = feature.StatusCompleted
			case feature.WorkerCrashed:
				sess.Features[i].Status = feature.StatusFailed
				sess.Features[i].LastError = "worker crashed"
			}
			now := time.Now().UTC()
			sess.Features[i].CompletedAt = &now
			feature.AppendProgress(sess, "worker %s for %s finished: %s", w.SessionName, w.FeatureID, newStatus)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("swarmkit: failed to apply worker transition", "worker", w.SessionName, "error", err)
		return
	}

	if _, advanced, err := r.Controller.AdvanceIfDone(); err != nil {
		r.logger.Error("swarmkit: failed to advance session", "error", err)
	} else if advanced {
		r.logger.Info("swarmkit: session advanced after feature completion")
	}
}
