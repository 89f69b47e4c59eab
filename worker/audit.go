package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/forge9/swarmkit/feature"
)

// InteractionEvent is one logged worker interaction: a prompt sent, a
// response received, a tool call observed, or an error. This is distinct
// from protocol.AuditEntry, which is the formal, bounded audit log for
// protocol lifecycle actions — InteractionEvent is ambient observability
// for the worker-spawning path, a JSONL sink the way the rest of this
// module's ambient logging works.
type InteractionEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	SessionName string    `json:"sessionName"`
	FeatureID   string    `json:"featureId,omitempty"`
	Kind        string    `json:"kind"` // prompt_sent | response_received | tool_call | error
	Detail      string    `json:"detail"`
	DurationMs  int64     `json:"durationMs,omitempty"`
}

// InteractionLogger records InteractionEvents. NoOpInteractionLogger is
// used when logging is disabled.
type InteractionLogger interface {
	LogPromptSent(sessionName, featureID, prompt string)
	LogResponseReceived(sessionName, featureID, response string, durationMs int64)
	LogToolCall(sessionName, featureID, tool, args string)
	LogError(sessionName, featureID, errMsg string)
}

// NoOpInteractionLogger discards every event.
type NoOpInteractionLogger struct{}

func (NoOpInteractionLogger) LogPromptSent(string, string, string)          {}
func (NoOpInteractionLogger) LogResponseReceived(string, string, string, int64) {}
func (NoOpInteractionLogger) LogToolCall(string, string, string, string)    {}
func (NoOpInteractionLogger) LogError(string, string, string)               {}

// FileInteractionLogger appends newline-delimited JSON events to a file
// under the project's orchestrator directory, guarded by a mutex the same
// way kanban.State guards its board.
type FileInteractionLogger struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewFileInteractionLogger opens (creating if needed) the JSONL sink at
// path.
func NewFileInteractionLogger(path string, logger *slog.Logger) (*FileInteractionLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("worker: create interaction log directory: %w", err)
	}
	return &FileInteractionLogger{path: path, logger: logger}, nil
}

func (l *FileInteractionLogger) write(ev InteractionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev.Timestamp = time.Now().UTC()
	line, err := json.Marshal(ev)
	if err != nil {
		l.logger.Warn("worker: marshal interaction event failed", "error", err)
		return
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		l.logger.Warn("worker: open interaction log failed", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Warn("worker: write interaction log failed", "error", err)
	}
}

const truncateLimit = 50000

func truncate(s string) string {
	if len(s) <= truncateLimit {
		return s
	}
	return s[:truncateLimit] + "...[truncated]"
}

func (l *FileInteractionLogger) LogPromptSent(sessionName, featureID, prompt string) {
	l.write(InteractionEvent{SessionName: sessionName, FeatureID: featureID, Kind: "prompt_sent", Detail: truncate(prompt)})
}

func (l *FileInteractionLogger) LogResponseReceived(sessionName, featureID, response string, durationMs int64) {
	l.write(InteractionEvent{SessionName: sessionName, FeatureID: featureID, Kind: "response_received", Detail: truncate(response), DurationMs: durationMs})
}

func (l *FileInteractionLogger) LogToolCall(sessionName, featureID, tool, args string) {
	l.write(InteractionEvent{SessionName: sessionName, FeatureID: featureID, Kind: "tool_call", Detail: fmt.Sprintf("%s %s", tool, args)})
}

func (l *FileInteractionLogger) LogError(sessionName, featureID, errMsg string) {
	l.write(InteractionEvent{SessionName: sessionName, FeatureID: featureID, Kind: "error", Detail: errMsg})
}

// AuditingManager decorates Manager's spawn path with interaction logging.
type AuditingManager struct {
	*Manager
	logger InteractionLogger
}

// NewAuditingManager wraps m so every successful spawn logs a
// prompt_sent event and every failed one logs an error event.
func NewAuditingManager(m *Manager, logger InteractionLogger) *AuditingManager {
	return &AuditingManager{Manager: m, logger: logger}
}

func (a *AuditingManager) logOutcome(sessionName, featureID, prompt string, err error) {
	if err != nil {
		a.logger.LogError(sessionName, featureID, err.Error())
		return
	}
	a.logger.LogPromptSent(sessionName, featureID, prompt)
}

// StartWorker overrides Manager.StartWorker to log the outcome.
func (a *AuditingManager) StartWorker(ctx context.Context, f feature.Feature, byID map[string]feature.Feature, customPrompt, modelHint string) (feature.Worker, error) {
	w, err := a.Manager.StartWorker(ctx, f, byID, customPrompt, modelHint)
	a.logOutcome(f.ID, f.ID, customPrompt, err)
	return w, err
}

// StartPlannerWorker overrides Manager.StartPlannerWorker to log the
// outcome.
func (a *AuditingManager) StartPlannerWorker(ctx context.Context, f feature.Feature, role feature.WorkerRole, customPrompt string) (feature.Worker, error) {
	w, err := a.Manager.StartPlannerWorker(ctx, f, role, customPrompt)
	a.logOutcome(f.ID+"-"+string(role), f.ID, customPrompt, err)
	return w, err
}

// StartVotingWorker overrides Manager.StartVotingWorker to log the
// outcome.
func (a *AuditingManager) StartVotingWorker(ctx context.Context, f feature.Feature, customPrompt string) (feature.Worker, error) {
	w, err := a.Manager.StartVotingWorker(ctx, f, customPrompt)
	a.logOutcome(f.ID, f.ID, customPrompt, err)
	return w, err
}
