package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/forge9/swarmkit/worker/provider"
)

// APIAdapter implements SessionAdapter directly against a provider.Provider,
// the in-process counterpart to process.Adapter's tmux sessions. It lets
// Manager run unmodified in API mode since the Worker Manager only ever
// depends on the SessionAdapter interface, never on process.Adapter
// concretely.
//
// Convention: BuildArgv for this adapter must return exactly two elements,
// [systemPrompt, userPrompt] — there is no subprocess argv to construct, so
// the "argv" here is repurposed as the two halves of a single API turn.
type APIAdapter struct {
	provider   provider.Provider
	workersDir string
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*apiSession
}

type apiSession struct {
	cancel  context.CancelFunc
	running bool
}

// NewAPIAdapter constructs an APIAdapter. workersDir must match the Manager
// it is paired with so tailLog/hasDoneFile see the same files this adapter
// writes.
func NewAPIAdapter(p provider.Provider, workersDir string, logger *slog.Logger) *APIAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIAdapter{
		provider:   p,
		workersDir: workersDir,
		logger:     logger,
		sessions:   make(map[string]*apiSession),
	}
}

func (a *APIAdapter) logPath(name string) string  { return filepath.Join(a.workersDir, name+".log") }
func (a *APIAdapter) donePath(name string) string { return filepath.Join(a.workersDir, name+".done") }

// SpawnSession starts one API turn in the background, writing its result to
// the workers/ log and done files that Manager already knows how to read.
func (a *APIAdapter) SpawnSession(ctx context.Context, name, cwd string, argv []string) error {
	_ = cwd
	if len(argv) < 2 {
		return fmt.Errorf("worker: api adapter: argv must be [systemPrompt, userPrompt], got %d elements", len(argv))
	}
	if !a.provider.Available() {
		return provider.ErrProviderNotAvailable(a.provider.Name())
	}

	a.mu.Lock()
	if s, ok := a.sessions[name]; ok && s.running {
		a.mu.Unlock()
		return fmt.Errorf("worker: api adapter: session %q already running", name)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	a.sessions[name] = &apiSession{cancel: cancel, running: true}
	a.mu.Unlock()

	if err := os.MkdirAll(a.workersDir, 0o700); err != nil {
		cancel()
		return fmt.Errorf("worker: api adapter: create workers dir: %w", err)
	}
	_ = os.Remove(a.donePath(name))
	_ = os.Remove(a.logPath(name))

	go a.run(runCtx, name, argv[0], argv[1])
	return nil
}

func (a *APIAdapter) run(ctx context.Context, name, system, user string) {
	defer func() {
		a.mu.Lock()
		if s, ok := a.sessions[name]; ok {
			s.running = false
		}
		a.mu.Unlock()
	}()

	resp, err := a.provider.CreateMessage(ctx, &provider.MessageRequest{
		System:   system,
		Messages: []provider.Message{{Role: "user", Content: user}},
	})
	if err != nil {
		a.appendLog(name, fmt.Sprintf("##TOOL## error %v", err))
		a.logger.Warn("worker: api adapter: turn failed", "session", name, "error", err)
		return
	}

	a.appendLog(name, resp.Content)
	if err := os.WriteFile(a.donePath(name), []byte("completed"), 0o600); err != nil {
		a.logger.Warn("worker: api adapter: write done file failed", "session", name, "error", err)
	}
}

func (a *APIAdapter) appendLog(name, text string) {
	f, err := os.OpenFile(a.logPath(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		a.logger.Warn("worker: api adapter: open log failed", "session", name, "error", err)
		return
	}
	defer f.Close()
	_, _ = f.WriteString(text + "\n")
}

// SessionExists reports whether name's goroutine is still running.
func (a *APIAdapter) SessionExists(ctx context.Context, name string) (bool, error) {
	_ = ctx
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[name]
	return ok && s.running, nil
}

// SendKeys is not supported in API mode: a single provider turn has no
// interactive stdin to inject text into.
func (a *APIAdapter) SendKeys(ctx context.Context, name, text string, pressEnter bool) error {
	_, _, _ = ctx, name, text
	_ = pressEnter
	return fmt.Errorf("worker: api adapter: interactive messages are not supported in API mode")
}

// Capture returns the tail of the session's log file, mirroring
// process.Adapter.Capture's lastN-lines contract.
func (a *APIAdapter) Capture(ctx context.Context, name string, lastN int) (string, error) {
	_ = ctx
	data, err := os.ReadFile(a.logPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("worker: api adapter: read log: %w", err)
	}
	lines := strings.Split(string(data), "\n")
	if lastN > 0 && len(lines) > lastN {
		lines = lines[len(lines)-lastN:]
	}
	return strings.Join(lines, "\n"), nil
}

// Kill cancels the session's in-flight API call, if any.
func (a *APIAdapter) Kill(ctx context.Context, name string) error {
	_ = ctx
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[name]
	if !ok {
		return nil
	}
	s.cancel()
	s.running = false
	return nil
}

// List returns the names of sessions this adapter still considers running.
func (a *APIAdapter) List(ctx context.Context) ([]string, error) {
	_ = ctx
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.sessions))
	for name, s := range a.sessions {
		if s.running {
			names = append(names, name)
		}
	}
	return names, nil
}
