package worker

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/forge9/swarmkit/process"
	"github.com/forge9/swarmkit/worker/provider"
)

// Mode selects how the Worker Manager drives its workers: an external
// CLI subprocess per worker, or in-process calls against an API provider.
type Mode string

const (
	// ModeCLI hosts each worker in its own tmux session running an external
	// code-agent binary, via process.Adapter.
	ModeCLI Mode = "cli"

	// ModeAPI drives each worker as a single in-process turn against a
	// provider.Provider, via APIAdapter.
	ModeAPI Mode = "api"

	// ModeAuto prefers API mode when ANTHROPIC_API_KEY is set, falling back
	// to CLI mode otherwise.
	ModeAuto Mode = "auto"
)

// Config configures ManagerFactory.
type Config struct {
	Mode       Mode
	WorkersDir string
	Logger     *slog.Logger

	// CLIBuilder constructs subprocess argv for CLI mode. Required when the
	// resolved mode is ModeCLI.
	CLIBuilder ArgvBuilder

	// APIProvider backs API mode. Required when the resolved mode is
	// ModeAPI; typically a *anthropic.Provider from worker/anthropic.
	APIProvider provider.Provider

	// APISystemPrompt is passed through to APIPromptBuilder.
	APISystemPrompt string

	// Breaker wraps the CLI adapter in a circuit breaker. The zero value
	// (false) leaves the adapter unwrapped.
	Breaker bool
}

// ManagerFactory builds a *Manager wired for CLI or API mode, resolving
// which one to use from explicit configuration or environment detection.
type ManagerFactory struct {
	cfg Config
}

// NewManagerFactory constructs a ManagerFactory from cfg.
func NewManagerFactory(cfg Config) *ManagerFactory {
	return &ManagerFactory{cfg: cfg}
}

// ResolveMode returns the concrete mode cfg.Mode resolves to.
func (f *ManagerFactory) ResolveMode() Mode {
	if f.cfg.Mode != ModeAuto && f.cfg.Mode != "" {
		return f.cfg.Mode
	}
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return ModeAPI
	}
	return ModeCLI
}

// CreateManager builds the Manager for the resolved mode.
func (f *ManagerFactory) CreateManager() (*Manager, Mode, error) {
	mode := f.ResolveMode()
	switch mode {
	case ModeAPI:
		m, err := f.createAPIManager()
		return m, mode, err
	case ModeCLI:
		m, err := f.createCLIManager()
		return m, mode, err
	default:
		return nil, mode, fmt.Errorf("worker: unknown manager mode: %s", mode)
	}
}

func (f *ManagerFactory) createCLIManager() (*Manager, error) {
	if f.cfg.CLIBuilder == nil {
		return nil, fmt.Errorf("worker: cli mode requires Config.CLIBuilder")
	}
	adapter, err := process.NewAdapter()
	if err != nil {
		return nil, fmt.Errorf("worker: create tmux adapter: %w", err)
	}

	var sa SessionAdapter = adapter
	if f.cfg.Breaker {
		sa = process.NewGuardedAdapter(adapter)
	}
	return NewManager(sa, f.cfg.CLIBuilder, f.cfg.WorkersDir, f.cfg.Logger), nil
}

func (f *ManagerFactory) createAPIManager() (*Manager, error) {
	if f.cfg.APIProvider == nil {
		return nil, fmt.Errorf("worker: api mode requires Config.APIProvider")
	}
	adapter := NewAPIAdapter(f.cfg.APIProvider, f.cfg.WorkersDir, f.cfg.Logger)
	builder := APIPromptBuilder{SystemPrompt: f.cfg.APISystemPrompt}
	return NewManager(adapter, builder, f.cfg.WorkersDir, f.cfg.Logger), nil
}
