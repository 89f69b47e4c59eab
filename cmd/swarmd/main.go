// Command swarmd runs the swarmkit orchestration engine: it owns a single
// session's lifecycle (init, dispatch, completion monitoring, optional
// multi-instance sync) and optionally serves the read-only dashboard.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/forge9/swarmkit"
	"github.com/forge9/swarmkit/dashboard"
	"github.com/forge9/swarmkit/feature"
	"github.com/forge9/swarmkit/protocol"
	syncpkg "github.com/forge9/swarmkit/sync"
	"github.com/forge9/swarmkit/worker"
	"github.com/forge9/swarmkit/worker/anthropic"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	var (
		stateDir      = flag.String("state-dir", ".swarmkit", "Orchestrator state directory (state.json, progress.txt, workers/, registry.json)")
		projectDir    = flag.String("project", ".", "Project directory the session operates on")
		tasksFile     = flag.String("tasks", "", "Path to a JSON file containing the initial []feature.Feature list (required with -init)")
		taskDesc      = flag.String("task", "", "Top-level task description (required with -init)")
		initSession   = flag.Bool("init", false, "Initialize a new session and exit")
		statusCmd     = flag.Bool("status", false, "Print session status and exit")
		pauseCmd      = flag.Bool("pause", false, "Pause the running session and exit")
		resumeCmd     = flag.Bool("resume", false, "Resume a paused session and exit")
		resetCmd      = flag.Bool("reset", false, "Clear the session entirely and exit (requires -confirm)")
		confirm       = flag.Bool("confirm", false, "Confirm a destructive command such as -reset")
		mode          = flag.String("mode", "auto", "Worker spawn mode: cli, api, or auto")
		strategy      = flag.String("strategy", "balanced", "Scheduler strategy: balanced, breadth-first, or depth-first")
		batchSize     = flag.Int("batch-size", 10, "Maximum workers dispatched per cycle (<=10)")
		pollInterval  = flag.Duration("poll-interval", 5*time.Second, "Dispatch loop interval")
		dashboardAddr = flag.String("dashboard-addr", "", "If set, serve the read-only dashboard on this address (e.g. localhost:8080)")
		syncEnabled   = flag.Bool("sync", false, "Enable multi-instance sync via a shared directory")
		syncDir       = flag.String("sync-dir", "", "Shared directory for multi-instance sync (required with -sync)")
		showVersion   = flag.Bool("version", false, "Show version and exit")
		verbose       = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("swarmd %s (commit: %s)\n", version, gitCommit)
		return
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(runConfig{
		stateDir: *stateDir, projectDir: *projectDir, tasksFile: *tasksFile, taskDesc: *taskDesc,
		initSession: *initSession, statusCmd: *statusCmd, pauseCmd: *pauseCmd, resumeCmd: *resumeCmd,
		resetCmd: *resetCmd, confirm: *confirm, mode: *mode, strategy: *strategy, batchSize: *batchSize,
		pollInterval: *pollInterval, dashboardAddr: *dashboardAddr, syncEnabled: *syncEnabled,
		syncDir: *syncDir,
	}, logger); err != nil {
		logger.Error("swarmd: fatal", "error", err)
		os.Exit(1)
	}
}

type runConfig struct {
	stateDir, projectDir, tasksFile, taskDesc string
	initSession, statusCmd, pauseCmd, resumeCmd, resetCmd, confirm bool
	mode, strategy                            string
	batchSize                                 int
	pollInterval                              time.Duration
	dashboardAddr                             string
	syncEnabled                               bool
	syncDir                                   string
}

func run(cfg runConfig, logger *slog.Logger) error {
	store := feature.NewStore(cfg.stateDir, logger)
	controller := swarmkit.NewSessionController(store, logger)
	if _, err := controller.Load(); err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	if cfg.resetCmd {
		if err := controller.Reset(cfg.confirm); err != nil {
			return err
		}
		fmt.Println("session reset")
		return nil
	}

	if cfg.initSession {
		return runInit(cfg, controller)
	}

	if controller.Current() == nil {
		return fmt.Errorf("no active session: run with -init first")
	}

	switch {
	case cfg.statusCmd:
		return runStatus(controller)
	case cfg.pauseCmd:
		return runPause(cfg, controller, logger)
	case cfg.resumeCmd:
		_, err := controller.Resume()
		return err
	}

	return runLoop(cfg, controller, logger)
}

func runInit(cfg runConfig, controller *swarmkit.SessionController) error {
	if cfg.taskDesc == "" {
		return fmt.Errorf("-init requires -task")
	}
	var features []feature.Feature
	if cfg.tasksFile != "" {
		data, err := os.ReadFile(cfg.tasksFile)
		if err != nil {
			return fmt.Errorf("read tasks file: %w", err)
		}
		if err := json.Unmarshal(data, &features); err != nil {
			return fmt.Errorf("parse tasks file: %w", err)
		}
	}
	abs, err := filepath.Abs(cfg.projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}
	sess, err := controller.Init(abs, cfg.taskDesc, features, nil)
	if err != nil {
		return err
	}
	fmt.Printf("session initialized: %d feature(s), status=%s\n", len(sess.Features), sess.Status)
	return nil
}

func runStatus(controller *swarmkit.SessionController) error {
	sess := controller.Current()
	fmt.Printf("status: %s\n", sess.Status)
	fmt.Printf("task:   %s\n", sess.TaskDescription)
	fmt.Println("features:")
	for _, f := range sess.Features {
		fmt.Printf("  [%s] %-12s %s\n", f.ID, f.Status, f.Description)
	}
	return nil
}

func runPause(cfg runConfig, controller *swarmkit.SessionController, logger *slog.Logger) error {
	workersMgr, err := buildWorkerManager(cfg, logger)
	if err != nil {
		return err
	}
	scheduler := swarmkit.NewScheduler(controller, workersMgr, nil, swarmkit.Strategy(cfg.strategy), logger)
	return scheduler.PauseSession(context.Background())
}

// buildWorkerManager resolves the CLI/API spawn mode. CLI mode requires a
// caller-supplied worker.ArgvBuilder for the specific code-agent binary in
// use; swarmd ships none (that construction is an external contract), so
// -mode=cli is only usable when embedding swarmkit as a library with a
// custom builder wired in. API mode needs only ANTHROPIC_API_KEY.
func buildWorkerManager(cfg runConfig, logger *slog.Logger) (*worker.Manager, error) {
	workersDir := filepath.Join(cfg.stateDir, "workers")

	factoryCfg := worker.Config{
		Mode:       worker.Mode(cfg.mode),
		WorkersDir: workersDir,
		Logger:     logger,
		Breaker:    true,
	}
	if factoryCfg.Mode == "" {
		factoryCfg.Mode = worker.ModeAuto
	}

	mf := worker.NewManagerFactory(factoryCfg)
	if mf.ResolveMode() == worker.ModeAPI {
		provider, err := anthropic.New()
		if err != nil {
			return nil, fmt.Errorf("create anthropic provider: %w", err)
		}
		factoryCfg.APIProvider = provider
		mf = worker.NewManagerFactory(factoryCfg)
	}

	m, resolved, err := mf.CreateManager()
	if err != nil {
		return nil, fmt.Errorf("create worker manager (resolved mode %s): %w", resolved, err)
	}
	logger.Info("swarmd: worker manager ready", "mode", resolved)
	return m, nil
}

func runLoop(cfg runConfig, controller *swarmkit.SessionController, logger *slog.Logger) error {
	workersMgr, err := buildWorkerManager(cfg, logger)
	if err != nil {
		return err
	}

	registryPath := filepath.Join(cfg.stateDir, "registry.json")
	registry := protocol.NewRegistry(registryPath, logger)
	if err := registry.Load(); err != nil {
		return fmt.Errorf("load protocol registry: %w", err)
	}
	enforcer := protocol.NewEnforcer(registry)

	scheduler := swarmkit.NewScheduler(controller, workersMgr, enforcer, swarmkit.Strategy(cfg.strategy), logger)
	competitive := swarmkit.NewCompetitiveCoordinator(controller, workersMgr, logger)

	var sm *syncpkg.Manager
	if cfg.syncEnabled {
		if cfg.syncDir == "" {
			return fmt.Errorf("-sync requires -sync-dir")
		}
		transport, err := syncpkg.NewTransport(cfg.syncDir)
		if err != nil {
			return fmt.Errorf("create sync transport: %w", err)
		}
		sm = syncpkg.NewManager(registry, transport, logger)
		logger.Info("swarmd: sync enabled", "instance", sm.InstanceID())
	}

	rt := swarmkit.NewRuntime(controller, scheduler, workersMgr, sm, competitive, logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("swarmd: shutting down")
		cancel()
	}()

	rt.Start(ctx)
	defer rt.Stop()

	if cfg.dashboardAddr != "" {
		dash := dashboard.New(controller, registry, logger)
		go func() {
			if err := dash.Start(cfg.dashboardAddr); err != nil {
				logger.Warn("swarmd: dashboard stopped", "error", err)
			}
		}()
		defer dash.Stop()
	}

	ticker := time.NewTicker(cfg.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, _, err := controller.AdvanceIfDone(); err != nil {
				logger.Error("swarmd: advance check failed", "error", err)
				continue
			}
			sess := controller.Current()
			if sess.Status != feature.SessionInProgress {
				continue
			}
			result, err := scheduler.Dispatch(ctx, cfg.batchSize, nil, "")
			if err != nil {
				logger.Error("swarmd: dispatch failed", "error", err)
				continue
			}
			if len(result.Started) > 0 || len(result.Failed) > 0 {
				logger.Info("swarmd: dispatch cycle", "started", len(result.Started), "failed", len(result.Failed), "conflicts", len(result.Conflicts))
			}
		}
	}
}
