package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/floegence/codex-bridge/internal/auditlog"
	"github.com/floegence/codex-bridge/internal/bridge"
	"github.com/floegence/codex-bridge/internal/codexconfig"
	"github.com/floegence/codex-bridge/internal/config"
	"github.com/floegence/codex-bridge/internal/endpointcache"
	"github.com/floegence/codex-bridge/internal/launcher"
	"github.com/floegence/codex-bridge/internal/localui"
	"github.com/floegence/codex-bridge/internal/lockfile"
	"github.com/floegence/codex-bridge/internal/workspace"
)

type runFlags struct {
	port       int
	workspaces []string
	eager      bool
	noLegacy   bool
}

func newRunCmd(root *rootFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the chat UI and bridge it to the Codex bridge server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(cmd.Context(), root, flags)
		},
	}
	cmd.Flags().IntVar(&flags.port, "port", 0, "Local UI port (default: ui_port from config, else 23999)")
	cmd.Flags().StringArrayVar(&flags.workspaces, "workspace", nil, "Workspace root (repeatable; default: working directory)")
	cmd.Flags().BoolVar(&flags.eager, "connect", true, "Connect to the bridge server at startup instead of on the first turn")
	cmd.Flags().BoolVar(&flags.noLegacy, "no-legacy-prefs", false, "Ignore the desktop app's connection_preferences.json")
	return cmd
}

func runHost(ctx context.Context, root *rootFlags, flags *runFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfgPath := filepath.Clean(root.configPath)
	cfg, err := config.LoadOrInit(cfgPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv()
	if flags.port != 0 {
		cfg.UIPort = flags.port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := config.NewLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}

	stateDir := cfg.ResolveStateDir(cfgPath)
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return fmt.Errorf("init state dir: %w", err)
	}

	// One host per state directory; two would fight over the same UI port
	// and launch duplicate bridge servers.
	lockPath := filepath.Join(stateDir, "codex-bridge.lock")
	lk, err := lockfile.Acquire(lockPath)
	if err != nil {
		return fmt.Errorf("acquire lock (%s): %w", lockPath, err)
	}
	defer func() { _ = lk.Release() }()

	cache, err := endpointcache.Open(filepath.Join(stateDir, "endpoints.db"))
	if err != nil {
		logger.Warn("endpoint cache disabled", "error", err)
		cache = nil
	}
	defer func() { _ = cache.Close() }()

	codexCfg := codexconfig.NewReader(codexconfig.ReaderOptions{
		Logger: logger.With("component", "codexconfig"),
		Path:   cfg.CodexConfigPath,
	})
	defer func() { _ = codexCfg.Close() }()

	roots := workspace.NewRoots(flags.workspaces...)
	if len(roots.List()) == 0 {
		if wd, err := os.Getwd(); err == nil {
			roots.Add(wd)
		}
	}

	ln := launcher.New(launcher.Options{
		Logger:     logger.With("component", "launcher"),
		StateDir:   stateDir,
		Executable: cfg.Backend.Executable,
	})
	defer func() { _ = ln.Stop() }()

	uiOpts := localui.Options{
		Logger:         logger.With("component", "localui"),
		Port:           cfg.Port(),
		AllowedOrigins: cfg.UIAllowedOrigins,
		Version:        Version,
	}
	audit, err := auditlog.New(auditlog.Options{Logger: logger, StateDir: stateDir})
	if err != nil {
		logger.Warn("audit log disabled", "error", err)
	} else {
		uiOpts.Audit = audit
	}
	ui, err := localui.New(uiOpts)
	if err != nil {
		return fmt.Errorf("init local ui: %w", err)
	}

	legacyPath := ""
	if !flags.noLegacy {
		legacyPath = endpointcache.DefaultLegacyPath()
	}
	mopts := bridge.ManagerOptions{
		BaseURL:         cfg.Backend.BaseURL,
		HealthPath:      cfg.Backend.HealthPath,
		WSPath:          cfg.Backend.WSPath,
		LaunchTimeout:   cfg.Backend.LaunchTimeout,
		ProbeInterval:   cfg.Backend.ProbeInterval,
		Launcher:        ln,
		LegacyPrefsPath: legacyPath,
		OnEndpoint: func(baseURL string, source endpointcache.Source) {
			audit.Append(auditlog.Entry{
				Action:  auditlog.ActionEndpointSelected,
				BaseURL: baseURL,
				Detail:  map[string]any{"source": string(source)},
			})
		},
	}
	if cache != nil {
		mopts.Cache = cache
	}
	svc := bridge.NewService(bridge.ServiceOptions{
		Logger:    logger,
		Sink:      ui,
		Manager:   mopts,
		Config:    codexCfg,
		Workspace: roots,
	})
	defer func() { _ = svc.Close() }()
	ui.SetRuntime(svc)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := ui.Start(ctx); err != nil {
		return fmt.Errorf("start local ui: %w", err)
	}
	defer func() { _ = ui.Close() }()

	printWelcomeBanner(os.Stderr, welcomeBannerOptions{
		Version:   Version,
		Port:      ui.Port(),
		Workspace: roots.Preferred(),
	})

	if flags.eager {
		go func() {
			if err := svc.Manager.EnsureConnected(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("bridge server not reachable yet; will retry on the first turn", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
