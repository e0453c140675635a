package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/agentharness/agentd/internal/config"
	"github.com/agentharness/agentd/internal/httpapi"
	"github.com/agentharness/agentd/internal/modelkit"
	"github.com/agentharness/agentd/internal/observability"
	"github.com/agentharness/agentd/internal/runengine"
	"github.com/agentharness/agentd/internal/specgen"
	"github.com/agentharness/agentd/internal/store"
	"github.com/agentharness/agentd/internal/symbols"
	"github.com/agentharness/agentd/internal/turnengine"
)

// staleSymbolCacheAge is how long a workspace's .agent-harness-cache symbol
// index is left on disk after its last rebuild before the periodic sweep
// removes it.
const staleSymbolCacheAge = 24 * time.Hour

func buildServeCmd() *cobra.Command {
	var (
		listenAddr string
		dataDir    string
		authToken  string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agentd daemon",
		Long: `Start the agentd daemon: load configuration, open the durable store,
construct the turn and run engines, and serve the HTTP/SSE API until a
shutdown signal arrives.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), serveFlags{
				listenAddr: listenAddr,
				dataDir:    dataDir,
				authToken:  authToken,
				configPath: configPath,
			})
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address host:port (overrides config)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")
	cmd.Flags().StringVar(&authToken, "auth-token", "", "bearer auth token (overrides config)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to JSON configuration file")
	return cmd
}

type serveFlags struct {
	listenAddr string
	dataDir    string
	authToken  string
	configPath string
}

// runServe implements the serve command: it mirrors
// create_kit_from_env/main() in the original reference entrypoint, wiring
// the same components (store, router, engines, spec generator, HTTP
// server) through this tree's own constructors.
func runServe(ctx context.Context, flags serveFlags) error {
	if err := config.LoadDotenvFiles("."); err != nil {
		slog.Warn("failed to load .env files", "error", err)
	}

	configFile := flags.configPath
	if configFile == "" {
		configFile = os.Getenv("HARNESS_CONFIG")
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if flags.listenAddr != "" {
		cfg.ListenAddr = flags.listenAddr
	}
	if flags.dataDir != "" {
		cfg.DataDir = flags.dataDir
	}
	if flags.authToken != "" {
		cfg.AuthToken = flags.authToken
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	slog.Info("agentd starting", "listen_addr", cfg.ListenAddr, "data_dir", cfg.DataDir)
	if cfg.AuthToken != "" {
		slog.Info("auth enabled", "mode", "bearer")
	}

	st := store.New(cfg.DataDir)
	if err := st.Init(); err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}

	metrics := observability.NewMetrics()

	providers, records := buildProviders()
	router := modelkit.NewRouter()

	turnOpts := turnengine.Options{
		ApprovalPolicy: cfg.ApprovalPolicy,
		ModelPolicy:    cfg.ModelPolicy,
		VerifyCommands: cfg.VerifyCommands,
		VerifyTimeout:  2 * time.Minute,
		AutoVerify:     len(cfg.VerifyCommands) > 0,
	}
	turnEngine := turnengine.New(st, router, turnengine.Providers(providers), records, metrics, turnOpts)
	runEngine := runengine.New(st, router, providers, records, metrics, cfg.ModelPolicy)
	specGenerator := specgen.New(providers, records, router, cfg.ModelPolicy)

	catalog := httpapi.NewModelCatalog(records, cfg.ModelPolicy, turnEngine, runEngine)

	server := httpapi.New(httpapi.Dependencies{
		Store:         st,
		AuthToken:     cfg.AuthToken,
		Runner:        runEngine,
		SessionRunner: turnEngine,
		SpecGen:       specGenerator,
		Models:        catalog,
		Metrics:       metrics,
		Logger:        logger,
	})

	stopWatcher, err := watchConfigFile(configFile, func() {
		reloaded, err := config.Load(configFile)
		if err != nil {
			slog.Warn("config reload failed", "path", configFile, "error", err)
			return
		}
		catalog.SetPolicy(reloaded.ModelPolicy)
		slog.Info("model policy reloaded from config", "path", configFile)
	})
	if err != nil {
		slog.Warn("config hot-reload watcher disabled", "error", err)
	} else if stopWatcher != nil {
		defer stopWatcher()
	}

	sweep := cron.New()
	if _, err := sweep.AddFunc("@every 5m", func() { runPeriodicSweep(st) }); err != nil {
		slog.Warn("failed to schedule periodic sweep", "error", err)
	} else {
		sweep.Start()
		defer sweep.Stop()
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
	}

	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	slog.Info("agentd listening", "addr", cfg.ListenAddr)

	sigCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	select {
	case <-sigCtx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

// runPeriodicSweep releases approval waiters orphaned by a run/session that
// failed, was canceled, or was marked interrupted by a restart while a tool
// call was still pending, and evicts any workspace's symbol cache that
// hasn't been rebuilt in staleSymbolCacheAge. It is the daemon's only
// scheduled background job; everything else runs in response to a request.
func runPeriodicSweep(st *store.Store) {
	prunedRuns, prunedSessions := st.PruneExpiredApprovals()
	if prunedRuns > 0 || prunedSessions > 0 {
		slog.Info("pruned expired approval waiters", "runs", prunedRuns, "sessions", prunedSessions)
	}

	workspaces := map[string]struct{}{}
	for _, run := range st.ListRuns() {
		if run.WorkspacePath != "" {
			workspaces[run.WorkspacePath] = struct{}{}
		}
	}
	for _, session := range st.ListSessions() {
		if session.WorkspacePath != "" {
			workspaces[session.WorkspacePath] = struct{}{}
		}
	}
	prunedCaches := 0
	for workspace := range workspaces {
		removed, err := symbols.New(workspace).PruneStale(staleSymbolCacheAge)
		if err != nil {
			slog.Warn("symbol cache prune failed", "workspace", workspace, "error", err)
			continue
		}
		if removed {
			prunedCaches++
		}
	}
	if prunedCaches > 0 {
		slog.Info("pruned stale symbol cache entries", "workspaces", prunedCaches)
	}
}

// buildProviders assembles the model providers available to every engine: a
// real Anthropic provider when ANTHROPIC_API_KEY is set, always backed by a
// stub provider so the daemon still boots (and tests still run) without any
// provider credentials configured.
func buildProviders() (map[string]modelkit.Provider, []modelkit.ModelRecord) {
	providers := map[string]modelkit.Provider{}
	var records []modelkit.ModelRecord

	stub := modelkit.NewStubProvider(modelkit.DefaultStubRecords())
	providers["stub"] = stub
	records = append(records, stub.ListModelRecords()...)

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		anthropic, err := modelkit.NewAnthropicProvider(modelkit.AnthropicConfig{APIKey: key})
		if err != nil {
			slog.Warn("failed to construct anthropic provider", "error", err)
		} else {
			providers["anthropic"] = anthropic
			records = append(records, modelkit.ModelRecord{
				Provider:       "anthropic",
				ModelID:        "claude-sonnet-4-20250514",
				Name:           "Claude Sonnet 4",
				ContextWindow:  200_000,
				SupportsTools:  true,
				SupportsVision: true,
				CostPerMTokIn:  3.0,
				CostPerMTokOut: 15.0,
			})
		}
	} else {
		slog.Info("ANTHROPIC_API_KEY not set; only the stub provider is registered")
	}

	return providers, records
}

// watchConfigFile watches path for writes and invokes onChange, mirroring
// the reference daemon's settings.json hot-reload. Returns a nil stop func
// (and nil error) when path is empty, since there is nothing to watch.
func watchConfigFile(path string, onChange func()) (func(), error) {
	if path == "" {
		return nil, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}
