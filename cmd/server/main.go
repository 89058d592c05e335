// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/djvote/internal/api/connect"
	"github.com/osa030/djvote/internal/api/ws"
	"github.com/osa030/djvote/internal/app/candidate"
	"github.com/osa030/djvote/internal/app/device"
	"github.com/osa030/djvote/internal/app/filter"
	"github.com/osa030/djvote/internal/app/session"
	"github.com/osa030/djvote/internal/app/tally"
	"github.com/osa030/djvote/internal/infra/config"
	"github.com/osa030/djvote/internal/infra/logger"
	"github.com/osa030/djvote/internal/infra/spotify"
)

var (
	app        = kingpin.New("djvote-server", "djvote collaborative DJ server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
	jsonLogs   = app.Flag("json-logs", "Write JSON log lines instead of console output").Bool()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
		JSON:   *jsonLogs,
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	closeLog, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	// Run server (defer ensures shutdown hook is called)
	err = run(cfg)
	_ = closeLog()
	if err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	spotifyClient, err := spotify.New(ctx, spotify.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		RefreshToken: cfg.Spotify.RefreshToken,
		Market:       cfg.Spotify.Market,
		MaxRetries:   cfg.Spotify.MaxRetries,
		RetryDelay:   time.Duration(cfg.Spotify.RetryDelayMs) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("failed to create Spotify client: %w", err)
	}

	filters, err := filter.NewChainFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid filter config: %w", err)
	}

	selector, err := candidate.NewSelectorFromConfig(cfg, spotifyClient, filters)
	if err != nil {
		return fmt.Errorf("invalid candidate config: %w", err)
	}

	store, err := tally.New(ctx, cfg.Tally)
	if err != nil {
		return fmt.Errorf("failed to open tally store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			zlog.Warn().Err(err).Msg("Failed to close tally store")
		}
	}()
	go tally.RunPruner(ctx, store, cfg.Tally.PruneInterval(), cfg.Tally.Retention())

	player := device.New(spotifyClient, device.Config{
		DeviceName:         cfg.Playback.DeviceName,
		PollInterval:       cfg.Playback.PollInterval(),
		ActivationTimeout:  cfg.Playback.ActivationTimeout(),
		ActivationAttempts: cfg.Playback.ActivationAttempts,
		ActivationBackoff:  cfg.Playback.ActivationBackoff(),
		WatchdogStall:      cfg.Playback.WatchdogStall(),
		WatchdogMaxResumes: cfg.Playback.WatchdogMaxResumes,
		InitialVolume:      cfg.Playback.InitialVolume,
	}, time.Now)

	sessionMgr, err := session.NewManager(cfg, session.Deps{
		Catalog:  spotifyClient,
		Device:   player,
		Selector: selector,
		Store:    store,
	})
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(apiconnect.NewListenerServiceHandler(apiconnect.NewListenerService(sessionMgr)))
	mux.Handle(apiconnect.NewAdminServiceHandler(
		apiconnect.NewAdminService(sessionMgr),
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg)),
	))
	mux.Handle("/ws", ws.NewHandler(sessionMgr, cfg.Server.AllowedOrigins))

	serverAddr := cfg.Server.Addr
	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           withCORS(h2c.NewHandler(mux, &http2.Server{}), cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", serverAddr)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	<-serverStartedCh
	time.Sleep(100 * time.Millisecond)

	// Activation failure ends the session, which shuts the server down below.
	go func() {
		if err := sessionMgr.Start(ctx); err != nil {
			zlog.Error().Msgf("Failed to start session: %v", err)
		}
	}()

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := sessionMgr.Stop(stopCtx); err != nil {
			zlog.Error().Msgf("Failed to stop session: %v", err)
		}
		stopCancel()
	case <-sessionMgr.Done():
		zlog.Info().Msg("Session ended, shutting down...")
		if info := sessionMgr.Status().Session; info.Failure != "" {
			runErr = fmt.Errorf("session failed: %s", info.Failure)
		}
	case err := <-serverErrCh:
		runErr = fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Close session manager first to terminate active connections/streams
	sessionMgr.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return runErr
}

// withCORS allows browser clients from the configured origins to call the
// RPC endpoints.
func withCORS(next http.Handler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(origin, allowedOrigins) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Connect-Protocol-Version, Connect-Timeout-Ms, "+apiconnect.AdminTokenHeader)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	for name, factory := range filter.GetRegistered() {
		f := factory()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", name, f.Description(), codes)
	}
	fmt.Printf("  %-30s - %s\n", "market_filter", "Always on when spotify.market is set")
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
