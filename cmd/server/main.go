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
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/turntable/internal/api/connect"
	"github.com/osa030/turntable/internal/app/matcher"
	"github.com/osa030/turntable/internal/app/persona"
	"github.com/osa030/turntable/internal/app/playback"
	"github.com/osa030/turntable/internal/app/session"
	"github.com/osa030/turntable/internal/app/validate"
	"github.com/osa030/turntable/internal/domain/track"
	"github.com/osa030/turntable/internal/infra/ai"
	"github.com/osa030/turntable/internal/infra/config"
	"github.com/osa030/turntable/internal/infra/lastfm"
	"github.com/osa030/turntable/internal/infra/logger"
	"github.com/osa030/turntable/internal/infra/metrics"
	"github.com/osa030/turntable/internal/infra/spotify"
)

var (
	app        = kingpin.New("turntable-server", "turntable human/AI DJ session server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-validators command
	listValidatorsCmd = app.Command("list-validators", "List available validators and exit")

	// list-personas command
	listPersonasCmd = app.Command("list-personas", "List configured personas and exit")
)

func init() {
	// start command (default)
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listValidatorsCmd.FullCommand() {
		printValidators()
		return
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	closer, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closer.Close()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == listPersonasCmd.FullCommand() {
		printPersonas(cfg)
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		closer.Close()
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	spotifyClient, err := spotify.New(ctx, spotify.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		RefreshToken: cfg.Spotify.RefreshToken,
		Market:       cfg.Spotify.Market,
		DeviceID:     cfg.Spotify.DeviceID,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create Spotify client")
	}

	aiClient, err := ai.New(ai.Config{
		BaseURL:           cfg.AI.BaseURL,
		APIKey:            cfg.AI.APIKey,
		Model:             cfg.AI.Model,
		Temperature:       cfg.AI.Temperature,
		RequestsPerMinute: cfg.AI.RequestsPerMinute,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create AI client")
	}

	var lastfmClient *lastfm.Client
	if cfg.Lastfm.APIKey != "" {
		lastfmClient, err = lastfm.New(lastfm.Config{
			APIKey:   cfg.Lastfm.APIKey,
			CacheTTL: cfg.LastfmCacheTTL(),
		})
		if err != nil {
			return errors.Wrap(err, "failed to create Last.fm client")
		}
	} else {
		zlog.Info().Msg("Last.fm API key not configured, suggestions and tag checks are off")
	}

	personas, err := newPersonaProvider(cfg)
	if err != nil {
		return err
	}

	// The history source is bound once the manager exists
	history := &historyRef{}
	chain, err := buildValidators(cfg, aiClient, lastfmClient, history)
	if err != nil {
		return errors.Wrap(err, "invalid validator config")
	}

	opts := session.Options{
		Playback: playback.Config{
			PollInterval:       cfg.PollInterval(),
			PrebufferThreshold: cfg.Playback.PrebufferThreshold,
			EndThreshold:       cfg.Playback.EndThreshold,
		},
		Matcher: matcher.New(matcher.Options{
			FirstPass:     cfg.Matcher.FirstPass,
			MaxCandidates: cfg.Matcher.MaxCandidates,
		}),
		SearchLimit: cfg.Spotify.SearchLimit,
	}
	if chain.Len() > 0 {
		opts.Validator = chain
	}
	if lastfmClient != nil && !cfg.Lastfm.NoSuggestions {
		opts.Inspiration = lastfmClient
	}

	sessionMgr := session.NewManager(spotifyClient, aiClient, personas, opts)
	history.source = sessionMgr

	// Create RPC service
	sessionService := apiconnect.NewSessionService(sessionMgr, spotifyClient)
	path, handler := apiconnect.NewSessionServiceHandler(
		sessionService,
		connect.WithInterceptors(apiconnect.NewTokenInterceptor(cfg.Control.Token)),
	)

	mux := http.NewServeMux()
	mux.Handle(path, handler)
	mux.Handle(cfg.Server.MetricsPath, metrics.Handler())

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := sessionMgr.Start(ctx); err != nil {
		sessionMgr.Close()
		return errors.Wrap(err, "failed to start session")
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	// Give the server a moment to start listening
	time.Sleep(100 * time.Millisecond)
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	// Wait for shutdown signal, session end, or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case <-sessionMgr.Done():
		zlog.Info().Msg("Session ended, shutting down...")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close session manager first to terminate active streams
	sessionMgr.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}
	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")
	return runErr
}

// historyRef forwards to the session once it has been created.
type historyRef struct {
	source validate.HistorySource
}

func (h *historyRef) RecentTracks(n int) []track.Track {
	if h.source == nil {
		return nil
	}
	return h.source.RecentTracks(n)
}

func newPersonaProvider(cfg *config.Config) (*persona.Provider, error) {
	list := make([]persona.Persona, 0, len(cfg.Personas.List))
	for _, p := range cfg.Personas.List {
		list = append(list, persona.Persona{
			Name:        p.Name,
			Style:       p.Style,
			BlockedTags: p.BlockedTags,
		})
	}
	provider, err := persona.NewProvider(list, cfg.ExclusionTTL())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create persona provider")
	}
	if cfg.Personas.Active != "" {
		if _, err := provider.SetActive(cfg.Personas.Active); err != nil {
			return nil, err
		}
	}
	return provider, nil
}

func buildValidators(cfg *config.Config, aiClient *ai.Client, lastfmClient *lastfm.Client, history validate.HistorySource) (*validate.Chain, error) {
	settings := make(map[string]validate.Settings, len(cfg.Validators))
	for name, v := range cfg.Validators {
		settings[name] = validate.Settings{Enabled: v.Enabled, Settings: v.Settings}
	}

	deps := validate.Deps{
		Judge:   aiClient,
		History: history,
	}
	// A nil *lastfm.Client must not become a non-nil interface
	if lastfmClient != nil {
		deps.Tags = lastfmClient
	}

	chain, err := validate.Build(settings, deps)
	if err != nil {
		return nil, err
	}
	for _, v := range chain.Validators() {
		zlog.Info().Msgf("Validator enabled: %s", v.Name())
	}
	return chain, nil
}

// printValidators prints available validators.
func printValidators() {
	fmt.Println("Available Validators:")
	for _, v := range []validate.Validator{
		validate.NewArtistRepeatValidator(nil),
		validate.NewDurationLimitValidator(),
		validate.NewLastfmTagsValidator(nil),
		validate.NewLLMValidator(nil),
	} {
		fmt.Printf("  %-20s - %s\n", v.Name(), v.Description())
	}
}

// printPersonas prints configured personas.
func printPersonas(cfg *config.Config) {
	fmt.Println("Configured Personas:")
	for _, p := range cfg.Personas.List {
		marker := " "
		if p.Name == cfg.Personas.Active || (cfg.Personas.Active == "" && p.Name == cfg.Personas.List[0].Name) {
			marker = "*"
		}
		fmt.Printf("%s %-20s - %s\n", marker, p.Name, p.Style)
		if len(p.BlockedTags) > 0 {
			fmt.Printf("    blocked tags: %s\n", strings.Join(p.BlockedTags, ", "))
		}
	}
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
