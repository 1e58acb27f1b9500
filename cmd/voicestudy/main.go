// voicestudy serves the research-study conversation page: it issues
// ElevenLabs conversation tokens, runs the participant's session and
// redirects to the survey once the minimum duration is met.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dimiro1/banner"

	"github.com/teslashibe/go-voicestudy/internal/config"
	"github.com/teslashibe/go-voicestudy/internal/log"
	"github.com/teslashibe/go-voicestudy/pkg/audioio"
	"github.com/teslashibe/go-voicestudy/pkg/conversation"
	"github.com/teslashibe/go-voicestudy/pkg/hub"
	"github.com/teslashibe/go-voicestudy/pkg/session"
	"github.com/teslashibe/go-voicestudy/pkg/token"
	"github.com/teslashibe/go-voicestudy/pkg/web"
)

const version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to a config file (yaml, json or toml)")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	noBanner := flag.Bool("no-banner", false, "Skip the startup banner")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := log.Init(cfg.LogLevel)

	if !*noBanner {
		printBanner()
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if missing := cfg.MissingSecrets(); len(missing) > 0 {
		logger.Warn("missing credentials; token requests will fail", "missing", strings.Join(missing, ", "))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("voicestudy stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	issuer := token.NewIssuer(token.Config{
		AgentID:            cfg.AgentID,
		APIKey:             cfg.APIKey,
		BaseURL:            cfg.ElevenLabsBaseURL,
		AllowAgentOverride: cfg.AllowAgentOverride,
	}, token.WithLogger(log.Component("token")))

	audioCfg := audioio.DefaultConfig()
	audioCfg.Backend = audioio.Backend(cfg.Audio.Backend)
	audioCfg.SampleRate = cfg.Audio.SampleRate
	audioCfg.Device = cfg.Audio.Device
	audioCfg.InputFormat = cfg.Audio.InputFormat
	audioCfg.Command = cfg.Audio.Command
	if err := audioCfg.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	logger.Info("audio backends", "available", audioio.AvailableBackends(audioCfg), "selected", audioCfg.Backend)
	mic := audioio.NewMicrophone(audioCfg, log.Component("audioio"))

	wsURL, err := conversationURL(cfg.ElevenLabsBaseURL)
	if err != nil {
		return err
	}
	client := conversation.NewElevenLabs(
		conversation.WithBaseURL(wsURL),
		conversation.WithAgentID(cfg.AgentID),
		conversation.WithAPIKey(cfg.APIKey),
		conversation.WithLogger(log.Component("conversation")),
	)

	status := hub.New("status", log.Component("hub"))
	broadcaster := web.NewBroadcaster(status, log.Component("web"))

	policy := session.DefaultPolicy(cfg.SurveyURL)
	policy.MinDuration = cfg.MinDuration
	policy.RedirectDelay = cfg.RedirectDelay

	tokens := tokenSource(cfg, issuer)
	if cfg.TokenEndpoint != "" {
		logger.Info("signed urls from remote server", "endpoint", cfg.TokenEndpoint)
	}

	controller := session.New(session.Config{
		Microphone:     mic,
		Tokens:         tokens,
		Client:         client,
		Policy:         policy,
		ConnectionType: cfg.ConnectionType,
		CloseTimeout:   cfg.CloseTimeout,
		Observer:       broadcaster,
		Navigator:      broadcaster,
		Logger:         log.Component("session"),
	})

	server := web.NewServer(web.Options{
		Tokens:    issuer,
		Sessions:  controller,
		Status:    status,
		StaticDir: cfg.StaticDir,
		Logger:    logger,
	})

	go status.Run(ctx)
	go controller.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(cfg.Addr())
	}()

	logger.Info("voicestudy ready",
		"addr", cfg.Addr(),
		"agent_override", cfg.AllowAgentOverride,
		"min_duration", cfg.MinDuration,
		"connection_type", cfg.ConnectionType,
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	controller.Close()
	select {
	case <-controller.Done():
	case <-shutdownCtx.Done():
		logger.Warn("session teardown timed out")
	}

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// conversationURL maps the API host to the conversation websocket endpoint.
func conversationURL(apiBase string) (string, error) {
	if apiBase == "" {
		return conversation.DefaultWebSocketURL, nil
	}
	u, err := url.Parse(apiBase)
	if err != nil {
		return "", fmt.Errorf("elevenlabs_base_url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/convai/conversation"
	return u.String(), nil
}

func printBanner() {
	tpl := "{{ .Title \"voicestudy\" \"\" 0 }}\nVersion: " + version + "\n{{ .Now \"Monday, 2 Jan 2006\" }}\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}

// tokenSource picks where the controller gets signed URLs: the local
// issuer, or another voicestudy server when token_endpoint is set.
func tokenSource(cfg config.Config, issuer *token.Issuer) session.TokenSource {
	if cfg.TokenEndpoint != "" {
		return token.NewHTTPSource(cfg.TokenEndpoint, "")
	}
	return token.NewSignedURLSource(issuer)
}
