package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"

	"github.com/lmdudester/clawd/internal/config"
	"github.com/lmdudester/clawd/internal/container"
	"github.com/lmdudester/clawd/internal/manager"
	"github.com/lmdudester/clawd/internal/notify"
	"github.com/lmdudester/clawd/internal/server"
	"github.com/lmdudester/clawd/internal/store"
	"github.com/lmdudester/clawd/internal/wsagent"
	"github.com/lmdudester/clawd/internal/wsclient"
)

func main() {
	if err := run(); err != nil {
		// zerolog isn't configured until after config load; slog covers
		// the earliest failures.
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	switch strings.ToLower(os.Getenv("CLAWD_LOG_LEVEL")) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if os.Getenv("CLAWD_LOG_FORMAT") == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx := context.Background()

	containers, err := container.New(cfg.Docker, cfg.Session, cfg.Server.InstanceID)
	if err != nil {
		return err
	}
	defer containers.Close()

	sessionStore := store.New(cfg.StorePath)

	var notifier manager.PushNotifier
	if cfg.Slack.Enabled {
		notifier = notify.NewSlackNotifier(slacklib.New(cfg.Slack.BotToken), cfg.Slack.Channel)
		log.Info().Str("channel", cfg.Slack.Channel).Msg("Slack push notifications enabled")
	} else {
		notifier = notify.LogNotifier{}
	}

	mgr := manager.New(cfg, containers, sessionStore, notifier)

	agentHub := wsagent.NewHub(mgr)
	clientHub := wsclient.NewHub(mgr, cfg.JWT.Secret, mgr)

	mgr.Subscribe(clientHub.OnSessionEvent)
	mgr.SetSubscriberCheck(clientHub.HasSubscribers)

	// Restore the snapshot and reconcile against the daemon before any
	// hub accepts a connection; restore events fire into the bus before
	// the first client can subscribe.
	if err := mgr.LoadAndReconcile(ctx); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := server.New(ctx, cfg, agentHub, clientHub)

	go func() {
		log.Info().Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).Str("instance", cfg.Server.InstanceID).Msg("starting master")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	// The debounce window may still hold unsaved mutations.
	if flushErr := mgr.FlushNow(); flushErr != nil {
		log.Error().Err(flushErr).Msg("final snapshot flush failed")
	}

	log.Info().Msg("stopped")
	return nil
}
