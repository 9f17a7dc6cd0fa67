// Command roomwatch follows room events on NATS and flags messages that look
// like spam. It only observes; delivery is never blocked.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/whisper/pairchat/internal/config"
	"github.com/whisper/pairchat/internal/logging"
	"github.com/whisper/pairchat/internal/matching"
	"github.com/whisper/pairchat/internal/messaging"
	"github.com/whisper/pairchat/internal/metrics"
	"github.com/whisper/pairchat/internal/moderation"
)

func main() {
	cfg, err := config.LoadWatch()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.New("roomwatch", cfg.Env, cfg.LogLevel)

	natsCfg := messaging.DefaultConfig()
	natsCfg.URL = cfg.NATSURL
	natsCfg.Name = "pairchat-roomwatch"
	nc, err := messaging.Connect(natsCfg, logging.Component(logger, "nats"))
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to NATS")
	}

	if err := nc.Subscribe(cfg.Subject, func(subject string, e matching.Event) {
		handleEvent(logger, subject, e)
	}); err != nil {
		logger.Fatal().Err(err).Str("subject", cfg.Subject).Msg("subscribe")
	}
	logger.Info().Str("nats_url", cfg.NATSURL).Str("subject", cfg.Subject).Msg("roomwatch running")

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics listener stopped")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info().Msg("shutting down")
	if err := nc.Unsubscribe(cfg.Subject); err != nil {
		logger.Warn().Err(err).Str("subject", cfg.Subject).Msg("unsubscribe")
	}
	nc.Close()
}

// handleEvent logs room lifecycle events and scans message text.
func handleEvent(logger zerolog.Logger, subject string, e matching.Event) {
	room := messaging.RoomID(subject)
	if e.Kind != matching.EventMessage {
		logger.Debug().Str("room", room).Str("event", string(e.Kind)).Strs("members", e.Members).Msg("room event")
		return
	}

	v := moderation.Scan(e.Text)
	if !v.Flagged {
		logger.Debug().Str("room", room).Str("user", e.UserID).Msg("clean message")
		return
	}
	metrics.MessagesTotal.WithLabelValues(metrics.ResultFlagged).Inc()
	logger.Warn().
		Str("room", room).
		Str("user", e.UserID).
		Str("reason", v.Reason).
		Str("term", v.Term).
		Msg("flagged message")
}
