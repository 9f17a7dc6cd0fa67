// Command chatserver serves the anonymous two-person chat on LISTEN_ADDR.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/whisper/pairchat/internal/config"
	"github.com/whisper/pairchat/internal/logging"
	"github.com/whisper/pairchat/internal/matching"
	"github.com/whisper/pairchat/internal/messaging"
	"github.com/whisper/pairchat/internal/metrics"
	"github.com/whisper/pairchat/internal/ratelimit"
	"github.com/whisper/pairchat/internal/session"
	"github.com/whisper/pairchat/internal/web"
	"github.com/whisper/pairchat/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}

	// Flags override the environment.
	if err := parseFlags(flag.CommandLine, os.Args[1:], cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(cfg.Name, cfg.Env, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lobby := matching.NewLobby(matching.Config{
		HistorySize:    cfg.Lobby.MaxMessages,
		MaxIdleOutside: cfg.Lobby.MaxIdleOutside,
		MaxIdleInside:  cfg.Lobby.MaxIdleInside,
	})
	lobby.AddObserver(metrics.Observer{})
	if err := metrics.RegisterLobby(prometheus.DefaultRegisterer, lobby.Stats); err != nil {
		return fmt.Errorf("register lobby metrics: %w", err)
	}

	var (
		limiter  ratelimit.Limiter = ratelimit.NewMemoryLimiter()
		presence *session.Store
	)
	if cfg.Redis.Addr != "" {
		client, err := session.Dial(ctx, cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			return err
		}
		hostname, _ := os.Hostname()
		store := session.NewStore(client, hostname, logging.Component(logger, "session"))
		defer store.Close()
		lobby.AddObserver(store)
		presence = store
		limiter = ratelimit.NewRedisLimiter(client, logging.Component(logger, "ratelimit"))
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("redis presence and rate limiting enabled")
	}

	if cfg.NATS.URL != "" {
		natsCfg := messaging.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.Name = cfg.NATS.Name
		nc, err := messaging.Connect(natsCfg, logging.Component(logger, "nats"))
		if err != nil {
			return err
		}
		defer nc.Close()
		lobby.AddObserver(nc)
	}

	rule := ratelimit.SendRule(cfg.Limit.Messages, cfg.Limit.Window)
	feedLogger := logging.Component(logger, "feed")
	feed := ws.NewFeed(ws.DefaultFeedConfig(), lobby, limiter, rule, feedLogger)
	lobby.AddObserver(feed)

	opts := web.Options{
		AppName:      cfg.Name,
		Limiter:      limiter,
		Rule:         rule,
		Feed:         feed,
		Metrics:      metrics.Handler(),
		OnlineWindow: cfg.Lobby.MaxIdleInside,
	}
	if presence != nil {
		opts.Presence = presence
	}
	srv := web.NewServer(lobby, opts, logging.Component(logger, "http"))

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Routes(),
	}

	go matching.StartCleanup(logging.IntoContext(ctx, logging.Component(logger, "cleanup")), lobby, cfg.Lobby.CleanupInterval)
	go ws.StartHeartbeat(ctx, feed, ws.DefaultHeartbeatConfig())
	if mem, ok := limiter.(*ratelimit.MemoryLimiter); ok {
		go pruneLimiter(ctx, mem, cfg.Limit.Window)
	}
	if presence != nil {
		go prunePresence(ctx, presence, cfg.Lobby.MaxIdleInside, logging.Component(logger, "session"))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("listen", cfg.ListenAddr).
			Int("max_messages", cfg.Lobby.MaxMessages).
			Dur("max_idle_outside", cfg.Lobby.MaxIdleOutside).
			Dur("max_idle_inside", cfg.Lobby.MaxIdleInside).
			Dur("cleanup_every", cfg.Lobby.CleanupInterval).
			Msg("chat server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	feed.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	return nil
}

// pruneLimiter drops expired in-memory windows so idle users do not pile up.
func pruneLimiter(ctx context.Context, l *ratelimit.MemoryLimiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}

// prunePresence trims the shared online set of users nobody has seen within
// window. Hash keys expire on their own.
func prunePresence(ctx context.Context, store *session.Store, window time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			n, err := store.Prune(pctx, window)
			cancel()
			if err != nil {
				logger.Warn().Err(err).Msg("prune online set")
				continue
			}
			if n > 0 {
				logger.Debug().Int64("removed", n).Msg("pruned online set")
			}
		}
	}
}
