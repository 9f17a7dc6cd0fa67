// Package config loads runtime settings for the pairchat binaries from the
// environment (optionally seeded from a .env file).
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Server holds chatserver settings.
type Server struct {
	Name            string        `env:"APP_NAME" envDefault:"pairchat"`
	Env             string        `env:"APP_ENV" envDefault:"development"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ListenAddr      string        `env:"LISTEN_ADDR" envDefault:"0.0.0.0:3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`

	Lobby Lobby
	Redis Redis
	NATS  NATS
	Limit Limit
}

// Lobby groups the room and idle-cleanup tunables.
type Lobby struct {
	CleanupInterval time.Duration `env:"CLEANUP_POLL_FREQUENCY" envDefault:"5s"`
	MaxMessages     int           `env:"MAX_MESSAGES" envDefault:"5"`
	MaxIdleOutside  time.Duration `env:"MAX_IDLE_OUTSIDE" envDefault:"20s"`
	MaxIdleInside   time.Duration `env:"MAX_IDLE_INSIDE" envDefault:"300s"`
}

// Redis is optional; an empty Addr disables the presence mirror and the
// shared rate limiter.
type Redis struct {
	Addr string `env:"REDIS_ADDR"`
	DB   int    `env:"REDIS_DB" envDefault:"0"`
}

// NATS is optional; an empty URL disables room event publishing.
type NATS struct {
	URL  string `env:"NATS_URL"`
	Name string `env:"NATS_CLIENT_NAME" envDefault:"pairchat"`
}

// Limit caps POST / per user.
type Limit struct {
	Messages int           `env:"SEND_LIMIT" envDefault:"5"`
	Window   time.Duration `env:"SEND_WINDOW" envDefault:"10s"`
}

// Probe holds settings for the probe CLI.
type Probe struct {
	BaseURL string        `env:"PROBE_BASE_URL" envDefault:"http://localhost:3000"`
	Payload string        `env:"PROBE_PAYLOAD" envDefault:"hola"`
	Timeout time.Duration `env:"PROBE_TIMEOUT" envDefault:"0s"`
}

// Watch holds settings for roomwatch.
type Watch struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	NATSURL  string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	Subject  string `env:"WATCH_SUBJECT" envDefault:"room.>"`

	// MetricsAddr serves /metrics when set.
	MetricsAddr string `env:"WATCH_METRICS_ADDR"`
}

// LoadServer parses the environment into a Server config.
func LoadServer() (*Server, error) {
	cfg := &Server{}
	if err := load(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadProbe parses the environment into a Probe config.
func LoadProbe() (*Probe, error) {
	cfg := &Probe{}
	if err := load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWatch parses the environment into a Watch config.
func LoadWatch() (*Watch, error) {
	cfg := &Watch{}
	if err := load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the lobby cannot run with.
func (s *Server) Validate() error {
	if s.Lobby.MaxMessages < 1 {
		return fmt.Errorf("config: MAX_MESSAGES must be >= 1, got %d", s.Lobby.MaxMessages)
	}
	if s.Lobby.CleanupInterval <= 0 {
		return fmt.Errorf("config: CLEANUP_POLL_FREQUENCY must be positive, got %s", s.Lobby.CleanupInterval)
	}
	if s.Lobby.MaxIdleInside < s.Lobby.MaxIdleOutside {
		return fmt.Errorf("config: MAX_IDLE_INSIDE (%s) must not be shorter than MAX_IDLE_OUTSIDE (%s)",
			s.Lobby.MaxIdleInside, s.Lobby.MaxIdleOutside)
	}
	if s.Limit.Messages < 1 || s.Limit.Window <= 0 {
		return fmt.Errorf("config: SEND_LIMIT/SEND_WINDOW must be positive")
	}
	return nil
}

func load(cfg interface{}) error {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}
