package ws

import (
	"context"
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // grace after a missed ping (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// Deadline is how long a connection may stay silent.
func (c HeartbeatConfig) Deadline() time.Duration {
	return c.Interval + c.Timeout
}

// StartHeartbeat pings every connection each Interval and drops those that
// have been silent longer than Interval + Timeout. It blocks until ctx is done.
func StartHeartbeat(ctx context.Context, feed *Feed, config HeartbeatConfig) {
	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkConnections(feed, config, time.Now())
		}
	}
}

// checkConnections evicts stale connections and pings the rest. Browsers
// answer ping frames with pong automatically.
func checkConnections(feed *Feed, config HeartbeatConfig, now time.Time) {
	deadline := config.Deadline()

	for _, c := range feed.Connections().All() {
		if silent := now.Sub(c.LastSeen()); silent > deadline {
			feed.logger.Info().
				Str("conn", c.ID).
				Dur("silent", silent.Round(time.Second)).
				Msg("heartbeat timeout")
			feed.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			feed.logger.Debug().Err(err).Str("conn", c.ID).Msg("heartbeat ping failed")
			feed.RemoveConnection(c)
		}
	}
}
