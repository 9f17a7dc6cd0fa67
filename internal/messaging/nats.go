// Package messaging publishes lobby events over NATS so that side services
// (roomwatch, dashboards) can follow rooms without touching the server.
package messaging

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/whisper/pairchat/internal/matching"
)

// NATS subject patterns.
const (
	SubjectRoom  = "room"       // + .<room_id>
	SubjectUser  = "lobby.user" // user presence events
	SubjectRooms = "room.>"     // every room subject
)

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "pairchat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Client wraps the NATS connection with helper methods for pub/sub.
type Client struct {
	conn   *nats.Conn
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Connect dials NATS and returns a ready client. It returns an error if the
// initial connection fails.
func Connect(cfg Config, logger zerolog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: nats connect: %w", err)
	}
	logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats connected")

	return &Client{conn: nc, logger: logger, subs: make(map[string]*nats.Subscription)}, nil
}

// RoomSubject returns the subject events for roomID are published on.
func RoomSubject(roomID string) string {
	return SubjectRoom + "." + roomID
}

// SubjectFor picks the subject for an event.
func SubjectFor(e matching.Event) string {
	switch e.Kind {
	case matching.EventUserSeen, matching.EventUserRemoved:
		return SubjectUser
	default:
		return RoomSubject(e.RoomID)
	}
}

// Publish sends data to the given subject.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Observe publishes e as JSON. It implements matching.Observer; publish
// failures are logged and dropped.
func (c *Client) Observe(e matching.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		c.logger.Error().Err(err).Str("event", string(e.Kind)).Msg("marshal event")
		return
	}
	if err := c.Publish(SubjectFor(e), data); err != nil {
		c.logger.Warn().Err(err).Str("event", string(e.Kind)).Msg("publish event")
	}
}

// Subscribe registers a handler for decoded events on subject and stores the
// subscription for later cleanup. Undecodable payloads are logged and skipped.
func (c *Client) Subscribe(subject string, handler func(subject string, e matching.Event)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		var e matching.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			c.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("bad event payload")
			return
		}
		handler(msg.Subject, e)
	})
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// Unsubscribe removes the subscription registered for subject.
func (c *Client) Unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("messaging: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("messaging: unsubscribe %s: %w", subject, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn().Err(err).Str("subject", subject).Msg("drain subscription")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.logger.Warn().Err(err).Msg("drain connection")
	}
}

// RoomID extracts the room id from a room subject, or "".
func RoomID(subject string) string {
	id, ok := strings.CutPrefix(subject, SubjectRoom+".")
	if !ok {
		return ""
	}
	return id
}
