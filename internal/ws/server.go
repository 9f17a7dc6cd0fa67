// Package ws serves the live chat feed: a WebSocket per browser tab that
// receives the room history whenever it changes, so pages need not poll
// /messages. Clients may also send and exit over the socket.
package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/whisper/pairchat/internal/chat"
	"github.com/whisper/pairchat/internal/matching"
	"github.com/whisper/pairchat/internal/metrics"
	"github.com/whisper/pairchat/internal/protocol"
	"github.com/whisper/pairchat/internal/ratelimit"
)

// Lobby is the part of matching.Lobby the feed uses.
type Lobby interface {
	Lookup(uid string) (matching.Page, bool)
	Messages(uid string) ([]chat.View, bool)
	Send(uid, body string) error
	Exit(uid string) error
}

// FeedConfig holds tunables for the feed.
type FeedConfig struct {
	MaxConnections int           // hard cap on total connections
	MaxFrameBytes  int64         // larger client frames close the socket
	WriteTimeout   time.Duration // per-frame write deadline
	Heartbeat      HeartbeatConfig
}

// DefaultFeedConfig returns production defaults.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		MaxConnections: 10000,
		MaxFrameBytes:  8 << 10,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Feed upgrades requests and pushes room updates. It implements
// matching.Observer.
type Feed struct {
	config     FeedConfig
	lobby      Lobby
	limiter    ratelimit.Limiter
	rule       ratelimit.Rule
	conns      *ConnectionManager
	dispatcher *MessageDispatcher
	logger     zerolog.Logger
}

// NewFeed creates a feed. limiter may be nil to disable send throttling.
func NewFeed(config FeedConfig, lobby Lobby, limiter ratelimit.Limiter, rule ratelimit.Rule, logger zerolog.Logger) *Feed {
	f := &Feed{
		config:  config,
		lobby:   lobby,
		limiter: limiter,
		rule:    rule,
		conns:   NewConnectionManager(),
		logger:  logger,
	}
	f.dispatcher = NewMessageDispatcher(logger)
	f.dispatcher.Register(protocol.TypeMessage, f.handleChat)
	f.dispatcher.Register(protocol.TypeExit, f.handleExit)
	return f
}

// Connections exposes the registry (heartbeat, health).
func (f *Feed) Connections() *ConnectionManager {
	return f.conns
}

// Serve upgrades the request for uid, which the caller has already resolved
// from the cookie. It returns once the upgrade is done; the connection is
// served by its own goroutines.
func (f *Feed) Serve(w http.ResponseWriter, r *http.Request, uid string) {
	if _, ok := f.lobby.Lookup(uid); !ok {
		http.Error(w, "unknown user", http.StatusUnauthorized)
		return
	}
	if f.conns.Count() >= f.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		f.logger.Debug().Err(err).Msg("upgrade failed")
		return
	}

	c := newConnection(uuid.NewString(), uid, conn, time.Now())
	f.conns.Add(c)
	metrics.FeedConnections.Inc()
	f.logger.Debug().Str("conn", c.ID).Str("user", uid).Int("total", f.conns.Count()).Msg("feed connected")

	c.signal()
	go f.writeLoop(c)
	go f.readLoop(c)
}

// Observe signals the feeds of every user the event involves. It never calls
// into the lobby itself.
func (f *Feed) Observe(e matching.Event) {
	if e.Kind == matching.EventUserSeen {
		return
	}
	notified := make(map[string]bool, len(e.Members)+1)
	for _, uid := range append([]string{e.UserID}, e.Members...) {
		if uid == "" || notified[uid] {
			continue
		}
		notified[uid] = true
		for _, c := range f.conns.ForUser(uid) {
			c.signal()
		}
	}
}

// RemoveConnection unregisters and closes c. Safe to call more than once.
func (f *Feed) RemoveConnection(c *Connection) {
	if !f.conns.Remove(c.ID) {
		return
	}
	metrics.FeedConnections.Dec()
	f.logger.Debug().Str("conn", c.ID).Int("total", f.conns.Count()).Msg("feed closed")
}

// Shutdown closes every connection.
func (f *Feed) Shutdown() {
	for _, c := range f.conns.All() {
		_ = c.writeControl(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusGoingAway, "")))
		f.RemoveConnection(c)
	}
}

// writeLoop pushes state and history each time the connection is signalled.
func (f *Feed) writeLoop(c *Connection) {
	defer f.RemoveConnection(c)

	var lastState matching.State
	for {
		select {
		case <-c.done:
			return
		case <-c.notify:
		}

		page, ok := f.lobby.Lookup(c.UserID)
		if !ok {
			// The user was swept.
			return
		}
		if page.State != lastState {
			lastState = page.State
			if err := f.write(c, protocol.TypeState, protocol.StateMsg{State: string(page.State), Online: page.Online}); err != nil {
				return
			}
		}
		views, _ := f.lobby.Messages(c.UserID)
		if views == nil {
			views = []chat.View{}
		}
		if err := f.write(c, protocol.TypeMessages, protocol.MessagesMsg{Messages: views}); err != nil {
			return
		}
	}
}

func (f *Feed) write(c *Connection, msgType string, payload interface{}) error {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		f.logger.Error().Err(err).Str("type", msgType).Msg("build server message")
		return nil
	}
	if f.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return c.WriteMessage(data)
}

// readLoop reads frames until the client goes away. Control frames are
// handled inline; data frames go to the dispatcher.
func (f *Feed) readLoop(c *Connection) {
	defer f.RemoveConnection(c)

	for {
		_ = c.Conn.SetReadDeadline(time.Now().Add(f.config.Heartbeat.Deadline()))

		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			if !isClosed(err) {
				f.logger.Debug().Err(err).Str("conn", c.ID).Msg("read failed")
			}
			return
		}
		c.touch(time.Now())

		if header.Length > f.config.MaxFrameBytes {
			_ = c.writeControl(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusMessageTooBig, "")))
			return
		}
		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				return
			}
		}

		if header.OpCode.IsControl() {
			switch header.OpCode {
			case ws.OpClose:
				_ = c.writeControl(ws.NewCloseFrame(nil))
				return
			case ws.OpPing:
				if err := c.writeControl(ws.NewPongFrame(data)); err != nil {
					return
				}
			}
			continue
		}

		if len(data) == 0 {
			continue
		}
		f.dispatcher.Dispatch(c, data)
	}
}

func (f *Feed) handleChat(c *Connection, msg interface{}) {
	m := msg.(protocol.ChatMsg)

	if f.limiter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		allowed, _ := f.limiter.Allow(ctx, c.UserID, f.rule)
		if !allowed {
			metrics.MessagesTotal.WithLabelValues(metrics.ResultRateLimited).Inc()
			wait, err := f.limiter.RetryAfter(ctx, c.UserID, f.rule)
			if err != nil || wait <= 0 {
				wait = f.rule.Window
			}
			f.dispatcher.send(c, protocol.TypeRateLimited, protocol.RateLimitedMsg{RetryAfter: retrySeconds(wait)})
			return
		}
	}

	body := url.Values{"message": {m.Text}}.Encode()
	if err := f.lobby.Send(c.UserID, body); err != nil {
		metrics.MessagesTotal.WithLabelValues(metrics.ResultRejected).Inc()
		f.dispatcher.sendError(c, errorCode(err), err.Error())
		return
	}
	metrics.MessagesTotal.WithLabelValues(metrics.ResultSent).Inc()
}

func (f *Feed) handleExit(c *Connection, _ interface{}) {
	if err := f.lobby.Exit(c.UserID); err != nil {
		f.dispatcher.sendError(c, errorCode(err), err.Error())
	}
}

// retrySeconds rounds wait up to whole seconds.
func retrySeconds(wait time.Duration) int {
	return int((wait + time.Second - 1) / time.Second)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, matching.ErrNoRoom), errors.Is(err, matching.ErrUnknownUser):
		return protocol.CodeNoRoom
	case errors.Is(err, matching.ErrRoomClosed):
		return protocol.CodeRoomClosed
	default:
		return protocol.CodeInvalid
	}
}

func isClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var closed wsutil.ClosedError
	return errors.As(err, &closed)
}
