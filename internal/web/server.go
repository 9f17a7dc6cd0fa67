// Package web is the browser-facing HTTP surface of the chat server.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/whisper/pairchat/internal/chat"
	"github.com/whisper/pairchat/internal/matching"
	"github.com/whisper/pairchat/internal/metrics"
	"github.com/whisper/pairchat/internal/ratelimit"
	"github.com/whisper/pairchat/internal/ws"
)

// CookieName identifies the visitor.
const CookieName = "uid"

// maxFormBytes caps POST bodies; the form carries one message.
const maxFormBytes = chat.MaxMessageBytes * 4

// Presence counts users seen across every instance sharing one store.
type Presence interface {
	Online(ctx context.Context, window time.Duration) (int64, error)
}

// Options wires optional collaborators. Zero values disable them.
type Options struct {
	AppName string
	Limiter ratelimit.Limiter
	Rule    ratelimit.Rule
	Feed    *ws.Feed
	Metrics http.Handler

	Presence     Presence
	OnlineWindow time.Duration // defaults to 5m
}

// Server holds the handlers.
type Server struct {
	lobby   *matching.Lobby
	opts    Options
	logger  zerolog.Logger
	pages   *template.Template
	started time.Time
}

// NewServer creates the handler set for lobby.
func NewServer(lobby *matching.Lobby, opts Options, logger zerolog.Logger) *Server {
	if opts.AppName == "" {
		opts.AppName = "pairchat"
	}
	if opts.OnlineWindow <= 0 {
		opts.OnlineWindow = 5 * time.Minute
	}
	return &Server{
		lobby:   lobby,
		opts:    opts,
		logger:  logger,
		pages:   parseTemplates(),
		started: time.Now(),
	}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
		metrics.RequestDuration.WithLabelValues(routeLabel(r)).Observe(duration.Seconds())
	}))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Post("/", s.handleSend)
	r.Get("/messages", s.handleMessages)
	r.Get("/exit", s.handleExit)
	r.Get("/dump", s.handleDump)
	r.Get("/dump/room", s.handleRoomDump)
	r.Get("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}
	if s.opts.Feed != nil {
		r.Get("/ws", s.handleFeed)
	}
	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page := s.lobby.Visit(userID(r))
	if page.NewUser {
		http.SetCookie(w, &http.Cookie{
			Name:     CookieName,
			Value:    page.User.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		hlog.FromRequest(r).Debug().Str("user", page.User.ID).Msg("new user")
	}

	var buf bytes.Buffer
	err := s.pages.ExecuteTemplate(&buf, "index.html", indexData{
		App:      s.opts.AppName,
		UserID:   page.User.ID,
		State:    string(page.State),
		Online:   page.Online,
		MaxChars: chat.MaxTextChars,
	})
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("render index")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// handleSend always redirects back to the index; a rejected message is only
// logged.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	defer http.Redirect(w, r, "/", http.StatusSeeOther)

	uid := userID(r)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFormBytes))
	if err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("read form")
		metrics.MessagesTotal.WithLabelValues(metrics.ResultRejected).Inc()
		return
	}

	if s.opts.Limiter != nil && uid != "" {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		allowed, _ := s.opts.Limiter.Allow(ctx, uid, s.opts.Rule)
		cancel()
		if !allowed {
			hlog.FromRequest(r).Info().Str("user", uid).Msg("send rate limited")
			metrics.MessagesTotal.WithLabelValues(metrics.ResultRateLimited).Inc()
			return
		}
	}

	if err := s.lobby.Send(uid, string(body)); err != nil {
		level := zerolog.InfoLevel
		if errors.Is(err, matching.ErrUnknownUser) || errors.Is(err, matching.ErrNoRoom) {
			level = zerolog.DebugLevel
		}
		hlog.FromRequest(r).WithLevel(level).Err(err).Str("user", uid).Msg("message rejected")
		metrics.MessagesTotal.WithLabelValues(metrics.ResultRejected).Inc()
		return
	}
	metrics.MessagesTotal.WithLabelValues(metrics.ResultSent).Inc()
}

// handleMessages renders the room history. No room means an empty body.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	views, ok := s.lobby.Messages(userID(r))
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := s.pages.ExecuteTemplate(&buf, "messages.html", views); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("render messages")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if err := s.lobby.Exit(uid); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Str("user", uid).Msg("exit ignored")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleDump(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, s.lobby.Dump())
}

func (s *Server) handleRoomDump(w http.ResponseWriter, r *http.Request) {
	dump, ok := s.lobby.RoomDump(userID(r))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, dump)
}

type healthResponse struct {
	Status      string `json:"status"`
	Users       int    `json:"users"`
	Rooms       int    `json:"rooms"`
	Waiting     int    `json:"waiting"`
	Connections int    `json:"connections"`
	Online      int64  `json:"online,omitempty"` // across instances
	Uptime      string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.lobby.Stats()
	resp := healthResponse{
		Status:  "ok",
		Users:   stats.Users,
		Rooms:   stats.Rooms,
		Waiting: stats.Waiting,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
	if s.opts.Feed != nil {
		resp.Connections = s.opts.Feed.Connections().Count()
	}
	if s.opts.Presence != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		online, err := s.opts.Presence.Online(ctx, s.opts.OnlineWindow)
		cancel()
		if err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("presence online count")
			resp.Status = "degraded"
		} else {
			resp.Online = online
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		http.Error(w, "missing uid cookie", http.StatusUnauthorized)
		return
	}
	s.opts.Feed.Serve(w, r, uid)
}

// userID returns the uid cookie value, or "".
func userID(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
