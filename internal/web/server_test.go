package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/pairchat/internal/matching"
	"github.com/whisper/pairchat/internal/metrics"
	"github.com/whisper/pairchat/internal/ratelimit"
)

func newTestServer(t *testing.T, opts Options) (*matching.Lobby, *httptest.Server) {
	t.Helper()
	return newTestServerWithLobby(t, matching.NewLobby(matching.DefaultConfig()), opts)
}

func newTestServerWithLobby(t *testing.T, lobby *matching.Lobby, opts Options) (*matching.Lobby, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(NewServer(lobby, opts, testLogger()).Routes())
	t.Cleanup(srv.Close)
	return lobby, srv
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func get(t *testing.T, c *http.Client, url string) (*http.Response, string) {
	t.Helper()
	resp, err := c.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestIndexPairsVisitors(t *testing.T) {
	_, srv := newTestServer(t, Options{})
	a, b := newClient(t), newClient(t)

	resp, body := get(t, a, srv.URL)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Waiting")
	assert.NotContains(t, body, "Joined")

	_, body = get(t, b, srv.URL)
	assert.Contains(t, body, "Joined")
	assert.NotContains(t, body, "Waiting")

	// A's state moved on too.
	_, body = get(t, a, srv.URL)
	assert.Contains(t, body, "Joined")
}

func TestIndexSetsCookieOnce(t *testing.T) {
	_, srv := newTestServer(t, Options{})

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.AddCookie(cookies[0])
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Cookies(), "known users get no new cookie")
}

func TestSendRedirectsAndStoresMessage(t *testing.T) {
	_, srv := newTestServer(t, Options{})
	a, b := newClient(t), newClient(t)
	get(t, a, srv.URL)
	get(t, b, srv.URL)

	a.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := a.Post(srv.URL, "application/x-www-form-urlencoded", strings.NewReader("message=hola"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	_, body := get(t, b, srv.URL+"/messages")
	assert.Contains(t, body, `class="them"`)
	assert.Contains(t, body, "hola")
	assert.Contains(t, body, "Chat initiated")
	assert.Less(t, strings.Index(body, "hola"), strings.Index(body, "Chat initiated"), "newest first")

	_, body = get(t, a, srv.URL+"/messages")
	assert.Contains(t, body, `class="you seen"`, "B read it")
}

func TestRawBodyIsIgnored(t *testing.T) {
	lobby, srv := newTestServer(t, Options{})
	a := newClient(t)
	get(t, a, srv.URL)

	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("hola"))
	require.NoError(t, err)
	resp, err := a.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "redirect followed")
	assert.Contains(t, string(body), "Waiting")

	_, msgs := get(t, a, srv.URL+"/messages")
	assert.NotContains(t, msgs, "hola")
	assert.Equal(t, 1, lobby.Stats().Users)
}

func TestMessagesWithoutRoomIsEmpty(t *testing.T) {
	_, srv := newTestServer(t, Options{})

	resp, body := get(t, newClient(t), srv.URL+"/messages")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
}

func TestExitFlow(t *testing.T) {
	lobby, srv := newTestServer(t, Options{})
	a, b := newClient(t), newClient(t)
	get(t, a, srv.URL)
	get(t, b, srv.URL)

	_, body := get(t, a, srv.URL+"/exit")
	// A got redirected to the index and opened a new waiting room.
	assert.Contains(t, body, "Waiting")

	_, body = get(t, b, srv.URL)
	assert.Contains(t, body, "left the room")
	assert.NotContains(t, body, `name="message"`)

	_, msgs := get(t, b, srv.URL+"/messages")
	assert.Contains(t, msgs, "User left the room")

	get(t, b, srv.URL+"/exit")
	assert.Equal(t, 1, lobby.Stats().Rooms, "only A's new room remains")
}

func TestRateLimitedSendIsDropped(t *testing.T) {
	_, srv := newTestServer(t, Options{
		Limiter: ratelimit.NewMemoryLimiter(),
		Rule:    ratelimit.SendRule(1, time.Minute),
	})
	a := newClient(t)
	get(t, a, srv.URL)

	for _, text := range []string{"one", "two"} {
		resp, err := a.Post(srv.URL, "application/x-www-form-urlencoded", strings.NewReader("message="+text))
		require.NoError(t, err)
		resp.Body.Close()
	}

	_, body := get(t, a, srv.URL+"/messages")
	assert.Contains(t, body, "one")
	assert.NotContains(t, body, "two")
}

func TestDumpAndHealth(t *testing.T) {
	lobby, srv := newTestServer(t, Options{})
	a := newClient(t)
	get(t, a, srv.URL)

	_, dump := get(t, a, srv.URL+"/dump")
	assert.Equal(t, lobby.Dump(), dump)
	assert.Contains(t, dump, " -> [")

	_, roomDump := get(t, a, srv.URL+"/dump/room")
	assert.Contains(t, roomDump, "|system|Chat initiated")

	resp, body := get(t, a, srv.URL+"/health")
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var h healthResponse
	require.NoError(t, json.Unmarshal([]byte(body), &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 1, h.Users)
	assert.Equal(t, 1, h.Rooms)
	assert.Equal(t, 1, h.Waiting)
}

type fakePresence struct {
	online int64
	err    error
	window time.Duration
}

func (p *fakePresence) Online(_ context.Context, window time.Duration) (int64, error) {
	p.window = window
	return p.online, p.err
}

func TestHealthReportsPresence(t *testing.T) {
	presence := &fakePresence{online: 7}
	_, srv := newTestServer(t, Options{Presence: presence, OnlineWindow: time.Minute})

	_, body := get(t, newClient(t), srv.URL+"/health")
	var h healthResponse
	require.NoError(t, json.Unmarshal([]byte(body), &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, int64(7), h.Online)
	assert.Equal(t, time.Minute, presence.window)

	presence.err = errors.New("redis down")
	_, body = get(t, newClient(t), srv.URL+"/health")
	h = healthResponse{}
	require.NoError(t, json.Unmarshal([]byte(body), &h))
	assert.Equal(t, "degraded", h.Status)
	assert.Zero(t, h.Online)
}

func TestMetricsRouteIsOptional(t *testing.T) {
	_, plain := newTestServer(t, Options{})
	resp, _ := get(t, newClient(t), plain.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, withMetrics := newTestServer(t, Options{Metrics: metrics.Handler()})
	resp, body := get(t, newClient(t), withMetrics.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "pairchat_feed_connections")
}

func TestFeedRouteIsOptional(t *testing.T) {
	_, srv := newTestServer(t, Options{})
	resp, _ := get(t, newClient(t), srv.URL+"/ws")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no feed configured")
}
