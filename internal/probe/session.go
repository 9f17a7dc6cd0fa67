// Package probe drives the chat server through its pairing flow with two
// independent cookie sessions: A waits, B joins, A posts, and A's final page
// is printed.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// AssertionError reports a page that lacked the expected text.
type AssertionError struct {
	Session string
	URL     string
	Want    string
	Body    string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("probe: session %s: GET %s: expected %q in body, got %q", e.Session, e.URL, e.Want, e.Body)
}

// Session is an HTTP client with its own cookie jar.
type Session struct {
	Name    string
	BaseURL string
	client  *http.Client
}

// NewSession creates a session against baseURL. A zero timeout means none.
func NewSession(name, baseURL string, timeout time.Duration) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("probe: cookie jar: %w", err)
	}
	return &Session{
		Name:    name,
		BaseURL: baseURL,
		client:  &http.Client{Jar: jar, Timeout: timeout},
	}, nil
}

// Get fetches the base URL and returns the body. The status code is not
// checked.
func (s *Session) Get(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL, nil)
	if err != nil {
		return "", fmt.Errorf("probe: build request: %w", err)
	}
	return s.do(req)
}

// Expect fetches the base URL and fails with *AssertionError unless the body
// contains want. There is no retry.
func (s *Session) Expect(ctx context.Context, want string) (string, error) {
	body, err := s.Get(ctx)
	if err != nil {
		return "", err
	}
	if !strings.Contains(body, want) {
		return body, &AssertionError{Session: s.Name, URL: s.BaseURL, Want: want, Body: body}
	}
	return body, nil
}

// Post sends payload as the raw request body with no content type. The
// response, including any redirect target, is read and discarded.
func (s *Session) Post(ctx context.Context, payload string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL, strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("probe: build request: %w", err)
	}
	_, err = s.do(req)
	return err
}

func (s *Session) do(req *http.Request) (string, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("probe: session %s: %s %s: %w", s.Name, req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("probe: session %s: read body: %w", s.Name, err)
	}
	return string(body), nil
}
