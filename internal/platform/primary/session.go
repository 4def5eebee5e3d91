package primary

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paa-listas/primary-go/internal/domain"
)

const (
	headerAuthToken = "X-Auth-Token"
	headerUsername  = "X-Username"
	headerPassword  = "X-Password"
	headerRequestID = "X-Request-Id"
)

// Session holds the bearer token shared by the REST client and both
// streaming channels. Login and Logout must not race each other; reads of
// the token are safe from any goroutine.
type Session struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewSession creates a session against the given REST root, e.g.
// "https://api.remarkets.primary.com.ar". When wsURL is empty it is derived
// from baseURL by swapping the scheme.
func NewSession(baseURL, wsURL string, logger *slog.Logger) *Session {
	baseURL = strings.TrimRight(baseURL, "/")
	if wsURL == "" {
		wsURL = deriveWSURL(baseURL)
	}
	return &Session{
		baseURL: baseURL,
		wsURL:   strings.TrimRight(wsURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "primary_session")),
	}
}

// Login exchanges credentials for a token and stores it on the session.
func (s *Session) Login(ctx context.Context, username, password string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/auth/getToken", nil)
	if err != nil {
		return fmt.Errorf("primary/session: create login request: %w", err)
	}
	req.Header.Set(headerUsername, username)
	req.Header.Set(headerPassword, password)
	req.Header.Set(headerRequestID, uuid.NewString())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &domain.AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	token := resp.Header.Get(headerAuthToken)
	if token == "" {
		return &domain.AuthError{StatusCode: resp.StatusCode, Body: "no token in response"}
	}

	s.SetToken(token)
	s.logger.InfoContext(ctx, "logged in", slog.String("user", username))
	return nil
}

// Logout revokes the token server-side and clears it locally.
func (s *Session) Logout(ctx context.Context) error {
	token := s.Token()
	if token == "" {
		return domain.ErrNotLoggedIn
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/auth/removeToken", nil)
	if err != nil {
		return fmt.Errorf("primary/session: create logout request: %w", err)
	}
	req.Header.Set(headerAuthToken, token)
	req.Header.Set(headerRequestID, uuid.NewString())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: "logout", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &domain.AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	s.SetToken("")
	s.logger.InfoContext(ctx, "logged out")
	return nil
}

// Token returns the current token, empty when logged out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken replaces the token wholesale.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// BaseURL returns the REST root.
func (s *Session) BaseURL() string { return s.baseURL }

// WSURL returns the WebSocket endpoint.
func (s *Session) WSURL() string { return s.wsURL }

// authHeader returns the header set carried by every authenticated request
// and channel handshake.
func (s *Session) authHeader() (http.Header, error) {
	token := s.Token()
	if token == "" {
		return nil, domain.ErrNotLoggedIn
	}
	h := http.Header{}
	h.Set(headerAuthToken, token)
	return h, nil
}

func deriveWSURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	}
	return baseURL
}
