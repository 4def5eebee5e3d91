package primary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/paa-listas/primary-go/internal/domain"
)

// Client is the REST client for the Primary trading API. Every call is a
// single round trip; nothing is retried here.
type Client struct {
	session *Session
	logger  *slog.Logger
}

// NewClient creates a REST client that authenticates through session.
func NewClient(session *Session, logger *slog.Logger) *Client {
	return &Client{
		session: session,
		logger:  logger.With(slog.String("component", "primary_rest")),
	}
}

// Session returns the session the client authenticates with.
func (c *Client) Session() *Session { return c.session }

// apiStatus is the envelope every trading endpoint answers with.
type apiStatus struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

// check turns a status="ERROR" payload into a DomainError.
func (s apiStatus) check(op string) error {
	if s.Status == "ERROR" {
		return &domain.DomainError{Op: op, Message: s.Message, Description: s.Description}
	}
	return nil
}

// statusCarrier lets getJSON run the status check on any response struct
// that embeds apiStatus.
type statusCarrier interface {
	apiStatusOf() apiStatus
}

func (s apiStatus) apiStatusOf() apiStatus { return s }

// getJSON issues an authenticated GET, decodes the body into out and, when
// out embeds apiStatus, enforces the status contract.
func (c *Client) getJSON(ctx context.Context, op, path string, params url.Values, out any) error {
	body, err := c.doAuthenticatedRequest(ctx, http.MethodGet, path, params)
	if err != nil {
		return fmt.Errorf("primary/rest: %s: %w", op, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.DecodeError{Op: op, Err: err}
	}
	if sc, ok := out.(statusCarrier); ok {
		return sc.apiStatusOf().check(op)
	}
	return nil
}

// doAuthenticatedRequest builds, sends, and reads an HTTP request carrying
// the session token. It returns the raw response body.
func (c *Client) doAuthenticatedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	header, err := c.session.authHeader()
	if err != nil {
		return nil, err
	}

	fullURL := c.session.BaseURL() + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	reqID := uuid.NewString()
	req.Header.Set(headerRequestID, reqID)
	req.Header.Set("Accept", "application/json")

	resp, err := c.session.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Op: path, Err: err}
	}

	c.logger.DebugContext(ctx, "rest call",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", reqID),
	)

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
