// Package client talks to the chatlog API and keeps a local, reconciled view of a user's
// sessions for UI surfaces.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	httpadapter "github.com/PabloGalante/chatlog/internal/adapters/http"
	"github.com/PabloGalante/chatlog/internal/domain"
)

const defaultTimeout = 90 * time.Second

// Client is a thin typed wrapper over the HTTP API. It is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which times out after 90s.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse server url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("server url must be http or https, got %q", baseURL)
	}
	c := &Client{
		baseURL: u,
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is a non-2xx answer. It unwraps to a *domain.Error so domain.KindOf and
// domain.SessionOf work on it.
type APIError struct {
	Status int
	Body   httpadapter.ErrorResponse
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatlog api: %d %s: %s", e.Status, e.Body.Kind, e.Body.Error)
}

func (e *APIError) Unwrap() error {
	kind := e.Body.Kind
	if kind == "" {
		kind = kindForStatus(e.Status)
	}
	return &domain.Error{
		Kind:      kind,
		Op:        "client",
		SessionID: domain.SessionID(e.Body.SessionID),
		Session:   e.Body.Session,
		Msg:       e.Body.Error,
	}
}

func kindForStatus(status int) domain.Kind {
	switch status {
	case http.StatusBadRequest:
		return domain.KindInvalidArgument
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.KindUnauthorized
	case http.StatusNotFound:
		return domain.KindNotFound
	case http.StatusConflict:
		return domain.KindConflict
	case http.StatusBadGateway:
		return domain.KindUpstreamError
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return domain.KindUpstreamUnavailable
	default:
		return domain.KindInternal
	}
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

func sessionPath(id domain.SessionID, suffix string) string {
	return "/api/chat-sessions/" + url.PathEscape(string(id)) + suffix
}

// do sends one request and decodes a 2xx body into out (which may be nil).
func (c *Client) do(ctx context.Context, method, path string, in, out any) (http.Header, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindUpstreamUnavailable, Op: "client", Msg: "server unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if jerr := json.Unmarshal(raw, &apiErr.Body); jerr != nil || apiErr.Body.Error == "" {
			apiErr.Body.Error = strings.TrimSpace(string(raw))
			if apiErr.Body.Error == "" {
				apiErr.Body.Error = http.StatusText(resp.StatusCode)
			}
		}
		return resp.Header, apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.Header, errors.Wrapf(err, "decode %s %s response", method, path)
		}
	}
	return resp.Header, nil
}

func (c *Client) VerifyToken(ctx context.Context) (domain.UserID, error) {
	var out httpadapter.VerifyTokenResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/verify-token", nil, &out); err != nil {
		return "", err
	}
	return domain.UserID(out.UserID), nil
}

func (c *Client) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	var out []*domain.Session
	if _, err := c.do(ctx, http.MethodGet, "/api/chat-sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CanCreateSession(ctx context.Context) (bool, error) {
	var out httpadapter.CanCreateResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/chat-sessions/can-create", nil, &out); err != nil {
		return false, err
	}
	return out.CanCreate, nil
}

func (c *Client) CreateSession(ctx context.Context) (*domain.Session, error) {
	var out domain.Session
	if _, err := c.do(ctx, http.MethodPost, "/api/chat-sessions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	var out domain.Session
	if _, err := c.do(ctx, http.MethodGet, sessionPath(id, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AskResult is the session after an ask. Retried reports that the server reused a pending
// question instead of appending a new one.
type AskResult struct {
	Session *domain.Session
	Retried bool
}

// Ask asks on session id, or on a new session when id is empty.
func (c *Client) Ask(ctx context.Context, id domain.SessionID, question string) (*AskResult, error) {
	path := "/api/chat-sessions/ask"
	if id != "" {
		path = sessionPath(id, "/ask")
	}
	var out domain.Session
	hdr, err := c.do(ctx, http.MethodPost, path, httpadapter.AskRequest{Question: question}, &out)
	if err != nil {
		return nil, err
	}
	return &AskResult{Session: &out, Retried: hdr.Get("X-Chatlog-Retried") == "true"}, nil
}

func (c *Client) Rename(ctx context.Context, id domain.SessionID, title string) (*domain.Session, error) {
	var out domain.Session
	if _, err := c.do(ctx, http.MethodPut, sessionPath(id, "/rename"), httpadapter.RenameRequest{NewTitle: title}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Delete(ctx context.Context, id domain.SessionID) error {
	_, err := c.do(ctx, http.MethodDelete, sessionPath(id, ""), nil, nil)
	return err
}
