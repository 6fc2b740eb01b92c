// Package chatkit talks to the ChatKit session API: it issues sessions over
// HTTPS and holds the per-session WebSocket the relay streams through.
package chatkit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL      = "https://api.openai.com"
	defaultWSBaseURL    = "wss://api.openai.com"
	defaultWriteTimeout = 5 * time.Second

	betaHeader = "chatkit_beta=v1"
)

var (
	ErrMissingAPIKey     = errors.New("chatkit api key is required")
	ErrMissingWorkflowID = errors.New("chatkit workflow id is required")

	ErrConnectTimeout = errors.New("chatkit socket connect timeout")
	ErrConnect        = errors.New("chatkit socket connect failed")
	ErrAlreadyOpened  = errors.New("chatkit socket already opened")
	ErrNotOpen        = errors.New("chatkit socket is not open")
)

// Config carries the process-wide provider credential and endpoints.
type Config struct {
	APIKey       string
	BaseURL      string
	WSBaseURL    string
	WorkflowID   string
	WriteTimeout time.Duration
}

func (c Config) normalized() (Config, error) {
	c.APIKey = strings.TrimSpace(c.APIKey)
	if c.APIKey == "" {
		return Config{}, ErrMissingAPIKey
	}
	c.WorkflowID = strings.TrimSpace(c.WorkflowID)
	if c.WorkflowID == "" {
		return Config{}, ErrMissingWorkflowID
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = defaultBaseURL
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	ws, err := normalizeWSURL(c.WSBaseURL)
	if err != nil {
		return Config{}, err
	}
	c.WSBaseURL = ws
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c, nil
}

func normalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = defaultWSBaseURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse CHATKIT_WS_BASE_URL: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported chatkit socket url scheme %q", u.Scheme)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// SessionHandle binds one relay invocation to one remote session.
type SessionHandle struct {
	ID           string
	ClientSecret string
	WorkflowID   string
	// Raw is the provider's session object as returned by the API.
	Raw json.RawMessage
}

// UpstreamError reports a non-success status from session creation. The body
// is kept verbatim so callers can echo it.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("chatkit session create status %d: %s", e.Status, e.Body)
}
