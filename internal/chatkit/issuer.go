package chatkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const maxUpstreamErrorBody = 64 << 10

// Issuer creates ChatKit sessions bound to the configured workflow.
type Issuer struct {
	cfg    Config
	client *http.Client
}

type createSessionRequest struct {
	Workflow workflowRef `json:"workflow"`
	User     string      `json:"user"`
}

type workflowRef struct {
	ID string `json:"id"`
}

func NewIssuer(cfg Config) (*Issuer, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	return &Issuer{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// WorkflowID returns the workflow sessions are issued against.
func (i *Issuer) WorkflowID() string { return i.cfg.WorkflowID }

// Issue creates one session for userID. It is never retried here; a
// non-success status comes back as *UpstreamError with the raw body.
func (i *Issuer) Issue(ctx context.Context, userID string) (SessionHandle, error) {
	payload, err := json.Marshal(createSessionRequest{
		Workflow: workflowRef{ID: i.cfg.WorkflowID},
		User:     userID,
	})
	if err != nil {
		return SessionHandle{}, fmt.Errorf("marshal session request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, i.cfg.BaseURL+"/v1/chatkit/sessions", bytes.NewReader(payload))
	if err != nil {
		return SessionHandle{}, fmt.Errorf("create session request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+i.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("OpenAI-Beta", betaHeader)

	res, err := i.client.Do(httpReq)
	if err != nil {
		return SessionHandle{}, fmt.Errorf("send session request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxUpstreamErrorBody))
		return SessionHandle{}, &UpstreamError{Status: res.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return SessionHandle{}, fmt.Errorf("read session response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return SessionHandle{}, fmt.Errorf("parse session response: invalid json")
	}
	id := strings.TrimSpace(gjson.GetBytes(body, "id").String())
	if id == "" {
		return SessionHandle{}, fmt.Errorf("session response missing id")
	}
	// client_secret is either a plain string or {"value": ..., "expires_at": ...}.
	secret := gjson.GetBytes(body, "client_secret")
	if secret.IsObject() {
		secret = secret.Get("value")
	}

	return SessionHandle{
		ID:           id,
		ClientSecret: secret.String(),
		WorkflowID:   i.cfg.WorkflowID,
		Raw:          json.RawMessage(body),
	}, nil
}
