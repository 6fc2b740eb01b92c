package chatkit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tidwall/gjson"
)

func TestIssuerIssueSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/chatkit/sessions" {
			http.Error(w, "unexpected route", http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test-key" {
			http.Error(w, "bad auth "+got, http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("OpenAI-Beta"); got != "chatkit_beta=v1" {
			http.Error(w, "missing beta header", http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if gjson.GetBytes(body, "workflow.id").String() != "wf_test" || gjson.GetBytes(body, "user").String() != "u1" {
			http.Error(w, "bad body "+string(body), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cks_1","client_secret":"ek_secret","object":"chatkit.session"}`))
	}))
	defer srv.Close()

	issuer, err := NewIssuer(Config{APIKey: "sk-test-key", BaseURL: srv.URL + "/", WorkflowID: "wf_test"})
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	handle, err := issuer.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if handle.ID != "cks_1" || handle.ClientSecret != "ek_secret" || handle.WorkflowID != "wf_test" {
		t.Fatalf("unexpected handle: %+v", handle)
	}
	if gjson.GetBytes(handle.Raw, "object").String() != "chatkit.session" {
		t.Fatalf("Raw = %s, want provider object", handle.Raw)
	}
}

func TestIssuerIssueClientSecretObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"cks_2","client_secret":{"value":"ek_nested","expires_at":1}}`))
	}))
	defer srv.Close()

	issuer, err := NewIssuer(Config{APIKey: "k", BaseURL: srv.URL, WorkflowID: "wf"})
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	handle, err := issuer.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if handle.ClientSecret != "ek_nested" {
		t.Fatalf("ClientSecret = %q, want %q", handle.ClientSecret, "ek_nested")
	}
}

func TestIssuerIssueUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer srv.Close()

	issuer, err := NewIssuer(Config{APIKey: "bad", BaseURL: srv.URL, WorkflowID: "wf"})
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	_, err = issuer.Issue(context.Background(), "u1")
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Issue() error = %v, want *UpstreamError", err)
	}
	if upstream.Status != http.StatusUnauthorized {
		t.Fatalf("Status = %d, want %d", upstream.Status, http.StatusUnauthorized)
	}
	if upstream.Body != `{"error":{"message":"Incorrect API key provided"}}` {
		t.Fatalf("Body = %q, want verbatim upstream body", upstream.Body)
	}
}

func TestIssuerIssueRejectsMalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>"},
		{name: "missing id", body: `{"client_secret":"x"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			issuer, err := NewIssuer(Config{APIKey: "k", BaseURL: srv.URL, WorkflowID: "wf"})
			if err != nil {
				t.Fatalf("NewIssuer() error = %v", err)
			}
			if _, err := issuer.Issue(context.Background(), "u1"); err == nil {
				t.Fatalf("Issue() expected error for body %q", tc.body)
			}
		})
	}
}

func TestNewIssuerValidatesConfig(t *testing.T) {
	if _, err := NewIssuer(Config{WorkflowID: "wf"}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("NewIssuer() error = %v, want ErrMissingAPIKey", err)
	}
	if _, err := NewIssuer(Config{APIKey: "k"}); !errors.Is(err, ErrMissingWorkflowID) {
		t.Fatalf("NewIssuer() error = %v, want ErrMissingWorkflowID", err)
	}
}
