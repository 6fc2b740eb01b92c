package chatkit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

func newTestDialer(t *testing.T, wsURL string) *Dialer {
	t.Helper()
	d, err := NewDialer(Config{
		APIKey:     "sk-test-key",
		WSBaseURL:  wsURL,
		WorkflowID: "wf_test",
	})
	if err != nil {
		t.Fatalf("NewDialer() error = %v", err)
	}
	return d
}

func TestSocketOpenSendReceiveClose(t *testing.T) {
	received := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chatkit/sessions/cks_1/ws" {
			http.Error(w, "bad path "+r.URL.Path, http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("api_key") != "sk-test-key" {
			http.Error(w, "bad key", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.updated"}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- gjson.GetBytes(data, "type").String()
		}
	}))
	defer srv.Close()

	s := newTestDialer(t, "ws"+strings.TrimPrefix(srv.URL, "http")).NewSocket()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.Open(ctx, SessionHandle{ID: "cks_1"}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Send(ctx, UserMessage("hello")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case ev := <-s.Events():
		if ev.Kind != SocketMessage {
			t.Fatalf("event kind = %q, want %q", ev.Kind, SocketMessage)
		}
		if got := gjson.GetBytes(ev.Data, "type").String(); got != TypeSessionUpdated {
			t.Fatalf("message type = %q, want %q", got, TypeSessionUpdated)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for provider message")
	}

	select {
	case got := <-received:
		if got != TypeConversationItemCreate {
			t.Fatalf("server received %q, want %q", got, TypeConversationItemCreate)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for server to receive message")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if !s.Closed() {
		t.Fatalf("Closed() = false after Close")
	}

	terminal := 0
	deadline := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				done = true
				break
			}
			if ev.Kind != SocketMessage {
				terminal++
			}
		case <-deadline:
			t.Fatalf("events channel was not closed after Close")
		}
	}
	if terminal > 1 {
		t.Fatalf("terminal events = %d, want at most 1", terminal)
	}

	if err := s.Send(ctx, GenerateResponse()); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Send() after Close error = %v, want ErrNotOpen", err)
	}
}

func TestSocketRemoteCloseEmitsSingleTerminalEvent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.text.delta","delta":"A"}`))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		_ = conn.Close()
	}))
	defer srv.Close()

	s := newTestDialer(t, srv.URL).NewSocket()
	defer s.Close()
	if err := s.Open(context.Background(), SessionHandle{ID: "cks_2"}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	var kinds []SocketEventKind
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				done = true
				break
			}
			kinds = append(kinds, ev.Kind)
		case <-timeout:
			t.Fatalf("timed out draining events: %v", kinds)
		}
	}
	if len(kinds) != 2 {
		t.Fatalf("events = %v, want message then one terminal", kinds)
	}
	if kinds[0] != SocketMessage || kinds[1] != SocketClosed {
		t.Fatalf("events = %v, want [message close]", kinds)
	}
}

func TestSocketOpenTwiceIsRejected(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	s := newTestDialer(t, srv.URL).NewSocket()
	defer s.Close()
	if err := s.Open(context.Background(), SessionHandle{ID: "cks_3"}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Open(context.Background(), SessionHandle{ID: "cks_3"}); !errors.Is(err, ErrAlreadyOpened) {
		t.Fatalf("second Open() error = %v, want ErrAlreadyOpened", err)
	}
}

func TestSocketSendBeforeOpen(t *testing.T) {
	s := newTestDialer(t, "ws://127.0.0.1:1").NewSocket()
	if err := s.Send(context.Background(), GenerateResponse()); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Send() error = %v, want ErrNotOpen", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() before Open error = %v", err)
	}
	if !s.Closed() {
		t.Fatalf("Closed() = false after Close")
	}
}

func TestSocketOpenTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			// Hold the TCP connection open without ever answering the handshake.
			defer conn.Close()
		}
	}()

	s := newTestDialer(t, "ws://"+ln.Addr().String()).NewSocket()
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = s.Open(ctx, SessionHandle{ID: "cks_4"})
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("Open() error = %v, want ErrConnectTimeout", err)
	}
	if strings.Contains(err.Error(), "sk-test-key") {
		t.Fatalf("Open() error leaks api key: %v", err)
	}
}

func TestSocketOpenConnectError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	}))
	defer srv.Close()

	s := newTestDialer(t, srv.URL).NewSocket()
	defer s.Close()
	err := s.Open(context.Background(), SessionHandle{ID: "cks_5"})
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("Open() error = %v, want ErrConnect", err)
	}
	if !strings.Contains(err.Error(), "403") {
		t.Fatalf("Open() error = %v, want upstream status", err)
	}
}

func TestNormalizeWSURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: "wss://api.openai.com"},
		{in: "https://example.test/", want: "wss://example.test"},
		{in: "http://127.0.0.1:9000", want: "ws://127.0.0.1:9000"},
		{in: "ws://host", want: "ws://host"},
	}
	for _, tc := range tests {
		got, err := normalizeWSURL(tc.in)
		if err != nil {
			t.Fatalf("normalizeWSURL(%q) error = %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("normalizeWSURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if _, err := normalizeWSURL("ftp://host"); err == nil {
		t.Fatalf("normalizeWSURL(ftp) expected error")
	}
}
