package chatkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/healthrelay/internal/policy"
)

const (
	maxInboundMessageLen = 4 << 20
	closeWriteTimeout    = time.Second
	socketEventBuffer    = 256
)

// SocketEventKind classifies what a Socket reports to its owner.
type SocketEventKind string

const (
	SocketMessage SocketEventKind = "message"
	SocketError   SocketEventKind = "error"
	SocketClosed  SocketEventKind = "close"
)

// SocketEvent is either a provider message or the single terminal event.
type SocketEvent struct {
	Kind SocketEventKind
	Data []byte
	Err  error
}

// Dialer builds per-invocation session sockets sharing one credential.
type Dialer struct {
	cfg    Config
	dialer websocket.Dialer
}

func NewDialer(cfg Config) (*Dialer, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	return &Dialer{
		cfg: cfg,
		dialer: websocket.Dialer{
			Proxy:           http.ProxyFromEnvironment,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}, nil
}

// NewSocket returns an unopened socket. Each relay invocation owns exactly one.
func (d *Dialer) NewSocket() *Socket {
	return &Socket{
		dialer:       d,
		writeTimeout: d.cfg.WriteTimeout,
		events:       make(chan SocketEvent, socketEventBuffer),
		done:         make(chan struct{}),
	}
}

func (d *Dialer) sessionURL(sessionID string) string {
	q := url.Values{}
	q.Set("api_key", d.cfg.APIKey)
	return d.cfg.WSBaseURL + "/v1/chatkit/sessions/" + url.PathEscape(sessionID) + "/ws?" + q.Encode()
}

// Socket is one persistent duplex connection to a remote ChatKit session.
//
// After a successful Open, Events delivers provider messages followed by
// exactly one SocketError or SocketClosed event, then the channel is closed.
type Socket struct {
	dialer       *Dialer
	writeTimeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	opened bool
	closed bool

	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan SocketEvent
	done      chan struct{}
}

// Open dials the session and returns once the handshake completes. The
// caller bounds the handshake with ctx's deadline.
func (s *Socket) Open(ctx context.Context, handle SessionHandle) error {
	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return ErrAlreadyOpened
	}
	s.opened = true
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: socket closed before open", ErrConnect)
	}
	s.mu.Unlock()

	conn, resp, err := s.dialer.dialer.DialContext(ctx, s.dialer.sessionURL(handle.ID), nil)
	if err != nil {
		detail := policy.RedactSecrets(err.Error())
		if isTimeout(ctx, err) {
			return fmt.Errorf("%w: %s", ErrConnectTimeout, detail)
		}
		if resp != nil {
			return fmt.Errorf("%w (%s): %s", ErrConnect, resp.Status, detail)
		}
		return fmt.Errorf("%w: %s", ErrConnect, detail)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("%w: socket closed during handshake", ErrConnect)
	}
	s.conn = conn
	s.mu.Unlock()

	conn.SetReadLimit(maxInboundMessageLen)
	go s.readLoop(conn)
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Send writes payload as one JSON text frame.
func (s *Socket) Send(ctx context.Context, payload any) error {
	s.mu.Lock()
	conn, closed := s.conn, s.closed
	s.mu.Unlock()
	if conn == nil || closed {
		return ErrNotOpen
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal socket payload: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("chatkit socket write: %w", err)
	}
	return nil
}

// Events returns the socket's event stream. It only carries events once
// Open has succeeded.
func (s *Socket) Events() <-chan SocketEvent { return s.events }

// Close tears the connection down. It is idempotent and safe to call before
// Open or after the remote side already closed.
func (s *Socket) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		conn := s.conn
		s.mu.Unlock()

		close(s.done)
		if conn == nil {
			return
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout),
		)
		retErr = conn.Close()
	})
	return retErr
}

// Closed reports whether Close has been called.
func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	defer close(s.events)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.emitTerminal(err)
			return
		}
		select {
		case s.events <- SocketEvent{Kind: SocketMessage, Data: data}:
		case <-s.done:
			s.emitTerminal(nil)
			return
		}
	}
}

func (s *Socket) emitTerminal(err error) {
	ev := SocketEvent{Kind: SocketClosed}
	if err != nil && !s.Closed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		ev = SocketEvent{Kind: SocketError, Err: err}
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}
