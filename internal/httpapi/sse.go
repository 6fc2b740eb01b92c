package httpapi

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ent0n29/healthrelay/internal/protocol"
)

var errStreamClosed = errors.New("event stream closed")

// sseSink writes relay events to one text/event-stream response.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	done    <-chan struct{}
	started time.Time

	mu     sync.Mutex
	closed bool
}

func newSSESink(w http.ResponseWriter, r *http.Request) (*sseSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported by response writer")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseSink{
		w:       w,
		flusher: flusher,
		done:    r.Context().Done(),
		started: time.Now(),
	}, nil
}

func (s *sseSink) Send(ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	if err := protocol.WriteSSE(s.w, ev); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Done() <-chan struct{} { return s.done }

// Close marks the stream finished; the response ends when the handler returns.
func (s *sseSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
