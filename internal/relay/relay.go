// Package relay bridges one caller request to one ChatKit session socket and
// streams the translated provider events back to the caller.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/healthrelay/internal/chatkit"
	"github.com/ent0n29/healthrelay/internal/logging"
	"github.com/ent0n29/healthrelay/internal/observability"
	"github.com/ent0n29/healthrelay/internal/policy"
	"github.com/ent0n29/healthrelay/internal/protocol"
	"github.com/ent0n29/healthrelay/internal/reliability"
)

const defaultConnectTimeout = 10 * time.Second

// Issuer creates provider sessions.
type Issuer interface {
	Issue(ctx context.Context, userID string) (chatkit.SessionHandle, error)
	WorkflowID() string
}

// Socket is the duplex channel to one provider session.
type Socket interface {
	Open(ctx context.Context, handle chatkit.SessionHandle) error
	Send(ctx context.Context, payload any) error
	Events() <-chan chatkit.SocketEvent
	Close() error
}

// Dialer hands out a fresh, unopened Socket per invocation.
type Dialer interface {
	NewSocket() Socket
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func() Socket

func (f DialerFunc) NewSocket() Socket { return f() }

// Sink is the caller's output stream. Done is closed when the caller goes away.
type Sink interface {
	Send(ev protocol.Event) error
	Done() <-chan struct{}
	Close() error
}

type Config struct {
	// ConnectTimeout bounds the time from invocation start to AuthAck.
	ConnectTimeout time.Duration
	// OnTransition, if set, is called from the invocation's goroutine on
	// every state change.
	OnTransition func(sessionID string, to State)
}

type Relay struct {
	cfg     Config
	issuer  Issuer
	dialer  Dialer
	metrics *observability.Metrics
}

func New(cfg Config, issuer Issuer, dialer Dialer, metrics *observability.Metrics) (*Relay, error) {
	if issuer == nil {
		return nil, errors.New("relay issuer is required")
	}
	if dialer == nil {
		return nil, errors.New("relay dialer is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	return &Relay{cfg: cfg, issuer: issuer, dialer: dialer, metrics: metrics}, nil
}

// Invocation is one prepared relay. It is not safe for concurrent use and
// Stream may be called at most once.
type Invocation struct {
	relay    *Relay
	msg      protocol.CallerMessage
	handle   chatkit.SessionHandle
	started  time.Time
	deadline time.Time
}

// Outcome summarizes how an invocation ended.
type Outcome struct {
	State  State
	Err    error
	Events int
}

// Prepare starts an invocation: it arms the connect deadline and issues the
// provider session. Errors are returned before any event is emitted.
func (r *Relay) Prepare(ctx context.Context, msg protocol.CallerMessage) (*Invocation, error) {
	started := time.Now()
	handle, err := r.issuer.Issue(ctx, msg.UserID)
	if err != nil {
		return nil, fmt.Errorf("issue chatkit session: %w", err)
	}
	r.observeStage(observability.StageIssueSession, time.Since(started))
	if handle.WorkflowID == "" {
		handle.WorkflowID = r.issuer.WorkflowID()
	}
	return &Invocation{
		relay:    r,
		msg:      msg,
		handle:   handle,
		started:  started,
		deadline: started.Add(r.cfg.ConnectTimeout),
	}, nil
}

// Handle returns the issued session.
func (inv *Invocation) Handle() chatkit.SessionHandle { return inv.handle }

// Stream runs the invocation to a terminal state, writing events to sink.
// The socket and sink are closed before it returns.
func (inv *Invocation) Stream(ctx context.Context, sink Sink) Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sink.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	r := inv.relay
	run := &invocationRun{
		inv:    inv,
		sink:   sink,
		socket: r.dialer.NewSocket(),
		state:  StateInitializing,
		log: logging.FromContext(ctx).WithFields(log.Fields{
			"session_id": inv.handle.ID,
			"user_id":    inv.msg.UserID,
		}),
	}
	timer := time.NewTimer(time.Until(inv.deadline))
	if r.metrics != nil {
		r.metrics.ActiveRelays.Inc()
	}
	defer run.teardown(timer)

	if !run.emit(protocol.SessionEvent{
		SessionID:  inv.handle.ID,
		UserID:     inv.msg.UserID,
		WorkflowID: inv.handle.WorkflowID,
	}) {
		return run.cancelled()
	}

	run.transition(StateAwaitingConnection)
	openCtx, cancelOpen := context.WithDeadline(ctx, inv.deadline)
	err := run.socket.Open(openCtx, inv.handle)
	cancelOpen()
	if err != nil {
		return run.openFailed(ctx, err)
	}
	r.observeStage(observability.StageConnect, time.Since(inv.started))

	// Sent before AuthAck; nothing is forwarded to the caller until it arrives.
	for _, payload := range []any{chatkit.UserMessage(inv.msg.Text), chatkit.GenerateResponse()} {
		if err := run.socket.Send(ctx, payload); err != nil {
			if ctx.Err() != nil {
				return run.cancelled()
			}
			return run.fail(fmt.Errorf("%w: %v", ErrTransport, err), msgConnectionError, "")
		}
		run.observeUpstream("outbound", payloadType(payload))
	}
	run.sent = true

	return run.loop(ctx, timer)
}

type invocationRun struct {
	inv    *Invocation
	sink   Sink
	socket Socket
	log    *log.Entry

	state      State
	sent       bool
	events     int
	firstChunk bool
	err        error
}

func (r *invocationRun) loop(ctx context.Context, timer *time.Timer) Outcome {
	timeout := timer.C
	for {
		select {
		case ev, ok := <-r.socket.Events():
			if !ok {
				return r.fail(ErrTransport, msgConnectionError, "")
			}
			if ev.Kind != chatkit.SocketMessage {
				err := ErrTransport
				if ev.Err != nil {
					err = fmt.Errorf("%w: %s", ErrTransport, policy.RedactSecrets(ev.Err.Error()))
				}
				return r.fail(err, msgConnectionError, "")
			}
			if out, done := r.handleMessage(ev.Data); done {
				return out
			}
			if r.state >= StateAuthenticated && timeout != nil {
				timer.Stop()
				timeout = nil
			}
		case <-timeout:
			if r.state < StateAuthenticated {
				_ = r.socket.Close()
				return r.fail(ErrTimeout, msgConnectionTimeout, "")
			}
			timeout = nil
		case <-ctx.Done():
			return r.cancelled()
		}
	}
}

func (r *invocationRun) handleMessage(data []byte) (Outcome, bool) {
	t := Translate(data, r.inv.handle.ID)
	if t.Type == "" {
		r.log.Debug("ignoring malformed provider message")
		return Outcome{}, false
	}
	r.observeUpstream("inbound", t.Type)

	if t.AuthAck {
		if r.state == StateAwaitingConnection {
			r.transition(StateAuthenticated)
			r.inv.relay.observeStage(observability.StageAuthenticate, time.Since(r.inv.started))
			if r.sent {
				r.transition(StateStreaming)
			}
		}
		return Outcome{}, false
	}

	if t.Err != nil {
		_ = r.socket.Close()
		if m := r.inv.relay.metrics; m != nil {
			m.ProviderErrors.WithLabelValues("chatkit", codeLabel(t.Err.Code)).Inc()
		}
		r.log.WithFields(log.Fields{
			"code":      t.Err.Code,
			"retryable": reliability.IsRetryableProviderCode(t.Err.Code),
		}).Debug("provider reported error")
		return r.fail(t.Err, t.Err.Message, t.Err.Code), true
	}

	if len(t.Events) == 0 {
		r.log.WithField("provider_type", t.Type).Debug("ignoring provider message")
		return Outcome{}, false
	}
	if r.state != StateStreaming {
		r.log.WithField("provider_type", t.Type).Debug("dropping provider message before authentication")
		return Outcome{}, false
	}

	for _, ev := range t.Events {
		if _, ok := ev.(protocol.DoneEvent); ok {
			_ = r.socket.Close()
		}
		if !r.emit(ev) {
			return r.cancelled(), true
		}
		if _, ok := ev.(protocol.ChunkEvent); ok && !r.firstChunk {
			r.firstChunk = true
			if m := r.inv.relay.metrics; m != nil {
				m.ObserveFirstChunkLatency(time.Since(r.inv.started))
			}
		}
	}
	if t.Complete {
		r.transition(StateCompleted)
		r.log.WithField("state", r.state).Info("relay completed")
		return r.outcome(nil), true
	}
	return Outcome{}, false
}

// emit delivers ev unless the invocation is already terminal. A false
// return means the caller is gone.
func (r *invocationRun) emit(ev protocol.Event) bool {
	if r.state.Terminal() {
		return false
	}
	if err := r.sink.Send(ev); err != nil {
		r.log.WithError(err).Debug("caller stream write failed")
		return false
	}
	r.events++
	if m := r.inv.relay.metrics; m != nil {
		m.RelayEvents.WithLabelValues(string(ev.Name())).Inc()
	}
	return true
}

func (r *invocationRun) fail(err error, message, code string) Outcome {
	from := r.state
	r.emit(protocol.ErrorEvent{Message: message, Code: code})
	r.transition(StateFailed)
	r.log.WithError(err).WithField("state", from).Warn("relay failed")
	return r.outcome(err)
}

func (r *invocationRun) openFailed(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil {
		return r.cancelled()
	}
	if errors.Is(err, chatkit.ErrConnectTimeout) {
		return r.fail(err, msgConnectionTimeout, "")
	}
	return r.fail(err, msgConnectFailed, "")
}

func (r *invocationRun) cancelled() Outcome {
	r.transition(StateFailed)
	r.log.Info("caller went away, abandoning relay")
	return r.outcome(ErrCallerGone)
}

func (r *invocationRun) transition(to State) {
	if r.state == to {
		return
	}
	r.state = to
	if hook := r.inv.relay.cfg.OnTransition; hook != nil {
		hook(r.inv.handle.ID, to)
	}
}

func (r *invocationRun) outcome(err error) Outcome {
	r.err = err
	return Outcome{State: r.state, Err: err, Events: r.events}
}

// teardown releases the timer, socket and sink. It runs once per Stream call.
func (r *invocationRun) teardown(timer *time.Timer) {
	timer.Stop()
	_ = r.socket.Close()
	if err := r.sink.Close(); err != nil {
		r.log.WithError(err).Debug("close caller stream")
	}
	relay := r.inv.relay
	relay.observeStage(observability.StageRelayTotal, time.Since(r.inv.started))
	if m := relay.metrics; m != nil {
		m.ActiveRelays.Dec()
	}
	relay.metrics.ObserveOutcome(outcomeLabel(r.err))
}

func (r *invocationRun) observeUpstream(direction, msgType string) {
	if m := r.inv.relay.metrics; m != nil {
		m.UpstreamMessages.WithLabelValues(direction, msgType).Inc()
	}
}

func (r *Relay) observeStage(stage observability.Stage, d time.Duration) {
	if r.metrics != nil {
		r.metrics.ObserveStage(stage, d)
	}
}

func payloadType(payload any) string {
	switch p := payload.(type) {
	case chatkit.ConversationItemCreate:
		return p.Type
	case chatkit.ResponseCreate:
		return p.Type
	default:
		return "unknown"
	}
}

func codeLabel(code string) string {
	if code == "" {
		return "unknown"
	}
	return code
}

func outcomeLabel(err error) string {
	var perr *ProviderError
	switch {
	case err == nil:
		return "completed"
	case errors.As(err, &perr):
		return "provider_error"
	case errors.Is(err, ErrCallerGone):
		return "caller_gone"
	case errors.Is(err, ErrTimeout), errors.Is(err, chatkit.ErrConnectTimeout):
		return "timeout"
	case errors.Is(err, chatkit.ErrConnect):
		return "connect_error"
	default:
		return "transport_error"
	}
}
