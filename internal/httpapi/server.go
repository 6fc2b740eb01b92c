package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/semaphore"

	"github.com/ent0n29/healthrelay/internal/chatkit"
	"github.com/ent0n29/healthrelay/internal/config"
	"github.com/ent0n29/healthrelay/internal/logging"
	"github.com/ent0n29/healthrelay/internal/observability"
	"github.com/ent0n29/healthrelay/internal/policy"
	"github.com/ent0n29/healthrelay/internal/protocol"
	"github.com/ent0n29/healthrelay/internal/records"
	"github.com/ent0n29/healthrelay/internal/relay"
	"github.com/ent0n29/healthrelay/internal/reliability"
	"github.com/ent0n29/healthrelay/internal/session"
)

const (
	maxRequestBody    = 1 << 20
	nonStreamMessage  = "Session created successfully. Use client_secret to connect via ChatKit SDK."
	relayBusyResponse = "Too many concurrent requests"
	retryAfterBase    = time.Second
	retryAfterCap     = 30 * time.Second
)

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	relay    *relay.Relay
	records  records.Store
	metrics  *observability.Metrics
	slots    *semaphore.Weighted
}

// New builds the HTTP surface. A nil relay means the provider credential is
// not configured and the relay route answers 500.
func New(cfg config.Config, sessions *session.Manager, rl *relay.Relay, store records.Store, metrics *observability.Metrics) *Server {
	slots := cfg.MaxConcurrentRelays
	if slots <= 0 {
		slots = 1
	}
	if sessions == nil {
		sessions = session.NewManager(0)
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		relay:    rl,
		records:  store,
		metrics:  metrics,
		slots:    semaphore.NewWeighted(int64(slots)),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/healthz", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Delete("/v1/perf/latency", s.handleResetPerfLatency)
	r.Get("/v1/relays", s.handleListRelays)

	// Method checks live in the handlers so each route keeps its own 405 body.
	r.HandleFunc("/v1/health-agent", s.handleHealthAgent)
	r.HandleFunc("/v1/health-data", s.handleHealthData)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"timestamp":     time.Now().UTC().Format(time.RFC3339Nano),
		"relay_enabled": s.relay != nil,
		"record_store":  s.recordStoreMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"relay_enabled": s.relay != nil,
		"record_store":  s.recordStoreMode(),
	})
}

func (s *Server) handleHealthAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed. Use POST."})
		return
	}
	if s.relay == nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"error": "OpenAI API key not configured"})
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		respondInternal(w, err)
		return
	}
	msg, err := protocol.ParseCallerMessage(raw)
	switch {
	case errors.Is(err, protocol.ErrInvalidJSON):
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Invalid JSON in request body",
			"message": strings.TrimPrefix(err.Error(), protocol.ErrInvalidJSON.Error()+": "),
		})
		return
	case errors.Is(err, protocol.ErrMissingMessage):
		respondJSON(w, http.StatusBadRequest, map[string]any{"error": "Message is required"})
		return
	case err != nil:
		respondInternal(w, err)
		return
	}

	if !s.slots.TryAcquire(1) {
		s.metrics.ObserveOutcome("rejected")
		setRetryAfter(w, s.sessions.ActiveCount())
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"error": relayBusyResponse})
		return
	}
	defer s.slots.Release(1)

	logger := logging.FromContext(r.Context()).WithField("user_id", msg.UserID)
	logger.WithField("preview", policy.LogPreview(msg.Text, 80)).Debug("relay request accepted")
	inv, err := s.relay.Prepare(r.Context(), msg)
	if err != nil {
		var upstream *chatkit.UpstreamError
		if errors.As(err, &upstream) {
			logger.WithField("status", upstream.Status).Warn("chatkit session issuance rejected")
			if reliability.IsRetryableHTTPStatus(upstream.Status) {
				setRetryAfter(w, 0)
			}
			respondJSON(w, upstream.Status, map[string]any{
				"error":   "Failed to create ChatKit session",
				"details": upstream.Body,
			})
			return
		}
		logger.WithError(err).Error("chatkit session issuance failed")
		respondInternal(w, err)
		return
	}
	sessionID := inv.Handle().ID
	logger = logger.WithField("session_id", sessionID)

	if !msg.Stream {
		respondJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"session": inv.Handle().Raw,
			"message": nonStreamMessage,
		})
		return
	}

	s.sessions.Begin(sessionID, msg.UserID, relay.StateInitializing.String())
	defer func() { _, _ = s.sessions.End(sessionID) }()

	sink, err := newSSESink(w, r)
	if err != nil {
		respondInternal(w, err)
		return
	}
	out := inv.Stream(r.Context(), sink)
	logger.WithFields(map[string]any{
		"state":       out.State,
		"events":      out.Events,
		"duration_ms": time.Since(sink.started).Milliseconds(),
	}).Info("relay finished")
}

func (s *Server) handleListRelays(w http.ResponseWriter, _ *http.Request) {
	relays := s.sessions.List()
	respondJSON(w, http.StatusOK, map[string]any{
		"active": len(relays),
		"relays": relays,
	})
}

// setRetryAfter hints a backoff that grows with the number of relays ahead
// of the caller.
func setRetryAfter(w http.ResponseWriter, queued int) {
	wait := reliability.ExponentialBackoff(queued, retryAfterBase, retryAfterCap)
	w.Header().Set("Retry-After", strconv.Itoa(int((wait+time.Second-1)/time.Second)))
}

func (s *Server) recordStoreMode() string {
	if s.records == nil {
		return "disabled"
	}
	return s.records.Mode()
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondInternal(w http.ResponseWriter, err error) {
	respondJSON(w, http.StatusInternalServerError, map[string]any{
		"error":   "Internal server error",
		"message": err.Error(),
	})
}
