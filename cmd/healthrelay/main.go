package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/healthrelay/internal/chatkit"
	"github.com/ent0n29/healthrelay/internal/config"
	"github.com/ent0n29/healthrelay/internal/httpapi"
	"github.com/ent0n29/healthrelay/internal/logging"
	"github.com/ent0n29/healthrelay/internal/observability"
	"github.com/ent0n29/healthrelay/internal/records"
	"github.com/ent0n29/healthrelay/internal/relay"
	"github.com/ent0n29/healthrelay/internal/session"
)

func main() {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := logging.Setup(cfg.LogLevel); err != nil {
		log.Fatalf("logging setup failed: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	sessions := session.NewManager(cfg.RelayStaleAfter)
	sessions.SetExpireHook(func(e *session.Entry) {
		log.WithFields(log.Fields{
			"session_id": e.SessionID,
			"user_id":    e.UserID,
			"state":      e.State,
		}).Warn("relay tracking expired without teardown")
	})
	sessions.StartJanitor(ctx, 5*time.Second)

	store, err := records.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("record store init failed: %v", err)
	}
	defer store.Close()
	log.Infof("record store: %s", store.Mode())

	rl, err := newRelay(cfg, sessions, metrics)
	if err != nil {
		log.Fatalf("relay init failed: %v", err)
	}

	api := httpapi.New(cfg, sessions, rl, store, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Infof("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Info("shutdown complete")
}

// newRelay returns nil when the provider credential is absent so the rest of
// the service still starts; the relay route then reports the missing key.
func newRelay(cfg config.Config, sessions *session.Manager, metrics *observability.Metrics) (*relay.Relay, error) {
	if err := cfg.ValidateRelay(); err != nil {
		if errors.Is(err, config.ErrMissingCredential) {
			log.Warn("OPENAI_API_KEY not set; relay disabled")
			return nil, nil
		}
		return nil, err
	}

	ckCfg := chatkit.Config{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		WSBaseURL:    cfg.ChatKitWSBaseURL,
		WorkflowID:   cfg.ChatKitWorkflowID,
		WriteTimeout: cfg.RelayWriteTimeout,
	}
	issuer, err := chatkit.NewIssuer(ckCfg)
	if err != nil {
		return nil, err
	}
	dialer, err := chatkit.NewDialer(ckCfg)
	if err != nil {
		return nil, err
	}
	return relay.New(
		relay.Config{
			ConnectTimeout: cfg.RelayConnectTimeout,
			OnTransition: func(sessionID string, to relay.State) {
				_ = sessions.Update(sessionID, to.String())
			},
		},
		issuer,
		relay.DialerFunc(func() relay.Socket { return dialer.NewSocket() }),
		metrics,
	)
}
