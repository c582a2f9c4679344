// Package agendaservice wires configuration, storage, the calendar
// backend, and the orchestrator into the HTTP service and runs it until
// shutdown.
package agendaservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sekretaria/agenda/internal/api"
	"github.com/sekretaria/agenda/internal/api/recovery"
	"github.com/sekretaria/agenda/internal/audit"
	"github.com/sekretaria/agenda/internal/auth"
	"github.com/sekretaria/agenda/internal/calendar"
	"github.com/sekretaria/agenda/internal/classifier"
	"github.com/sekretaria/agenda/internal/config"
	"github.com/sekretaria/agenda/internal/confirm"
	"github.com/sekretaria/agenda/internal/directive"
	"github.com/sekretaria/agenda/internal/factory"
	"github.com/sekretaria/agenda/internal/health"
	"github.com/sekretaria/agenda/internal/logger"
	"github.com/sekretaria/agenda/internal/orchestrator"
	"github.com/sekretaria/agenda/internal/store"
	"github.com/sekretaria/agenda/internal/transcriber"
)

// Run starts the agenda service HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("agenda-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Str("default_timezone", cfg.DefaultTimeZone).
		Msg("Agenda service starting")

	// Create cancellable root context bound to SIGINT/SIGTERM
	ctx, stop := newServerContext()
	defer stop()

	st, backend, cls, tr, err := initDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}

	router := buildRouter(st, backend, cls, tr, cfg, log)

	// Start health checkers and bind service health
	svcHealth := startHealthCheckers(ctx, log, st, backend)

	if err := waitUntilHealthy(ctx, svcHealth); err != nil {
		log.Error().Stack().Err(err).Msg("startup health check failed")
		return err
	}

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	// Graceful shutdown on context cancel or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}
}

// initDependencies constructs required components and enforces fail-fast on missing deps.
func initDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, calendar.Backend, classifier.Classifier, transcriber.Transcriber, error) {
	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store adapter unavailable")
		return nil, nil, nil, nil, err
	}

	backend, err := factory.NewCalendarBackend(cfg)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Calendar backend unavailable")
		return nil, nil, nil, nil, err
	}

	cls, err := factory.NewClassifier(cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Classifier unavailable")
		return nil, nil, nil, nil, err
	}

	return st, backend, cls, factory.NewTranscriber(cfg), nil
}

// buildRouter wires HTTP routes to handlers.
func buildRouter(st store.Store, backend calendar.Backend, cls classifier.Classifier, tr transcriber.Transcriber, cfg *config.Config, log zerolog.Logger) *mux.Router {
	root := mux.NewRouter()
	root.Use(recovery.Middleware)
	if keys := cfg.ParseAPIKeys(); len(keys) > 0 {
		root.Use(auth.Middleware(auth.NewStaticAuthorizer(keys)))
	}

	recorder := audit.NewRecorder(st.Audit(), log)
	gate := confirm.NewGate(st.Tokens(), recorder, time.Duration(cfg.ConfirmationTTLMins)*time.Minute)
	orch := orchestrator.New(st, backend, gate, recorder, cls, orchestrator.Options{
		DefaultTimeZone:     cfg.DefaultTimeZone,
		RetryCeiling:        cfg.RetryCeiling,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		AgendaWindowDays:    cfg.AgendaWindowDays,
		AgendaMaxEvents:     cfg.AgendaMaxEvents,
	}, log)

	// Users
	userHandler := api.NewUserHandler(st.Users())
	root.HandleFunc("/api/users", userHandler.CreateUser).Methods("POST")
	root.HandleFunc("/api/users/{userId}", userHandler.GetUser).Methods("GET")
	root.HandleFunc("/api/users/{userId}", userHandler.DeleteUser).Methods("DELETE")

	// Requests
	requestHandler := api.NewRequestHandler(orch, tr)
	root.HandleFunc("/api/users/{userId}/requests", requestHandler.SubmitRequest).Methods("POST")

	// Audit
	auditHandler := api.NewAuditHandler(recorder)
	root.HandleFunc("/api/users/{userId}/audit", auditHandler.ListAudit).Methods("GET")

	// Directive ledger
	ledger := directive.NewLedger(st.Directives())
	directiveHandler := api.NewDirectiveHandler(ledger)
	root.HandleFunc("/api/directives/{procedure}/versions", directiveHandler.Propose).Methods("POST")
	root.HandleFunc("/api/directives/{procedure}/versions", directiveHandler.List).Methods("GET")
	root.HandleFunc("/api/directives/{procedure}/versions/{version}/approve", directiveHandler.Approve).Methods("POST")
	root.HandleFunc("/api/directives/{procedure}/active", directiveHandler.Active).Methods("GET")

	// Health
	healthHandler := api.NewHealthHandler()
	root.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")

	return root
}

// startHealthCheckers starts component checkers and service-level aggregator; binds health.
func startHealthCheckers(ctx context.Context, log zerolog.Logger, st store.Store, backend calendar.Backend) *health.ServiceHealthChecker {
	const (
		probeTimeout = 2 * time.Second
		interval     = 15 * time.Second
	)

	storeChecker := store.NewStoreHealthChecker(st, log, probeTimeout)
	go storeChecker.Start(ctx, interval)

	calChecker := calendar.NewBackendHealthChecker(backend, log, probeTimeout)
	go calChecker.Start(ctx, interval)

	svcHealth := health.NewServiceHealthChecker(log, storeChecker, calChecker)
	go svcHealth.Start(ctx, interval)
	api.BindServiceHealth(svcHealth.IsHealthy)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// waitUntilHealthy blocks until service health is healthy or the startup window expires.
func waitUntilHealthy(ctx context.Context, svcHealth *health.ServiceHealthChecker) error {
	deadline := time.Now().Add(60 * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svcHealth.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("startup aborted: dependencies not healthy within 60 seconds")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
