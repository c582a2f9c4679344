package calendar

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sekretaria/agenda/internal/health"
)

// BackendHealthChecker monitors calendar backend reachability via periodic probes.
type BackendHealthChecker struct {
	backend      Backend
	healthy      atomic.Int32
	log          zerolog.Logger
	probeTimeout time.Duration
}

// NewBackendHealthChecker creates a new calendar backend health checker.
func NewBackendHealthChecker(backend Backend, log zerolog.Logger, probeTimeout time.Duration) *BackendHealthChecker {
	hc := &BackendHealthChecker{
		backend:      backend,
		log:          log,
		probeTimeout: probeTimeout,
	}
	hc.healthy.Store(0) // start unhealthy until first successful probe
	return hc
}

// Name returns the checker name.
func (hc *BackendHealthChecker) Name() string { return "calendar" }

// IsHealthy returns the cached health status (non-blocking).
func (hc *BackendHealthChecker) IsHealthy() bool { return hc.healthy.Load() == 1 }

// Start begins periodic health checking.
func (hc *BackendHealthChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	check := func() {
		to := hc.probeTimeout
		if to <= 0 {
			to = 2 * time.Second
		}
		checkCtx, cancel := context.WithTimeout(ctx, to)
		defer cancel()

		if hc.probe(checkCtx) {
			hc.healthy.Store(1)
		} else {
			hc.healthy.Store(0)
		}
	}

	check()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// probe verifies the backend answers. Backends that implement HealthPing get
// a dedicated probe; otherwise a zero-length listing on the primary calendar
// serves as a cheap reachability check.
func (hc *BackendHealthChecker) probe(ctx context.Context) bool {
	if p, ok := hc.backend.(health.HealthPinger); ok {
		if err := p.HealthPing(ctx); err != nil {
			hc.log.Error().Stack().
				Str("checker", hc.Name()).
				Err(err).
				Msg("calendar health check failed")
			return false
		}
		return true
	}

	now := time.Now().UTC()
	if _, err := hc.backend.ListEvents(ctx, "primary", now, now); err != nil {
		hc.log.Error().Stack().
			Str("checker", hc.Name()).
			Err(err).
			Msg("calendar health check failed")
		return false
	}
	return true
}
