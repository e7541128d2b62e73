// Package health provides Kubernetes-style liveness and readiness probes.
// Registered checks are polled in the background; the HTTP endpoints serve
// the last observed state and never execute checks inline.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// CheckFunc reports on one component: nil means healthy.
type CheckFunc func(ctx context.Context) error

// probe is one registered check plus its last observed result.
type probe struct {
	name    string
	timeout time.Duration
	check   CheckFunc

	// guarded by Service.mu
	lastErr error
}

// Service polls registered checks and serves /livez and /readyz.
type Service struct {
	mu        sync.RWMutex
	liveness  []*probe
	readiness []*probe
	ready     bool
	cancel    context.CancelFunc
}

// New creates a Service in a not-ready state; call SetReady(true) once
// initialization is complete.
func New() *Service {
	return &Service{}
}

// AddLivenessCheck registers a check that gates the liveness probe. Liveness
// failures mean the process itself is broken and should be restarted.
func (s *Service) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveness = append(s.liveness, &probe{name: name, timeout: timeout, check: check})
}

// AddReadinessCheck registers a check that gates the readiness probe.
// Readiness failures mean the service should stop receiving traffic until
// the dependency recovers.
func (s *Service) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readiness = append(s.readiness, &probe{name: name, timeout: timeout, check: check})
}

// SetReady flips the manual readiness gate. Call with false during graceful
// shutdown to drain traffic before closing.
func (s *Service) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

// Start polls every registered check at the given interval until Stop is
// called or ctx is cancelled. Each check runs once immediately.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	probes := make([]*probe, 0, len(s.liveness)+len(s.readiness))
	probes = append(probes, s.liveness...)
	probes = append(probes, s.readiness...)
	s.mu.Unlock()

	go func() {
		s.poll(ctx, probes)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.poll(ctx, probes)
			}
		}
	}()
}

// Stop cancels the polling goroutine. Safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Service) poll(ctx context.Context, probes []*probe) {
	for _, p := range probes {
		checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := p.check(checkCtx)
		cancel()

		s.mu.Lock()
		p.lastErr = err
		s.mu.Unlock()
	}
}

// IsReady reports whether the manual gate is open and every readiness check
// passed on its last poll.
func (s *Service) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready {
		return false
	}
	for _, p := range s.readiness {
		if p.lastErr != nil {
			return false
		}
	}
	return true
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves the liveness probe: 200 while every liveness check
// passed on its last poll, 503 with failure details otherwise.
func (s *Service) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	failures := collectFailures(s.liveness)
	s.mu.RUnlock()

	writeStatus(w, failures)
}

// ReadyEndpoint serves the readiness probe: 200 while the manual gate is
// open and every readiness check passed, 503 with details otherwise.
func (s *Service) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	failures := collectFailures(s.readiness)
	if !s.ready {
		failures["_readiness"] = "service is not ready"
	}
	s.mu.RUnlock()

	writeStatus(w, failures)
}

// collectFailures must be called with s.mu held.
func collectFailures(probes []*probe) map[string]string {
	failures := make(map[string]string)
	for _, p := range probes {
		if p.lastErr != nil {
			failures[p.name] = p.lastErr.Error()
		}
	}
	return failures
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = failures
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
