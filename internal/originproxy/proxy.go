// Package originproxy implements C8: a circuit-breaker-wrapped reverse
// proxy to the origin server. The httputil.ReverseProxy Director/Transport
// shape is grounded on internal/sop/proxy.go's realProxy field (minus its
// Redis-backed sequestration/mock/replay machinery, which has no role once
// a request is simply being forwarded upstream); the breaker itself reuses
// internal/circuitbreaker/breaker.go unmodified, renamed to guard origin
// dials instead of AOCS service calls.
package originproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/aegis-network/edge-core/internal/circuitbreaker"
)

// ErrOriginUnavailable is returned when the breaker is open and the
// request is failed fast without dialing the origin.
var ErrOriginUnavailable = errors.New("originproxy: origin circuit open")

// Proxy forwards requests to a single origin host through a
// circuit-broken, bounded-deadline reverse proxy.
type Proxy struct {
	origin  string
	breaker *circuitbreaker.CircuitBreaker
	rp      *httputil.ReverseProxy
	deadline time.Duration
}

// Options configures a Proxy.
type Options struct {
	OriginHost              string
	DialTimeout             time.Duration
	ResponseHeaderTimeout   time.Duration
	RequestDeadline         time.Duration // default 30s per spec.md §4.8
	BreakerFailureThreshold uint32
	BreakerCooldown         time.Duration
	BreakerHalfOpenProbes   uint32
	OnCircuitTrip           func(from, to circuitbreaker.State)
}

// New builds a Proxy for a single origin.
func New(opts Options) *Proxy {
	if opts.RequestDeadline <= 0 {
		opts.RequestDeadline = 30 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.BreakerHalfOpenProbes == 0 {
		opts.BreakerHalfOpenProbes = 3
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	if opts.BreakerFailureThreshold == 0 {
		opts.BreakerFailureThreshold = 5
	}

	breaker := circuitbreaker.New(&circuitbreaker.Config{
		Name:        "origin:" + opts.OriginHost,
		MaxRequests: opts.BreakerHalfOpenProbes,
		Interval:    60 * time.Second,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			slog.Info("originproxy: circuit state change", "breaker", name, "from", from, "to", to)
			if opts.OnCircuitTrip != nil && to == circuitbreaker.StateOpen {
				opts.OnCircuitTrip(from, to)
			}
		},
	})

	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: opts.DialTimeout}).DialContext,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
	}

	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = "https"
			req.URL.Host = opts.OriginHost
			req.Host = opts.OriginHost
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Warn("originproxy: upstream error", "error", err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	return &Proxy{origin: opts.OriginHost, breaker: breaker, rp: rp, deadline: opts.RequestDeadline}
}

// ServeHTTP forwards the request if the breaker allows it, recording the
// outcome back into the breaker. A tripped breaker fails fast with
// ErrOriginUnavailable rather than dialing the origin.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), p.deadline)
	defer cancel()
	r = r.WithContext(ctx)

	_, err := p.breaker.Execute(func() (interface{}, error) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		p.rp.ServeHTTP(rec, r)
		if rec.status >= 500 {
			return nil, fmt.Errorf("originproxy: upstream returned %d", rec.status)
		}
		return nil, nil
	})
	if err != nil && errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		http.Error(w, ErrOriginUnavailable.Error(), http.StatusServiceUnavailable)
	}
}

// State exposes the breaker's current state for health/metrics reporting.
func (p *Proxy) State() circuitbreaker.State {
	return p.breaker.State()
}

// statusRecorder captures the status code the wrapped ResponseWriter sent,
// so the breaker can classify 5xx upstream responses as failures.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.wroteHeader = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}
