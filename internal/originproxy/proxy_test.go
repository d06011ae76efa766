package originproxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aegis-network/edge-core/internal/circuitbreaker"
	"github.com/stretchr/testify/assert"
)

func TestNewAppliesDefaults(t *testing.T) {
	p := New(Options{OriginHost: "example.invalid"})
	assert.Equal(t, 30*time.Second, p.deadline)
	assert.Equal(t, circuitbreaker.StateClosed, p.State())
}

func TestServeHTTPFailsFastWhenBreakerOpen(t *testing.T) {
	p := New(Options{
		OriginHost:              "example.invalid",
		BreakerFailureThreshold: 1,
		BreakerCooldown:         time.Minute,
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, circuitbreaker.StateOpen, p.State())

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	rec2 := httptest.NewRecorder()
	p.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusServiceUnavailable, rec2.Code)
}
