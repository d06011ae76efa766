package metricsagg

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-network/edge-core/internal/canonical"
)

type memStore struct {
	reports []*SignedReport
}

func (m *memStore) Persist(_ context.Context, sr *SignedReport) error {
	m.reports = append(m.reports, sr)
	return nil
}

func TestTickProducesSignedReportWithObservedCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	requests := prometheus.NewCounter(prometheus.CounterOpts{Name: "aegis_requests_total"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aegis_request_duration_seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1},
	})
	reg.MustRegister(requests, duration)

	requests.Add(10)
	duration.Observe(0.05)
	duration.Observe(0.1)

	signer, err := canonical.NewSigner()
	require.NoError(t, err)
	store := &memStore{}
	agg := NewAggregator(reg, signer, store, time.Second)

	sr, err := agg.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sr)

	assert.Greater(t, sr.Report.RequestsPerSecond, 0.0)
	assert.Greater(t, sr.Report.P95LatencyMs, 0.0)
	assert.NotEmpty(t, sr.Signature)
	assert.True(t, Verify(sr, signer.PublicKey()))
	assert.Len(t, store.reports, 1)
}

func TestTickComputesDeltasAcrossTwoWindows(t *testing.T) {
	reg := prometheus.NewRegistry()
	requests := prometheus.NewCounter(prometheus.CounterOpts{Name: "aegis_requests_total"})
	reg.MustRegister(requests)

	signer, err := canonical.NewSigner()
	require.NoError(t, err)
	agg := NewAggregator(reg, signer, nil, time.Second)

	requests.Add(5)
	sr1, err := agg.Tick(context.Background())
	require.NoError(t, err)

	requests.Add(7)
	sr2, err := agg.Tick(context.Background())
	require.NoError(t, err)

	assert.Greater(t, sr2.Report.WindowStart.UnixNano(), sr1.Report.WindowStart.UnixNano())
	window2 := sr2.Report.WindowEnd.Sub(sr2.Report.WindowStart).Seconds()
	assert.InDelta(t, 7.0, sr2.Report.RequestsPerSecond*window2, 1e-6)
}

func TestSignVerifyReportRoundTrip(t *testing.T) {
	signer, err := canonical.NewSigner()
	require.NoError(t, err)

	report := Report{WindowStart: time.Now(), WindowEnd: time.Now().Add(time.Minute)}
	sr, err := Sign(signer, report)
	require.NoError(t, err)

	assert.True(t, Verify(sr, signer.PublicKey()))

	sr.Report.RequestsPerSecond = 999
	assert.False(t, Verify(sr, signer.PublicKey()))
}
