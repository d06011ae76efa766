package metricsagg

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aegis-network/edge-core/internal/canonical"
)

const defaultWindow = 300 * time.Second

// Store persists a SignedReport durably, keyed by (window_start,
// window_end, issuer_key) with a uniqueness constraint precluding
// duplicates (spec.md §4.11).
type Store interface {
	Persist(ctx context.Context, sr *SignedReport) error
}

type snapshot struct {
	at                time.Time
	requestsTotal     uint64
	latencySum        float64
	cacheHits         uint64
	cacheMisses       uint64
	wafBlocks         uint64
	challengesIssued  uint64
	challengesSolved  uint64
	wasmFailures      uint64
	threatRecordsSeen uint64
	crdtMerges        uint64
}

// Aggregator runs the background aggregation loop: at each tick it
// samples every component's live Prometheus counters, folds the window's
// deltas into a Report, signs it, and persists it. The ticker-driven
// sweep shape is grounded on internal/monitoring/monitoring_system.go's
// MonitoringSystem, generalized from an in-process live-metrics struct
// to reading real Prometheus collectors back out via Gather().
type Aggregator struct {
	gatherer prometheus.Gatherer
	signer   *canonical.Signer
	store    Store
	window   time.Duration

	prev snapshot
}

// NewAggregator returns an Aggregator sampling gatherer every window,
// signing reports with signer and persisting them to store. store may be
// nil to only sign without persisting (used in tests).
func NewAggregator(gatherer prometheus.Gatherer, signer *canonical.Signer, store Store, window time.Duration) *Aggregator {
	if window <= 0 {
		window = defaultWindow
	}
	return &Aggregator{
		gatherer: gatherer,
		signer:   signer,
		store:    store,
		window:   window,
		prev:     snapshot{at: time.Now()},
	}
}

// Run starts the ticker loop until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Tick(ctx); err != nil {
				slog.Warn("metricsagg: tick failed", "error", err)
			}
		}
	}
}

// Tick samples the current counters, builds and signs one Report for
// the window since the previous tick (or since NewAggregator if this is
// the first tick), persists it if a Store is configured, and returns it.
func (a *Aggregator) Tick(ctx context.Context) (*SignedReport, error) {
	s, err := newSampler(a.gatherer)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	windowStart := a.prev.at
	windowSeconds := now.Sub(windowStart).Seconds()
	if windowSeconds <= 0 {
		windowSeconds = a.window.Seconds()
	}

	requestsTotal := s.counterSum("aegis_requests_total")
	cacheHits := s.counterSum("aegis_cache_hits_total")
	cacheMisses := s.counterSum("aegis_cache_misses_total")
	var wafBlocks uint64
	if mf, ok := s.families["aegis_waf_action_total"]; ok {
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "action" && lp.GetValue() == "block" {
					wafBlocks += uint64(m.GetCounter().GetValue())
				}
			}
		}
	}
	challengesIssued := s.counterSum("aegis_challenge_issued_total")
	challengesSolved := s.counterSum("aegis_challenge_solved_total")
	wasmFailures := s.counterSum("aegis_wasm_failures_total")
	threatSeen := s.counterSum("aegis_threat_records_seen_total")
	crdtMerges := s.counterSum("aegis_crdt_merges_total")
	_, sum, p50, p95, p99 := s.histogramStats("aegis_request_duration_seconds")
	breakerOpen := s.gaugeValue("aegis_origin_breaker_open") > 0

	deltaRequests := delta(requestsTotal, a.prev.requestsTotal)
	deltaCacheHits := delta(cacheHits, a.prev.cacheHits)
	deltaCacheMisses := delta(cacheMisses, a.prev.cacheMisses)
	deltaWAFBlocks := delta(wafBlocks, a.prev.wafBlocks)
	deltaChallengesIssued := delta(challengesIssued, a.prev.challengesIssued)
	deltaChallengesSolved := delta(challengesSolved, a.prev.challengesSolved)
	deltaWasmFailures := delta(wasmFailures, a.prev.wasmFailures)
	deltaThreatSeen := delta(threatSeen, a.prev.threatRecordsSeen)
	deltaCRDTMerges := delta(crdtMerges, a.prev.crdtMerges)

	var avgLatencyMs float64
	if deltaRequests > 0 {
		deltaSum := sum - a.prev.latencySum
		if deltaSum < 0 {
			deltaSum = sum
		}
		avgLatencyMs = (deltaSum / float64(deltaRequests)) * 1000
	}

	var cacheHitRate float64
	if totalCache := deltaCacheHits + deltaCacheMisses; totalCache > 0 {
		cacheHitRate = float64(deltaCacheHits) / float64(totalCache)
	}

	goroutines, allocBytes := runtimeStats()

	report := Report{
		WindowStart:           windowStart,
		WindowEnd:             now,
		RequestsPerSecond:     float64(deltaRequests) / windowSeconds,
		AvgLatencyMs:          avgLatencyMs,
		P50LatencyMs:          p50 * 1000,
		P95LatencyMs:          p95 * 1000,
		P99LatencyMs:          p99 * 1000,
		CacheHitRate:          cacheHitRate,
		WAFBlocksTotal:        deltaWAFBlocks,
		ChallengesIssuedTotal: deltaChallengesIssued,
		ChallengesSolvedTotal: deltaChallengesSolved,
		WasmFailuresTotal:     deltaWasmFailures,
		ThreatRecordsSeen:     deltaThreatSeen,
		CRDTMergesTotal:       deltaCRDTMerges,
		OriginBreakerOpen:     breakerOpen,
		CPUGoroutines:         goroutines,
		MemoryAllocBytes:      allocBytes,
	}

	signed, err := Sign(a.signer, report)
	if err != nil {
		return nil, err
	}

	a.prev = snapshot{
		at:                now,
		requestsTotal:     requestsTotal,
		latencySum:        sum,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		wafBlocks:         wafBlocks,
		challengesIssued:  challengesIssued,
		challengesSolved:  challengesSolved,
		wasmFailures:      wasmFailures,
		threatRecordsSeen: threatSeen,
		crdtMerges:        crdtMerges,
	}

	if a.store != nil {
		if err := a.store.Persist(ctx, signed); err != nil {
			return signed, err
		}
	}
	return signed, nil
}

func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}
