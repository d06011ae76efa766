// Package metricsagg implements C11: a background aggregation loop that
// samples the live Prometheus counters every component registers through
// internal/metrics, folds them into a signed, append-only report per
// window, and persists it. This is distinct from internal/metrics, which
// only serves live scraping; metricsagg is the durable, signed,
// replicable record of what happened in a window (spec.md §4.11).
//
// The aggregation-loop shape (background ticker, per-window snapshot,
// historical retention) is grounded on internal/monitoring/
// monitoring_system.go's MonitoringSystem/SnapshotMetrics. The signing
// and canonical-serialization requirement (I15) reuses internal/canonical,
// the same signer C4/C9 already use.
package metricsagg

import "time"

// Report is the aggregated record for one window, signed and persisted.
// Two reports with an equal window are bit-identical except for the
// signature, because every field derives deterministically from the
// sampled counters (I15).
type Report struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	IssuerKey   string    `json:"issuer_key"`

	RequestsPerSecond float64 `json:"requests_per_second"`
	AvgLatencyMs      float64 `json:"avg_latency_ms"`
	P50LatencyMs      float64 `json:"p50_latency_ms"`
	P95LatencyMs      float64 `json:"p95_latency_ms"`
	P99LatencyMs      float64 `json:"p99_latency_ms"`

	CacheHitRate float64 `json:"cache_hit_rate"`

	WAFBlocksTotal        uint64 `json:"waf_blocks_total"`
	ChallengesIssuedTotal uint64 `json:"challenges_issued_total"`
	ChallengesSolvedTotal uint64 `json:"challenges_solved_total"`
	WasmFailuresTotal     uint64 `json:"wasm_failures_total"`
	ThreatRecordsSeen     uint64 `json:"threat_records_seen_total"`
	CRDTMergesTotal       uint64 `json:"crdt_merges_total"`
	OriginBreakerOpen     bool   `json:"origin_breaker_open"`

	CPUGoroutines uint64 `json:"cpu_goroutines"`
	MemoryAllocBytes uint64 `json:"memory_alloc_bytes"`
}

// SignedReport pairs a Report with its detached Ed25519 signature over
// the canonical serialization of Report.
type SignedReport struct {
	Report    Report `json:"report"`
	Signature []byte `json:"signature"`
}
