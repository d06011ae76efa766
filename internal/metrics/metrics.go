// Package metrics holds the live Prometheus instrumentation every AEGIS
// component reports through. This is distinct from internal/metricsagg's
// durably persisted, signed periodic reports (C11): this package serves
// live scraping, grounded on the teacher's internal/escrow/metrics.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge/histogram registered across the node.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	PipelinePhase     *prometheus.HistogramVec
	VerdictTotal      *prometheus.CounterVec
	WAFActionTotal    *prometheus.CounterVec
	WAFModuleErrors   *prometheus.CounterVec
	CacheHitTotal     prometheus.Counter
	CacheMissTotal    prometheus.Counter
	ChallengeIssued   prometheus.Counter
	ChallengeSolved   prometheus.Counter
	ChallengeFailed   *prometheus.CounterVec
	DropOracleBlocked prometheus.Counter
	DropOracleRingLag prometheus.Gauge
	WasmInvocations   *prometheus.CounterVec
	WasmDuration      *prometheus.HistogramVec
	WasmFailures      *prometheus.CounterVec
	ThreatRecordsSeen prometheus.Counter
	ThreatRecordsPub  prometheus.Counter
	ThreatRecordsDrop *prometheus.CounterVec
	CRDTMerges        prometheus.Counter
	CRDTSuspectEvents *prometheus.CounterVec
	OriginBreakerOpen prometheus.Gauge
	OriginRequests    *prometheus.CounterVec
}

var (
	instance *Metrics
)

// Get returns the process-wide Metrics, registering collectors on first call.
func Get() *Metrics {
	if instance != nil {
		return instance
	}
	instance = &Metrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_requests_total",
			Help: "Total requests accepted by the orchestrator",
		}, []string{"verdict", "status"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_request_duration_seconds",
			Help:    "End-to-end request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		PipelinePhase: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_pipeline_phase_duration_seconds",
			Help:    "Duration of an individual pipeline phase",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"phase"}),
		VerdictTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_bot_verdict_total",
			Help: "Bot classifier verdicts",
		}, []string{"verdict"}),
		WAFActionTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_waf_action_total",
			Help: "WAF rule actions taken",
		}, []string{"action", "rule_id"}),
		WAFModuleErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_waf_module_errors_total",
			Help: "WAF module crashes/errors (fail-open)",
		}, []string{"rule_id"}),
		CacheHitTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_cache_hits_total",
			Help: "Cache hits",
		}),
		CacheMissTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_cache_misses_total",
			Help: "Cache misses",
		}),
		ChallengeIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_challenge_issued_total",
			Help: "Challenges issued",
		}),
		ChallengeSolved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_challenge_solved_total",
			Help: "Challenges solved and exchanged for a token",
		}),
		ChallengeFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_challenge_failed_total",
			Help: "Challenge/token verification failures",
		}, []string{"reason"}),
		DropOracleBlocked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_drop_oracle_blocked_total",
			Help: "Requests short-circuited by the kernel drop oracle blocklist",
		}),
		DropOracleRingLag: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_drop_oracle_ringbuf_lag",
			Help: "Observed lag processing the eBPF ring buffer",
		}),
		WasmInvocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_wasm_invocations_total",
			Help: "Wasm module invocations",
		}, []string{"class", "module_id"}),
		WasmDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_wasm_duration_seconds",
			Help:    "Wasm module invocation duration",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"class"}),
		WasmFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_wasm_failures_total",
			Help: "Wasm module failures by reason",
		}, []string{"class", "reason"}),
		ThreatRecordsSeen: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_threat_records_seen_total",
			Help: "Threat records observed from the peer bus",
		}),
		ThreatRecordsPub: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_threat_records_published_total",
			Help: "Threat records published to the peer bus",
		}),
		ThreatRecordsDrop: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_threat_records_dropped_total",
			Help: "Threat records dropped by validation reason",
		}, []string{"reason"}),
		CRDTMerges: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_crdt_merges_total",
			Help: "CRDT counter merge operations applied",
		}),
		CRDTSuspectEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_crdt_suspect_events_total",
			Help: "Peer actors flagged or ejected for suspected Byzantine behavior",
		}, []string{"action"}),
		OriginBreakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_origin_breaker_open",
			Help: "1 if the origin circuit breaker is currently open",
		}),
		OriginRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_origin_requests_total",
			Help: "Requests forwarded to the origin",
		}, []string{"status"}),
	}
	return instance
}
