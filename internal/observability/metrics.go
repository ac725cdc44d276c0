// Package observability exposes the Prometheus metrics surfaced by the
// ingest pipeline, detection engine, LLM client, and alert manager. All
// collectors are guarded by an atomic enabled flag set at Init time so
// that call sites never need a nil check of their own.
package observability

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var enabled atomic.Bool

// Init registers all collectors against r. Passing isEnabled=false (or a
// nil registerer) leaves every Observe*/Inc*/Set* call a no-op.
func Init(r prometheus.Registerer, isEnabled bool) {
	enabled.Store(isEnabled)
	if !isEnabled || r == nil {
		return
	}
	initCollectors(r)
}

func Enabled() bool { return enabled.Load() }

var (
	ingestReadingsTotal       *prometheus.CounterVec
	ingestValidationFailTotal *prometheus.CounterVec
	ingestWriteDurationSecs   *prometheus.HistogramVec
	ingestEnrichedTotal       *prometheus.CounterVec
	ingestBatchDurationSecs   prometheus.Histogram

	zoneQueryDurationSecs *prometheus.HistogramVec
	zoneQueryOutcomeTotal *prometheus.CounterVec

	scoringDurationSecs prometheus.Histogram
	riskScoreGauge      *prometheus.GaugeVec

	clusterSizeGauge      prometheus.Gauge
	clustersFoundTotal     prometheus.Counter
	fusionDurationSecs     prometheus.Histogram

	llmCallsTotal        *prometheus.CounterVec
	llmCallDurationSecs  *prometheus.HistogramVec
	llmRetriesTotal      *prometheus.CounterVec
	llmBreakerStateGauge prometheus.Gauge

	alertCreatedTotal    *prometheus.CounterVec
	alertEscalatedTotal  *prometheus.CounterVec
	alertExpiredTotal    prometheus.Counter
	alertDedupSkipsTotal prometheus.Counter

	eventPublishTotal   *prometheus.CounterVec
	eventPublishDropped prometheus.Counter

	storeOpDurationSecs *prometheus.HistogramVec
	storeOpTotal        *prometheus.CounterVec

	detectRunDurationSecs prometheus.Histogram
)

func initCollectors(r prometheus.Registerer) {
	ingestReadingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ingest_readings_total", Help: "Readings processed by outcome."},
		[]string{"outcome"},
	)
	ingestValidationFailTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ingest_validation_failures_total", Help: "Validation failures by rule kind."},
		[]string{"kind"},
	)
	ingestWriteDurationSecs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "ingest_write_duration_seconds", Help: "Latency of a telemetry store write.", Buckets: prometheus.ExponentialBuckets(0.001, 2, 14)},
		[]string{"outcome"},
	)
	ingestEnrichedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ingest_enriched_total", Help: "Readings enriched against the hazard-zone index, by outcome."},
		[]string{"outcome"},
	)
	ingestBatchDurationSecs = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "ingest_batch_duration_seconds", Help: "End-to-end duration of an ingest batch.", Buckets: prometheus.ExponentialBuckets(0.01, 2, 14)},
	)

	zoneQueryDurationSecs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "hazard_zone_query_duration_seconds", Help: "Latency of a hazard-zone index query.", Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14)},
		[]string{"op"},
	)
	zoneQueryOutcomeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hazard_zone_query_total", Help: "Hazard-zone index queries by op and outcome."},
		[]string{"op", "outcome"},
	)

	scoringDurationSecs = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "risk_scoring_duration_seconds", Help: "Latency of per-sensor risk scoring.", Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14)},
	)
	riskScoreGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "risk_composite_score", Help: "Most recent composite risk score per sensor."},
		[]string{"sensor_id"},
	)

	clusterSizeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "fusion_last_cluster_size", Help: "Member count of the most recently formed cluster."},
	)
	clustersFoundTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "fusion_clusters_found_total", Help: "Clusters formed by spatial correlation."},
	)
	fusionDurationSecs = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "fusion_duration_seconds", Help: "Latency of a spatial-correlation pass.", Buckets: prometheus.ExponentialBuckets(0.001, 2, 14)},
	)

	llmCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "llm_calls_total", Help: "LLM assessment calls by outcome."},
		[]string{"outcome"},
	)
	llmCallDurationSecs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "llm_call_duration_seconds", Help: "Latency of a single LLM call attempt.", Buckets: prometheus.ExponentialBuckets(0.05, 2, 14)},
		[]string{"outcome"},
	)
	llmRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "llm_retries_total", Help: "LLM call retries by reason."},
		[]string{"reason"},
	)
	llmBreakerStateGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "llm_breaker_state", Help: "Circuit breaker state: 0=closed, 1=half-open, 2=open."},
	)

	alertCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alert_created_total", Help: "Alerts created by detection type."},
		[]string{"detection_type"},
	)
	alertEscalatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alert_escalated_total", Help: "Alert escalations by from/to risk level."},
		[]string{"from_level", "to_level"},
	)
	alertExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "alert_expired_total", Help: "Alerts transitioned to expired."},
	)
	alertDedupSkipsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "alert_dedup_skips_total", Help: "Detections suppressed by the dedup window."},
	)

	eventPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "event_publish_total", Help: "Event bus publish attempts by outcome."},
		[]string{"outcome"},
	)
	eventPublishDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "event_publish_dropped_total", Help: "Events dropped because the publish queue was full."},
	)

	storeOpDurationSecs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "store_op_duration_seconds", Help: "Latency of a keyed-store operation.", Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14)},
		[]string{"store", "op"},
	)
	storeOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "store_op_total", Help: "Keyed-store operations by store, op, and outcome."},
		[]string{"store", "op", "outcome"},
	)

	detectRunDurationSecs = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "detect_run_duration_seconds", Help: "End-to-end duration of a detection run.", Buckets: prometheus.ExponentialBuckets(0.01, 2, 14)},
	)

	r.MustRegister(
		ingestReadingsTotal, ingestValidationFailTotal, ingestWriteDurationSecs, ingestEnrichedTotal, ingestBatchDurationSecs,
		zoneQueryDurationSecs, zoneQueryOutcomeTotal,
		scoringDurationSecs, riskScoreGauge,
		clusterSizeGauge, clustersFoundTotal, fusionDurationSecs,
		llmCallsTotal, llmCallDurationSecs, llmRetriesTotal, llmBreakerStateGauge,
		alertCreatedTotal, alertEscalatedTotal, alertExpiredTotal, alertDedupSkipsTotal,
		eventPublishTotal, eventPublishDropped,
		storeOpDurationSecs, storeOpTotal,
		detectRunDurationSecs,
	)
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

func IncReading(outcome string) {
	if !enabled.Load() || ingestReadingsTotal == nil {
		return
	}
	ingestReadingsTotal.WithLabelValues(outcome).Inc()
}

func IncValidationFailure(kind string) {
	if !enabled.Load() || ingestValidationFailTotal == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	ingestValidationFailTotal.WithLabelValues(kind).Inc()
}

func ObserveWrite(err error, dur time.Duration) {
	if !enabled.Load() || ingestWriteDurationSecs == nil {
		return
	}
	ingestWriteDurationSecs.WithLabelValues(outcomeOf(err)).Observe(dur.Seconds())
}

func IncEnriched(outcome string) {
	if !enabled.Load() || ingestEnrichedTotal == nil {
		return
	}
	ingestEnrichedTotal.WithLabelValues(outcome).Inc()
}

func ObserveIngestBatch(dur time.Duration) {
	if !enabled.Load() || ingestBatchDurationSecs == nil {
		return
	}
	ingestBatchDurationSecs.Observe(dur.Seconds())
}

func ObserveZoneQuery(op string, err error, dur time.Duration) {
	if !enabled.Load() || zoneQueryDurationSecs == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	zoneQueryDurationSecs.WithLabelValues(op).Observe(dur.Seconds())
	zoneQueryOutcomeTotal.WithLabelValues(op, outcomeOf(err)).Inc()
}

func ObserveScoring(dur time.Duration) {
	if !enabled.Load() || scoringDurationSecs == nil {
		return
	}
	scoringDurationSecs.Observe(dur.Seconds())
}

func SetRiskScore(sensorID string, score float64) {
	if !enabled.Load() || riskScoreGauge == nil || sensorID == "" {
		return
	}
	riskScoreGauge.WithLabelValues(sensorID).Set(score)
}

func ObserveFusion(dur time.Duration, clustersFound, lastClusterSize int) {
	if !enabled.Load() {
		return
	}
	if fusionDurationSecs != nil {
		fusionDurationSecs.Observe(dur.Seconds())
	}
	if clustersFoundTotal != nil && clustersFound > 0 {
		clustersFoundTotal.Add(float64(clustersFound))
	}
	if clusterSizeGauge != nil {
		clusterSizeGauge.Set(float64(lastClusterSize))
	}
}

func ObserveLLMCall(outcome string, dur time.Duration) {
	if !enabled.Load() || llmCallsTotal == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	llmCallsTotal.WithLabelValues(outcome).Inc()
	llmCallDurationSecs.WithLabelValues(outcome).Observe(dur.Seconds())
}

func IncLLMRetry(reason string) {
	if !enabled.Load() || llmRetriesTotal == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	llmRetriesTotal.WithLabelValues(reason).Inc()
}

func SetLLMBreakerState(state int) {
	if !enabled.Load() || llmBreakerStateGauge == nil {
		return
	}
	llmBreakerStateGauge.Set(float64(state))
}

func IncAlertCreated(detectionType string) {
	if !enabled.Load() || alertCreatedTotal == nil {
		return
	}
	alertCreatedTotal.WithLabelValues(detectionType).Inc()
}

func IncAlertEscalated(fromLevel, toLevel string) {
	if !enabled.Load() || alertEscalatedTotal == nil {
		return
	}
	alertEscalatedTotal.WithLabelValues(fromLevel, toLevel).Inc()
}

func IncAlertExpired() {
	if !enabled.Load() || alertExpiredTotal == nil {
		return
	}
	alertExpiredTotal.Inc()
}

func IncAlertDedupSkip() {
	if !enabled.Load() || alertDedupSkipsTotal == nil {
		return
	}
	alertDedupSkipsTotal.Inc()
}

func ObservePublish(err error) {
	if !enabled.Load() || eventPublishTotal == nil {
		return
	}
	eventPublishTotal.WithLabelValues(outcomeOf(err)).Inc()
}

func IncPublishDropped() {
	if !enabled.Load() || eventPublishDropped == nil {
		return
	}
	eventPublishDropped.Inc()
}

func ObserveStoreOp(store, op string, err error, dur time.Duration) {
	if !enabled.Load() || storeOpTotal == nil {
		return
	}
	if store == "" {
		store = "unknown"
	}
	if op == "" {
		op = "unknown"
	}
	outcome := outcomeOf(err)
	storeOpTotal.WithLabelValues(store, op, outcome).Inc()
	storeOpDurationSecs.WithLabelValues(store, op).Observe(dur.Seconds())
}

func ObserveDetectRun(dur time.Duration) {
	if !enabled.Load() || detectRunDurationSecs == nil {
		return
	}
	detectRunDurationSecs.Observe(dur.Seconds())
}
