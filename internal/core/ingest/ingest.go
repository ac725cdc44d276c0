// Package ingest implements IngestHandler (spec §4.9): validate, enrich,
// classify-and-publish high-risk readings, then persist. Each reading is
// written with its own store Put inside the loop; there is no batched
// write. It is the
// per-HTTP-batch entry point; routing, auth, and rate limiting live in
// the external front door.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openlews/openlews/internal/apperr"
	"github.com/openlews/openlews/internal/config"
	"github.com/openlews/openlews/internal/eventbus"
	"github.com/openlews/openlews/internal/logger"
	"github.com/openlews/openlews/internal/model"
	"github.com/openlews/openlews/internal/observability"
	"github.com/openlews/openlews/internal/store/telemetrystore"
	"github.com/openlews/openlews/internal/telemetry"
)

// ItemError reports why one batch item did not make it into the store.
type ItemError struct {
	Index    int    `json:"index"`
	SensorID string `json:"sensor_id"`
	Error    string `json:"error"`
}

// Stats is IngestHandler's return shape (spec §6/§4.9).
type Stats struct {
	TotalReceived    int         `json:"total_received"`
	Validated        int         `json:"validated"`
	ValidationErrors int         `json:"validation_errors"`
	Written          int         `json:"written"`
	WriteFailures    int         `json:"write_failures"`
	HighRiskEvents   int         `json:"high_risk_events"`
	Errors           []ItemError `json:"errors"`
}

// Handler wires the validator, enricher, telemetry store, and event bus
// into the ingest pipeline.
type Handler struct {
	store     telemetrystore.TelemetryStore
	enricher  *telemetry.Enricher
	bus       eventbus.Publisher
	cfg       config.Config
	log       zerolog.Logger
}

func NewHandler(store telemetrystore.TelemetryStore, enricher *telemetry.Enricher, bus eventbus.Publisher, cfg config.Config, log zerolog.Logger) *Handler {
	return &Handler{store: store, enricher: enricher, bus: bus, cfg: cfg, log: log}
}

// readingRetention bounds a persisted reading's retention to 30 days past
// ingest (spec §3).
const readingRetention = 30 * 24 * time.Hour

// Handle runs IngestHandler over a single batch. The context's deadline
// should reflect cfg.IngestDeadline (spec §5); cancellation mid-batch
// leaves already-written items persisted and returns partial stats.
func (h *Handler) Handle(ctx context.Context, batch []telemetry.RawReading) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.IngestDeadline)
	defer cancel()

	runID := logger.NewID()
	ctx = logger.WithRunID(ctx, runID)
	l := logger.FromContext(ctx, &h.log)

	start := time.Now()
	stats := Stats{TotalReceived: len(batch)}
	cache := telemetry.NewRunCache()

	for i, raw := range batch {
		select {
		case <-ctx.Done():
			l.Warn().Int("processed", i).Int("total", len(batch)).Msg("ingest: deadline exceeded, partial batch")
			return stats, nil
		default:
		}

		reading, verr := telemetry.Validate(raw)
		if verr != nil {
			stats.ValidationErrors++
			observability.IncValidationFailure(string(verr.Kind))
			stats.Errors = append(stats.Errors, ItemError{Index: i, SensorID: raw.SensorID, Error: verr.Error()})
			observability.IncReading("rejected")
			continue
		}
		stats.Validated++

		now := time.Now()
		reading.IngestedAt = now.Unix()
		reading.Expiry = now.Unix() + int64(readingRetention.Seconds())

		enrichedReading := h.enricher.Enrich(ctx, cache, reading)
		if enrichedReading.Enriched {
			observability.IncEnriched("ok")
		} else {
			observability.IncEnriched("skipped")
		}

		if isHighRisk(enrichedReading) {
			stats.HighRiskEvents++
			h.publishHighRisk(ctx, enrichedReading, l)
		}

		writeStart := time.Now()
		if err := h.store.Put(ctx, enrichedReading, readingRetention); err != nil {
			observability.ObserveWrite(err, time.Since(writeStart))
			stats.WriteFailures++
			stats.Errors = append(stats.Errors, ItemError{Index: i, SensorID: reading.SensorID, Error: err.Error()})
			observability.IncReading("write_failed")
			continue
		}
		observability.ObserveWrite(nil, time.Since(writeStart))
		stats.Written++
		observability.IncReading("written")
	}

	observability.ObserveIngestBatch(time.Since(start))
	return stats, nil
}

// isHighRisk implements spec §4.9's high-risk classification, evaluated
// before persistence so an alert-worthy reading is published even if the
// store write later fails.
func isHighRisk(r model.Reading) bool {
	if r.MoisturePercent >= 85 {
		return true
	}
	if r.PorePressureKPa >= 10 {
		return true
	}
	if r.TiltRateMMHr >= 5 {
		return true
	}
	if r.SafetyFactor > 0 && r.SafetyFactor < 1.2 {
		return true
	}
	if r.ZoneRef != nil && (r.ZoneRef.HazardLevel == model.HazardHigh || r.ZoneRef.HazardLevel == model.HazardVeryHigh) && r.MoisturePercent > 70 {
		return true
	}
	return false
}

type highRiskDetail struct {
	model.Reading
	HighRisk bool `json:"high_risk"`
}

func (h *Handler) publishHighRisk(ctx context.Context, r model.Reading, l *zerolog.Logger) {
	if h.bus == nil || !h.cfg.EnableEventPublish {
		return
	}
	detail := highRiskDetail{Reading: r, HighRisk: true}
	if err := h.bus.Publish(ctx, "openlews.ingestor", "HighRiskTelemetry", detail); err != nil {
		// spec §7 PublishError: logged, does not affect the reading's own write.
		l.Warn().Err(fmt.Errorf("%w: %v", apperr.PublishError, err)).Str("sensor_id", r.SensorID).Msg("ingest: publish HighRiskTelemetry failed")
	}
}
