// Package detect implements DetectRun (spec §4.9): fetch the rolling
// telemetry window, score and fuse sensors, detect clusters, consult the
// hazard-zone index and LLM for each high-risk element, then create or
// escalate alerts. Independent work per detected element is fanned out
// up to a bounded concurrency limit (spec §5).
package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openlews/openlews/internal/alert"
	"github.com/openlews/openlews/internal/config"
	"github.com/openlews/openlews/internal/fusion"
	"github.com/openlews/openlews/internal/geocode"
	"github.com/openlews/openlews/internal/hazardzone"
	"github.com/openlews/openlews/internal/llm"
	"github.com/openlews/openlews/internal/logger"
	"github.com/openlews/openlews/internal/model"
	"github.com/openlews/openlews/internal/observability"
	"github.com/openlews/openlews/internal/scoring"
	"github.com/openlews/openlews/internal/store/telemetrystore"
)

// Result is DetectRun's return shape (spec §4.9).
type Result struct {
	SensorsAnalyzed   int     `json:"sensors_analyzed"`
	ClustersDetected  int     `json:"clusters_detected"`
	AlertsCreated     int     `json:"alerts_created"`
	AlertsEscalated   int     `json:"alerts_escalated"`
	ExecutionTimeSecs float64 `json:"execution_time_s"`
}

// Engine wires the telemetry window, scorer, fusion, hazard-zone index,
// LLM client, geocoder, and alert manager into the detection engine.
type Engine struct {
	telemetry telemetrystore.TelemetryStore
	zones     hazardzone.Interface
	scorer    scoring.Scorer
	llm       llm.Interface
	geocoder  geocode.Interface
	alerts    *alert.Manager
	cfg       config.Config
	log       zerolog.Logger
}

func NewEngine(
	telemetry telemetrystore.TelemetryStore,
	zones hazardzone.Interface,
	llmClient llm.Interface,
	geocoder geocode.Interface,
	alerts *alert.Manager,
	cfg config.Config,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		telemetry: telemetry,
		zones:     zones,
		scorer:    scoring.Scorer{SafetyFactorZeroMeansDangerous: cfg.SafetyFactorZeroMeansDangerous},
		llm:       llmClient,
		geocoder:  geocoder,
		alerts:    alerts,
		cfg:       cfg,
		log:       log,
	}
}

// Run executes one DetectRun. ctx's deadline should reflect
// cfg.DetectRunDeadline; when it elapses, outstanding per-element work is
// cancelled and partially processed elements are left un-alerted — the
// next run retries from telemetry (spec §5).
func (e *Engine) Run(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DetectRunDeadline)
	defer cancel()

	runID := logger.NewID()
	ctx = logger.WithRunID(ctx, runID)
	l := logger.FromContext(ctx, &e.log)

	start := time.Now()
	since := start.Add(-time.Duration(e.cfg.WindowSeconds) * time.Second).Unix()

	readings, err := e.fetchWindow(ctx, since)
	if err != nil {
		return Result{}, fmt.Errorf("detect: fetch window: %w", err)
	}

	analyses := e.scoreAll(ctx, readings)
	analyses = fusion.Correlate(analyses)
	clusters := fusion.DetectClusters(analyses, e.cfg.RiskThreshold)

	elements := e.buildElements(analyses, clusters)
	l.Info().Int("sensors", len(analyses)).Int("clusters", len(clusters)).Int("elements", len(elements)).Msg("detect: run scored")

	created, escalated := e.processElements(ctx, elements, analyses)

	res := Result{
		SensorsAnalyzed:   len(analyses),
		ClustersDetected:  len(clusters),
		AlertsCreated:     created,
		AlertsEscalated:   escalated,
		ExecutionTimeSecs: time.Since(start).Seconds(),
	}
	observability.ObserveDetectRun(time.Since(start))
	return res, nil
}

func (e *Engine) fetchWindow(ctx context.Context, since int64) ([]model.Reading, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.TelemetryPageTimeout)
	defer cancel()
	return e.telemetry.LatestPerSensor(fetchCtx, since)
}

// scoreAll runs the pure scorer over every reading; scoring is CPU-only
// and needs no zone query beyond what's already attached (enrichment ran
// at ingest time), so it requires no fan-out limiting.
func (e *Engine) scoreAll(ctx context.Context, readings []model.Reading) []model.SensorAnalysis {
	out := make([]model.SensorAnalysis, 0, len(readings))
	for _, r := range readings {
		start := time.Now()
		critical := e.cfg.HazardDefaults["default"]
		var zoneCtx *model.HazardZone
		if r.ZoneRef != nil {
			zoneCtx = r.ZoneRef
			critical = e.zones.CriticalMoisture(zoneCtx)
		}
		base := e.scorer.Score(r, critical)
		observability.ObserveScoring(time.Since(start))
		observability.SetRiskScore(r.SensorID, base)

		out = append(out, model.SensorAnalysis{
			SensorID:            r.SensorID,
			Reading:              r,
			BaseRisk:             base,
			ZoneContext:          zoneCtx,
			CriticalMoisturePct:  critical,
		})
	}
	return out
}

// element is one detection target: a cluster, or a non-clustered sensor
// above threshold (spec §4.9's set S).
type element struct {
	cluster *model.Cluster
	sensor  *model.SensorAnalysis
}

func (e *Engine) buildElements(analyses []model.SensorAnalysis, clusters []model.Cluster) []element {
	clustered := make(map[string]bool)
	var elements []element
	for i := range clusters {
		c := clusters[i]
		if c.AvgCompositeRisk <= e.cfg.RiskThreshold {
			continue
		}
		for _, id := range c.MemberIDs {
			clustered[id] = true
		}
		elements = append(elements, element{cluster: &c})
	}
	for i := range analyses {
		a := analyses[i]
		if clustered[a.SensorID] {
			continue
		}
		if a.CompositeRisk > e.cfg.RiskThreshold {
			elements = append(elements, element{sensor: &a})
		}
	}
	return elements
}

// processElements fans out location resolution, zone lookup, LLM
// assessment and ensure_alert across elements up to cfg.FanOutMax
// concurrent tasks. Each sensor belongs to at most one element, so no two
// tasks of one run share a dedup key.
func (e *Engine) processElements(ctx context.Context, elements []element, analyses []model.SensorAnalysis) (created, escalated int) {
	bySensor := make(map[string]model.SensorAnalysis, len(analyses))
	for _, a := range analyses {
		bySensor[a.SensorID] = a
	}

	fanOut := e.cfg.FanOutMax
	if fanOut <= 0 {
		fanOut = 1
	}
	sem := make(chan struct{}, fanOut)

	type outcome struct {
		ref alert.Ref
		err error
	}
	results := make([]outcome, len(elements))

	var wg sync.WaitGroup
	for i, el := range elements {
		i, el := i, el
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			ref, err := e.processOne(ctx, el, bySensor)
			results[i] = outcome{ref: ref, err: err}
		}()
	}
	wg.Wait()

	l := logger.FromContext(ctx, &e.log)
	for _, o := range results {
		if o.err != nil {
			l.Warn().Err(o.err).Msg("detect: element processing failed, no alert this run")
			continue
		}
		if o.ref.Created {
			created++
		}
		if o.ref.Escalated {
			escalated++
		}
	}
	return created, escalated
}

func (e *Engine) processOne(ctx context.Context, el element, bySensor map[string]model.SensorAnalysis) (alert.Ref, error) {
	detectionType := model.DetectionIndividual
	var sensors []string
	var centerLat, centerLon, compositeRisk, avgRisk, correlation, critical float64
	var zoneSnap *model.HazardZone
	var repID string

	if el.cluster != nil {
		c := el.cluster
		detectionType = model.DetectionCluster
		sensors = c.MemberIDs
		centerLat, centerLon = c.CentroidLat, c.CentroidLon
		avgRisk = c.AvgCompositeRisk
		compositeRisk = c.MaxCompositeRisk
		repID = c.MemberIDs[0] // descending composite_risk order per fusion.buildCluster
		if a, ok := bySensor[repID]; ok {
			critical = a.CriticalMoisturePct
			zoneSnap = a.ZoneContext
			correlation = a.SpatialCorrelation
		}
	} else {
		a := el.sensor
		sensors = []string{a.SensorID}
		centerLat, centerLon = a.Reading.Latitude, a.Reading.Longitude
		compositeRisk = a.CompositeRisk
		avgRisk = a.CompositeRisk
		critical = a.CriticalMoisturePct
		zoneSnap = a.ZoneContext
		correlation = a.SpatialCorrelation
		repID = a.SensorID
	}

	loc := e.resolveLocation(ctx, centerLat, centerLon)

	zoneCtx := zoneSnap
	if zoneCtx == nil {
		zoneCtx = e.lookupZone(ctx, centerLat, centerLon)
	}

	readings := make([]model.Reading, 0, len(sensors))
	for _, id := range sensors {
		if a, ok := bySensor[id]; ok {
			readings = append(readings, a.Reading)
		}
	}

	assessCtx := llm.AssessmentContext{
		DetectionType:       detectionType,
		SensorsAffected:     sensors,
		CompositeRisk:       compositeRisk,
		AvgCompositeRisk:    avgRisk,
		SpatialCorrelation:  correlation,
		CriticalMoisturePct: critical,
		Readings:            readings,
		Zone:                zoneCtx,
		CenterLat:           centerLat,
		CenterLon:           centerLon,
	}

	assessment, err := e.llm.AssessRisk(ctx, assessCtx)
	if err != nil {
		return alert.Ref{}, fmt.Errorf("llm assess_risk for %s: %w", repID, err)
	}

	var narrative string
	if assessment.RiskLevel >= model.RiskOrange {
		narrative, err = e.llm.GenerateNarrative(ctx, assessment, loc)
		if err != nil {
			// narrative is required for Orange/Red per spec §3, but a
			// narrative failure alone shouldn't drop an otherwise-valid
			// alert; proceed with an empty narrative, logged upstream.
			narrative = ""
		}
	}

	return e.alerts.EnsureAlert(ctx, alert.Detection{
		Type:             detectionType,
		RepresentativeID: repID,
		SensorsAffected:  sensors,
		CenterLat:        centerLat,
		CenterLon:        centerLon,
		ResolvedLocation: loc,
		ZoneSnapshot:     zoneCtx,
		Assessment:       assessment,
		Narrative:        narrative,
	})
}

func (e *Engine) resolveLocation(ctx context.Context, lat, lon float64) model.ResolvedLocation {
	if e.geocoder == nil {
		return geocode.Fallback(lat, lon)
	}
	loc, err := e.geocoder.Reverse(ctx, lat, lon)
	if err != nil {
		return geocode.Fallback(lat, lon)
	}
	return loc
}

func (e *Engine) lookupZone(ctx context.Context, lat, lon float64) *model.HazardZone {
	zoneCtx, cancel := context.WithTimeout(ctx, e.cfg.ZoneQueryTimeout)
	defer cancel()
	z, err := e.zones.Nearest(zoneCtx, lat, lon, e.cfg.MaxDistanceKM)
	if err != nil {
		// RagUnavailable (spec §4.3/§7): proceed with no zone context.
		return nil
	}
	return z
}
