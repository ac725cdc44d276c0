// Package alert implements alert lifecycle management (spec §4.8):
// dedup-key computation, create-or-escalate, and the periodic expiry
// sweep. Escalation is monotonic — risk_level never regresses for a
// given dedup key across overlapping runs.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openlews/openlews/internal/eventbus"
	"github.com/openlews/openlews/internal/llm"
	"github.com/openlews/openlews/internal/logger"
	"github.com/openlews/openlews/internal/model"
	"github.com/openlews/openlews/internal/notify"
	"github.com/openlews/openlews/internal/observability"
	"github.com/openlews/openlews/internal/store/alertstore"
)

// Detection is the alert manager's input: one assessed cluster or
// individual sensor from a single DetectRun (spec §4.9).
type Detection struct {
	Type              model.DetectionType
	RepresentativeID  string // highest-risk member sensor id (cluster) or the sensor id (individual)
	SensorsAffected   []string
	CenterLat         float64
	CenterLon         float64
	ResolvedLocation  model.ResolvedLocation
	ZoneSnapshot      *model.HazardZone
	Assessment        llm.Assessment
	Narrative         string
}

// Ref identifies the alert ensure_alert created or touched, and whether
// this call created, escalated, or left it unchanged.
type Ref struct {
	AlertID   string
	Created   bool
	Escalated bool
}

// DedupKey computes spec §4.8's dedup key for a detection.
func DedupKey(d Detection) string {
	if d.Type == model.DetectionCluster {
		return "CLUSTER:" + d.RepresentativeID
	}
	return "SENSOR:" + d.RepresentativeID
}

// clock is overridable in tests.
type clock func() time.Time

// Manager implements ensure_alert/expire over an AlertStore. The
// in-process monotonic gate (adapted from a Kafka-consumer version-dedupe
// LRU) only logs a warning when it sees a regression and never blocks a
// write; the store's own read-modify-write is what actually enforces
// monotonicity across process restarts.
type Manager struct {
	store             alertstore.AlertStore
	bus               eventbus.Publisher
	notifier          notify.Interface
	dedupWindow       time.Duration
	ttl               time.Duration
	expireGrace       time.Duration
	escalationJumpMin float64
	now               clock
	log               zerolog.Logger

	mu    sync.Mutex
	gate  *lru.Cache[string, int]
}

// Config carries the alert lifecycle's configuration surface (spec §6).
type Config struct {
	DedupWindow          time.Duration
	TTL                  time.Duration
	ExpireGrace          time.Duration
	EscalationConfidence float64
}

func NewManager(store alertstore.AlertStore, bus eventbus.Publisher, notifier notify.Interface, cfg Config, log zerolog.Logger) *Manager {
	gate, _ := lru.New[string, int](4096)
	return &Manager{
		store:             store,
		bus:               bus,
		notifier:          notifier,
		dedupWindow:       cfg.DedupWindow,
		ttl:               cfg.TTL,
		expireGrace:       cfg.ExpireGrace,
		escalationJumpMin: cfg.EscalationConfidence,
		now:               time.Now,
		log:               log,
		gate:              gate,
	}
}

// EnsureAlert implements spec §4.8's ensure_alert: look up the most recent
// active alert bound to this detection's dedup key within the dedup
// window; create one if none exists, escalate if the new assessment
// clears the escalation bar, or touch updated_at only otherwise.
func (m *Manager) EnsureAlert(ctx context.Context, d Detection) (Ref, error) {
	key := DedupKey(d)
	l := logger.FromContext(ctx, &m.log)

	alertID, found, err := m.store.DedupLookup(ctx, key)
	if err != nil {
		return Ref{}, fmt.Errorf("alert: dedup lookup: %w", err)
	}

	if !found {
		return m.create(ctx, key, d)
	}

	existing, ok, err := m.store.Get(ctx, alertID)
	if err != nil {
		return Ref{}, fmt.Errorf("alert: get existing alert %q: %w", alertID, err)
	}
	if !ok || existing.Status != model.AlertActive {
		return m.create(ctx, key, d)
	}

	if !m.shouldEscalate(*existing, d.Assessment) {
		existing.UpdatedAt = m.now()
		if err := m.store.Put(ctx, *existing, m.ttl); err != nil {
			if errors.Is(err, alertstore.ErrRiskRegression) {
				// A concurrent run escalated this alert between our Get and
				// this Put; our stale touch-only write correctly lost.
				l.Warn().Str("alert_id", existing.AlertID).Msg("alert: touch lost race to a concurrent escalation")
				return Ref{AlertID: existing.AlertID}, nil
			}
			return Ref{}, fmt.Errorf("alert: touch updated_at: %w", err)
		}
		observability.IncAlertDedupSkip()
		return Ref{AlertID: existing.AlertID}, nil
	}

	return m.escalate(ctx, *existing, d, l)
}

// shouldEscalate implements spec §4.8's escalation predicate.
func (m *Manager) shouldEscalate(existing model.Alert, next llm.Assessment) bool {
	if next.RiskLevel > existing.RiskLevel {
		return true
	}
	return next.RiskLevel == existing.RiskLevel && next.Confidence >= existing.Confidence+m.escalationJumpMin
}

func (m *Manager) create(ctx context.Context, dedupKey string, d Detection) (Ref, error) {
	now := m.now()
	a := model.Alert{
		AlertID:           newAlertID(dedupKey),
		CreatedAt:         now,
		UpdatedAt:         now,
		Status:            model.AlertActive,
		RiskLevel:         d.Assessment.RiskLevel,
		Confidence:        d.Assessment.Confidence,
		LLMReasoning:      d.Assessment.Reasoning,
		TriggerFactors:    d.Assessment.TriggerFactors,
		RecommendedAction: d.Assessment.RecommendedAction,
		TimeToFailure:     d.Assessment.TimeToFailure,
		Narrative:         d.Narrative,
		DetectionType:     d.Type,
		SensorsAffected:   d.SensorsAffected,
		CenterLat:         d.CenterLat,
		CenterLon:         d.CenterLon,
		ResolvedLocation:  &d.ResolvedLocation,
		ZoneSnapshot:      d.ZoneSnapshot,
		EscalationHistory: nil,
		Expiry:            now.Unix() + int64(m.ttl.Seconds()),
	}

	if err := m.store.Put(ctx, a, m.ttl); err != nil {
		return Ref{}, fmt.Errorf("alert: create: %w", err)
	}
	if err := m.store.DedupBind(ctx, dedupKey, a.AlertID, m.dedupWindow); err != nil {
		return Ref{}, fmt.Errorf("alert: bind dedup key: %w", err)
	}
	m.markGate(dedupKey, a.RiskLevel)
	observability.IncAlertCreated(string(a.DetectionType))
	m.publish(ctx, a, false)
	return Ref{AlertID: a.AlertID, Created: true}, nil
}

func (m *Manager) escalate(ctx context.Context, existing model.Alert, d Detection, l *zerolog.Logger) (Ref, error) {
	now := m.now()
	entry := model.EscalationEntry{
		Timestamp: now,
		FromLevel: existing.RiskLevel,
		ToLevel:   d.Assessment.RiskLevel,
		Reason:    escalationReason(existing, d.Assessment),
	}
	existing.EscalationHistory = append(existing.EscalationHistory, entry)
	existing.RiskLevel = d.Assessment.RiskLevel
	existing.Confidence = d.Assessment.Confidence
	existing.LLMReasoning = d.Assessment.Reasoning
	existing.TriggerFactors = d.Assessment.TriggerFactors
	existing.RecommendedAction = d.Assessment.RecommendedAction
	existing.TimeToFailure = d.Assessment.TimeToFailure
	if d.Narrative != "" {
		existing.Narrative = d.Narrative
	}
	existing.UpdatedAt = now

	if !m.monotonicGateAllows(DedupKey(d), existing.RiskLevel) {
		l.Warn().Str("alert_id", existing.AlertID).Msg("alert: in-process gate observed a regression, deferring to store state")
	}

	if err := m.store.Put(ctx, existing, m.ttl); err != nil {
		if errors.Is(err, alertstore.ErrRiskRegression) {
			// A concurrent run already escalated past this run's level.
			l.Warn().Str("alert_id", existing.AlertID).Msg("alert: escalation lost race to a higher concurrent escalation")
			return Ref{AlertID: existing.AlertID}, nil
		}
		return Ref{}, fmt.Errorf("alert: escalate: %w", err)
	}
	observability.IncAlertEscalated(entry.FromLevel.String(), entry.ToLevel.String())
	m.publish(ctx, existing, true)
	return Ref{AlertID: existing.AlertID, Escalated: true}, nil
}

func escalationReason(existing model.Alert, next llm.Assessment) string {
	if next.RiskLevel > existing.RiskLevel {
		return "risk level increased"
	}
	return "confidence jump at same risk level"
}

// Expire marks alerts whose last update is older than now-grace as
// expired (spec §4.8's periodic expire()).
func (m *Manager) Expire(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-m.expireGrace).Unix()
	ids, err := m.store.ActiveBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("alert: expiry sweep: %w", err)
	}

	n := 0
	for _, id := range ids {
		a, ok, err := m.store.Get(ctx, id)
		if err != nil || !ok {
			continue
		}
		a.Status = model.AlertExpired
		a.UpdatedAt = now
		if err := m.store.Put(ctx, *a, m.ttl); err != nil {
			if errors.Is(err, alertstore.ErrRiskRegression) {
				// A concurrent escalation raised risk_level after our Get;
				// leave the now-escalated alert active rather than expire it.
				m.log.Warn().Str("alert_id", id).Msg("alert: expiry skipped, lost race to a concurrent escalation")
			}
			continue
		}
		observability.IncAlertExpired()
		n++
	}
	return n, nil
}

// publish fires the alert lifecycle event; failures are logged only
// (spec §4.8: publication never rolls back the alert write).
func (m *Manager) publish(ctx context.Context, a model.Alert, escalated bool) {
	if m.bus == nil {
		return
	}
	detailType := "AlertCreated"
	if escalated {
		detailType = "AlertEscalated"
	}
	if err := m.bus.Publish(ctx, "openlews.detector", detailType, a); err != nil {
		m.log.Warn().Err(err).Str("alert_id", a.AlertID).Msg("alert: publish failed")
	}
	if m.notifier != nil && a.RiskLevel >= model.RiskOrange {
		_ = m.notifier.Publish(ctx, fmt.Sprintf("OpenLEWS %s alert: %s", a.RiskLevel, a.AlertID), map[string]any{
			"alert_id":   a.AlertID,
			"risk_level": a.RiskLevel.String(),
			"confidence": a.Confidence,
			"location":   a.ResolvedLocation,
		})
	}
}

// monotonicGateAllows reports whether level is >= the highest ordinal
// this process has previously seen for key; it records level only when
// the key is new or level is higher than the recorded ordinal.
func (m *Manager) monotonicGateAllows(key string, level model.RiskLevel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.gate.Get(key)
	allowed := !ok || int(level) >= last
	if !ok || int(level) > last {
		m.gate.Add(key, int(level))
	}
	return allowed
}

func (m *Manager) markGate(key string, level model.RiskLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate.Add(key, int(level))
}

func newAlertID(dedupKey string) string {
	return fmt.Sprintf("%s:%s", dedupKey, uuid.NewString())
}
