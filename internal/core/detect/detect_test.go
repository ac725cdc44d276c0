package detect

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openlews/openlews/internal/alert"
	"github.com/openlews/openlews/internal/config"
	"github.com/openlews/openlews/internal/eventbus"
	"github.com/openlews/openlews/internal/llm"
	"github.com/openlews/openlews/internal/model"
	"github.com/openlews/openlews/internal/notify"
)

type fakeTelemetryStore struct {
	latest []model.Reading
}

func (f *fakeTelemetryStore) Put(context.Context, model.Reading, time.Duration) error { return nil }
func (f *fakeTelemetryStore) WindowSince(context.Context, string, int64) ([]model.Reading, error) {
	return nil, nil
}
func (f *fakeTelemetryStore) SensorIDsInCell(context.Context, int, string, int64) ([]string, error) {
	return nil, nil
}
func (f *fakeTelemetryStore) LatestPerSensor(context.Context, int64) ([]model.Reading, error) {
	return f.latest, nil
}

type fakeZones struct {
	zone *model.HazardZone
}

func (f *fakeZones) Nearest(context.Context, float64, float64, float64) (*model.HazardZone, error) {
	return f.zone, nil
}
func (f *fakeZones) WithinRadius(context.Context, float64, float64, float64) ([]model.HazardZone, map[string]int, error) {
	return nil, nil, nil
}
func (f *fakeZones) CriticalMoisture(z *model.HazardZone) float64 {
	if z == nil {
		return 40
	}
	return 35
}
func (f *fakeZones) FindByGeohash4(context.Context, string) ([]model.HazardZone, error) {
	return nil, nil
}

type fakeLLM struct {
	assessment llm.Assessment
}

func (f *fakeLLM) AssessRisk(context.Context, llm.AssessmentContext) (llm.Assessment, error) {
	return f.assessment, nil
}
func (f *fakeLLM) GenerateNarrative(context.Context, llm.Assessment, model.ResolvedLocation) (string, error) {
	return "Rapid moisture and tilt rate increase observed across three co-located sensors.", nil
}

type fakeGeocoder struct{}

func (fakeGeocoder) Reverse(_ context.Context, lat, lon float64) (model.ResolvedLocation, error) {
	return model.ResolvedLocation{Label: "test location"}, nil
}

type fakeAlertStore struct {
	alerts map[string]model.Alert
	dedup  map[string]string
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{alerts: map[string]model.Alert{}, dedup: map[string]string{}}
}
func (f *fakeAlertStore) Put(_ context.Context, a model.Alert, _ time.Duration) error {
	f.alerts[a.AlertID] = a
	return nil
}
func (f *fakeAlertStore) Get(_ context.Context, id string) (*model.Alert, bool, error) {
	a, ok := f.alerts[id]
	if !ok {
		return nil, false, nil
	}
	return &a, true, nil
}
func (f *fakeAlertStore) ActiveBefore(context.Context, int64) ([]string, error) { return nil, nil }
func (f *fakeAlertStore) RemoveFromActive(context.Context, string) error       { return nil }
func (f *fakeAlertStore) DedupLookup(_ context.Context, key string) (string, bool, error) {
	id, ok := f.dedup[key]
	return id, ok, nil
}
func (f *fakeAlertStore) DedupBind(_ context.Context, key, id string, _ time.Duration) error {
	f.dedup[key] = id
	return nil
}

func reading(id string, lat, lon float64) model.Reading {
	return model.Reading{
		SensorID:        id,
		Timestamp:       time.Now().Unix(),
		Latitude:        lat,
		Longitude:       lon,
		MoisturePercent: 95,
		TiltRateMMHr:    6,
		PorePressureKPa: 15,
		SafetyFactor:    0.95,
	}
}

func newEngine(readings []model.Reading, zone *model.HazardZone, assessment llm.Assessment, alertStore *fakeAlertStore) *Engine {
	cfg := config.Default()
	cfg.DetectRunDeadline = 10 * time.Second
	cfg.TelemetryPageTimeout = 5 * time.Second
	cfg.ZoneQueryTimeout = 5 * time.Second

	mgr := alert.NewManager(alertStore, eventbus.NewNoop(), notify.NewNoop(), alert.Config{
		DedupWindow:          6 * time.Hour,
		TTL:                  30 * 24 * time.Hour,
		ExpireGrace:          24 * time.Hour,
		EscalationConfidence: 0.15,
	}, zerolog.Nop())

	return NewEngine(&fakeTelemetryStore{latest: readings}, &fakeZones{zone: zone}, &fakeLLM{assessment: assessment}, fakeGeocoder{}, mgr, cfg, zerolog.Nop())
}

// S4 — three co-located high-risk sensors should fuse into one cluster and
// produce a single alert with a non-empty narrative.
func TestRun_ClusterProducesOneAlertWithNarrative(t *testing.T) {
	readings := []model.Reading{
		reading("S1", 6.9000, 80.0000),
		reading("S2", 6.90015, 80.0000), // ~17m north
		reading("S3", 6.9000, 80.00015), // ~17m east
	}
	zone := &model.HazardZone{HazardLevel: model.HazardHigh, SoilType: "Colluvium"}
	assessment := llm.Assessment{RiskLevel: model.RiskOrange, Confidence: 0.85, Reasoning: "cluster of high-risk sensors"}

	store := newFakeAlertStore()
	e := newEngine(readings, zone, assessment, store)

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.SensorsAnalyzed != 3 {
		t.Fatalf("SensorsAnalyzed = %d, want 3", res.SensorsAnalyzed)
	}
	if res.ClustersDetected != 1 {
		t.Fatalf("ClustersDetected = %d, want 1", res.ClustersDetected)
	}
	if res.AlertsCreated != 1 {
		t.Fatalf("AlertsCreated = %d, want 1", res.AlertsCreated)
	}

	var found *model.Alert
	for _, a := range store.alerts {
		found = &a
	}
	if found == nil {
		t.Fatalf("expected an alert to be stored")
	}
	if found.DetectionType != model.DetectionCluster {
		t.Fatalf("DetectionType = %v, want cluster", found.DetectionType)
	}
	if len(found.SensorsAffected) != 3 {
		t.Fatalf("SensorsAffected = %v, want 3 members", found.SensorsAffected)
	}
	if found.Narrative == "" {
		t.Fatalf("expected a non-empty narrative for an Orange alert")
	}
}

// S6 — a pre-existing Yellow/0.6 alert for CLUSTER:SENSOR_001 should
// escalate to Orange/0.8, not create a second alert.
func TestRun_EscalatesExistingAlert(t *testing.T) {
	readings := []model.Reading{
		reading("SENSOR_001", 6.9000, 80.0000),
		reading("SENSOR_002", 6.90015, 80.0000),
		reading("SENSOR_003", 6.9000, 80.00015),
	}
	zone := &model.HazardZone{HazardLevel: model.HazardHigh, SoilType: "Colluvium"}
	assessment := llm.Assessment{RiskLevel: model.RiskOrange, Confidence: 0.8, Reasoning: "escalating conditions"}

	store := newFakeAlertStore()
	existing := model.Alert{
		AlertID:    "CLUSTER:SENSOR_001:seed",
		Status:     model.AlertActive,
		RiskLevel:  model.RiskYellow,
		Confidence: 0.6,
		UpdatedAt:  time.Now().Add(-time.Hour),
	}
	store.alerts[existing.AlertID] = existing
	store.dedup["CLUSTER:SENSOR_001"] = existing.AlertID

	e := newEngine(readings, zone, assessment, store)
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.AlertsCreated != 0 || res.AlertsEscalated != 1 {
		t.Fatalf("res = %+v, want AlertsCreated=0 AlertsEscalated=1", res)
	}
	got := store.alerts[existing.AlertID]
	if got.RiskLevel != model.RiskOrange {
		t.Fatalf("RiskLevel = %v, want Orange", got.RiskLevel)
	}
	if len(got.EscalationHistory) != 1 {
		t.Fatalf("EscalationHistory len = %d, want 1", len(got.EscalationHistory))
	}
}

// S5 — an isolated anomaly surrounded by low-risk neighbours is dampened
// below threshold and produces no alert.
func TestRun_IsolatedAnomalySuppressed(t *testing.T) {
	hot := reading("HOT", 6.9000, 80.0000)
	hot.MoisturePercent = 95
	hot.TiltRateMMHr = 10
	hot.PorePressureKPa = 10
	hot.SafetyFactor = 0

	neighbours := []model.Reading{
		{SensorID: "N1", Timestamp: time.Now().Unix(), Latitude: 6.90015, Longitude: 80.0000, MoisturePercent: 20, SafetyFactor: 2.0},
		{SensorID: "N2", Timestamp: time.Now().Unix(), Latitude: 6.9000, Longitude: 80.00015, MoisturePercent: 20, SafetyFactor: 2.0},
		{SensorID: "N3", Timestamp: time.Now().Unix(), Latitude: 6.89985, Longitude: 80.0000, MoisturePercent: 20, SafetyFactor: 2.0},
		{SensorID: "N4", Timestamp: time.Now().Unix(), Latitude: 6.9000, Longitude: 79.99985, MoisturePercent: 20, SafetyFactor: 2.0},
	}
	readings := append([]model.Reading{hot}, neighbours...)

	store := newFakeAlertStore()
	e := newEngine(readings, nil, llm.Assessment{RiskLevel: model.RiskRed, Confidence: 0.9, Reasoning: "should not be called"}, store)

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ClustersDetected != 0 {
		t.Fatalf("ClustersDetected = %d, want 0", res.ClustersDetected)
	}
	if res.AlertsCreated != 0 {
		t.Fatalf("AlertsCreated = %d, want 0 (composite risk dampened below threshold)", res.AlertsCreated)
	}
}
