// Package config defines the OpenLEWS configuration surface (spec §6).
// Every parameter that affects core behaviour is enumerated here and
// supplied at construction time; the core never reads the environment
// directly. FromEnv is the one place that does, for wiring by an external
// front door/scheduler.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full set of tunables consumed by the ingest pipeline,
// detection engine, and RAG query service.
type Config struct {
	// Fusion / detection
	RiskThreshold       float64
	CorrelationRadiusM  float64
	ClusterRadiusM      float64
	MinClusterSize      int
	WindowSeconds       int64
	FanOutMax           int

	// RAG (hazard-zone index) defaults
	MaxDistanceKM   float64
	RadiusKM        float64
	GeohashPrecisionZone int // 4
	GeohashPrecisionFine int // 6

	// LLM
	LLMModelID       string
	LLMMaxTokens     int
	LLMTemperature   float64
	LLMTopP          float64
	LLMMaxAttempts   int
	LLMBackoffBaseS  float64
	LLMBackoffCapS   float64
	LLMCallTimeout   time.Duration

	// Alert lifecycle
	AlertTTLSeconds      int64
	AlertDedupWindowS    int64
	AlertExpireGraceS    int64
	EscalationConfidenceJump float64

	// Feature toggles
	EnableEnrichment   bool
	EnableEventPublish bool

	// Scoring fallback
	HazardDefaults map[string]float64

	// Open question #1 (spec §9): whether safety_factor==0 means "missing"
	// (false, default) or "most dangerous" (true).
	SafetyFactorZeroMeansDangerous bool

	// Timeouts (spec §5)
	ZoneQueryTimeout     time.Duration
	TelemetryPageTimeout time.Duration
	DetectRunDeadline    time.Duration
	IngestDeadline       time.Duration

	// External collaborator wiring: connection details for the adapters
	// spec §6 treats as interfaces, not part of the core's behavioural
	// surface, but still supplied at construction time rather than read
	// ad-hoc from the environment inside a package.
	RedisAddr string

	LLMAPIKey  string
	LLMBaseURL string

	EventBusBrokers   []string
	EventBusTopic     string
	EventBusQueueSize int

	SlackBotToken   string
	SlackChannel    string
	GeocoderBaseURL string
}

// Default soil-type baseline critical-moisture percentages (spec §4.3).
func defaultHazardDefaults() map[string]float64 {
	return map[string]float64{
		"Colluvium": 35,
		"Residual":  45,
		"Fill":      30,
		"Bedrock":   60,
		"default":   40,
	}
}

// Default returns the configuration spec.md's defaults describe.
func Default() Config {
	return Config{
		RiskThreshold:      0.6,
		CorrelationRadiusM: 50,
		ClusterRadiusM:     50,
		MinClusterSize:     3,
		WindowSeconds:      24 * 3600,
		FanOutMax:          8,

		MaxDistanceKM:        5.0,
		RadiusKM:             1.0,
		GeohashPrecisionZone: 4,
		GeohashPrecisionFine: 6,

		LLMModelID:      "claude-sonnet",
		LLMMaxTokens:    1024,
		LLMTemperature:  0.2,
		LLMTopP:         1.0,
		LLMMaxAttempts:  6,
		LLMBackoffBaseS: 0.6,
		LLMBackoffCapS:  6.0,
		LLMCallTimeout:  20 * time.Second,

		AlertTTLSeconds:          30 * 24 * 3600,
		AlertDedupWindowS:        6 * 3600,
		AlertExpireGraceS:        24 * 3600,
		EscalationConfidenceJump: 0.15,

		EnableEnrichment:   true,
		EnableEventPublish: true,

		HazardDefaults: defaultHazardDefaults(),

		SafetyFactorZeroMeansDangerous: false,

		ZoneQueryTimeout:     3 * time.Second,
		TelemetryPageTimeout: 5 * time.Second,
		DetectRunDeadline:    5 * time.Minute,
		IngestDeadline:       60 * time.Second,
	}
}

// FromEnv overlays environment overrides onto Default. It is meant for the
// external wiring layer (front door / scheduler), never called from inside
// the core packages themselves.
func FromEnv() Config {
	c := Default()

	c.RiskThreshold = getfloat("RISK_THRESHOLD", c.RiskThreshold)
	c.CorrelationRadiusM = getfloat("CORRELATION_RADIUS_M", c.CorrelationRadiusM)
	c.ClusterRadiusM = getfloat("CLUSTER_RADIUS_M", c.ClusterRadiusM)
	c.MinClusterSize = getint("MIN_CLUSTER_SIZE", c.MinClusterSize)
	c.WindowSeconds = getint64("WINDOW_SECONDS", c.WindowSeconds)
	c.FanOutMax = getint("FAN_OUT_MAX", c.FanOutMax)

	c.MaxDistanceKM = getfloat("MAX_DISTANCE_KM", c.MaxDistanceKM)
	c.RadiusKM = getfloat("RADIUS_KM", c.RadiusKM)
	c.GeohashPrecisionZone = getint("GEOHASH_PRECISION_ZONE", c.GeohashPrecisionZone)
	c.GeohashPrecisionFine = getint("GEOHASH_PRECISION_FINE", c.GeohashPrecisionFine)

	c.LLMModelID = getenv("LLM_MODEL_ID", c.LLMModelID)
	c.LLMMaxTokens = getint("LLM_MAX_TOKENS", c.LLMMaxTokens)
	c.LLMTemperature = getfloat("LLM_TEMPERATURE", c.LLMTemperature)
	c.LLMTopP = getfloat("LLM_TOP_P", c.LLMTopP)
	c.LLMMaxAttempts = getint("LLM_MAX_ATTEMPTS", c.LLMMaxAttempts)
	c.LLMBackoffBaseS = getfloat("LLM_BACKOFF_BASE_S", c.LLMBackoffBaseS)
	c.LLMBackoffCapS = getfloat("LLM_BACKOFF_CAP_S", c.LLMBackoffCapS)
	c.LLMCallTimeout = getduration("LLM_CALL_TIMEOUT", c.LLMCallTimeout)

	c.AlertTTLSeconds = getint64("ALERT_TTL_SECONDS", c.AlertTTLSeconds)
	c.AlertDedupWindowS = getint64("ALERT_DEDUP_WINDOW_S", c.AlertDedupWindowS)
	c.AlertExpireGraceS = getint64("ALERT_EXPIRE_GRACE_S", c.AlertExpireGraceS)
	c.EscalationConfidenceJump = getfloat("ESCALATION_CONFIDENCE_JUMP", c.EscalationConfidenceJump)

	c.EnableEnrichment = getbool("ENABLE_ENRICHMENT", c.EnableEnrichment)
	c.EnableEventPublish = getbool("ENABLE_EVENT_PUBLISH", c.EnableEventPublish)

	if m := parseFloatMap(getenv("HAZARD_DEFAULTS", "")); len(m) > 0 {
		c.HazardDefaults = m
	}

	c.SafetyFactorZeroMeansDangerous = getbool("SAFETY_FACTOR_ZERO_MEANS_DANGEROUS", c.SafetyFactorZeroMeansDangerous)

	c.ZoneQueryTimeout = getduration("ZONE_QUERY_TIMEOUT", c.ZoneQueryTimeout)
	c.TelemetryPageTimeout = getduration("TELEMETRY_PAGE_TIMEOUT", c.TelemetryPageTimeout)
	c.DetectRunDeadline = getduration("DETECT_RUN_DEADLINE", c.DetectRunDeadline)
	c.IngestDeadline = getduration("INGEST_DEADLINE", c.IngestDeadline)

	c.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")

	c.LLMAPIKey = getenv("ANTHROPIC_API_KEY", c.LLMAPIKey)
	c.LLMBaseURL = getenv("ANTHROPIC_BASE_URL", c.LLMBaseURL)

	c.EventBusBrokers = getstringlist("KAFKA_BROKERS", c.EventBusBrokers)
	c.EventBusTopic = getenv("KAFKA_TOPIC", "openlews.events")
	c.EventBusQueueSize = getint("KAFKA_QUEUE_SIZE", 1024)

	c.SlackBotToken = getenv("SLACK_BOT_TOKEN", c.SlackBotToken)
	c.SlackChannel = getenv("SLACK_CHANNEL", c.SlackChannel)
	c.GeocoderBaseURL = getenv("GEOCODER_BASE_URL", c.GeocoderBaseURL)

	return c
}

// getstringlist parses a comma-separated env var into a slice, returning
// def when unset or empty.
func getstringlist(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		return strings.ToLower(strings.TrimSpace(v)) == "true"
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parseFloatMap parses "soil=pct,soil2=pct2" into a map.
func parseFloatMap(s string) map[string]float64 {
	out := map[string]float64{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
		}
	}
	return out
}
