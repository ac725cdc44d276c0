// Package llm implements the structured risk-assessment and narrative
// calls against the chat endpoint (spec §4.7): retry/backoff around
// throttling and transient failures, JSON-schema validation of the
// assessment response, and a circuit breaker so a wedged endpoint fails
// fast instead of queuing every detection run behind it.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/openlews/openlews/internal/apperr"
	"github.com/openlews/openlews/internal/logger"
	"github.com/openlews/openlews/internal/model"
	"github.com/openlews/openlews/internal/observability"
	"github.com/openlews/openlews/internal/retry"
)

// maxParseRetries is the number of additional "return only valid JSON"
// nudges the client sends after an unparseable/schema-invalid response,
// per spec §4.7.
const maxParseRetries = 2

// AssessmentContext is the JSON object handed to the model: the
// sensor/cluster summary, derived features, and the hazard-zone snapshot.
// It is built by the caller (the detection engine) from SensorAnalyses,
// Clusters, and HazardZones — the LLM client only serialises it.
type AssessmentContext struct {
	DetectionType       model.DetectionType `json:"detection_type"`
	SensorsAffected     []string            `json:"sensors_affected"`
	CompositeRisk       float64             `json:"composite_risk"`
	AvgCompositeRisk    float64             `json:"avg_composite_risk,omitempty"`
	SpatialCorrelation  float64             `json:"spatial_correlation,omitempty"`
	CriticalMoisturePct float64             `json:"critical_moisture_percent"`
	Readings            []model.Reading     `json:"readings"`
	Zone                *model.HazardZone   `json:"zone,omitempty"`
	CenterLat           float64             `json:"center_lat"`
	CenterLon           float64             `json:"center_lon"`
}

// Assessment is the client's typed rendering of the model's structured
// risk judgement, validated against the spec §4.7 schema.
type Assessment struct {
	RiskLevel         model.RiskLevel
	Confidence        float64
	Reasoning         string
	TriggerFactors    []string
	RecommendedAction string
	TimeToFailure     model.TimeToFailure
	References        []string
}

// wireAssessment is the exact JSON shape the model is instructed to emit.
type wireAssessment struct {
	RiskLevel               string   `json:"risk_level"`
	Confidence              float64  `json:"confidence"`
	Reasoning               string   `json:"reasoning"`
	TriggerFactors          []string `json:"trigger_factors"`
	RecommendedAction       string   `json:"recommended_action"`
	TimeToFailureEstimate   string   `json:"time_to_failure_estimate"`
	References              []string `json:"references"`
}

var allowedRecommendedActions = map[string]bool{
	"Monitor closely":        true,
	"Prepare evacuation":     true,
	"Evacuate immediately":   true,
}

var allowedRiskLevels = map[string]bool{"Yellow": true, "Orange": true, "Red": true}
var allowedTTF = map[string]bool{"hours": true, "days": true, "unknown": true}

const systemPromptAssess = `You are a landslide early-warning risk analyst. Given sensor telemetry and
geological context as a JSON object, respond with ONLY a single JSON object
matching exactly this schema, no prose, no markdown fences:
{"risk_level":"Yellow"|"Orange"|"Red","confidence":0..1,"reasoning":string,
"trigger_factors":[string],"recommended_action":"Monitor closely"|"Prepare evacuation"|"Evacuate immediately",
"time_to_failure_estimate":"hours"|"days"|"unknown","references":[string]}`

const systemPromptNarrative = `You are a landslide early-warning analyst writing a short operator-facing
narrative (2-4 sentences, plain text, no markdown) explaining why this alert
was raised and what is at risk.`

// Config configures the LLM client; every field is part of the
// configuration surface enumerated in spec §6.
type Config struct {
	APIKey      string
	BaseURL     string // empty uses the SDK default
	ModelID     string
	MaxTokens   int
	Temperature float64
	TopP        float64

	MaxAttempts  int
	BackoffBaseS float64
	BackoffCapS  float64
	CallTimeout  time.Duration
}

// Interface is the LLM client's public contract (spec §4.7).
type Interface interface {
	AssessRisk(ctx context.Context, ac AssessmentContext) (Assessment, error)
	GenerateNarrative(ctx context.Context, a Assessment, loc model.ResolvedLocation) (string, error)
}

type Client struct {
	cfg     Config
	sdk     anthropic.Client
	policy  retry.Policy
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

var _ Interface = (*Client)(nil)

// New constructs a Client. cfg.BaseURL overrides the SDK's default
// endpoint, for pointing at a compatible gateway in tests/staging.
func New(cfg Config, log zerolog.Logger) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-client",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.SetLLMBreakerState(int(to))
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("llm: circuit breaker state change")
		},
	})

	return &Client{
		cfg:     cfg,
		sdk:     anthropic.NewClient(opts...),
		policy:  retry.NewPolicy(secondsToDuration(cfg.BackoffBaseS), secondsToDuration(cfg.BackoffCapS), cfg.MaxAttempts),
		breaker: breaker,
		log:     log,
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// AssessRisk sends the structured context and validates the model's
// response against the spec §4.7 schema, retrying with a corrective
// nudge on parse/schema failure up to maxParseRetries times.
func (c *Client) AssessRisk(ctx context.Context, ac AssessmentContext) (Assessment, error) {
	payload, err := json.Marshal(ac)
	if err != nil {
		return Assessment{}, fmt.Errorf("llm: encode assessment context: %w", err)
	}

	userPrompt := string(payload)
	var lastErr error
	for parseAttempt := 0; parseAttempt <= maxParseRetries; parseAttempt++ {
		if parseAttempt > 0 {
			userPrompt = string(payload) + "\n\nYour previous response did not match the required JSON schema. Return only valid JSON, nothing else."
		}

		text, err := c.chat(ctx, systemPromptAssess, userPrompt)
		if err != nil {
			return Assessment{}, err
		}

		a, verr := parseAssessment(text)
		if verr == nil {
			return a, nil
		}
		lastErr = verr
		c.log.Warn().Err(verr).Int("attempt", parseAttempt).Msg("llm: assessment failed schema validation")
	}
	return Assessment{}, fmt.Errorf("%w: %v", apperr.LLMBadOutput, lastErr)
}

// GenerateNarrative is only called for Orange/Red assessments (spec §4.9).
func (c *Client) GenerateNarrative(ctx context.Context, a Assessment, loc model.ResolvedLocation) (string, error) {
	prompt := fmt.Sprintf(
		"risk_level=%s confidence=%.2f reasoning=%q trigger_factors=%v location=%q",
		a.RiskLevel, a.Confidence, a.Reasoning, a.TriggerFactors, loc.Label,
	)
	return c.chat(ctx, systemPromptNarrative, prompt)
}

// chat issues one retried, circuit-broken chat call and returns the
// concatenated text content of the response.
func (c *Client) chat(ctx context.Context, system, user string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	l := logger.FromContext(callCtx, &c.log)

	out, err := c.breaker.Execute(func() (any, error) {
		var text string
		err := retry.Do(callCtx, c.policy, isRetryable, func(attemptCtx context.Context) error {
			start := time.Now()
			resp, err := c.sdk.Messages.New(attemptCtx, anthropic.MessageNewParams{
				Model:       anthropic.Model(c.cfg.ModelID),
				MaxTokens:   int64(c.cfg.MaxTokens),
				Temperature: anthropic.Float(c.cfg.Temperature),
				TopP:        anthropic.Float(c.cfg.TopP),
				System:      []anthropic.TextBlockParam{{Text: system}},
				Messages: []anthropic.MessageParam{
					anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
				},
			})
			outcome := outcomeFor(err)
			observability.ObserveLLMCall(outcome, time.Since(start))
			if outcome == "retrying" {
				observability.IncLLMRetry(outcome)
			}
			if err != nil {
				return classify(err)
			}
			text = extractText(resp)
			return nil
		})
		return text, err
	})
	if err != nil {
		l.Error().Err(err).Msg("llm: chat call failed")
		return "", err
	}
	return out.(string), nil
}

func extractText(resp *anthropic.Message) string {
	if resp == nil {
		return ""
	}
	var sb []byte
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb = append(sb, block.Text...)
		}
	}
	return string(sb)
}

// classify maps an SDK error onto the tagged apperr kinds spec §7 requires.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return fmt.Errorf("%w: %v", apperr.LLMThrottled, err)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %v", apperr.LLMTransient, err)
		default:
			return err // terminal 4xx
		}
	}
	// network error or context deadline: transient
	return fmt.Errorf("%w: %v", apperr.LLMTransient, err)
}

func outcomeFor(err error) string {
	if err == nil {
		return "success"
	}
	return "retrying"
}

func isRetryable(err error) bool {
	return errors.Is(err, apperr.LLMThrottled) || errors.Is(err, apperr.LLMTransient)
}

// parseAssessment unmarshals and schema-validates raw model output.
func parseAssessment(text string) (Assessment, error) {
	var w wireAssessment
	if err := json.Unmarshal([]byte(stripFences(text)), &w); err != nil {
		return Assessment{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if !allowedRiskLevels[w.RiskLevel] {
		return Assessment{}, fmt.Errorf("risk_level %q not in {Yellow,Orange,Red}", w.RiskLevel)
	}
	if w.Confidence < 0 || w.Confidence > 1 {
		return Assessment{}, fmt.Errorf("confidence %v out of [0,1]", w.Confidence)
	}
	if !allowedRecommendedActions[w.RecommendedAction] {
		return Assessment{}, fmt.Errorf("recommended_action %q not recognised", w.RecommendedAction)
	}
	if !allowedTTF[w.TimeToFailureEstimate] {
		return Assessment{}, fmt.Errorf("time_to_failure_estimate %q not recognised", w.TimeToFailureEstimate)
	}
	if w.Reasoning == "" {
		return Assessment{}, errors.New("reasoning is required")
	}

	return Assessment{
		RiskLevel:         model.ParseRiskLevel(w.RiskLevel),
		Confidence:        w.Confidence,
		Reasoning:         w.Reasoning,
		TriggerFactors:    w.TriggerFactors,
		RecommendedAction: w.RecommendedAction,
		TimeToFailure:     model.TimeToFailure(w.TimeToFailureEstimate),
		References:        w.References,
	}, nil
}

// stripFences removes a leading/trailing ```json fence if the model
// ignored the "no markdown" instruction.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		if j := strings.LastIndex(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	return strings.TrimSpace(s)
}
