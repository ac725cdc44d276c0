// Package apperr defines the tagged error kinds surfaced across OpenLEWS
// (spec §7). Callers should use errors.Is against the sentinel Kind values;
// wrapped errors carry context via fmt.Errorf("...: %w", ...).
package apperr

import "errors"

// Kind is a tagged error category. Wrap a Kind with fmt.Errorf("%w: detail", Kind)
// to attach context while keeping errors.Is(err, Kind) working.
type Kind error

var (
	// ValidationError: a Reading fails a shape/range/timestamp rule. Recorded
	// per-item; the batch continues.
	ValidationError Kind = errors.New("validation error")
	// StorageTransient: a put/get was retried internally and still failed.
	// Recorded; batch continues; ingest statistics reflect write_failures.
	StorageTransient Kind = errors.New("storage transient error")
	// StorageFatal: an authoritative rejection (unknown table, schema
	// mismatch). Aborts the run.
	StorageFatal Kind = errors.New("storage fatal error")
	// RagUnavailable: a hazard-zone lookup failed. Enrichment is skipped;
	// the detector falls back to default critical moisture.
	RagUnavailable Kind = errors.New("hazard-zone index unavailable")
	// LLMThrottled: the LLM endpoint is rate-limiting; retryable.
	LLMThrottled Kind = errors.New("llm throttled")
	// LLMTransient: a retryable network/5xx failure from the LLM endpoint.
	LLMTransient Kind = errors.New("llm transient error")
	// LLMBadOutput: the LLM response failed schema validation after retries.
	LLMBadOutput Kind = errors.New("llm bad output")
	// LocationResolveError: reverse-geocoding failed; a fallback label is
	// synthesized and the alert is still produced.
	LocationResolveError Kind = errors.New("location resolve error")
	// PublishError: the event bus or notification channel failed; logged,
	// does not roll back the write it followed.
	PublishError Kind = errors.New("publish error")
	// Deadline: the task's time budget was exhausted; partial completion,
	// the next run retries.
	Deadline Kind = errors.New("deadline exceeded")
)

// ValidationKind enumerates the specific rule a Reading failed (spec §4.4).
type ValidationKind string

const (
	MissingField     ValidationKind = "MissingField"
	OutOfRange       ValidationKind = "OutOfRange"
	InvalidTimestamp ValidationKind = "InvalidTimestamp"
	ShortIdentifier  ValidationKind = "ShortIdentifier"
)

// ValidationFailure is a structured validation error for a single reading.
type ValidationFailure struct {
	Kind   ValidationKind
	Field  string
	Detail string
}

func (v *ValidationFailure) Error() string {
	if v.Field == "" {
		return string(v.Kind) + ": " + v.Detail
	}
	return string(v.Kind) + " on " + v.Field + ": " + v.Detail
}

func (v *ValidationFailure) Unwrap() error { return ValidationError }

// NewValidationFailure builds a *ValidationFailure that also satisfies
// errors.Is(err, ValidationError).
func NewValidationFailure(kind ValidationKind, field, detail string) *ValidationFailure {
	return &ValidationFailure{Kind: kind, Field: field, Detail: detail}
}
