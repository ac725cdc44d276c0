// Package alertstore persists alerts, the active-alert index the expiry
// sweep scans, and the dedup gate that suppresses duplicate alert creation
// for the same detection target within the configured window.
package alertstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openlews/openlews/internal/model"
	"github.com/openlews/openlews/internal/store/keys"
	"github.com/openlews/openlews/internal/store/redisstore"
)

// ErrRiskRegression is returned by Put when the write's risk_level ordinal
// is lower than the ordinal already stored for this alert_id — spec §6's
// upsert_alert precondition ("conditional on existing risk_level ordinal
// <= new risk_level's ordinal") rejected it. Callers should treat this as
// "a concurrent writer already established a higher-priority state", not
// as a storage failure.
var ErrRiskRegression = errors.New("alertstore: risk_level regression rejected by monotonic precondition")

type AlertStore interface {
	// Put writes a, conditional on the alert_id's currently stored
	// risk_level ordinal being <= a.RiskLevel's ordinal (or absent). It
	// returns ErrRiskRegression, not a write, if that precondition fails.
	Put(ctx context.Context, a model.Alert, ttl time.Duration) error
	Get(ctx context.Context, alertID string) (*model.Alert, bool, error)

	// ActiveBefore returns the ids of active alerts last updated at or
	// before cutoff, the candidate set for the expiry sweep.
	ActiveBefore(ctx context.Context, cutoff int64) ([]string, error)
	RemoveFromActive(ctx context.Context, alertID string) error

	// DedupLookup returns the alert id already bound to dedupKey, if any
	// and still within its window.
	DedupLookup(ctx context.Context, dedupKey string) (string, bool, error)
	// DedupBind binds dedupKey to alertID for window.
	DedupBind(ctx context.Context, dedupKey, alertID string, window time.Duration) error
}

type redisAlertStore struct {
	cli *redisstore.Client
}

func NewRedisStore(cli *redisstore.Client) AlertStore {
	return &redisAlertStore{cli: cli}
}

func (s *redisAlertStore) Put(ctx context.Context, a model.Alert, ttl time.Duration) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("alertstore encode alert: %w", err)
	}

	newOrdinal := int(a.RiskLevel)
	applied, err := s.cli.Transact(ctx, keys.Alert(a.AlertID), ttl, func(cur []byte) ([]byte, bool) {
		if len(cur) == 0 {
			return payload, true
		}
		var existing model.Alert
		if jerr := json.Unmarshal(cur, &existing); jerr != nil {
			return payload, true // corrupt existing record: overwrite rather than wedge
		}
		if int(existing.RiskLevel) > newOrdinal {
			return nil, false
		}
		return payload, true
	})
	if err != nil {
		return fmt.Errorf("alertstore put alert: %w", err)
	}
	if !applied {
		return ErrRiskRegression
	}

	if a.Status == model.AlertActive || a.Status == model.AlertAcknowledged {
		if err := s.cli.ZAdd(ctx, keys.AlertActiveIndex(), float64(a.UpdatedAt.Unix()), a.AlertID); err != nil {
			return fmt.Errorf("alertstore index active alert: %w", err)
		}
	} else {
		_ = s.RemoveFromActive(ctx, a.AlertID)
	}
	return nil
}

func (s *redisAlertStore) Get(ctx context.Context, alertID string) (*model.Alert, bool, error) {
	key := keys.Alert(alertID)
	raw, err := s.cli.MGet(ctx, []string{key})
	if err != nil {
		return nil, false, fmt.Errorf("alertstore get alert: %w", err)
	}
	body, ok := raw[key]
	if !ok {
		return nil, false, nil
	}
	var a model.Alert
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, false, fmt.Errorf("alertstore decode alert %q: %w", alertID, err)
	}
	return &a, true, nil
}

func (s *redisAlertStore) ActiveBefore(ctx context.Context, cutoff int64) ([]string, error) {
	ids, err := s.cli.ZRangeByScore(ctx, keys.AlertActiveIndex(), 0, float64(cutoff))
	if err != nil {
		return nil, fmt.Errorf("alertstore active sweep: %w", err)
	}
	return ids, nil
}

func (s *redisAlertStore) RemoveFromActive(ctx context.Context, alertID string) error {
	if err := s.cli.ZRem(ctx, keys.AlertActiveIndex(), alertID); err != nil {
		return fmt.Errorf("alertstore remove from active index: %w", err)
	}
	return nil
}

func (s *redisAlertStore) DedupLookup(ctx context.Context, dedupKey string) (string, bool, error) {
	key := keys.AlertDedup(dedupKey)
	raw, err := s.cli.MGet(ctx, []string{key})
	if err != nil {
		return "", false, fmt.Errorf("alertstore dedup lookup: %w", err)
	}
	body, ok := raw[key]
	if !ok {
		return "", false, nil
	}
	return string(body), true, nil
}

func (s *redisAlertStore) DedupBind(ctx context.Context, dedupKey, alertID string, window time.Duration) error {
	if err := s.cli.Set(ctx, keys.AlertDedup(dedupKey), []byte(alertID), window); err != nil {
		return fmt.Errorf("alertstore dedup bind: %w", err)
	}
	return nil
}
