// Package telemetrystore persists sensor readings and the indexes the
// detection pipeline uses to page a sensor's recent window and to look up
// sensors by geohash cell.
package telemetrystore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openlews/openlews/internal/model"
	"github.com/openlews/openlews/internal/store/keys"
	"github.com/openlews/openlews/internal/store/redisstore"
)

type TelemetryStore interface {
	// Put persists a reading and indexes it by sensor id and geohash cell.
	// ttl governs the reading's own expiry; the sensor/geohash index entries
	// carry no TTL and are never removed, and reads skip stale entries
	// through their score-range filter.
	Put(ctx context.Context, r model.Reading, ttl time.Duration) error

	// WindowSince returns every reading for sensorID with timestamp >= since,
	// newest first.
	WindowSince(ctx context.Context, sensorID string, since int64) ([]model.Reading, error)

	// SensorIDsInCell returns the sensor ids that reported within the given
	// geohash cell at or after since.
	SensorIDsInCell(ctx context.Context, precision int, geohash string, since int64) ([]string, error)

	// LatestPerSensor returns the most recent reading for every sensor that
	// has reported at or after since — the window DetectRun scores.
	LatestPerSensor(ctx context.Context, since int64) ([]model.Reading, error)
}

type redisTelemetryStore struct {
	cli *redisstore.Client
}

func NewRedisStore(cli *redisstore.Client) TelemetryStore {
	return &redisTelemetryStore{cli: cli}
}

func (s *redisTelemetryStore) Put(ctx context.Context, r model.Reading, ttl time.Duration) error {
	key := keys.Reading(r.SensorID, r.Timestamp)
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("telemetrystore encode reading: %w", err)
	}
	if err := s.cli.Set(ctx, key, payload, ttl); err != nil {
		return fmt.Errorf("telemetrystore put reading: %w", err)
	}
	if err := s.cli.Set(ctx, keys.ReadingLatest(r.SensorID), payload, ttl); err != nil {
		return fmt.Errorf("telemetrystore put latest reading: %w", err)
	}
	if err := s.cli.ZAdd(ctx, keys.ReadingSensorIndex(r.SensorID), float64(r.Timestamp), key); err != nil {
		return fmt.Errorf("telemetrystore index reading: %w", err)
	}
	if err := s.cli.ZAdd(ctx, keys.ReadingAllSensorsIndex(), float64(r.Timestamp), r.SensorID); err != nil {
		return fmt.Errorf("telemetrystore index all-sensors: %w", err)
	}
	if r.Geohash != "" {
		cellKey := keys.ReadingGeohashIndex(len(r.Geohash), r.Geohash)
		if err := s.cli.ZAdd(ctx, cellKey, float64(r.Timestamp), r.SensorID); err != nil {
			return fmt.Errorf("telemetrystore index geohash cell: %w", err)
		}
	}
	return nil
}

func (s *redisTelemetryStore) WindowSince(ctx context.Context, sensorID string, since int64) ([]model.Reading, error) {
	readingKeys, err := s.cli.ZRangeByScore(ctx, keys.ReadingSensorIndex(sensorID), float64(since), float64(1<<62))
	if err != nil {
		return nil, fmt.Errorf("telemetrystore window index: %w", err)
	}
	if len(readingKeys) == 0 {
		return nil, nil
	}

	raw, err := s.cli.MGet(ctx, readingKeys)
	if err != nil {
		return nil, fmt.Errorf("telemetrystore window MGET: %w", err)
	}

	out := make([]model.Reading, 0, len(raw))
	for _, k := range readingKeys {
		body, ok := raw[k]
		if !ok {
			continue
		}
		var r model.Reading
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("telemetrystore decode reading %q: %w", k, err)
		}
		out = append(out, r)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *redisTelemetryStore) SensorIDsInCell(ctx context.Context, precision int, geohash string, since int64) ([]string, error) {
	if len(geohash) < precision {
		return nil, nil
	}
	cellKey := keys.ReadingGeohashIndex(precision, geohash[:precision])
	ids, err := s.cli.ZRangeByScore(ctx, cellKey, float64(since), float64(1<<62))
	if err != nil {
		return nil, fmt.Errorf("telemetrystore cell lookup: %w", err)
	}
	return ids, nil
}

func (s *redisTelemetryStore) LatestPerSensor(ctx context.Context, since int64) ([]model.Reading, error) {
	sensorIDs, err := s.cli.ZRangeByScore(ctx, keys.ReadingAllSensorsIndex(), float64(since), float64(1<<62))
	if err != nil {
		return nil, fmt.Errorf("telemetrystore latest-per-sensor index: %w", err)
	}
	if len(sensorIDs) == 0 {
		return nil, nil
	}

	latestKeys := make([]string, len(sensorIDs))
	for i, id := range sensorIDs {
		latestKeys[i] = keys.ReadingLatest(id)
	}
	raw, err := s.cli.MGet(ctx, latestKeys)
	if err != nil {
		return nil, fmt.Errorf("telemetrystore latest-per-sensor MGET: %w", err)
	}

	out := make([]model.Reading, 0, len(sensorIDs))
	for i, id := range sensorIDs {
		body, ok := raw[latestKeys[i]]
		if !ok {
			continue
		}
		var r model.Reading
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("telemetrystore decode latest reading %q: %w", id, err)
		}
		out = append(out, r)
	}
	return out, nil
}
