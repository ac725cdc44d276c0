// Package hazardzonestore persists the hazard-zone index: zone records
// plus the geohash-prefix indexes the RAG query service walks for
// nearest/within-radius lookups.
package hazardzonestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openlews/openlews/internal/model"
	"github.com/openlews/openlews/internal/store/keys"
	"github.com/openlews/openlews/internal/store/redisstore"
)

// HazardZoneStore is written to by the index loader (an external,
// out-of-scope job) and read by the RAG query service.
type HazardZoneStore interface {
	PutZone(ctx context.Context, z model.HazardZone) error
	GetZone(ctx context.Context, zoneID string) (*model.HazardZone, bool, error)
	MGetZones(ctx context.Context, zoneIDs []string) (map[string]model.HazardZone, error)
	// ZoneIDsInCell returns the zone ids indexed under the geohash prefix at
	// the given precision (4 for coarse lookups, 6 for fine).
	ZoneIDsInCell(ctx context.Context, precision int, geohashPrefix string) ([]string, error)
}

type redisHazardZoneStore struct {
	cli *redisstore.Client
}

func NewRedisStore(cli *redisstore.Client) HazardZoneStore {
	return &redisHazardZoneStore{cli: cli}
}

func (s *redisHazardZoneStore) PutZone(ctx context.Context, z model.HazardZone) error {
	payload, err := json.Marshal(z)
	if err != nil {
		return fmt.Errorf("hazardzonestore encode zone: %w", err)
	}
	if err := s.cli.Set(ctx, keys.Zone(z.ZoneID), payload, 0); err != nil {
		return fmt.Errorf("hazardzonestore put zone: %w", err)
	}
	if err := s.addToCell(ctx, 4, z.Geohash4, z.ZoneID); err != nil {
		return err
	}
	if err := s.addToCell(ctx, 6, z.Geohash6, z.ZoneID); err != nil {
		return err
	}
	return nil
}

func (s *redisHazardZoneStore) addToCell(ctx context.Context, precision int, geohash, zoneID string) error {
	if geohash == "" {
		return nil
	}
	cellKey := keys.ZoneGeohashIndex(precision, geohash)
	existing, err := s.cli.MGet(ctx, []string{cellKey})
	if err != nil {
		return fmt.Errorf("hazardzonestore read cell %q: %w", cellKey, err)
	}
	ids := decodeIDs(existing[cellKey])
	if !contains(ids, zoneID) {
		ids = append(ids, zoneID)
	}
	body, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("hazardzonestore encode cell ids: %w", err)
	}
	if err := s.cli.Set(ctx, cellKey, body, 0); err != nil {
		return fmt.Errorf("hazardzonestore write cell %q: %w", cellKey, err)
	}
	return nil
}

func (s *redisHazardZoneStore) GetZone(ctx context.Context, zoneID string) (*model.HazardZone, bool, error) {
	key := keys.Zone(zoneID)
	raw, err := s.cli.MGet(ctx, []string{key})
	if err != nil {
		return nil, false, fmt.Errorf("hazardzonestore get zone: %w", err)
	}
	body, ok := raw[key]
	if !ok {
		return nil, false, nil
	}
	var z model.HazardZone
	if err := json.Unmarshal(body, &z); err != nil {
		return nil, false, fmt.Errorf("hazardzonestore decode zone %q: %w", zoneID, err)
	}
	return &z, true, nil
}

func (s *redisHazardZoneStore) MGetZones(ctx context.Context, zoneIDs []string) (map[string]model.HazardZone, error) {
	if len(zoneIDs) == 0 {
		return map[string]model.HazardZone{}, nil
	}
	zoneKeys := make([]string, len(zoneIDs))
	for i, id := range zoneIDs {
		zoneKeys[i] = keys.Zone(id)
	}
	raw, err := s.cli.MGet(ctx, zoneKeys)
	if err != nil {
		return nil, fmt.Errorf("hazardzonestore MGET %d zones: %w", len(zoneKeys), err)
	}
	out := make(map[string]model.HazardZone, len(raw))
	for i, id := range zoneIDs {
		body, ok := raw[zoneKeys[i]]
		if !ok {
			continue
		}
		var z model.HazardZone
		if err := json.Unmarshal(body, &z); err != nil {
			return nil, fmt.Errorf("hazardzonestore decode zone %q: %w", id, err)
		}
		out[id] = z
	}
	return out, nil
}

func (s *redisHazardZoneStore) ZoneIDsInCell(ctx context.Context, precision int, geohashPrefix string) ([]string, error) {
	cellKey := keys.ZoneGeohashIndex(precision, geohashPrefix)
	raw, err := s.cli.MGet(ctx, []string{cellKey})
	if err != nil {
		return nil, fmt.Errorf("hazardzonestore cell lookup %q: %w", cellKey, err)
	}
	return decodeIDs(raw[cellKey]), nil
}

func decodeIDs(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}
	return ids
}

func contains(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
