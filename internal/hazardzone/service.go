// Package hazardzone implements the RAG (hazard-zone) query service: a
// geohash-indexed nearest/within-radius lookup over pre-loaded hazard
// zones, plus the soil-type/hazard-level derivation of a site's critical
// moisture threshold.
package hazardzone

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/openlews/openlews/internal/config"
	"github.com/openlews/openlews/internal/geohash"
	"github.com/openlews/openlews/internal/geomath"
	"github.com/openlews/openlews/internal/model"
	"github.com/openlews/openlews/internal/observability"
	"github.com/openlews/openlews/internal/store/hazardzonestore"
)

// Interface is the RAG query service's public contract (spec §4.3).
type Interface interface {
	Nearest(ctx context.Context, lat, lon, maxKM float64) (*model.HazardZone, error)
	WithinRadius(ctx context.Context, lat, lon, km float64) ([]model.HazardZone, map[string]int, error)
	CriticalMoisture(zone *model.HazardZone) float64
	FindByGeohash4(ctx context.Context, cell string) ([]model.HazardZone, error)
}

type Service struct {
	store  hazardzonestore.HazardZoneStore
	hazard map[string]float64
}

var _ Interface = (*Service)(nil)

func NewService(store hazardzonestore.HazardZoneStore, cfg config.Config) *Service {
	return &Service{
		store:  store,
		hazard: cfg.HazardDefaults,
	}
}

// candidateZones expands cell to its 9-cell neighbourhood (itself + 8
// neighbours) and returns the union of zones indexed under each.
func (s *Service) candidateZones(ctx context.Context, cell string) ([]model.HazardZone, error) {
	start := time.Now()
	cells := append([]string{cell}, geohash.Neighbours8(cell)...)

	idSet := make(map[string]struct{})
	var ids []string
	for _, c := range cells {
		if c == "" {
			continue
		}
		found, err := s.store.ZoneIDsInCell(ctx, len(cell), c)
		if err != nil {
			observability.ObserveZoneQuery("candidate_zones", err, time.Since(start))
			return nil, fmt.Errorf("hazardzone candidate lookup: %w", err)
		}
		for _, id := range found {
			if _, ok := idSet[id]; ok {
				continue
			}
			idSet[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		observability.ObserveZoneQuery("candidate_zones", nil, time.Since(start))
		return nil, nil
	}

	zoneMap, err := s.store.MGetZones(ctx, ids)
	if err != nil {
		observability.ObserveZoneQuery("candidate_zones", err, time.Since(start))
		return nil, fmt.Errorf("hazardzone MGet zones: %w", err)
	}
	out := make([]model.HazardZone, 0, len(zoneMap))
	for _, id := range ids {
		if z, ok := zoneMap[id]; ok {
			out = append(out, z)
		}
	}
	observability.ObserveZoneQuery("candidate_zones", nil, time.Since(start))
	return out, nil
}

// FindByGeohash4 returns zones indexed under the given 4-char geohash cell,
// for the telemetry enricher's candidate lookup.
func (s *Service) FindByGeohash4(ctx context.Context, cell string) ([]model.HazardZone, error) {
	start := time.Now()
	ids, err := s.store.ZoneIDsInCell(ctx, 4, cell)
	if err != nil {
		observability.ObserveZoneQuery("find_by_geohash4", err, time.Since(start))
		return nil, fmt.Errorf("hazardzone find_by_geohash4: %w", err)
	}
	zoneMap, err := s.store.MGetZones(ctx, ids)
	if err != nil {
		observability.ObserveZoneQuery("find_by_geohash4", err, time.Since(start))
		return nil, fmt.Errorf("hazardzone find_by_geohash4 MGet: %w", err)
	}
	out := make([]model.HazardZone, 0, len(zoneMap))
	for _, id := range ids {
		if z, ok := zoneMap[id]; ok {
			out = append(out, z)
		}
	}
	observability.ObserveZoneQuery("find_by_geohash4", nil, time.Since(start))
	return out, nil
}

func zoneDistanceM(z model.HazardZone, lat, lon float64) float64 {
	if z.BoundingBox.Contains(lat, lon) {
		return 0
	}
	return geomath.HaversineM(lat, lon, z.CentroidLat, z.CentroidLon)
}

// Nearest implements spec §4.3's nearest() algorithm: expand to the 9-cell
// geohash4 neighbourhood, rank candidates by distance, break ties by the
// higher hazard level.
func (s *Service) Nearest(ctx context.Context, lat, lon, maxKM float64) (*model.HazardZone, error) {
	cell4 := geohash.Encode(lat, lon, 4)
	candidates, err := s.candidateZones(ctx, cell4)
	if err != nil {
		return nil, err
	}

	maxM := maxKM * 1000
	var best *model.HazardZone
	var bestDist float64
	for i := range candidates {
		z := candidates[i]
		d := zoneDistanceM(z, lat, lon)
		if d > maxM {
			continue
		}
		if best == nil || d < bestDist || (d == bestDist && z.HazardLevel > best.HazardLevel) {
			zCopy := z
			best = &zCopy
			bestDist = d
		}
	}
	return best, nil
}

// WithinRadius implements spec §4.3's within_radius(): all candidates
// within km, ascending by distance, plus a hazard-level histogram.
func (s *Service) WithinRadius(ctx context.Context, lat, lon, km float64) ([]model.HazardZone, map[string]int, error) {
	cell4 := geohash.Encode(lat, lon, 4)
	candidates, err := s.candidateZones(ctx, cell4)
	if err != nil {
		return nil, nil, err
	}

	maxM := km * 1000
	type scored struct {
		zone model.HazardZone
		dist float64
	}
	var survivors []scored
	for _, z := range candidates {
		d := zoneDistanceM(z, lat, lon)
		if d <= maxM {
			survivors = append(survivors, scored{zone: z, dist: d})
		}
	}
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].dist < survivors[j].dist })

	zones := make([]model.HazardZone, len(survivors))
	summary := make(map[string]int)
	for i, s := range survivors {
		zones[i] = s.zone
		summary[s.zone.HazardLevel.String()]++
	}
	return zones, summary, nil
}

// CriticalMoisture derives a site's critical moisture threshold from its
// soil type baseline, adjusted by hazard level and clamped to [20, 80].
func (s *Service) CriticalMoisture(zone *model.HazardZone) float64 {
	if zone == nil {
		return s.baseline("default")
	}
	base := s.baseline(zone.SoilType)
	switch zone.HazardLevel {
	case model.HazardVeryHigh:
		base -= 5
	case model.HazardHigh:
		base -= 2
	case model.HazardLow:
		base += 5
	}
	if base < 20 {
		base = 20
	}
	if base > 80 {
		base = 80
	}
	return base
}

func (s *Service) baseline(soilType string) float64 {
	if v, ok := s.hazard[soilType]; ok {
		return v
	}
	if v, ok := s.hazard["default"]; ok {
		return v
	}
	return 40
}
