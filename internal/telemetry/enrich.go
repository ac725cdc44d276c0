package telemetry

import (
	"context"
	"sync"

	"github.com/openlews/openlews/internal/geohash"
	"github.com/openlews/openlews/internal/model"
)

// ZoneFinder is the subset of hazardzone.Interface the enricher needs.
type ZoneFinder interface {
	FindByGeohash4(ctx context.Context, cell string) ([]model.HazardZone, error)
}

// RunCache coalesces zone-candidate lookups for sensors that land in the
// same geohash4 cell within a single ingest batch. The first lookup for a
// cell populates the cache; later lookups for the same cell are free.
// Concurrent callers may race on the same cell; duplicate work is
// acceptable since the underlying query is idempotent (spec §5).
type RunCache struct {
	mu   sync.Mutex
	byCell map[string][]model.HazardZone
}

func NewRunCache() *RunCache {
	return &RunCache{byCell: make(map[string][]model.HazardZone)}
}

func (c *RunCache) get(cell string) ([]model.HazardZone, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	zs, ok := c.byCell[cell]
	return zs, ok
}

func (c *RunCache) put(cell string, zs []model.HazardZone) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byCell[cell] = zs
}

// Enricher attaches hazard-zone context to a reading, per spec §4.4.
type Enricher struct {
	zones   ZoneFinder
	enabled bool
}

func NewEnricher(zones ZoneFinder, enabled bool) *Enricher {
	return &Enricher{zones: zones, enabled: enabled}
}

// Enrich computes reading.Geohash (6-char, fine precision) if unset,
// queries zone candidates for the reading's geohash4 cell (via cache), and
// attaches the best-matching zone. If enrichment is disabled, the reading
// is returned unmodified; if the zone query fails or no zone matches, it is
// returned without zone context (with Geohash filled in) — enrichment is
// best-effort.
func (e *Enricher) Enrich(ctx context.Context, cache *RunCache, r model.Reading) model.Reading {
	if !e.enabled {
		return r
	}
	if r.Geohash == "" {
		r.Geohash = geohash.Encode(r.Latitude, r.Longitude, 6)
	}
	cell4 := r.Geohash
	if len(cell4) > 4 {
		cell4 = cell4[:4]
	}

	candidates, ok := cache.get(cell4)
	if !ok {
		found, err := e.zones.FindByGeohash4(ctx, cell4)
		if err != nil {
			return r // RAG unavailable: proceed without context (spec §4.3)
		}
		candidates = found
		cache.put(cell4, candidates)
	}

	best := pickZone(candidates, r.Latitude, r.Longitude)
	if best == nil {
		return r
	}
	zoneCopy := *best
	r.ZoneRef = &zoneCopy
	r.Enriched = true
	return r
}

// pickZone keeps only zones whose bbox contains the point; among those it
// picks the highest hazard level, ties broken by closest centroid. If none
// contain the point, it falls back to the closest candidate by centroid.
func pickZone(candidates []model.HazardZone, lat, lon float64) *model.HazardZone {
	if len(candidates) == 0 {
		return nil
	}

	var containing []model.HazardZone
	for _, z := range candidates {
		if z.BoundingBox.Contains(lat, lon) {
			containing = append(containing, z)
		}
	}

	pool := containing
	if len(pool) == 0 {
		pool = candidates
	}

	var best *model.HazardZone
	var bestDist float64
	for i := range pool {
		z := pool[i]
		d := centroidDistSq(z, lat, lon)
		if best == nil {
			zCopy := z
			best = &zCopy
			bestDist = d
			continue
		}
		if len(containing) > 0 {
			if z.HazardLevel > best.HazardLevel || (z.HazardLevel == best.HazardLevel && d < bestDist) {
				zCopy := z
				best = &zCopy
				bestDist = d
			}
		} else if d < bestDist {
			zCopy := z
			best = &zCopy
			bestDist = d
		}
	}
	return best
}

func centroidDistSq(z model.HazardZone, lat, lon float64) float64 {
	dLat := z.CentroidLat - lat
	dLon := z.CentroidLon - lon
	return dLat*dLat + dLon*dLon
}
