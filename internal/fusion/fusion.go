// Package fusion implements spatial correlation and cluster detection over
// the set of SensorAnalyses produced by a single detection run (spec §4.6).
package fusion

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/openlews/openlews/internal/geomath"
	"github.com/openlews/openlews/internal/model"
)

const (
	// CorrelationRadiusM is the neighbourhood radius used to compute a
	// sensor's spatial agreement with nearby readings.
	CorrelationRadiusM = 50.0
	// ClusterRadiusM is the single-linkage distance threshold for grouping
	// high-risk sensors into a cluster.
	ClusterRadiusM = 50.0
	// RiskThreshold is the default composite_risk floor a sensor must meet
	// to be eligible for cluster membership.
	RiskThreshold = 0.6
	// MinClusterSize is the minimum connected-component size to emit as a Cluster.
	MinClusterSize = 3

	numShards = 16
)

// cellIndex buckets sensor positions into coarse grid cells so radius
// queries only scan nearby shards instead of the whole run. The grid cell
// width (~0.001deg, ~110m at the equator) comfortably covers both the
// correlation and cluster radii (50m) with a one-ring neighbour scan.
type cellIndex struct {
	cellOf map[string]int64 // sensorID -> cell key
	byCell map[int64][]int
	lat    []float64
	lon    []float64
	ids    []string
}

const gridDeg = 0.001

func newCellIndex(analyses []model.SensorAnalysis) *cellIndex {
	idx := &cellIndex{
		cellOf: make(map[string]int64, len(analyses)),
		byCell: make(map[int64][]int, len(analyses)),
		lat:    make([]float64, len(analyses)),
		lon:    make([]float64, len(analyses)),
		ids:    make([]string, len(analyses)),
	}
	for i, a := range analyses {
		idx.lat[i] = a.Reading.Latitude
		idx.lon[i] = a.Reading.Longitude
		idx.ids[i] = a.SensorID
		key := cellKey(a.Reading.Latitude, a.Reading.Longitude)
		idx.cellOf[a.SensorID] = key
		idx.byCell[key] = append(idx.byCell[key], i)
	}
	return idx
}

func cellKey(lat, lon float64) int64 {
	gx := int64(lat / gridDeg)
	gy := int64(lon / gridDeg)
	return gx<<32 ^ (gy & 0xffffffff)
}

// candidates returns the indices of every sensor in the center cell and its
// 8 neighbours, a superset of anything within radiusM given gridDeg's size.
func (idx *cellIndex) candidates(lat, lon float64) []int {
	gx := int64(lat / gridDeg)
	gy := int64(lon / gridDeg)
	var out []int
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			key := (gx+dx)<<32 ^ ((gy + dy) & 0xffffffff)
			out = append(out, idx.byCell[key]...)
		}
	}
	return out
}

// shardOf assigns a sensor ID to one of numShards buckets. Correlate uses it
// to split the run across goroutines with no shared mutable state, the same
// hash-sharding approach internal/hotness/expdecay uses to avoid one global
// lock over the whole dataset.
func shardOf(sensorID string) int {
	return int(xxhash.Sum64String(sensorID) % numShards)
}

// Correlate computes SpatialCorrelation and CompositeRisk for every
// analysis in place and returns the updated slice (spec §4.6). Sensors are
// partitioned into shards by ID hash and processed concurrently; each
// goroutine only ever writes the elements in its own shard, so no locking
// is needed around the shared read-only cellIndex.
func Correlate(analyses []model.SensorAnalysis) []model.SensorAnalysis {
	idx := newCellIndex(analyses)

	shards := make([][]int, numShards)
	for i := range analyses {
		s := shardOf(analyses[i].SensorID)
		shards[s] = append(shards[s], i)
	}

	var wg sync.WaitGroup
	for _, members := range shards {
		if len(members) == 0 {
			continue
		}
		members := members
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, i := range members {
				correlateOne(analyses, idx, i)
			}
		}()
	}
	wg.Wait()
	return analyses
}

func correlateOne(analyses []model.SensorAnalysis, idx *cellIndex, i int) {
	a := &analyses[i]
	cands := idx.candidates(a.Reading.Latitude, a.Reading.Longitude)

	var neighbourCount, agreeCount int
	var neighbourIDs []string
	for _, j := range cands {
		if idx.ids[j] == a.SensorID {
			continue
		}
		if !geomath.WithinRadius(a.Reading.Latitude, a.Reading.Longitude, idx.lat[j], idx.lon[j], CorrelationRadiusM) {
			continue
		}
		neighbourCount++
		neighbourIDs = append(neighbourIDs, idx.ids[j])
		if abs(analyses[j].BaseRisk-a.BaseRisk) <= 0.2 {
			agreeCount++
		}
	}

	var correlation float64
	if neighbourCount == 0 {
		correlation = 0.5
	} else {
		correlation = float64(agreeCount) / float64(neighbourCount)
	}
	a.SpatialCorrelation = correlation
	a.NeighbourIDs = neighbourIDs

	m := 1.0
	switch {
	case correlation > 0.6:
		m = 1.3
	case correlation < 0.3:
		m = 0.5
	}
	a.CompositeRisk = clamp01(a.BaseRisk * m)
}

// DetectClusters groups sensors with composite_risk >= threshold into
// connected components (single-linkage within ClusterRadiusM), emitting one
// Cluster per component of size >= MinClusterSize. threshold <= 0 uses
// RiskThreshold.
func DetectClusters(analyses []model.SensorAnalysis, threshold float64) []model.Cluster {
	if threshold <= 0 {
		threshold = RiskThreshold
	}

	var eligible []model.SensorAnalysis
	for _, a := range analyses {
		if a.CompositeRisk >= threshold {
			eligible = append(eligible, a)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	idx := newCellIndex(eligible)
	parent := make([]int, len(eligible))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for i := range eligible {
		for _, j := range idx.candidates(eligible[i].Reading.Latitude, eligible[i].Reading.Longitude) {
			if j <= i {
				continue
			}
			if geomath.WithinRadius(eligible[i].Reading.Latitude, eligible[i].Reading.Longitude, eligible[j].Reading.Latitude, eligible[j].Reading.Longitude, ClusterRadiusM) {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]int)
	for i := range eligible {
		r := find(i)
		groups[r] = append(groups[r], i)
	}

	var clusters []model.Cluster
	for _, members := range groups {
		if len(members) < MinClusterSize {
			continue
		}
		clusters = append(clusters, buildCluster(eligible, members))
	}

	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].MaxCompositeRisk > clusters[j].MaxCompositeRisk
	})
	return clusters
}

func buildCluster(eligible []model.SensorAnalysis, members []int) model.Cluster {
	sort.Slice(members, func(i, j int) bool {
		return eligible[members[i]].CompositeRisk > eligible[members[j]].CompositeRisk
	})

	var sumLat, sumLon, sumRisk, maxRisk float64
	ids := make([]string, 0, len(members))
	for _, m := range members {
		a := eligible[m]
		sumLat += a.Reading.Latitude
		sumLon += a.Reading.Longitude
		sumRisk += a.CompositeRisk
		if a.CompositeRisk > maxRisk {
			maxRisk = a.CompositeRisk
		}
		ids = append(ids, a.SensorID)
	}
	n := float64(len(members))
	return model.Cluster{
		MemberIDs:        ids,
		CentroidLat:      sumLat / n,
		CentroidLon:      sumLon / n,
		AvgCompositeRisk: sumRisk / n,
		MaxCompositeRisk: maxRisk,
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
