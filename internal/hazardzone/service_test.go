package hazardzone

import (
	"context"
	"testing"

	"github.com/openlews/openlews/internal/config"
	"github.com/openlews/openlews/internal/geohash"
	"github.com/openlews/openlews/internal/model"
)

type fakeStore struct {
	zones map[string]model.HazardZone
	cells map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{zones: map[string]model.HazardZone{}, cells: map[string][]string{}}
}

func (f *fakeStore) PutZone(_ context.Context, z model.HazardZone) error {
	f.zones[z.ZoneID] = z
	if z.Geohash4 != "" {
		f.cells[cellKey(4, z.Geohash4)] = append(f.cells[cellKey(4, z.Geohash4)], z.ZoneID)
	}
	if z.Geohash6 != "" {
		f.cells[cellKey(6, z.Geohash6)] = append(f.cells[cellKey(6, z.Geohash6)], z.ZoneID)
	}
	return nil
}

func (f *fakeStore) GetZone(_ context.Context, zoneID string) (*model.HazardZone, bool, error) {
	z, ok := f.zones[zoneID]
	if !ok {
		return nil, false, nil
	}
	return &z, true, nil
}

func (f *fakeStore) MGetZones(_ context.Context, ids []string) (map[string]model.HazardZone, error) {
	out := map[string]model.HazardZone{}
	for _, id := range ids {
		if z, ok := f.zones[id]; ok {
			out[id] = z
		}
	}
	return out, nil
}

func (f *fakeStore) ZoneIDsInCell(_ context.Context, precision int, prefix string) ([]string, error) {
	return f.cells[cellKey(precision, prefix)], nil
}

func cellKey(precision int, prefix string) string {
	return prefix + ":" + string(rune('0'+precision))
}

func testConfig() config.Config {
	c := config.Default()
	return c
}

func TestNearest_ReturnsContainingZoneWithZeroDistance(t *testing.T) {
	store := newFakeStore()
	lat, lon := 6.9271, 79.8612
	cell4 := geohash.Encode(lat, lon, 4)

	zone := model.HazardZone{
		ZoneID:      "z1",
		HazardLevel: model.HazardHigh,
		CentroidLat: lat,
		CentroidLon: lon,
		Geohash4:    cell4,
		BoundingBox: model.BoundingBox{MinLat: lat - 0.01, MaxLat: lat + 0.01, MinLon: lon - 0.01, MaxLon: lon + 0.01},
		SoilType:    "Residual",
	}
	_ = store.PutZone(context.Background(), zone)

	svc := NewService(store, testConfig())
	got, err := svc.Nearest(context.Background(), lat, lon, 5.0)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if got == nil || got.ZoneID != "z1" {
		t.Fatalf("Nearest = %+v, want z1", got)
	}
}

func TestNearest_ReturnsNilWhenOutOfRange(t *testing.T) {
	store := newFakeStore()
	lat, lon := 6.9271, 79.8612
	cell4 := geohash.Encode(lat, lon, 4)

	zone := model.HazardZone{
		ZoneID:      "far",
		CentroidLat: lat + 2.0,
		CentroidLon: lon + 2.0,
		Geohash4:    cell4,
		SoilType:    "Fill",
	}
	_ = store.PutZone(context.Background(), zone)

	svc := NewService(store, testConfig())
	got, err := svc.Nearest(context.Background(), lat, lon, 5.0)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if got != nil {
		t.Fatalf("Nearest = %+v, want nil (out of range)", got)
	}
}

func TestWithinRadius_SortsByDistanceAndSummarizes(t *testing.T) {
	store := newFakeStore()
	lat, lon := 6.9271, 79.8612
	cell4 := geohash.Encode(lat, lon, 4)

	near := model.HazardZone{ZoneID: "near", HazardLevel: model.HazardModerate, CentroidLat: lat + 0.001, CentroidLon: lon, Geohash4: cell4}
	far := model.HazardZone{ZoneID: "far", HazardLevel: model.HazardHigh, CentroidLat: lat + 0.005, CentroidLon: lon, Geohash4: cell4}
	_ = store.PutZone(context.Background(), near)
	_ = store.PutZone(context.Background(), far)

	svc := NewService(store, testConfig())
	zones, summary, err := svc.WithinRadius(context.Background(), lat, lon, 2.0)
	if err != nil {
		t.Fatalf("WithinRadius: %v", err)
	}
	if len(zones) != 2 || zones[0].ZoneID != "near" {
		t.Fatalf("expected near first: %+v", zones)
	}
	if summary["Moderate"] != 1 || summary["High"] != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestCriticalMoisture_AdjustsByHazardLevelAndClamps(t *testing.T) {
	svc := NewService(newFakeStore(), testConfig())

	veryHigh := &model.HazardZone{SoilType: "Bedrock", HazardLevel: model.HazardVeryHigh}
	if got := svc.CriticalMoisture(veryHigh); got != 55 {
		t.Fatalf("VeryHigh Bedrock critical moisture = %v, want 55", got)
	}

	low := &model.HazardZone{SoilType: "Fill", HazardLevel: model.HazardLow}
	if got := svc.CriticalMoisture(low); got != 35 {
		t.Fatalf("Low Fill critical moisture = %v, want 35", got)
	}

	if got := svc.CriticalMoisture(nil); got != 40 {
		t.Fatalf("nil zone critical moisture = %v, want default 40", got)
	}
}
