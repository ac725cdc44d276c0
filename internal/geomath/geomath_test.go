package geomath

import "testing"

func TestHaversineKM_KnownDistance(t *testing.T) {
	// Colombo to Kandy, Sri Lanka: roughly 95km as the crow flies.
	d := HaversineKM(6.9271, 79.8612, 7.2906, 80.6337)
	if d < 85 || d > 105 {
		t.Fatalf("HaversineKM = %v, want roughly 95", d)
	}
}

func TestHaversineM_ZeroForSamePoint(t *testing.T) {
	if d := HaversineM(6.9271, 79.8612, 6.9271, 79.8612); d != 0 {
		t.Fatalf("HaversineM same point = %v, want 0", d)
	}
}

func TestWithinRadius(t *testing.T) {
	lat, lon := 6.9271, 79.8612
	near := 6.9280 // about 100 meters north
	if !WithinRadius(lat, lon, near, lon, 2000) {
		t.Fatalf("expected point within 2km radius")
	}
	far := 8.0
	if WithinRadius(lat, lon, far, lon, 2000) {
		t.Fatalf("expected point far away to be outside 2km radius")
	}
}

func TestBoundingBoxFor_ContainsCenter(t *testing.T) {
	lat, lon := 6.9271, 79.8612
	minLat, maxLat, minLon, maxLon := BoundingBoxFor(lat, lon, 1000)
	if lat < minLat || lat > maxLat || lon < minLon || lon > maxLon {
		t.Fatalf("bounding box %v,%v,%v,%v does not contain center %v,%v", minLat, maxLat, minLon, maxLon, lat, lon)
	}
}

func TestBoundingBoxFor_NearPoleDoesNotDivideByZero(t *testing.T) {
	minLat, maxLat, minLon, maxLon := BoundingBoxFor(89.999, 0, 1000)
	if minLat > maxLat || minLon > maxLon {
		t.Fatalf("degenerate bounding box near pole: %v %v %v %v", minLat, maxLat, minLon, maxLon)
	}
}

func TestOffsetM_NorthIncreasesLatitude(t *testing.T) {
	lat, lon := 6.9271, 79.8612
	newLat, newLon := OffsetM(lat, lon, 1000, 0)
	if newLat <= lat {
		t.Fatalf("expected latitude to increase moving north, got %v -> %v", lat, newLat)
	}
	if abs(newLon-lon) > 0.0001 {
		t.Fatalf("expected longitude unchanged moving due north, got %v -> %v", lon, newLon)
	}
}

func TestOffsetM_EastIncreasesLongitude(t *testing.T) {
	lat, lon := 6.9271, 79.8612
	_, newLon := OffsetM(lat, lon, 0, 1000)
	if newLon <= lon {
		t.Fatalf("expected longitude to increase moving east, got %v -> %v", lon, newLon)
	}
}

func TestBBoxContains_InclusiveBounds(t *testing.T) {
	if !BBoxContains(0, 10, 0, 10, 0, 0) {
		t.Fatalf("expected inclusive containment at box corner")
	}
	if BBoxContains(0, 10, 0, 10, 10.1, 5) {
		t.Fatalf("expected point outside box to be rejected")
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
