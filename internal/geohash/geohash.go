// Package geohash implements standard base-32 geohash encoding and the
// cell-adjacency helpers the hazard-zone index and telemetry store use to
// bucket points into prefix-indexable cells.
package geohash

import "strings"

const base32Alphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

var base32Index = func() map[byte]int {
	m := make(map[byte]int, len(base32Alphabet))
	for i := 0; i < len(base32Alphabet); i++ {
		m[base32Alphabet[i]] = i
	}
	return m
}()

// Encode returns the base-32 geohash for (lat, lon) truncated to precision
// characters. Precision <= 0 returns an empty string.
func Encode(lat, lon float64, precision int) string {
	if precision <= 0 {
		return ""
	}

	latRange := [2]float64{-90.0, 90.0}
	lonRange := [2]float64{-180.0, 180.0}

	var sb strings.Builder
	sb.Grow(precision)

	bit := 0
	ch := 0
	evenBit := true

	for sb.Len() < precision {
		if evenBit {
			mid := (lonRange[0] + lonRange[1]) / 2
			if lon >= mid {
				ch = ch*2 + 1
				lonRange[0] = mid
			} else {
				ch *= 2
				lonRange[1] = mid
			}
		} else {
			mid := (latRange[0] + latRange[1]) / 2
			if lat >= mid {
				ch = ch*2 + 1
				latRange[0] = mid
			} else {
				ch *= 2
				latRange[1] = mid
			}
		}
		evenBit = !evenBit

		bit++
		if bit == 5 {
			sb.WriteByte(base32Alphabet[ch])
			bit = 0
			ch = 0
		}
	}
	return sb.String()
}

// Bounds returns the bounding box that a geohash string covers.
func Bounds(hash string) (minLat, maxLat, minLon, maxLon float64, ok bool) {
	if hash == "" {
		return 0, 0, 0, 0, false
	}

	latRange := [2]float64{-90.0, 90.0}
	lonRange := [2]float64{-180.0, 180.0}
	evenBit := true

	for i := 0; i < len(hash); i++ {
		idx, found := base32Index[hash[i]]
		if !found {
			return 0, 0, 0, 0, false
		}
		for bit := 4; bit >= 0; bit-- {
			bitVal := (idx >> uint(bit)) & 1
			if evenBit {
				mid := (lonRange[0] + lonRange[1]) / 2
				if bitVal == 1 {
					lonRange[0] = mid
				} else {
					lonRange[1] = mid
				}
			} else {
				mid := (latRange[0] + latRange[1]) / 2
				if bitVal == 1 {
					latRange[0] = mid
				} else {
					latRange[1] = mid
				}
			}
			evenBit = !evenBit
		}
	}
	return latRange[0], latRange[1], lonRange[0], lonRange[1], true
}

// Center returns the centroid of the cell a geohash covers.
func Center(hash string) (lat, lon float64, ok bool) {
	minLat, maxLat, minLon, maxLon, found := Bounds(hash)
	if !found {
		return 0, 0, false
	}
	return (minLat + maxLat) / 2, (minLon + maxLon) / 2, true
}

// Neighbours8 returns the 8 geohashes adjacent to hash (N, NE, E, SE, S, SW,
// W, NW), each at hash's own precision. Invalid input returns nil.
func Neighbours8(hash string) []string {
	minLat, maxLat, minLon, maxLon, ok := Bounds(hash)
	if !ok {
		return nil
	}
	latSpan := maxLat - minLat
	lonSpan := maxLon - minLon
	centerLat := (minLat + maxLat) / 2
	centerLon := (minLon + maxLon) / 2
	precision := len(hash)

	offsets := [8][2]float64{
		{latSpan, 0},           // N
		{latSpan, lonSpan},     // NE
		{0, lonSpan},           // E
		{-latSpan, lonSpan},    // SE
		{-latSpan, 0},          // S
		{-latSpan, -lonSpan},   // SW
		{0, -lonSpan},          // W
		{latSpan, -lonSpan},    // NW
	}

	out := make([]string, 0, 8)
	for _, o := range offsets {
		lat := clampLat(centerLat + o[0])
		lon := wrapLon(centerLon + o[1])
		out = append(out, Encode(lat, lon, precision))
	}
	return out
}

func clampLat(lat float64) float64 {
	if lat > 90 {
		return 90
	}
	if lat < -90 {
		return -90
	}
	return lat
}

func wrapLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
