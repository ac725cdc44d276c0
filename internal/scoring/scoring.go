// Package scoring implements the per-sensor risk scorer (spec §4.5): a
// pure function of a reading and its hazard-zone snapshot, no I/O, no
// clock.
package scoring

import "github.com/openlews/openlews/internal/model"

const (
	weightMoisture    = 0.35
	weightTiltVel     = 0.25
	weightVibration   = 0.15
	weightPorePress   = 0.15
	weightSafetyFactor = 0.10
)

// Scorer computes the weighted composite base risk for a single reading.
// SafetyFactorZeroMeansDangerous is spec §9's open-question escape hatch:
// by default (false) an sf of exactly 0 is treated as a missing reading
// and contributes 0 to the score; set true to instead treat it as the
// most-dangerous reading (score 1.0), for operators who later disambiguate
// their sensor firmware's zero-reporting behavior.
type Scorer struct {
	SafetyFactorZeroMeansDangerous bool
}

// Score returns the base risk in [0,1] for r, given the critical moisture
// threshold derived from its zone context (defaulting to 40 when
// criticalMoisturePct <= 0).
func (s Scorer) Score(r model.Reading, criticalMoisturePct float64) float64 {
	critical := criticalMoisturePct
	if critical <= 0 {
		critical = 40
	}

	moisture := moistureScore(r.MoisturePercent, critical)
	tilt := tiltVelocityScore(r.TiltRateMMHr)
	vibration := vibrationScore(r.VibrationCount, r.VibrationBaseline)
	porePressure := porePressureScore(r.PorePressureKPa)
	safety := safetyFactorScore(r.SafetyFactor, s.SafetyFactorZeroMeansDangerous)
	amplifier := rainfallAmplifier(r.Rainfall24hMM)

	composite := (weightMoisture*moisture +
		weightTiltVel*tilt +
		weightVibration*vibration +
		weightPorePress*porePressure +
		weightSafetyFactor*safety) * amplifier

	return clamp01(composite)
}

func moistureScore(moisturePercent, critical float64) float64 {
	lo := 0.6 * critical
	return linear(moisturePercent, lo, critical)
}

func tiltVelocityScore(tiltRateMMHr float64) float64 {
	return piecewise(tiltRateMMHr, []point{{1, 0}, {5, 0.5}, {10, 1.0}})
}

func vibrationScore(count float64, baseline *float64) float64 {
	b := 1.0
	if baseline != nil && *baseline > 1 {
		b = *baseline
	}
	ratio := count / b
	return piecewise(ratio, []point{{2, 0}, {5, 0.5}, {10, 1.0}})
}

func porePressureScore(kpa float64) float64 {
	return piecewise(kpa, []point{{0, 0}, {5, 0.5}, {10, 1.0}})
}

func safetyFactorScore(sf float64, zeroMeansDangerous bool) float64 {
	if sf == 0 {
		if zeroMeansDangerous {
			return 1
		}
		return 0 // missing reading, not a measured factor of safety of zero
	}
	// descending: higher sf -> lower score
	return piecewise(-sf, []point{{-1.5, 0}, {-1.2, 0.5}, {-1.0, 1.0}})
}

func rainfallAmplifier(rainfall24h *float64) float64 {
	if rainfall24h == nil {
		return 1.0
	}
	mm := *rainfall24h
	switch {
	case mm >= 200:
		return 1.5
	case mm >= 150:
		return 1.3
	case mm >= 100:
		return 1.2
	case mm >= 75:
		return 1.1
	default:
		return 1.0
	}
}

type point struct {
	x, y float64
}

// piecewise evaluates a monotonic piecewise-linear function through pts
// (sorted ascending by x), clamping outside the range.
func piecewise(x float64, pts []point) float64 {
	if x <= pts[0].x {
		return pts[0].y
	}
	last := pts[len(pts)-1]
	if x >= last.x {
		return last.y
	}
	for i := 0; i < len(pts)-1; i++ {
		a, b := pts[i], pts[i+1]
		if x >= a.x && x <= b.x {
			if b.x == a.x {
				return a.y
			}
			t := (x - a.x) / (b.x - a.x)
			return a.y + t*(b.y-a.y)
		}
	}
	return last.y
}

func linear(x, lo, hi float64) float64 {
	if hi <= lo {
		if x >= hi {
			return 1
		}
		return 0
	}
	return clamp01((x - lo) / (hi - lo))
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
