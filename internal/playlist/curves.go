package playlist

import "github.com/cratedig/cratedig/internal/domain"

// Named target curves, sampled at domain.EnergyCurveLength points. The
// engine indexes them by relative playlist position.
var namedCurves = map[string][]float64{
	domain.CurveFlat: {
		0.50, 0.50, 0.50, 0.50, 0.50, 0.50, 0.50, 0.50,
		0.50, 0.50, 0.50, 0.50, 0.50, 0.50, 0.50, 0.50,
	},
	domain.CurveBuildup: {
		0.30, 0.34, 0.38, 0.42, 0.46, 0.50, 0.54, 0.58,
		0.62, 0.66, 0.70, 0.74, 0.78, 0.82, 0.86, 0.90,
	},
	domain.CurvePeakValley: {
		0.50, 0.60, 0.70, 0.80, 0.90, 0.95, 0.90, 0.80,
		0.65, 0.55, 0.50, 0.55, 0.65, 0.75, 0.85, 0.90,
	},
	domain.CurveWave: {
		0.60, 0.78, 0.85, 0.78, 0.60, 0.42, 0.35, 0.42,
		0.60, 0.78, 0.85, 0.78, 0.60, 0.42, 0.35, 0.42,
	},
	domain.CurveCooldown: {
		0.85, 0.81, 0.77, 0.73, 0.69, 0.65, 0.61, 0.57,
		0.53, 0.49, 0.45, 0.41, 0.37, 0.33, 0.29, 0.25,
	},
}

// Curve returns the named target curve, or false for an unknown name.
func Curve(name string) ([]float64, bool) {
	c, ok := namedCurves[name]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(c))
	copy(out, c)
	return out, true
}

// CurveNames lists the known curve descriptors.
func CurveNames() []string {
	return []string{
		domain.CurveFlat,
		domain.CurveBuildup,
		domain.CurvePeakValley,
		domain.CurveWave,
		domain.CurveCooldown,
	}
}

// targetCurve resolves a preset's effective target curve: an explicit
// vector wins over a named descriptor, an absent curve means flat.
func targetCurve(p domain.Preset) []float64 {
	if len(p.TargetEnergyCurve) == domain.EnergyCurveLength {
		return p.TargetEnergyCurve
	}
	if c, ok := Curve(p.EnergyCurve); ok {
		return c
	}
	c, _ := Curve(domain.CurveFlat)
	return c
}
