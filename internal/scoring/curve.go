package scoring

import (
	"math"
	"sort"
)

// Point is one breakpoint of a curve
type Point struct {
	X float64
	Y float64
}

// Curve maps a raw metric to a sub-score by linear interpolation between breakpoints.
// Inputs outside the first/last breakpoint are clamped.
type Curve []Point

// At evaluates the curve at x. NaN scores 0.
func (c Curve) At(x float64) float64 {
	if len(c) == 0 || math.IsNaN(x) {
		return 0
	}
	if x <= c[0].X {
		return c[0].Y
	}
	last := c[len(c)-1]
	if x >= last.X {
		return last.Y
	}
	i := sort.Search(len(c), func(i int) bool { return c[i].X >= x })
	lo, hi := c[i-1], c[i]
	if hi.X == lo.X {
		return hi.Y
	}
	return lo.Y + (x-lo.X)*(hi.Y-lo.Y)/(hi.X-lo.X)
}

// Monotone reports whether the curve never decreases (dir > 0) or never increases (dir < 0)
func (c Curve) Monotone(dir int) bool {
	for i := 1; i < len(c); i++ {
		if c[i].X < c[i-1].X {
			return false
		}
		d := c[i].Y - c[i-1].Y
		if (dir > 0 && d < 0) || (dir < 0 && d > 0) {
			return false
		}
	}
	return true
}

// Tunable breakpoints. These are empirical constants; the y-range of every curve is [-1, 1].
var (
	// GalaxyCurve: 0-100 composite, thresholds at 40/50/60/75
	GalaxyCurve = Curve{{0, -1}, {40, -0.4}, {50, 0}, {60, 0.4}, {75, 0.8}, {100, 1}}

	// SentimentCurve: 0-1 bullish share, thresholds at 0.3/0.4/0.6/0.7
	SentimentCurve = Curve{{0, -1}, {0.3, -0.5}, {0.4, -0.2}, {0.6, 0.2}, {0.7, 0.5}, {1, 1}}

	// SocialChangeCurve: social volume % change, thresholds at -20/0/20/50
	SocialChangeCurve = Curve{{-100, -1}, {-20, -0.4}, {0, 0}, {20, 0.4}, {50, 0.8}, {100, 1}}

	// MomentumCurve: 24h price % change, thresholds at -10/-5/5/10
	MomentumCurve = Curve{{-30, -1}, {-10, -0.6}, {-5, -0.3}, {5, 0.3}, {10, 0.6}, {20, 1}}

	// RankCurve: market rank where 1 is best, thresholds at 50/200/500/1000
	RankCurve = Curve{{0, 1}, {50, 0.7}, {200, 0.3}, {500, -0.2}, {1000, -0.6}, {2000, -1}}
)

// Curves groups the five metric curves
type Curves struct {
	Galaxy       Curve
	Sentiment    Curve
	SocialChange Curve
	Momentum     Curve
	Rank         Curve
}

// DefaultCurves returns the built-in breakpoint tables
func DefaultCurves() Curves {
	return Curves{
		Galaxy:       GalaxyCurve,
		Sentiment:    SentimentCurve,
		SocialChange: SocialChangeCurve,
		Momentum:     MomentumCurve,
		Rank:         RankCurve,
	}
}
