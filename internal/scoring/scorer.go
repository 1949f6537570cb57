// Package scoring turns external token metrics into a signed confidence and a position size
package scoring

import (
	"math"
	"strings"

	"signal_trader/internal/core"
)

// Weights are the composite weights of the five sub-scores
type Weights struct {
	Galaxy       float64
	Sentiment    float64
	SocialChange float64
	Momentum     float64
	Rank         float64
}

// DefaultWeights returns 30/25/20/15/10
func DefaultWeights() Weights {
	return Weights{Galaxy: 0.30, Sentiment: 0.25, SocialChange: 0.20, Momentum: 0.15, Rank: 0.10}
}

const (
	// MaxPositionPercent caps every size the scorer returns
	MaxPositionPercent = 10.0

	// Blend of metric composite and caller-supplied contextual confidence
	metricBlend     = 0.6
	contextualBlend = 0.4
)

// Breakdown holds the per-metric sub-scores
type Breakdown struct {
	Galaxy       float64 `json:"galaxy"`
	Sentiment    float64 `json:"sentiment"`
	SocialChange float64 `json:"social_change"`
	Momentum     float64 `json:"momentum"`
	Rank         float64 `json:"rank"`
}

// Result is the scorer output. A non-tradeable result always has PositionSizePercent == 0.
type Result struct {
	Score               float64   `json:"score"`
	CombinedScore       float64   `json:"combined_score"`
	Tradeable           bool      `json:"tradeable"`
	PositionSizePercent float64   `json:"position_size_percent"`
	Confidence          float64   `json:"confidence"`
	Breakdown           Breakdown `json:"breakdown"`
	Reasoning           string    `json:"reasoning"`
}

// Scorer is stateless and safe for concurrent use
type Scorer struct {
	weights Weights
	curves  Curves
}

// NewScorer creates a scorer with explicit weights and curves
func NewScorer(weights Weights, curves Curves) *Scorer {
	return &Scorer{weights: weights, curves: curves}
}

// DefaultScorer uses the built-in weights and curves
func DefaultScorer() *Scorer {
	return NewScorer(DefaultWeights(), DefaultCurves())
}

// Score evaluates metrics. contextual, when non-nil, is an upstream confidence in [0,1].
func (s *Scorer) Score(m core.ExternalMetrics, contextual *float64) Result {
	b := Breakdown{
		Galaxy:       s.curves.Galaxy.At(m.GalaxyScore),
		Sentiment:    s.curves.Sentiment.At(m.Sentiment),
		SocialChange: s.curves.SocialChange.At(m.SocialVolumeChange),
		Momentum:     s.curves.Momentum.At(m.PriceChange24h),
		Rank:         s.curves.Rank.At(float64(m.AltRank)),
	}

	score := clamp(
		b.Galaxy*s.weights.Galaxy+
			b.Sentiment*s.weights.Sentiment+
			b.SocialChange*s.weights.SocialChange+
			b.Momentum*s.weights.Momentum+
			b.Rank*s.weights.Rank,
		-1, 1)

	res := Result{
		Score:         score,
		CombinedScore: score,
		Tradeable:     score > 0,
		Breakdown:     b,
		Reasoning:     reasoning(b),
	}

	if contextual == nil || math.IsNaN(*contextual) {
		res.PositionSizePercent = clamp(score, 0, 1) * MaxPositionPercent
	} else {
		c := clamp(*contextual, 0, 1)
		res.CombinedScore = clamp(metricBlend*score+contextualBlend*c, -1, 1)
		combined := clamp(res.CombinedScore, 0, 1)
		res.PositionSizePercent = clamp(combined*combined*MaxPositionPercent*SizeMultiplier(c), 0, MaxPositionPercent)
	}
	res.Confidence = math.Abs(res.CombinedScore)

	if !res.Tradeable {
		res.PositionSizePercent = 0
	}
	return res
}

// SizeMultiplier scales the exponential size curve by contextual confidence
func SizeMultiplier(confidence float64) float64 {
	switch {
	case confidence < 0.3:
		return 0.5
	case confidence < 0.5:
		return 0.7
	case confidence < 0.7:
		return 1.0
	case confidence < 0.9:
		return 1.2
	default:
		return 1.5
	}
}

func reasoning(b Breakdown) string {
	var reasons []string

	switch {
	case b.Galaxy > 0.6:
		reasons = append(reasons, "Excellent Galaxy Score")
	case b.Galaxy > 0.2:
		reasons = append(reasons, "Good Galaxy Score")
	case b.Galaxy < -0.4:
		reasons = append(reasons, "Poor Galaxy Score")
	}

	switch {
	case b.Sentiment > 0.5:
		reasons = append(reasons, "Very bullish sentiment")
	case b.Sentiment > 0.2:
		reasons = append(reasons, "Bullish sentiment")
	case b.Sentiment < -0.3:
		reasons = append(reasons, "Bearish sentiment")
	}

	switch {
	case b.SocialChange > 0.6:
		reasons = append(reasons, "Explosive social activity")
	case b.SocialChange > 0.3:
		reasons = append(reasons, "Strong social growth")
	case b.SocialChange < -0.4:
		reasons = append(reasons, "Declining social interest")
	}

	switch {
	case b.Momentum > 0.5:
		reasons = append(reasons, "Strong price momentum")
	case b.Momentum < -0.5:
		reasons = append(reasons, "Negative price action")
	}

	switch {
	case b.Rank > 0.6:
		reasons = append(reasons, "Top-ranked project")
	case b.Rank < -0.4:
		reasons = append(reasons, "Low market rank")
	}

	if len(reasons) == 0 {
		return "Neutral metrics across the board."
	}
	return strings.Join(reasons, ". ") + "."
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
