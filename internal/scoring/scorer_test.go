package scoring

import (
	"math"
	"testing"

	"signal_trader/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurves_AreMonotone(t *testing.T) {
	c := DefaultCurves()
	assert.True(t, c.Galaxy.Monotone(1))
	assert.True(t, c.Sentiment.Monotone(1))
	assert.True(t, c.SocialChange.Monotone(1))
	assert.True(t, c.Momentum.Monotone(1))
	assert.True(t, c.Rank.Monotone(-1))
}

func TestCurve_InterpolatesAndClamps(t *testing.T) {
	assert.InDelta(t, 0.84, GalaxyCurve.At(80), 1e-9)
	assert.InDelta(t, -1, GalaxyCurve.At(-5), 1e-9)
	assert.InDelta(t, 1, GalaxyCurve.At(150), 1e-9)
	assert.InDelta(t, 0.82, RankCurve.At(30), 1e-9)
	assert.InDelta(t, -1, RankCurve.At(5000), 1e-9)
	assert.Equal(t, 0.0, Curve{}.At(3))
	assert.Equal(t, 0.0, GalaxyCurve.At(math.NaN()))
}

func TestScore_NaNMetricScoresNeutral(t *testing.T) {
	m := core.ExternalMetrics{
		GalaxyScore:        math.NaN(),
		Sentiment:          0.75,
		SocialVolumeChange: 60,
		PriceChange24h:     12,
		AltRank:            30,
	}
	nan := math.NaN()
	for _, ctx := range []*float64{nil, &nan} {
		var res Result
		require.NotPanics(t, func() { res = DefaultScorer().Score(m, ctx) })
		assert.Equal(t, 0.0, res.Breakdown.Galaxy)
		assert.False(t, math.IsNaN(res.Score))
		assert.False(t, math.IsNaN(res.PositionSizePercent))
		assert.False(t, math.IsNaN(res.Confidence))
		assert.True(t, res.Tradeable)
		assert.LessOrEqual(t, res.PositionSizePercent, MaxPositionPercent)
	}
}

func TestScore_StrongBullishScenario(t *testing.T) {
	s := DefaultScorer()
	res := s.Score(core.ExternalMetrics{
		Symbol:             "SOL",
		GalaxyScore:        80,
		Sentiment:          0.75,
		SocialVolumeChange: 60,
		PriceChange24h:     12,
		AltRank:            30,
	}, nil)

	assert.True(t, res.Tradeable)
	assert.InDelta(t, 0.75, res.Score, 0.01)
	assert.GreaterOrEqual(t, res.PositionSizePercent, 7.0)
	assert.LessOrEqual(t, res.PositionSizePercent, 10.0)
	assert.InDelta(t, res.Score, res.Confidence, 1e-9)
	assert.Contains(t, res.Reasoning, "Excellent Galaxy Score")
	assert.Contains(t, res.Reasoning, "Very bullish sentiment")
	assert.Contains(t, res.Reasoning, "Explosive social activity")
	assert.Contains(t, res.Reasoning, "Strong price momentum")
	assert.Contains(t, res.Reasoning, "Top-ranked project")
}

func TestScore_BearishIsNotTradeable(t *testing.T) {
	res := DefaultScorer().Score(core.ExternalMetrics{
		GalaxyScore:        20,
		Sentiment:          0.2,
		SocialVolumeChange: -50,
		PriceChange24h:     -15,
		AltRank:            1500,
	}, nil)

	assert.False(t, res.Tradeable)
	assert.Less(t, res.Score, 0.0)
	assert.Equal(t, 0.0, res.PositionSizePercent)
	assert.InDelta(t, -res.Score, res.Confidence, 1e-9)
	assert.Contains(t, res.Reasoning, "Poor Galaxy Score")
	assert.Contains(t, res.Reasoning, "Bearish sentiment")
}

func TestScore_NeutralReasoning(t *testing.T) {
	res := DefaultScorer().Score(core.ExternalMetrics{GalaxyScore: 50, Sentiment: 0.5, AltRank: 400}, nil)
	assert.Equal(t, "Neutral metrics across the board.", res.Reasoning)
	assert.False(t, res.Tradeable)
}

func TestScore_BoundsHoldForExtremeInputs(t *testing.T) {
	s := DefaultScorer()
	inputs := []core.ExternalMetrics{
		{GalaxyScore: 1e9, Sentiment: 1e9, SocialVolumeChange: 1e9, PriceChange24h: 1e9, AltRank: 0},
		{GalaxyScore: -1e9, Sentiment: -1e9, SocialVolumeChange: -1e9, PriceChange24h: -1e9, AltRank: 1 << 30},
		{},
	}
	for _, c := range []float64{0, 0.5, 1, 7} {
		c := c
		for _, m := range inputs {
			for _, ctx := range []*float64{nil, &c} {
				res := s.Score(m, ctx)
				assert.GreaterOrEqual(t, res.Score, -1.0)
				assert.LessOrEqual(t, res.Score, 1.0)
				assert.GreaterOrEqual(t, res.PositionSizePercent, 0.0)
				assert.LessOrEqual(t, res.PositionSizePercent, MaxPositionPercent)
				if !res.Tradeable {
					assert.Equal(t, 0.0, res.PositionSizePercent)
				}
			}
		}
	}
}

func TestScore_MonotoneInEachMetric(t *testing.T) {
	s := DefaultScorer()
	base := core.ExternalMetrics{GalaxyScore: 55, Sentiment: 0.55, SocialVolumeChange: 10, PriceChange24h: 2, AltRank: 300}

	prev := -2.0
	for g := 0.0; g <= 100; g += 5 {
		m := base
		m.GalaxyScore = g
		got := s.Score(m, nil).Score
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}

	prev = 2.0
	for r := 1; r <= 3000; r += 50 {
		m := base
		m.AltRank = r
		got := s.Score(m, nil).Score
		assert.LessOrEqual(t, got, prev)
		prev = got
	}
}

func TestScore_ContextualConfidence(t *testing.T) {
	s := DefaultScorer()
	m := core.ExternalMetrics{GalaxyScore: 80, Sentiment: 0.75, SocialVolumeChange: 60, PriceChange24h: 12, AltRank: 30}

	high := 0.95
	res := s.Score(m, &high)
	require.True(t, res.Tradeable)
	assert.InDelta(t, 0.6*res.Score+0.4*high, res.CombinedScore, 1e-9)
	want := res.CombinedScore * res.CombinedScore * 10 * 1.5
	if want > 10 {
		want = 10
	}
	assert.InDelta(t, want, res.PositionSizePercent, 1e-9)

	low := 0.1
	lowRes := s.Score(m, &low)
	assert.Less(t, lowRes.PositionSizePercent, res.PositionSizePercent)
}

func TestSizeMultiplier(t *testing.T) {
	assert.Equal(t, 0.5, SizeMultiplier(0.1))
	assert.Equal(t, 0.7, SizeMultiplier(0.3))
	assert.Equal(t, 1.0, SizeMultiplier(0.5))
	assert.Equal(t, 1.2, SizeMultiplier(0.7))
	assert.Equal(t, 1.5, SizeMultiplier(0.9))
}
