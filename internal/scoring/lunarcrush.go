package scoring

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"signal_trader/internal/core"
	apperrors "signal_trader/pkg/errors"
	httpclient "signal_trader/pkg/http"

	"golang.org/x/time/rate"
)

const (
	// DefaultLunarCrushURL is the public API base
	DefaultLunarCrushURL = "https://lunarcrush.com/api4"

	defaultGalaxyScore = 0
	defaultAltRank     = 1000
	defaultSentiment   = 0.5
)

// coinResponse mirrors GET /public/coins/{symbol}/v1. Absent fields decode as nil.
type coinResponse struct {
	Data *struct {
		Symbol               string   `json:"symbol"`
		Price                *float64 `json:"price"`
		Volume24h            *float64 `json:"volume_24h"`
		PercentChange24h     *float64 `json:"percent_change_24h"`
		GalaxyScore          *float64 `json:"galaxy_score"`
		AltRank              *int     `json:"alt_rank"`
		Sentiment            *float64 `json:"sentiment"`
		Volatility           *float64 `json:"volatility"`
		SocialVolumeChange24 *float64 `json:"percent_change_24h_social_volume"`
	} `json:"data"`
}

// LunarCrushClient fetches per-token social and market metrics
type LunarCrushClient struct {
	client  *httpclient.Client
	limiter *rate.Limiter
	logger  core.ILogger
}

// LunarCrushOption configures the client
type LunarCrushOption func(*LunarCrushClient)

// WithRequestsPerSecond overrides the default 5 req/s spacing
func WithRequestsPerSecond(rps float64) LunarCrushOption {
	return func(c *LunarCrushClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithHTTPOptions overrides retry and breaker tuning
func WithHTTPOptions(baseURL, apiKey string, timeout time.Duration, opts httpclient.Options) LunarCrushOption {
	return func(c *LunarCrushClient) {
		c.client = httpclient.NewClientWithOptions(baseURL, timeout, httpclient.BearerSigner{Token: apiKey}, opts)
	}
}

// NewLunarCrushClient creates a metrics provider. An empty baseURL uses the public API.
func NewLunarCrushClient(baseURL, apiKey string, timeout time.Duration, logger core.ILogger, opts ...LunarCrushOption) *LunarCrushClient {
	if baseURL == "" {
		baseURL = DefaultLunarCrushURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &LunarCrushClient{
		client:  httpclient.NewClient(strings.TrimRight(baseURL, "/"), timeout, httpclient.BearerSigner{Token: apiKey}),
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		logger:  logger.WithField("component", "lunarcrush"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetExternalMetrics implements core.IMetricsProvider
func (c *LunarCrushClient) GetExternalMetrics(ctx context.Context, token string) (*core.ExternalMetrics, error) {
	symbol := strings.ToUpper(strings.TrimSpace(token))
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty token", apperrors.ErrMetricsUnavailable)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp coinResponse
	path := "/public/coins/" + url.PathEscape(symbol) + "/v1"
	if err := c.client.GetJSON(ctx, path, nil, &resp); err != nil {
		var apiErr *httpclient.APIError
		if errors.As(err, &apiErr) {
			c.logger.Warn("Metrics request rejected", "token", symbol, "status", apiErr.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrMetricsUnavailable, symbol, err)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%w: %s: empty response", apperrors.ErrMetricsUnavailable, symbol)
	}

	d := resp.Data
	m := &core.ExternalMetrics{
		Symbol:             symbol,
		GalaxyScore:        floatOr(d.GalaxyScore, defaultGalaxyScore),
		AltRank:            defaultAltRank,
		SocialVolumeChange: floatOr(d.SocialVolumeChange24, 0),
		Sentiment:          floatOr(d.Sentiment, defaultSentiment),
		PriceChange24h:     floatOr(d.PercentChange24h, 0),
		Volatility:         floatOr(d.Volatility, 0),
		Price:              floatOr(d.Price, 0),
		Volume24h:          floatOr(d.Volume24h, 0),
	}
	if d.AltRank != nil && *d.AltRank > 0 {
		m.AltRank = *d.AltRank
	}
	return m, nil
}

// GetMarketContext implements core.IMarketContextProvider.
// Sentiment is rescaled from [0,1] to [-1,1].
func (c *LunarCrushClient) GetMarketContext(ctx context.Context, token string) (*core.MarketContext, error) {
	m, err := c.GetExternalMetrics(ctx, token)
	if err != nil {
		return nil, err
	}
	return &core.MarketContext{
		TokenSymbol:    m.Symbol,
		Price:          m.Price,
		PriceChange24h: m.PriceChange24h,
		Volume24h:      m.Volume24h,
		Volatility:     m.Volatility,
		Sentiment:      clamp(2*m.Sentiment-1, -1, 1),
	}, nil
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
