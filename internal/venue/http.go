package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"signal_trader/internal/core"
	apperrors "signal_trader/pkg/errors"
	httpclient "signal_trader/pkg/http"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// HTTPVenue adapts a venue execution service that speaks JSON over HTTP
type HTTPVenue struct {
	name    string
	client  *httpclient.Client
	limiter *rate.Limiter
	logger  core.ILogger
}

// HTTPVenueOptions tunes the adapter
type HTTPVenueOptions struct {
	APIKey          string
	Timeout         time.Duration
	OrdersPerSecond float64
	Client          httpclient.Options
}

type priceResponse struct {
	Price decimal.Decimal `json:"price"`
}

type balanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

type orderPayload struct {
	Handle string `json:"handle"`
	core.OrderRequest
}

type closePayload struct {
	Handle string `json:"handle"`
	core.CloseRequest
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPVenue creates an adapter for the service at baseURL
func NewHTTPVenue(name, baseURL string, opts HTTPVenueOptions, logger core.ILogger) *HTTPVenue {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.OrdersPerSecond > 0 {
		limit = rate.Limit(opts.OrdersPerSecond)
	}
	return &HTTPVenue{
		name:    name,
		client:  httpclient.NewClientWithOptions(strings.TrimRight(baseURL, "/"), opts.Timeout, httpclient.BearerSigner{Token: opts.APIKey}, opts.Client),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.WithField("venue", name),
	}
}

func (v *HTTPVenue) Name() string { return v.name }

func statusOf(err error) int {
	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func (v *HTTPVenue) CheckAvailability(ctx context.Context, token string) (core.Availability, error) {
	var m core.Market
	err := v.client.GetJSON(ctx, "/markets/"+url.PathEscape(strings.ToUpper(token)), nil, &m)
	if statusOf(err) == http.StatusNotFound {
		return core.Availability{Available: false, Reason: "market not listed"}, nil
	}
	if err != nil {
		return core.Availability{}, fmt.Errorf("%s: availability check: %w", v.name, err)
	}
	if !m.Active {
		return core.Availability{Available: false, Reason: "market inactive"}, nil
	}
	return core.Availability{Available: true}, nil
}

func (v *HTTPVenue) ListMarkets(ctx context.Context) ([]core.Market, error) {
	var markets []core.Market
	if err := v.client.GetJSON(ctx, "/markets", nil, &markets); err != nil {
		return nil, fmt.Errorf("%s: list markets: %w", v.name, err)
	}
	sortMarkets(markets)
	return markets, nil
}

func (v *HTTPVenue) GetMarkPrice(ctx context.Context, token string) (decimal.Decimal, error) {
	var resp priceResponse
	if err := v.client.GetJSON(ctx, "/price/"+url.PathEscape(strings.ToUpper(token)), nil, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("%s: mark price: %w", v.name, err)
	}
	return resp.Price, nil
}

func (v *HTTPVenue) GetBalance(ctx context.Context, handle string) (decimal.Decimal, error) {
	var resp balanceResponse
	if err := v.client.GetJSON(ctx, "/balance/"+url.PathEscape(handle), nil, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("%s: balance: %w", v.name, err)
	}
	return resp.Balance, nil
}

// rejection converts a 4xx answer into an OrderRejectedError carrying the venue's reason
func rejection(err error) error {
	var apiErr *httpclient.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode < 400 || apiErr.StatusCode >= 500 {
		return nil
	}
	reason := strings.TrimSpace(string(apiErr.Body))
	var body errorResponse
	if json.Unmarshal(apiErr.Body, &body) == nil && body.Error != "" {
		reason = body.Error
	}
	if reason == "" {
		reason = http.StatusText(apiErr.StatusCode)
	}
	return &apperrors.OrderRejectedError{Reason: reason}
}

func (v *HTTPVenue) PlaceOrder(ctx context.Context, handle string, req core.OrderRequest) (*core.Fill, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var fill core.Fill
	err := v.client.PostJSON(ctx, "/orders", orderPayload{Handle: handle, OrderRequest: req}, &fill)
	if err != nil {
		if rej := rejection(err); rej != nil {
			v.logger.Warn("Order rejected", "client_order_id", req.ClientOrderID, "reason", rej.Error())
			return nil, rej
		}
		return nil, fmt.Errorf("%s: place order: %w", v.name, err)
	}
	return &fill, nil
}

func (v *HTTPVenue) ClosePosition(ctx context.Context, handle string, req core.CloseRequest) (*core.CloseResult, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var res core.CloseResult
	if err := v.client.PostJSON(ctx, "/positions/close", closePayload{Handle: handle, CloseRequest: req}, &res); err != nil {
		if rej := rejection(err); rej != nil {
			return nil, rej
		}
		return nil, fmt.Errorf("%s: close position: %w", v.name, err)
	}
	return &res, nil
}
