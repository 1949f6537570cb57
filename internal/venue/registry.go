// Package venue provides the venue adapters and the registry that maps names to them
package venue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"signal_trader/internal/config"
	"signal_trader/internal/core"
	apperrors "signal_trader/pkg/errors"
	httpclient "signal_trader/pkg/http"
	"signal_trader/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Registry maps venue names to adapters
type Registry struct {
	venues map[string]core.IVenue
}

// NewRegistry creates a registry over the given venues
func NewRegistry(venues ...core.IVenue) *Registry {
	r := &Registry{venues: make(map[string]core.IVenue)}
	for _, v := range venues {
		r.Register(v)
	}
	return r
}

// FromConfig builds instrumented adapters for every configured venue
func FromConfig(cfgs map[string]config.VenueConfig, logger core.ILogger) (*Registry, error) {
	r := NewRegistry()
	for name, cfg := range cfgs {
		name = strings.ToUpper(name)
		var v core.IVenue
		switch cfg.Type {
		case "http":
			v = NewHTTPVenue(name, cfg.BaseURL, HTTPVenueOptions{
				APIKey:          string(cfg.APIKey),
				Timeout:         cfg.Timeout,
				OrdersPerSecond: cfg.OrdersPerSecond,
				Client:          httpclient.Options{MaxRetries: cfg.MaxRetries},
			}, logger)
		case "paper", "":
			markets := make([]PaperMarket, 0, len(cfg.Paper.Markets))
			for _, m := range cfg.Paper.Markets {
				markets = append(markets, PaperMarket{
					Token:       m.Token,
					Price:       decimal.NewFromFloat(m.Price),
					QtyDecimals: m.QtyDecimals,
					MinQty:      decimal.NewFromFloat(m.MinQty),
					Active:      !m.Inactive,
				})
			}
			v = NewPaperVenue(name, decimal.NewFromFloat(cfg.Paper.Balance), markets...)
		default:
			return nil, fmt.Errorf("venue %s: unsupported type %q", name, cfg.Type)
		}
		r.Register(Instrument(v))
		logger.Info("Venue registered", "venue", name, "type", cfg.Type)
	}
	return r, nil
}

// Register adds or replaces a venue
func (r *Registry) Register(v core.IVenue) {
	r.venues[strings.ToUpper(v.Name())] = v
}

func (r *Registry) Get(name string) (core.IVenue, error) {
	v, ok := r.venues[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrVenueNotFound, name)
	}
	return v, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.venues))
	for n := range r.venues {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func sortMarkets(m []core.Market) {
	sort.Slice(m, func(i, j int) bool { return m[i].TokenSymbol < m[j].TokenSymbol })
}

// instrumented records latency and errors of every venue call
type instrumented struct {
	core.IVenue
	metrics *telemetry.MetricsHolder
}

// Instrument wraps a venue so each call is recorded in the pipeline metrics
func Instrument(v core.IVenue) core.IVenue {
	return &instrumented{IVenue: v, metrics: telemetry.GetGlobalMetrics()}
}

func (i *instrumented) record(ctx context.Context, op string, start time.Time, err error) {
	i.metrics.RecordVenueCall(ctx, i.Name(), op, time.Since(start), err)
}

func (i *instrumented) CheckAvailability(ctx context.Context, token string) (a core.Availability, err error) {
	defer func(start time.Time) { i.record(ctx, "check_availability", start, err) }(time.Now())
	return i.IVenue.CheckAvailability(ctx, token)
}

func (i *instrumented) ListMarkets(ctx context.Context) (m []core.Market, err error) {
	defer func(start time.Time) { i.record(ctx, "list_markets", start, err) }(time.Now())
	return i.IVenue.ListMarkets(ctx)
}

func (i *instrumented) GetMarkPrice(ctx context.Context, token string) (p decimal.Decimal, err error) {
	defer func(start time.Time) { i.record(ctx, "mark_price", start, err) }(time.Now())
	return i.IVenue.GetMarkPrice(ctx, token)
}

func (i *instrumented) GetBalance(ctx context.Context, handle string) (b decimal.Decimal, err error) {
	defer func(start time.Time) { i.record(ctx, "balance", start, err) }(time.Now())
	return i.IVenue.GetBalance(ctx, handle)
}

func (i *instrumented) PlaceOrder(ctx context.Context, handle string, req core.OrderRequest) (f *core.Fill, err error) {
	defer func(start time.Time) { i.record(ctx, "place_order", start, err) }(time.Now())
	return i.IVenue.PlaceOrder(ctx, handle, req)
}

func (i *instrumented) ClosePosition(ctx context.Context, handle string, req core.CloseRequest) (r *core.CloseResult, err error) {
	defer func(start time.Time) { i.record(ctx, "close_position", start, err) }(time.Now())
	return i.IVenue.ClosePosition(ctx, handle, req)
}
