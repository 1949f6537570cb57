package mock

import (
	"context"
	"fmt"

	"signal_trader/internal/core"
	apperrors "signal_trader/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// Venue is a testify-backed core.IVenue
type Venue struct {
	mock.Mock
	name string
}

func NewVenue(name string) *Venue {
	return &Venue{name: name}
}

func (v *Venue) Name() string { return v.name }

func (v *Venue) CheckAvailability(ctx context.Context, token string) (core.Availability, error) {
	args := v.Called(ctx, token)
	return args.Get(0).(core.Availability), args.Error(1)
}

func (v *Venue) ListMarkets(ctx context.Context) ([]core.Market, error) {
	args := v.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]core.Market), args.Error(1)
}

func (v *Venue) GetMarkPrice(ctx context.Context, token string) (decimal.Decimal, error) {
	args := v.Called(ctx, token)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (v *Venue) GetBalance(ctx context.Context, handle string) (decimal.Decimal, error) {
	args := v.Called(ctx, handle)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (v *Venue) PlaceOrder(ctx context.Context, handle string, req core.OrderRequest) (*core.Fill, error) {
	args := v.Called(ctx, handle, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core.Fill), args.Error(1)
}

func (v *Venue) ClosePosition(ctx context.Context, handle string, req core.CloseRequest) (*core.CloseResult, error) {
	args := v.Called(ctx, handle, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core.CloseResult), args.Error(1)
}

// Registry is a fixed-map core.IVenueRegistry
type Registry map[string]core.IVenue

func (r Registry) Get(name string) (core.IVenue, error) {
	v, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrVenueNotFound, name)
	}
	return v, nil
}

func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	return names
}
