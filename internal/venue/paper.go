package venue

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"signal_trader/internal/core"
	apperrors "signal_trader/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperMarket seeds one simulated market
type PaperMarket struct {
	Token       string
	Price       decimal.Decimal
	QtyDecimals int32
	MinQty      decimal.Decimal
	Active      bool
}

type paperMarket struct {
	market core.Market
	price  decimal.Decimal
}

// PaperVenue is an in-process venue that fills every valid order at the current mark price
type PaperVenue struct {
	name string

	mu       sync.RWMutex
	markets  map[string]*paperMarket
	balances map[string]decimal.Decimal
	balance  decimal.Decimal
	fills    map[string]*core.Fill
	closes   map[string]*core.CloseResult
}

// NewPaperVenue creates a simulated venue. balance is the default balance of every handle.
func NewPaperVenue(name string, balance decimal.Decimal, markets ...PaperMarket) *PaperVenue {
	p := &PaperVenue{
		name:     name,
		markets:  make(map[string]*paperMarket),
		balances: make(map[string]decimal.Decimal),
		balance:  balance,
		fills:    make(map[string]*core.Fill),
		closes:   make(map[string]*core.CloseResult),
	}
	for _, m := range markets {
		p.AddMarket(m)
	}
	return p
}

func (p *PaperVenue) Name() string { return p.name }

// AddMarket lists or replaces a market
func (p *PaperVenue) AddMarket(m PaperMarket) {
	p.mu.Lock()
	defer p.mu.Unlock()

	token := strings.ToUpper(m.Token)
	p.markets[token] = &paperMarket{
		market: core.Market{
			TokenSymbol: token,
			Active:      m.Active,
			MinQuantity: m.MinQty,
			QtyDecimals: m.QtyDecimals,
		},
		price: m.Price,
	}
}

// SetPrice moves the mark price of a listed market
func (p *PaperVenue) SetPrice(token string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if m, ok := p.markets[strings.ToUpper(token)]; ok {
		m.price = price
	}
}

// SetBalance overrides the balance of one handle
func (p *PaperVenue) SetBalance(handle string, balance decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[handle] = balance
}

func (p *PaperVenue) CheckAvailability(ctx context.Context, token string) (core.Availability, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	m, ok := p.markets[strings.ToUpper(token)]
	if !ok {
		return core.Availability{Available: false, Reason: "market not listed"}, nil
	}
	if !m.market.Active {
		return core.Availability{Available: false, Reason: "market inactive"}, nil
	}
	return core.Availability{Available: true}, nil
}

func (p *PaperVenue) ListMarkets(ctx context.Context) ([]core.Market, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]core.Market, 0, len(p.markets))
	for _, m := range p.markets {
		out = append(out, m.market)
	}
	sortMarkets(out)
	return out, nil
}

func (p *PaperVenue) GetMarkPrice(ctx context.Context, token string) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	m, ok := p.markets[strings.ToUpper(token)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: market %s not listed", p.name, token)
	}
	return m.price, nil
}

func (p *PaperVenue) GetBalance(ctx context.Context, handle string) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if b, ok := p.balances[handle]; ok {
		return b, nil
	}
	return p.balance, nil
}

func (p *PaperVenue) PlaceOrder(ctx context.Context, handle string, req core.OrderRequest) (*core.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if f, ok := p.fills[req.ClientOrderID]; ok && req.ClientOrderID != "" {
		cp := *f
		return &cp, nil
	}

	m, ok := p.markets[strings.ToUpper(req.TokenSymbol)]
	if !ok || !m.market.Active {
		return nil, &apperrors.OrderRejectedError{Reason: fmt.Sprintf("market %s not tradable", req.TokenSymbol)}
	}
	if !req.Quantity.IsPositive() || req.Quantity.LessThan(m.market.MinQuantity) {
		return nil, &apperrors.OrderRejectedError{Reason: fmt.Sprintf("quantity %s below minimum %s", req.Quantity, m.market.MinQuantity)}
	}
	if !m.price.IsPositive() {
		return nil, &apperrors.OrderRejectedError{Reason: "no mark price"}
	}

	fill := &core.Fill{
		FillPrice: m.price,
		FilledQty: req.Quantity,
		TxRef:     "paper-" + uuid.NewString(),
	}
	if req.ClientOrderID != "" {
		p.fills[req.ClientOrderID] = fill
	}
	cp := *fill
	return &cp, nil
}

func (p *PaperVenue) ClosePosition(ctx context.Context, handle string, req core.CloseRequest) (*core.CloseResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r, ok := p.closes[req.PositionID]; ok && req.PositionID != "" {
		cp := *r
		return &cp, nil
	}

	m, ok := p.markets[strings.ToUpper(req.TokenSymbol)]
	if !ok {
		return nil, fmt.Errorf("%s: market %s not listed", p.name, req.TokenSymbol)
	}
	res := &core.CloseResult{ExitPrice: m.price, TxRef: "paper-" + uuid.NewString()}
	if req.PositionID != "" {
		p.closes[req.PositionID] = res
	}
	cp := *res
	return &cp, nil
}
