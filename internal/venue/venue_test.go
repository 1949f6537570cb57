package venue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"signal_trader/internal/config"
	"signal_trader/internal/core"
	"signal_trader/internal/mock"
	apperrors "signal_trader/pkg/errors"
	httpclient "signal_trader/pkg/http"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPaper() *PaperVenue {
	return NewPaperVenue("OSTIUM", decimal.NewFromInt(1000),
		PaperMarket{Token: "sol", Price: decimal.NewFromInt(150), QtyDecimals: 2, MinQty: decimal.RequireFromString("0.1"), Active: true},
		PaperMarket{Token: "DOGE", Price: decimal.RequireFromString("0.1"), Active: false},
	)
}

func TestPaperVenue_Availability(t *testing.T) {
	ctx := context.Background()
	p := newPaper()

	a, err := p.CheckAvailability(ctx, "SOL")
	require.NoError(t, err)
	assert.True(t, a.Available)

	a, err = p.CheckAvailability(ctx, "DOGE")
	require.NoError(t, err)
	assert.False(t, a.Available)
	assert.Equal(t, "market inactive", a.Reason)

	a, err = p.CheckAvailability(ctx, "PEPE")
	require.NoError(t, err)
	assert.False(t, a.Available)

	markets, err := p.ListMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, "DOGE", markets[0].TokenSymbol)
}

func TestPaperVenue_OrdersAreIdempotent(t *testing.T) {
	ctx := context.Background()
	p := newPaper()

	req := core.OrderRequest{ClientOrderID: "sig:dep", TokenSymbol: "SOL", Side: core.SideLong, Quantity: decimal.NewFromInt(1)}
	first, err := p.PlaceOrder(ctx, "0xabc", req)
	require.NoError(t, err)
	assert.True(t, first.FillPrice.Equal(decimal.NewFromInt(150)))

	p.SetPrice("SOL", decimal.NewFromInt(160))
	second, err := p.PlaceOrder(ctx, "0xabc", req)
	require.NoError(t, err)
	assert.Equal(t, first.TxRef, second.TxRef)
	assert.True(t, second.FillPrice.Equal(decimal.NewFromInt(150)))

	_, err = p.PlaceOrder(ctx, "0xabc", core.OrderRequest{TokenSymbol: "SOL", Quantity: decimal.RequireFromString("0.01")})
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)
	_, err = p.PlaceOrder(ctx, "0xabc", core.OrderRequest{TokenSymbol: "DOGE", Quantity: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)

	closed, err := p.ClosePosition(ctx, "0xabc", core.CloseRequest{PositionID: "pos", TokenSymbol: "SOL"})
	require.NoError(t, err)
	assert.True(t, closed.ExitPrice.Equal(decimal.NewFromInt(160)))
}

func TestPaperVenue_Balances(t *testing.T) {
	p := newPaper()
	b, err := p.GetBalance(context.Background(), "any")
	require.NoError(t, err)
	assert.True(t, b.Equal(decimal.NewFromInt(1000)))

	p.SetBalance("poor", decimal.NewFromInt(5))
	b, err = p.GetBalance(context.Background(), "poor")
	require.NoError(t, err)
	assert.True(t, b.Equal(decimal.NewFromInt(5)))
}

func newVenueServer(t *testing.T) *HTTPVenue {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /markets", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]core.Market{{TokenSymbol: "SOL", Active: true}, {TokenSymbol: "BTC", Active: true}})
	})
	mux.HandleFunc("GET /markets/{token}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("token") {
		case "SOL":
			_ = json.NewEncoder(w).Encode(core.Market{TokenSymbol: "SOL", Active: true})
		case "OLD":
			_ = json.NewEncoder(w).Encode(core.Market{TokenSymbol: "OLD", Active: false})
		case "BOOM":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	mux.HandleFunc("GET /price/{token}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"price":"150.25"}`))
	})
	mux.HandleFunc("GET /balance/{address}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0xabc", r.PathValue("address"))
		_, _ = w.Write([]byte(`{"balance":"1000"}`))
	})
	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["token_symbol"] == "BAD" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"min size"}`))
			return
		}
		assert.Equal(t, "0xabc", body["handle"])
		assert.Equal(t, "sig:dep", body["client_order_id"])
		_, _ = w.Write([]byte(`{"fill_price":"150.25","filled_qty":"2","tx_ref":"0xfill"}`))
	})
	mux.HandleFunc("POST /positions/close", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"exit_price":"155","tx_ref":"0xclose"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewHTTPVenue("HYPERLIQUID", srv.URL, HTTPVenueOptions{
		Timeout: time.Second,
		Client:  httpclient.Options{MaxRetries: -1},
	}, mock.NewLogger())
}

func TestHTTPVenue_Availability(t *testing.T) {
	ctx := context.Background()
	v := newVenueServer(t)

	a, err := v.CheckAvailability(ctx, "sol")
	require.NoError(t, err)
	assert.True(t, a.Available)

	a, err = v.CheckAvailability(ctx, "PEPE")
	require.NoError(t, err)
	assert.False(t, a.Available)
	assert.Equal(t, "market not listed", a.Reason)

	a, err = v.CheckAvailability(ctx, "OLD")
	require.NoError(t, err)
	assert.False(t, a.Available)

	_, err = v.CheckAvailability(ctx, "BOOM")
	assert.Error(t, err)

	markets, err := v.ListMarkets(ctx)
	require.NoError(t, err)
	assert.Equal(t, "BTC", markets[0].TokenSymbol)
}

func TestHTTPVenue_Trading(t *testing.T) {
	ctx := context.Background()
	v := newVenueServer(t)

	price, err := v.GetMarkPrice(ctx, "SOL")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("150.25")))

	bal, err := v.GetBalance(ctx, "0xabc")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(1000)))

	fill, err := v.PlaceOrder(ctx, "0xabc", core.OrderRequest{ClientOrderID: "sig:dep", TokenSymbol: "SOL",
		Side: core.SideLong, Quantity: decimal.NewFromInt(2)})
	require.NoError(t, err)
	assert.Equal(t, "0xfill", fill.TxRef)

	_, err = v.PlaceOrder(ctx, "0xabc", core.OrderRequest{TokenSymbol: "BAD", Quantity: decimal.NewFromInt(1)})
	var rej *apperrors.OrderRejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "min size", rej.Reason)

	res, err := v.ClosePosition(ctx, "0xabc", core.CloseRequest{PositionID: "p1", TokenSymbol: "SOL"})
	require.NoError(t, err)
	assert.True(t, res.ExitPrice.Equal(decimal.NewFromInt(155)))
}

func TestRegistry_FromConfig(t *testing.T) {
	r, err := FromConfig(map[string]config.VenueConfig{
		"ostium": {Type: "paper", Paper: config.PaperConfig{Balance: 500,
			Markets: []config.PaperMarket{{Token: "SOL", Price: 100, QtyDecimals: 2}}}},
		"HYPERLIQUID": {Type: "http", BaseURL: "http://localhost:1"},
	}, mock.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"HYPERLIQUID", "OSTIUM"}, r.Names())

	v, err := r.Get("ostium")
	require.NoError(t, err)
	a, err := v.CheckAvailability(context.Background(), "SOL")
	require.NoError(t, err)
	assert.True(t, a.Available)

	_, err = r.Get("NOPE")
	assert.ErrorIs(t, err, apperrors.ErrVenueNotFound)

	_, err = FromConfig(map[string]config.VenueConfig{"X": {Type: "carrier-pigeon"}}, mock.NewLogger())
	assert.Error(t, err)
}
