package tradier

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"tradeflow/conf"
	"tradeflow/internal/model"
)

// 假 tradier 服务，只实现用到的几个接口
type fakeAPI struct {
	fillPrice string // 订单查询返回的成交均价，空字符串表示还没回报
	quoteBid  string
	quoteAsk  string
	posQty    string
}

func (f *fakeAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/orders"):
			w.Write([]byte(`{"order":{"id":12345,"status":"ok"}}`))
		case strings.HasSuffix(r.URL.Path, "/orders/12345"):
			if f.fillPrice == "" {
				w.Write([]byte(`{"order":{"status":"pending","avg_fill_price":null}}`))
				return
			}
			w.Write([]byte(`{"order":{"status":"filled","avg_fill_price":` + f.fillPrice + `}}`))
		case strings.HasSuffix(r.URL.Path, "/positions"):
			w.Write([]byte(`{"positions":{"position":{"symbol":"AAPL","quantity":` + f.posQty + `}}}`))
		case strings.Contains(r.URL.Path, "/markets/quotes"):
			w.Write([]byte(`{"quotes":{"quote":{"bid":` + f.quoteBid + `,"ask":` + f.quoteAsk + `,"last":` + f.quoteBid + `}}}`))
		default:
			http.NotFound(w, r)
		}
	}
}

func newTestVenue(t *testing.T, f *fakeAPI) *Venue {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return New(conf.Tradier{Token: "test", AccountID: "ACC", ApiBase: srv.URL})
}

func TestPlaceOrderStoresFillPrice(t *testing.T) {
	f := &fakeAPI{fillPrice: "200.10", quoteBid: "219.95", quoteAsk: "220.05", posQty: "70"}
	v := newTestVenue(t, f)

	ack, err := v.PlaceOrder(context.Background(), &model.SanitizedOrder{Symbol: "AAPL", VenueUnits: 70})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(ack.FillPrice-200.10) > 1e-9 {
		t.Fatalf("fill price not captured: %v", ack.FillPrice)
	}

	positions, err := v.GetOpenPositions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected one position, got %d", len(positions))
	}
	if math.Abs(positions[0].EntryPrice-200.10) > 1e-9 {
		t.Fatalf("entry price lost: %v", positions[0].EntryPrice)
	}
	// 浮盈 = (现价中间价 - 入场价) * 股数
	want := (220.00 - 200.10) * 70
	if math.Abs(positions[0].UnrealizedPnl-want) > 1e-6 {
		t.Fatalf("unrealized pnl %v, want %v", positions[0].UnrealizedPnl, want)
	}
}

func TestPlaceOrderFallsBackToQuote(t *testing.T) {
	// 成交均价还没回报时用盘口兜底，买入取 ask
	f := &fakeAPI{fillPrice: "", quoteBid: "219.95", quoteAsk: "220.05", posQty: "70"}
	v := newTestVenue(t, f)

	ack, err := v.PlaceOrder(context.Background(), &model.SanitizedOrder{Symbol: "AAPL", VenueUnits: 70})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(ack.FillPrice-220.05) > 1e-9 {
		t.Fatalf("expected ask fallback 220.05, got %v", ack.FillPrice)
	}
}

func TestGetOpenPositionsBackfillsEntry(t *testing.T) {
	f := &fakeAPI{fillPrice: "", quoteBid: "219.95", quoteAsk: "220.05", posQty: "70"}
	v := newTestVenue(t, f)

	if _, err := v.PlaceOrder(context.Background(), &model.SanitizedOrder{Symbol: "AAPL", VenueUnits: 70}); err != nil {
		t.Fatal(err)
	}
	// 下单后均价才回报
	v.mu.Lock()
	for _, info := range v.trades {
		info.entry = 0
	}
	v.mu.Unlock()
	f.fillPrice = "200.10"

	positions, err := v.GetOpenPositions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(positions[0].EntryPrice-200.10) > 1e-9 {
		t.Fatalf("entry not backfilled: %v", positions[0].EntryPrice)
	}
}
