package registry

import "testing"

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"EUR_USD":  "EURUSD",
		"eur-usd":  "EURUSD",
		"EUR/USD":  "EURUSD",
		"BTC-USDT": "BTCUSDT",
		"AAPL":     "AAPL",
	}
	for in, want := range cases {
		if got := NormalizeSymbol(in); got != want {
			t.Fatalf("NormalizeSymbol(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestRegisterRejectsDuplicateAcrossVenues(t *testing.T) {
	r := New(false)
	if err := r.Register("oanda", "o1", "EUR_USD", 10000, 1.04, 1.07); err != nil {
		t.Fatal(err)
	}
	// 同一品种换个写法、换个场所也要拒绝
	if err := r.Register("okx", "o2", "EUR-USD", 1, 0, 0); err == nil {
		t.Fatal("duplicate symbol should be rejected")
	}
	if !r.IsTaken("eur_usd") {
		t.Fatal("IsTaken should see the position through normalization")
	}
}

func TestAllowDuplicateFlag(t *testing.T) {
	r := New(true)
	_ = r.Register("oanda", "o1", "EUR_USD", 10000, 0, 0)
	if err := r.Register("okx", "o2", "EUR-USD", 1, 0, 0); err != nil {
		t.Fatalf("duplicates allowed by config, got %v", err)
	}
}

func TestUnregister(t *testing.T) {
	r := New(false)
	_ = r.Register("oanda", "o1", "EUR_USD", 10000, 0, 0)
	r.UnregisterOrder("o1")
	if r.IsTaken("EUR_USD") {
		t.Fatal("position should be gone after unregister by order")
	}

	_ = r.Register("oanda", "o2", "USD_JPY", 15000, 0, 0)
	r.UnregisterSymbol("usd-jpy")
	if r.IsTaken("USD_JPY") {
		t.Fatal("position should be gone after unregister by symbol")
	}
	if r.Count() != 0 {
		t.Fatalf("count should be 0, got %d", r.Count())
	}
}

func TestUpdateStopByTradeId(t *testing.T) {
	r := New(false)
	_ = r.Register("oanda", "o1", "EUR_USD", 10000, 1.04, 0)
	r.SetTradeId("o1", "t1")
	r.UpdateStop("t1", 1.0450)

	list := r.List()
	if len(list) != 1 || list[0].StopLoss != 1.0450 {
		t.Fatalf("stop not updated: %+v", list)
	}
	if list[0].TradeId != "t1" {
		t.Fatalf("trade id not set: %+v", list[0])
	}
}
