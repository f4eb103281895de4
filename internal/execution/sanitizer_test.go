package execution

import (
	"math"
	"testing"
	"tradeflow/internal/model"
)

func TestInstrumentFor(t *testing.T) {
	if inst := InstrumentFor("USD_JPY"); inst.Pip != 0.01 || inst.Precision != 3 {
		t.Fatalf("jpy instrument wrong: %+v", inst)
	}
	if inst := InstrumentFor("EUR_USD"); inst.Pip != 0.0001 || inst.Precision != 5 {
		t.Fatalf("fx instrument wrong: %+v", inst)
	}
	if inst := InstrumentFor("BTC-USD"); inst.Tick != 0.01 {
		t.Fatalf("crypto instrument wrong: %+v", inst)
	}
}

func TestSanitizeClampsBuyStop(t *testing.T) {
	// 止损贴着买价给夹下去，至少隔最小距离
	quote := model.BidAsk{Bid: 1.05000, Ask: 1.05020}
	inst := InstrumentFor("EUR_USD")
	order := &model.SanitizedOrder{Symbol: "EUR_USD", VenueUnits: 10000, StopPrice: 1.04999, TargetPrice: 1.05100}
	Sanitize(order, quote, inst)

	minDist := inst.MinDistance(quote.Spread())
	if order.StopPrice > quote.Bid-minDist+1e-9 {
		t.Fatalf("stop not clamped below bid-minDist: %v", order.StopPrice)
	}
	if order.TargetPrice < quote.Ask+minDist-1e-9 {
		t.Fatalf("target not clamped above ask+minDist: %v", order.TargetPrice)
	}
}

func TestSanitizeClampsSellMirror(t *testing.T) {
	quote := model.BidAsk{Bid: 147.500, Ask: 147.520}
	inst := InstrumentFor("USD_JPY")
	order := &model.SanitizedOrder{Symbol: "USD_JPY", VenueUnits: -15000, StopPrice: 147.521, TargetPrice: 147.400}
	Sanitize(order, quote, inst)

	minDist := inst.MinDistance(quote.Spread())
	if order.StopPrice < quote.Ask+minDist-1e-9 {
		t.Fatalf("sell stop not clamped above ask+minDist: %v", order.StopPrice)
	}
	if order.TargetPrice > quote.Bid-minDist+1e-9 {
		t.Fatalf("sell target not clamped below bid-minDist: %v", order.TargetPrice)
	}
	if order.Precision != 3 {
		t.Fatalf("jpy precision should be 3, got %d", order.Precision)
	}
}

func TestSanitizeKeepsCompliantPrices(t *testing.T) {
	// 已经合规的价格不应被动到
	quote := model.BidAsk{Bid: 1.05000, Ask: 1.05020}
	inst := InstrumentFor("EUR_USD")
	order := &model.SanitizedOrder{Symbol: "EUR_USD", VenueUnits: 10000, StopPrice: 1.04000, TargetPrice: 1.06500}
	Sanitize(order, quote, inst)
	if order.StopPrice != 1.04000 {
		t.Fatalf("compliant stop moved to %v", order.StopPrice)
	}
	if order.TargetPrice != 1.06500 {
		t.Fatalf("compliant target moved to %v", order.TargetPrice)
	}
}

func TestMinDistanceFloor(t *testing.T) {
	inst := InstrumentFor("EUR_USD")
	// 点差很小的时候下限是 10 pip
	if d := inst.MinDistance(0.00001); d != 10*inst.Pip {
		t.Fatalf("expected pip floor, got %v", d)
	}
	// 点差大的时候按 1.2 倍点差
	if d := inst.MinDistance(0.0050); math.Abs(d-0.0060) > 1e-9 {
		t.Fatalf("expected 1.2x spread, got %v", d)
	}
}

func TestDefaultStopDistanceFallback(t *testing.T) {
	// K线不够时退化为固定 50 pip
	inst := InstrumentFor("EUR_USD")
	if d := DefaultStopDistance(nil, inst); d != 50*inst.Pip {
		t.Fatalf("expected 50 pip fallback, got %v", d)
	}
}

func TestDefaultStopDistanceAtr(t *testing.T) {
	inst := InstrumentFor("EUR_USD")
	klines := make([]model.Kline, 30)
	for i := range klines {
		klines[i] = model.Kline{Open: 1.05, High: 1.052, Low: 1.048, Close: 1.051}
	}
	d := DefaultStopDistance(klines, inst)
	// true range 恒为 0.004，ATR 也是，距离 = 1.5 * ATR
	if math.Abs(d-0.006) > 1e-6 {
		t.Fatalf("expected 1.5x atr distance 0.006, got %v", d)
	}
}

func TestDefaultStop(t *testing.T) {
	inst := InstrumentFor("EUR_USD")
	quote := model.BidAsk{Bid: 1.05000, Ask: 1.05020}
	if s := DefaultStop(true, quote, 0.0050, inst); s != 1.04500 {
		t.Fatalf("long default stop wrong: %v", s)
	}
	if s := DefaultStop(false, quote, 0.0050, inst); s != 1.05520 {
		t.Fatalf("short default stop wrong: %v", s)
	}
}

func TestRoundPriceTick(t *testing.T) {
	inst := InstrumentFor("BTC-USD")
	if px := inst.RoundPrice(60000.123); px != 60000.12 {
		t.Fatalf("tick rounding wrong: %v", px)
	}
}
