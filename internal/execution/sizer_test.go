package execution

import (
	"math"
	"testing"
	"tradeflow/internal/model"
)

func TestComputeUnitsUsdBase(t *testing.T) {
	// USD_JPY：USD 是基础货币，1 unit 就是 1 USD
	units, err := ComputeUnits("USD_JPY", model.Buy, 15000, 147.5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if units != 15000 {
		t.Fatalf("expected 15000 units, got %v", units)
	}
}

func TestComputeUnitsUsdQuote(t *testing.T) {
	// EUR_USD：USD 计价，数量 = 名义 / 价格，外汇向下取整
	units, err := ComputeUnits("EUR_USD", model.Buy, 15000, 1.05, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := math.Floor(15000 / 1.05)
	if units != want {
		t.Fatalf("expected %v units, got %v", want, units)
	}
}

func TestComputeUnitsCrypto(t *testing.T) {
	// BTC-USD：加密货币不取整
	units, err := ComputeUnits("BTC-USD", model.Buy, 15000, 60000, nil)
	if err != nil {
		t.Fatal(err)
	}
	if units != 0.25 {
		t.Fatalf("expected 0.25, got %v", units)
	}
}

func TestComputeUnitsEquity(t *testing.T) {
	// 股票按股数向下取整
	units, err := ComputeUnits("AAPL", model.Buy, 15000, 212.3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if units != math.Floor(15000/212.3) {
		t.Fatalf("unexpected units %v", units)
	}
}

func TestComputeUnitsSellNegates(t *testing.T) {
	units, err := ComputeUnits("USD_JPY", model.Sell, 15000, 147.5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if units != -15000 {
		t.Fatalf("expected -15000, got %v", units)
	}
}

func TestComputeUnitsCrossWithAuxQuote(t *testing.T) {
	// EUR_GBP：用 EUR 的美元价换算
	units, err := ComputeUnits("EUR_GBP", model.Buy, 15000, 0.85, func(base string) (float64, error) {
		if base != "EUR" {
			t.Fatalf("unexpected base %s", base)
		}
		return 1.05, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if units != math.Floor(15000/1.05) {
		t.Fatalf("unexpected cross units %v", units)
	}
}

func TestComputeUnitsCrossFallback(t *testing.T) {
	// 辅助报价失败，退化为本盘口价格
	units, err := ComputeUnits("EUR_GBP", model.Buy, 15000, 0.85, nil)
	if err != nil {
		t.Fatal(err)
	}
	if units != math.Floor(15000/0.85) {
		t.Fatalf("unexpected fallback units %v", units)
	}
}

func TestComputeUnitsInvalid(t *testing.T) {
	if _, err := ComputeUnits("EUR_USD", model.Buy, 0, 1.05, nil); err == nil {
		t.Fatal("zero notional should fail")
	}
	if _, err := ComputeUnits("AAPL", model.Buy, 1000, 0, nil); err == nil {
		t.Fatal("zero price should fail")
	}
	if _, err := ComputeUnits("AAPL", model.Buy, 100, 500, nil); err == nil {
		t.Fatal("sub-share equity order should fail")
	}
}

func TestSplitPair(t *testing.T) {
	base, quote, ok := SplitPair("EUR_USD")
	if !ok || base != "EUR" || quote != "USD" {
		t.Fatalf("EUR_USD parse failed: %s/%s", base, quote)
	}
	base, quote, ok = SplitPair("BTC-USDT")
	if !ok || base != "BTC" || quote != "USDT" {
		t.Fatalf("BTC-USDT parse failed: %s/%s", base, quote)
	}
	if _, _, ok := SplitPair("AAPL"); ok {
		t.Fatal("AAPL should not parse as pair")
	}
}
