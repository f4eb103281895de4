package admission

import (
	"strings"
	"testing"
	"time"
	"tradeflow/conf"
	"tradeflow/internal/model"
)

func baseConfig() conf.ExecutionConfig {
	return conf.ExecutionConfig{
		ExecutionEnabled:   true,
		MinNotionalUsd:     1000,
		MinExpectedPnlUsd:  10,
		MinRiskReward:      1.5,
		MinNetProfitUsd:    5,
		MinRiskUsd:         20,
		MaxFundingRate:     0.0008,
		TimeframeWhitelist: []string{"15m", "1h", "4h"},
	}
}

func baseIntent() model.OrderIntent {
	return model.OrderIntent{
		Symbol:      "EUR_USD",
		Direction:   "buy",
		NotionalUsd: 15000,
		Strategy:    "s1",
		SL:          1.0400,
		TP:          1.0700,
		Timeframe:   "1h",
	}
}

func staticQuote(bid, ask float64, calls *int) func() (model.BidAsk, error) {
	return func() (model.BidAsk, error) {
		if calls != nil {
			*calls++
		}
		return model.BidAsk{Bid: bid, Ask: ask}, nil
	}
}

func staticUnits(u float64) func() (float64, error) {
	return func() (float64, error) { return u, nil }
}

func TestGateKillSwitch(t *testing.T) {
	cfg := baseConfig()
	cfg.ExecutionEnabled = false
	rej := NewGate(cfg).Evaluate(&Input{Intent: baseIntent()})
	if rej == nil || rej.Check != "kill_switch" {
		t.Fatalf("expected kill_switch rejection, got %+v", rej)
	}
}

func TestGateTimeframeWhitelist(t *testing.T) {
	intent := baseIntent()
	intent.Timeframe = "5m"
	rej := NewGate(baseConfig()).Evaluate(&Input{Intent: intent})
	if rej == nil || rej.Check != "timeframe" {
		t.Fatalf("expected timeframe rejection, got %+v", rej)
	}
}

func TestGateNotionalFloorNoVenueCalls(t *testing.T) {
	// 名义价值不够时必须零次行情调用
	intent := baseIntent()
	intent.NotionalUsd = 500
	quoteCalls := 0
	rej := NewGate(baseConfig()).Evaluate(&Input{
		Intent: intent,
		Quote:  staticQuote(1.05, 1.0502, &quoteCalls),
	})
	if rej == nil || rej.Check != "notional_floor" {
		t.Fatalf("expected notional_floor rejection, got %+v", rej)
	}
	if quoteCalls != 0 {
		t.Fatalf("quote was called %d times on intent-level rejection", quoteCalls)
	}
}

func TestGatePassesGoodIntent(t *testing.T) {
	quoteCalls := 0
	rej := NewGate(baseConfig()).Evaluate(&Input{
		Intent: baseIntent(),
		Quote:  staticQuote(1.0500, 1.0502, &quoteCalls),
		Units:  staticUnits(14285),
	})
	if rej != nil {
		t.Fatalf("expected pass, got %+v", rej)
	}
	if quoteCalls == 0 {
		t.Fatal("expected quote to be consulted for pnl checks")
	}
}

func TestGateRiskReward(t *testing.T) {
	intent := baseIntent()
	// entry~1.0501，风险 0.0101，盈利 0.0099，RR < 1.5
	intent.SL = 1.0400
	intent.TP = 1.0600
	rej := NewGate(baseConfig()).Evaluate(&Input{
		Intent: intent,
		Quote:  staticQuote(1.0500, 1.0502, nil),
		Units:  staticUnits(14285),
	})
	if rej == nil || rej.Check != "risk_reward" {
		t.Fatalf("expected risk_reward rejection, got %+v", rej)
	}
}

func TestGateMicroTradeRiskBelowMin(t *testing.T) {
	cfg := baseConfig()
	cfg.MinExpectedPnlUsd = 0
	cfg.MinRiskReward = 0
	intent := baseIntent()
	intent.SL = 1.0500 // 风险距离极小
	intent.TP = 0
	rej := NewGate(cfg).Evaluate(&Input{
		Intent: intent,
		Quote:  staticQuote(1.0500, 1.0502, nil),
		Units:  staticUnits(100),
	})
	if rej == nil || rej.Check != "micro_trade" {
		t.Fatalf("expected micro_trade rejection, got %+v", rej)
	}
	if !strings.HasPrefix(rej.Reason, "risk-below-min") {
		t.Fatalf("expected risk-below-min sub-reason, got %s", rej.Reason)
	}
}

func TestGateMicroTradeFeesEatProfit(t *testing.T) {
	cfg := baseConfig()
	cfg.MinExpectedPnlUsd = 0
	cfg.MinRiskReward = 0
	cfg.MinRiskUsd = 0
	intent := baseIntent()
	intent.TP = 1.0503 // 毛利只有几美元
	rej := NewGate(cfg).Evaluate(&Input{
		Intent:     intent,
		FeeRateBps: 10,
		Quote:      staticQuote(1.0500, 1.0502, nil),
		Units:      staticUnits(14285),
	})
	if rej == nil || rej.Check != "micro_trade" {
		t.Fatalf("expected micro_trade rejection, got %+v", rej)
	}
	if !strings.HasPrefix(rej.Reason, "fees-eat-profit") {
		t.Fatalf("expected fees-eat-profit sub-reason, got %s", rej.Reason)
	}
}

func TestGateMicroTradeAllowed(t *testing.T) {
	cfg := baseConfig()
	cfg.AllowMicroTrades = true
	cfg.MinExpectedPnlUsd = 0
	cfg.MinRiskReward = 0
	intent := baseIntent()
	intent.SL = 1.0500
	intent.TP = 0
	rej := NewGate(cfg).Evaluate(&Input{
		Intent: intent,
		Quote:  staticQuote(1.0500, 1.0502, nil),
		Units:  staticUnits(100),
	})
	if rej != nil {
		t.Fatalf("micro trades allowed, expected pass, got %+v", rej)
	}
}

func TestGateFundingCeiling(t *testing.T) {
	rej := NewGate(baseConfig()).Evaluate(&Input{
		Intent:      baseIntent(),
		Quote:       staticQuote(1.0500, 1.0502, nil),
		Units:       staticUnits(14285),
		FundingRate: func() (float64, error) { return -0.002, nil }, // 负费率取绝对值
	})
	if rej == nil || rej.Check != "funding_ceiling" {
		t.Fatalf("expected funding_ceiling rejection, got %+v", rej)
	}
}

func TestGateTradingHours(t *testing.T) {
	rej := NewGate(baseConfig()).Evaluate(&Input{
		Intent:         baseIntent(),
		Quote:          staticQuote(1.0500, 1.0502, nil),
		Units:          staticUnits(14285),
		InTradingHours: func(now time.Time) bool { return false },
	})
	if rej == nil || rej.Check != "trading_hours" {
		t.Fatalf("expected trading_hours rejection, got %+v", rej)
	}
}

func TestGateOrderIsStable(t *testing.T) {
	// 多个检查同时会失败时，报的是顺序里靠前的那个
	cfg := baseConfig()
	cfg.ExecutionEnabled = false
	intent := baseIntent()
	intent.NotionalUsd = 1
	intent.Timeframe = "5m"
	rej := NewGate(cfg).Evaluate(&Input{Intent: intent})
	if rej == nil || rej.Check != "kill_switch" {
		t.Fatalf("expected first check to win, got %+v", rej)
	}
}
