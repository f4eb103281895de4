package ledger

import (
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"
	"tradeflow/conf"
	"tradeflow/internal/model"
	"tradeflow/internal/state"
)

func newTestLedger(t *testing.T, cfg conf.ExecutionConfig) *Ledger {
	t.Helper()
	store, err := state.NewStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	return New(cfg, store)
}

func TestRecordTradeCloseAttribution(t *testing.T) {
	l := newTestLedger(t, conf.ExecutionConfig{})
	if err := l.MapOrderToStrategy("ord-1", "alpha"); err != nil {
		t.Fatal(err)
	}

	strategy, ok := l.RecordTradeClose(model.TradeClose{OrderId: "ord-1", Symbol: "EUR_USD", RealizedPnl: 12.5})
	if !ok || strategy != "alpha" {
		t.Fatalf("attribution failed: %s %v", strategy, ok)
	}

	recs := l.Strategies()
	if len(recs) != 1 || recs[0].Wins != 1 || recs[0].CumulativePnl != 12.5 {
		t.Fatalf("unexpected strategy record: %+v", recs)
	}
}

func TestRecordTradeCloseDedupe(t *testing.T) {
	l := newTestLedger(t, conf.ExecutionConfig{})
	_ = l.MapOrderToStrategy("ord-1", "alpha")

	if _, ok := l.RecordTradeClose(model.TradeClose{OrderId: "ord-1", RealizedPnl: 10}); !ok {
		t.Fatal("first close should attribute")
	}
	// 重复通知：映射已删，按未知订单丢弃
	if _, ok := l.RecordTradeClose(model.TradeClose{OrderId: "ord-1", RealizedPnl: 10}); ok {
		t.Fatal("duplicate close should be dropped")
	}
	recs := l.Strategies()
	if recs[0].Wins != 1 || recs[0].CumulativePnl != 10 {
		t.Fatalf("duplicate close double counted: %+v", recs[0])
	}
}

func TestRecordTradeCloseByTradeId(t *testing.T) {
	// oanda 的平仓回调带 trade id 而不是下单回执 id
	l := newTestLedger(t, conf.ExecutionConfig{})
	_ = l.MapOrderToStrategy("trade-9", "alpha")
	if _, ok := l.RecordTradeClose(model.TradeClose{TradeId: "trade-9", OrderId: "fill-tx-1", RealizedPnl: -3}); !ok {
		t.Fatal("trade id attribution failed")
	}
	if recs := l.Strategies(); recs[0].Losses != 1 {
		t.Fatalf("loss not recorded: %+v", recs[0])
	}
}

func TestAutoPromotion(t *testing.T) {
	cfg := conf.ExecutionConfig{
		AutoPromoteStrategy: true,
		PromoteMinTrades:    10,
		PromoteMinWinRate:   0.6,
	}
	l := newTestLedger(t, cfg)

	for i := 0; i < 10; i++ {
		orderId := fmt.Sprintf("ord-%d", i)
		_ = l.MapOrderToStrategy(orderId, "alpha")
		l.RecordTradeClose(model.TradeClose{OrderId: orderId, RealizedPnl: 5})
	}
	if !l.IsLiveApproved("alpha") {
		t.Fatal("strategy should be promoted after 10 wins")
	}
}

func TestPromotionIsOneWay(t *testing.T) {
	cfg := conf.ExecutionConfig{
		AutoPromoteStrategy: true,
		PromoteMinTrades:    2,
		PromoteMinWinRate:   0.6,
	}
	l := newTestLedger(t, cfg)

	_ = l.MapOrderToStrategy("a", "alpha")
	l.RecordTradeClose(model.TradeClose{OrderId: "a", RealizedPnl: 5})
	_ = l.MapOrderToStrategy("b", "alpha")
	l.RecordTradeClose(model.TradeClose{OrderId: "b", RealizedPnl: 5})
	if !l.IsLiveApproved("alpha") {
		t.Fatal("should be promoted")
	}

	// 后面连亏不回退
	for i := 0; i < 5; i++ {
		orderId := fmt.Sprintf("loss-%d", i)
		_ = l.MapOrderToStrategy(orderId, "alpha")
		l.RecordTradeClose(model.TradeClose{OrderId: orderId, RealizedPnl: -20})
	}
	if !l.IsLiveApproved("alpha") {
		t.Fatal("promotion must be one-way")
	}
}

func TestBelowWinRateNotPromoted(t *testing.T) {
	cfg := conf.ExecutionConfig{
		AutoPromoteStrategy: true,
		PromoteMinTrades:    4,
		PromoteMinWinRate:   0.6,
	}
	l := newTestLedger(t, cfg)
	pnls := []float64{5, -5, 5, -5} // 胜率 0.5
	for i, pnl := range pnls {
		orderId := fmt.Sprintf("o-%d", i)
		_ = l.MapOrderToStrategy(orderId, "alpha")
		l.RecordTradeClose(model.TradeClose{OrderId: orderId, RealizedPnl: pnl})
	}
	if l.IsLiveApproved("alpha") {
		t.Fatal("50% win rate should not promote at 0.6 threshold")
	}
}

func TestDailyReset(t *testing.T) {
	l := newTestLedger(t, conf.ExecutionConfig{})
	_ = l.MapOrderToStrategy("a", "alpha")
	l.RecordTradeClose(model.TradeClose{OrderId: "a", RealizedPnl: 50})

	if err := l.DailyReset(); err != nil {
		t.Fatal(err)
	}
	// 战绩保留，当日字段清零
	if recs := l.Strategies(); recs[0].Wins != 1 {
		t.Fatal("strategy performance must survive daily reset")
	}
	daily := l.Daily()
	if daily.DailyPeakPnl != 0 || daily.ProfitLockLevel != 0 || daily.DailyFloor != 0 {
		t.Fatalf("daily fields not cleared: %+v", daily)
	}
	if daily.DailyStartBalance != 50 {
		t.Fatalf("start balance should carry current balance, got %v", daily.DailyStartBalance)
	}
}

func TestRecordSweepRatchetsProfitLock(t *testing.T) {
	l := newTestLedger(t, conf.ExecutionConfig{})
	now := time.Now()
	// 先盖交易日戳，避免首次巡检把已实现盈亏滚进起始余额
	if err := l.RecordSweep(now, 0); err != nil {
		t.Fatal(err)
	}

	// 已实现 +100，浮动 +60：当日盈亏 160
	_ = l.MapOrderToStrategy("a", "alpha")
	l.RecordTradeClose(model.TradeClose{OrderId: "a", RealizedPnl: 100})
	if err := l.RecordSweep(now, 60); err != nil {
		t.Fatal(err)
	}
	daily := l.Daily()
	if math.Abs(daily.DailyPeakPnl-160) > 1e-9 {
		t.Fatalf("peak %v, want 160", daily.DailyPeakPnl)
	}
	if math.Abs(daily.ProfitLockLevel-80) > 1e-9 {
		t.Fatalf("lock %v, want 80", daily.ProfitLockLevel)
	}
	if math.Abs(daily.DailyFloor-80) > 1e-9 {
		t.Fatalf("floor %v, want start+lock=80", daily.DailyFloor)
	}

	// 浮盈回吐后锁定位不回退
	if err := l.RecordSweep(now, -120); err != nil {
		t.Fatal(err)
	}
	daily = l.Daily()
	if math.Abs(daily.DailyPeakPnl-160) > 1e-9 || math.Abs(daily.ProfitLockLevel-80) > 1e-9 {
		t.Fatalf("peak/lock must not loosen: %+v", daily)
	}
}

func TestRecordSweepRollsOverTradingDay(t *testing.T) {
	l := newTestLedger(t, conf.ExecutionConfig{})
	day1 := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	_ = l.MapOrderToStrategy("a", "alpha")
	l.RecordTradeClose(model.TradeClose{OrderId: "a", RealizedPnl: 100})
	if err := l.RecordSweep(day1, 40); err != nil {
		t.Fatal(err)
	}
	if l.Daily().TradingDay != "2026-08-31" {
		t.Fatalf("trading day not stamped: %q", l.Daily().TradingDay)
	}

	// 跨日后的第一次巡检触发重置：起始余额滚动，峰值清零
	if err := l.RecordSweep(day2, 0); err != nil {
		t.Fatal(err)
	}
	daily := l.Daily()
	if daily.TradingDay != "2026-09-01" {
		t.Fatalf("trading day not rolled: %q", daily.TradingDay)
	}
	if daily.DailyStartBalance != 100 {
		t.Fatalf("start balance should roll to current balance, got %v", daily.DailyStartBalance)
	}
	if daily.DailyPeakPnl != 0 || daily.ProfitLockLevel != 0 || daily.DailyFloor != 0 {
		t.Fatalf("daily fields not reset on rollover: %+v", daily)
	}
}
