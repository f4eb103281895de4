package sentinel

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
	"tradeflow/conf"
	"tradeflow/internal/ledger"
	"tradeflow/internal/model"
	"tradeflow/internal/registry"
	"tradeflow/internal/state"
	"tradeflow/internal/venue"
	"tradeflow/pkg/recorder"
)

func newTestSentinel(t *testing.T, cfg conf.ExecutionConfig, v *venue.Simulated) (*Sentinel, string) {
	t.Helper()
	auditPath := filepath.Join(t.TempDir(), "audit.json")
	reg := registry.New(false)
	store, err := state.NewStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	led := ledger.New(cfg, store)
	return New(cfg, []venue.Adapter{v}, reg, led, recorder.NewJSONFileRecorder(auditPath)), auditPath
}

func TestTourniquetClosesNakedPosition(t *testing.T) {
	v := venue.NewSimulated("paper")
	v.SeedPosition(model.VenuePosition{
		TradeId: "t1", Symbol: "EUR_USD", Units: 10000,
		EntryPrice: 1.05, StopLoss: 0, // 裸仓
		OpenedAt: time.Now(),
	})
	s, audit := newTestSentinel(t, conf.ExecutionConfig{}, v)

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	positions, _ := v.GetOpenPositions(context.Background())
	if len(positions) != 0 {
		t.Fatalf("naked position should be closed, still have %d", len(positions))
	}
	if v.Calls["CloseTrade"] != 1 {
		t.Fatalf("expected one close call, got %d", v.Calls["CloseTrade"])
	}
	// 每条评估都要写审计
	data, err := os.ReadFile(audit)
	if err != nil || len(data) == 0 {
		t.Fatal("audit log should not be empty")
	}
}

func TestZombieClose(t *testing.T) {
	cfg := conf.ExecutionConfig{
		ZombieMaxAge:  48 * time.Hour,
		ZombiePnlBand: 5,
	}
	v := venue.NewSimulated("paper")
	v.SeedPosition(model.VenuePosition{
		TradeId: "old", Symbol: "EUR_USD", Units: 10000,
		EntryPrice: 1.05, StopLoss: 1.04, UnrealizedPnl: 1.2,
		OpenedAt: time.Now().Add(-72 * time.Hour),
	})
	// 活跃仓位不动
	v.SeedPosition(model.VenuePosition{
		TradeId: "fresh", Symbol: "USD_JPY", Units: 15000,
		EntryPrice: 147.5, StopLoss: 147.0, UnrealizedPnl: 1.0,
		OpenedAt: time.Now(),
	})
	s, _ := newTestSentinel(t, cfg, v)

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	positions, _ := v.GetOpenPositions(context.Background())
	if len(positions) != 1 || positions[0].TradeId != "fresh" {
		t.Fatalf("only the zombie should be closed: %+v", positions)
	}
}

func TestZombieOutsidePnlBandSurvives(t *testing.T) {
	cfg := conf.ExecutionConfig{
		ZombieMaxAge:  48 * time.Hour,
		ZombiePnlBand: 5,
	}
	v := venue.NewSimulated("paper")
	v.SeedPosition(model.VenuePosition{
		TradeId: "winner", Symbol: "EUR_USD", Units: 10000,
		EntryPrice: 1.05, StopLoss: 1.04, UnrealizedPnl: 80, // 盈亏在死区外
		OpenedAt: time.Now().Add(-72 * time.Hour),
	})
	s, _ := newTestSentinel(t, cfg, v)
	_ = s.Sweep(context.Background())
	positions, _ := v.GetOpenPositions(context.Background())
	if len(positions) != 1 {
		t.Fatal("profitable old position must not be closed as zombie")
	}
}

func TestWinnerLockMovesStopToBreakeven(t *testing.T) {
	cfg := conf.ExecutionConfig{WinnerLockThresholdUsd: 50}
	v := venue.NewSimulated("paper")
	v.SeedPosition(model.VenuePosition{
		TradeId: "t1", Symbol: "EUR_USD", Units: 10000,
		EntryPrice: 1.0500, StopLoss: 1.0400, UnrealizedPnl: 120,
		OpenedAt: time.Now(),
	})
	s, _ := newTestSentinel(t, cfg, v)
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}

	positions, _ := v.GetOpenPositions(context.Background())
	want := 1.0501 // 入场价加一个 pip
	if math.Abs(positions[0].StopLoss-want) > 1e-9 {
		t.Fatalf("stop should be at breakeven %v, got %v", want, positions[0].StopLoss)
	}
}

func TestWinnerLockNeverLoosens(t *testing.T) {
	cfg := conf.ExecutionConfig{WinnerLockThresholdUsd: 50}
	v := venue.NewSimulated("paper")
	// 止损已经推得比保本位更紧
	v.SeedPosition(model.VenuePosition{
		TradeId: "t1", Symbol: "EUR_USD", Units: 10000,
		EntryPrice: 1.0500, StopLoss: 1.0520, UnrealizedPnl: 200,
		OpenedAt: time.Now(),
	})
	s, _ := newTestSentinel(t, cfg, v)
	_ = s.Sweep(context.Background())

	if v.Calls["ModifyStop"] != 0 {
		t.Fatal("tighter stop must not be loosened back to breakeven")
	}
	positions, _ := v.GetOpenPositions(context.Background())
	if positions[0].StopLoss != 1.0520 {
		t.Fatalf("stop changed: %v", positions[0].StopLoss)
	}
}

func TestSweepFeedsDailyState(t *testing.T) {
	v := venue.NewSimulated("paper")
	v.SeedPosition(model.VenuePosition{
		TradeId: "t1", Symbol: "EUR_USD", Units: 10000,
		EntryPrice: 1.05, StopLoss: 1.04, UnrealizedPnl: 80,
		OpenedAt: time.Now(),
	})
	v.SeedPosition(model.VenuePosition{
		TradeId: "t2", Symbol: "USD_JPY", Units: 15000,
		EntryPrice: 147.5, StopLoss: 147.0, UnrealizedPnl: 20,
		OpenedAt: time.Now(),
	})
	s, _ := newTestSentinel(t, conf.ExecutionConfig{}, v)

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	daily := s.ledger.Daily()
	if math.Abs(daily.DailyPeakPnl-100) > 1e-9 {
		t.Fatalf("sweep must roll unrealized pnl into daily peak, got %v", daily.DailyPeakPnl)
	}
	if math.Abs(daily.ProfitLockLevel-50) > 1e-9 {
		t.Fatalf("profit lock should ratchet to half the peak, got %v", daily.ProfitLockLevel)
	}
	if daily.TradingDay == "" {
		t.Fatal("sweep must stamp the trading day")
	}

	// 浮盈回撤，峰值和锁定位不回退
	v.SeedPosition(model.VenuePosition{
		TradeId: "t1", Symbol: "EUR_USD", Units: 10000,
		EntryPrice: 1.05, StopLoss: 1.04, UnrealizedPnl: 10,
		OpenedAt: time.Now(),
	})
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	daily = s.ledger.Daily()
	if math.Abs(daily.DailyPeakPnl-100) > 1e-9 || math.Abs(daily.ProfitLockLevel-50) > 1e-9 {
		t.Fatalf("peak/lock must be monotonic within the day: %+v", daily)
	}
}

func TestWinnerLockShortSide(t *testing.T) {
	cfg := conf.ExecutionConfig{WinnerLockThresholdUsd: 50}
	v := venue.NewSimulated("paper")
	v.SeedPosition(model.VenuePosition{
		TradeId: "t1", Symbol: "EUR_USD", Units: -10000,
		EntryPrice: 1.0500, StopLoss: 1.0600, UnrealizedPnl: 120,
		OpenedAt: time.Now(),
	})
	s, _ := newTestSentinel(t, cfg, v)
	_ = s.Sweep(context.Background())

	positions, _ := v.GetOpenPositions(context.Background())
	want := 1.0499
	if math.Abs(positions[0].StopLoss-want) > 1e-9 {
		t.Fatalf("short breakeven stop should be %v, got %v", want, positions[0].StopLoss)
	}
}
