package ledger

import (
	"sort"
	"sync"
	"time"
	"tradeflow/conf"
	"tradeflow/internal/consts"
	"tradeflow/internal/model"
	"tradeflow/internal/state"
	"tradeflow/pkg/logger"
	"tradeflow/pkg/metrics"
)

// 策略账本：订单归属、盈亏归因、灰度转正、当日风控状态
// 所有修改都经过 store 落盘，进程重启后归因关系不丢

// 浮盈锁定比例：当日峰值的一半进保底线
const profitLockRatio = 0.5

type Ledger struct {
	mu    sync.Mutex
	cfg   conf.ExecutionConfig
	store *state.Store
}

func New(cfg conf.ExecutionConfig, store *state.Store) *Ledger {
	return &Ledger{cfg: cfg, store: store}
}

// MapOrderToStrategy 下单成功后立即登记订单归属
func (l *Ledger) MapOrderToStrategy(orderId, strategyId string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Update(func(st *model.PersistedState) {
		st.OrderStrategyMap[orderId] = strategyId
	})
}

// RecordTradeClose 处理平仓通知并做盈亏归因
// 归因成功后删除订单映射，重复通知会查不到映射，记日志丢弃
// 返回归因到的策略 id，查不到时 ok=false
func (l *Ledger) RecordTradeClose(close model.TradeClose) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var strategyId string
	var found bool
	err := l.store.Update(func(st *model.PersistedState) {
		// 场所回调带的主键不统一，trade id 优先，订单 id 兜底
		key := close.TradeId
		strategyId, found = st.OrderStrategyMap[key]
		if !found {
			key = close.OrderId
			strategyId, found = st.OrderStrategyMap[key]
		}
		if !found {
			return
		}
		delete(st.OrderStrategyMap, key)

		perf := st.StrategyPerformance[strategyId]
		if close.RealizedPnl > 0 {
			perf.Wins++
		} else {
			perf.Losses++
		}
		perf.Pnl += close.RealizedPnl
		st.StrategyPerformance[strategyId] = perf

		st.CurrentBalance += close.RealizedPnl
		if st.OpenPositionsCount > 0 {
			st.OpenPositionsCount--
		}
		pnl := st.CurrentBalance - st.DailyStartBalance
		if pnl > st.DailyPeakPnl {
			st.DailyPeakPnl = pnl
		}
		metrics.DailyPnl.Set(pnl)

		l.maybePromoteLocked(st, strategyId)
	})
	if err != nil {
		logger.Error("persist trade close failed",
			logger.Pair("order_id", close.OrderId), logger.Pair("error", err.Error()))
	}
	if !found {
		logger.Warn("trade close for unknown order, dropping",
			logger.Pair("order_id", close.OrderId),
			logger.Pair("trade_id", close.TradeId),
			logger.Pair("symbol", close.Symbol))
		return "", false
	}
	return strategyId, true
}

// 达标即转正，单向：一旦 live_approved 不会因为后续亏损回退
func (l *Ledger) maybePromoteLocked(st *model.PersistedState, strategyId string) {
	if !l.cfg.AutoPromoteStrategy || st.StrategyLiveApproved[strategyId] {
		return
	}
	perf := st.StrategyPerformance[strategyId]
	trades := perf.Wins + perf.Losses
	if trades < l.cfg.PromoteMinTrades {
		return
	}
	winRate := float64(perf.Wins) / float64(trades)
	if winRate >= l.cfg.PromoteMinWinRate {
		st.StrategyLiveApproved[strategyId] = true
		logger.Info("strategy promoted to live",
			logger.Pair("strategy", strategyId),
			logger.Pair("trades", trades),
			logger.Pair("win_rate", winRate))
	}
}

// IsLiveApproved 策略是否已转正
func (l *Ledger) IsLiveApproved(strategyId string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Snapshot().StrategyLiveApproved[strategyId]
}

// SetLiveApproval 人工指定转正状态
func (l *Ledger) SetLiveApproval(strategyId string, approved bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Update(func(st *model.PersistedState) {
		st.StrategyLiveApproved[strategyId] = approved
	})
}

// RecordOpen 开仓成功后更新当日状态
func (l *Ledger) RecordOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Update(func(st *model.PersistedState) {
		st.OpenPositionsCount++
	})
}

// Strategies 全部策略战绩快照，按 id 排序
func (l *Ledger) Strategies() []model.StrategyRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.store.Snapshot()
	out := make([]model.StrategyRecord, 0, len(st.StrategyPerformance))
	for id, perf := range st.StrategyPerformance {
		out = append(out, model.StrategyRecord{
			StrategyId:    id,
			Wins:          perf.Wins,
			Losses:        perf.Losses,
			CumulativePnl: perf.Pnl,
			LiveApproved:  st.StrategyLiveApproved[id],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyId < out[j].StrategyId })
	return out
}

// RecordSweep 巡检结束后汇总浮动盈亏，更新当日峰值和保底线
// 跨日后的第一次巡检顺带触发交易日重置
// 峰值和锁定位只上不下，浮盈回撤不会把保底线拉低
func (l *Ledger) RecordSweep(now time.Time, unrealizedPnl float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := now.UTC().Format(consts.DateLayout)
	var dayPnl float64
	err := l.store.Update(func(st *model.PersistedState) {
		if st.TradingDay != day {
			resetDayLocked(st, day)
		}
		dayPnl = st.CurrentBalance - st.DailyStartBalance + unrealizedPnl
		if dayPnl > st.DailyPeakPnl {
			st.DailyPeakPnl = dayPnl
		}
		if lock := st.DailyPeakPnl * profitLockRatio; lock > st.ProfitLockLevel {
			st.ProfitLockLevel = lock
			st.DailyFloor = st.DailyStartBalance + st.ProfitLockLevel
		}
	})
	if err == nil {
		metrics.DailyPnl.Set(dayPnl)
	}
	return err
}

// Daily 当日风控状态快照
func (l *Ledger) Daily() model.DailyState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Snapshot().DailyState
}

// DailyReset 手动重置交易日，策略战绩和转正状态保留
func (l *Ledger) DailyReset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.store.Update(func(st *model.PersistedState) {
		resetDayLocked(st, time.Now().UTC().Format(consts.DateLayout))
	})
	if err == nil {
		metrics.DailyPnl.Set(0)
	}
	return err
}

func resetDayLocked(st *model.PersistedState, day string) {
	st.TradingDay = day
	st.DailyStartBalance = st.CurrentBalance
	st.DailyPeakPnl = 0
	st.ProfitLockLevel = 0
	st.DailyFloor = 0
}
