package sentinel

import (
	"context"
	"time"
	"tradeflow/conf"
	"tradeflow/internal/execution"
	"tradeflow/internal/ledger"
	"tradeflow/internal/model"
	"tradeflow/internal/registry"
	"tradeflow/internal/venue"
	"tradeflow/pkg/logger"
	"tradeflow/pkg/metrics"
	"tradeflow/pkg/recorder"

	"go.uber.org/multierr"
)

// 持仓巡检：周期性拉取各场所真实持仓，逐条套用保护规则
// 以场所侧快照为准，不信任本地账本

const defaultInterval = time.Minute

// 规则名
const (
	RuleTourniquet = "tourniquet"  // 裸仓（没挂止损）立即平掉
	RuleWinnerLock = "winner_lock" // 浮盈达标后推保本止损
	RuleZombie     = "zombie"      // 长时间不赚不亏的仓位清掉
)

// Evaluation 单条持仓的一次巡检结论，逐条写审计日志
type Evaluation struct {
	Time     time.Time `json:"time"`
	Venue    string    `json:"venue"`
	TradeId  string    `json:"trade_id"`
	Symbol   string    `json:"symbol"`
	Rule     string    `json:"rule"`
	Action   string    `json:"action"` // close / modify_stop / none
	NewStop  float64   `json:"new_stop,omitempty"`
	Pnl      float64   `json:"pnl"`
	AgeHours float64   `json:"age_hours"`
	Error    string    `json:"error,omitempty"`
}

type Sentinel struct {
	cfg      conf.ExecutionConfig
	venues   []venue.Adapter
	registry *registry.Registry
	ledger   *ledger.Ledger
	audit    *recorder.JSONFileRecorder
}

func New(cfg conf.ExecutionConfig, venues []venue.Adapter, reg *registry.Registry, led *ledger.Ledger, audit *recorder.JSONFileRecorder) *Sentinel {
	return &Sentinel{cfg: cfg, venues: venues, registry: reg, ledger: led, audit: audit}
}

// Start 启动巡检循环，ctx 取消后退出
func (s *Sentinel) Start(ctx context.Context) {
	interval := s.cfg.SentinelInterval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Sweep(ctx); err != nil {
					logger.Error("sentinel sweep", logger.Pair("error", err.Error()))
				}
			}
		}
	}()
}

// Sweep 跑一轮全场所巡检，单个场所失败不影响其他场所
// 汇总的浮动盈亏喂给账本更新当日状态
func (s *Sentinel) Sweep(ctx context.Context) error {
	var errs error
	var unrealized float64
	for _, v := range s.venues {
		positions, err := v.GetOpenPositions(ctx)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, pos := range positions {
			unrealized += pos.UnrealizedPnl
			ev := s.evaluate(ctx, v, pos)
			if s.audit != nil {
				if recErr := s.audit.Record(ev); recErr != nil {
					logger.Warn("sentinel audit write", logger.Pair("error", recErr.Error()))
				}
			}
			if ev.Error != "" {
				errs = multierr.Append(errs, &model.ExecutionError{
					Kind: model.ErrKindTransport, Source: v.Name(), Message: ev.Error,
				})
			}
		}
	}
	if s.ledger != nil {
		if err := s.ledger.RecordSweep(time.Now(), unrealized); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// evaluate 按优先级套规则：裸仓 > 僵尸 > 浮盈锁
// 最多执行一个动作，剩下的留给下一轮
func (s *Sentinel) evaluate(ctx context.Context, v venue.Adapter, pos model.VenuePosition) Evaluation {
	now := time.Now()
	age := now.Sub(pos.OpenedAt)
	ev := Evaluation{
		Time:     now,
		Venue:    v.Name(),
		TradeId:  pos.TradeId,
		Symbol:   pos.Symbol,
		Action:   "none",
		Pnl:      pos.UnrealizedPnl,
		AgeHours: age.Hours(),
	}

	// (1) 裸仓止血：止损丢了的仓位不允许存在
	if pos.StopLoss == 0 {
		ev.Rule = RuleTourniquet
		ev.Action = "close"
		if err := v.CloseTrade(ctx, pos.TradeId); err != nil {
			ev.Error = err.Error()
			return ev
		}
		s.registry.UnregisterSymbol(pos.Symbol)
		metrics.SentinelActions.WithLabelValues(RuleTourniquet, "close").Inc()
		logger.Warn("naked position closed",
			logger.Pair("venue", v.Name()), logger.Pair("trade_id", pos.TradeId),
			logger.Pair("symbol", pos.Symbol))
		return ev
	}

	// (2) 僵尸仓：超龄且盈亏在死区内，占着保证金没有意义
	if s.cfg.ZombieMaxAge > 0 && age > s.cfg.ZombieMaxAge &&
		absFloat(pos.UnrealizedPnl) <= s.cfg.ZombiePnlBand {
		ev.Rule = RuleZombie
		ev.Action = "close"
		if err := v.CloseTrade(ctx, pos.TradeId); err != nil {
			ev.Error = err.Error()
			return ev
		}
		s.registry.UnregisterSymbol(pos.Symbol)
		metrics.SentinelActions.WithLabelValues(RuleZombie, "close").Inc()
		logger.Info("zombie position closed",
			logger.Pair("venue", v.Name()), logger.Pair("trade_id", pos.TradeId),
			logger.Pair("age_hours", age.Hours()))
		return ev
	}

	// (3) 浮盈锁：达标后把止损推到保本位，只收紧不放松
	if s.cfg.WinnerLockThresholdUsd > 0 && pos.UnrealizedPnl >= s.cfg.WinnerLockThresholdUsd {
		newStop, ok := breakevenStop(pos)
		if ok {
			ev.Rule = RuleWinnerLock
			ev.Action = "modify_stop"
			ev.NewStop = newStop
			if err := v.ModifyStop(ctx, pos.TradeId, newStop); err != nil {
				ev.Error = err.Error()
				return ev
			}
			s.registry.UpdateStop(pos.TradeId, newStop)
			metrics.SentinelActions.WithLabelValues(RuleWinnerLock, "modify_stop").Inc()
			logger.Info("stop moved to breakeven",
				logger.Pair("venue", v.Name()), logger.Pair("trade_id", pos.TradeId),
				logger.Pair("new_stop", newStop))
		}
	}
	return ev
}

// breakevenStop 入场价加一个 pip 的垫子作为保本位
// 已有的止损更紧时返回 false，绝不把止损往回拉
func breakevenStop(pos model.VenuePosition) (float64, bool) {
	inst := execution.InstrumentFor(pos.Symbol)
	if pos.Units > 0 {
		stop := inst.RoundPrice(pos.EntryPrice + inst.Pip)
		if pos.StopLoss >= stop {
			return 0, false
		}
		return stop, true
	}
	stop := inst.RoundPrice(pos.EntryPrice - inst.Pip)
	if pos.StopLoss != 0 && pos.StopLoss <= stop {
		return 0, false
	}
	return stop, true
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
