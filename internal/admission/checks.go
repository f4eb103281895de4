package admission

import (
	"fmt"
	"math"
	"tradeflow/conf"
)

// 各项检查的实现，顺序由 gate 装配决定

// (1) 全局开关
func checkKillSwitch(cfg conf.ExecutionConfig, in *Input) *Rejection {
	if !cfg.ExecutionEnabled {
		return &Rejection{Reason: "execution disabled"}
	}
	return nil
}

// (2) 信号周期白名单，空白名单不限制
func checkTimeframe(cfg conf.ExecutionConfig, in *Input) *Rejection {
	if len(cfg.TimeframeWhitelist) == 0 || in.Intent.Timeframe == "" {
		return nil
	}
	for _, tf := range cfg.TimeframeWhitelist {
		if tf == in.Intent.Timeframe {
			return nil
		}
	}
	return &Rejection{Reason: fmt.Sprintf("timeframe %s not whitelisted", in.Intent.Timeframe)}
}

// (3) 名义价值下限
func checkNotionalFloor(cfg conf.ExecutionConfig, in *Input) *Rejection {
	if cfg.MinNotionalUsd > 0 && in.Intent.NotionalUsd < cfg.MinNotionalUsd {
		return &Rejection{Reason: fmt.Sprintf("notional %.2f below min %.2f", in.Intent.NotionalUsd, cfg.MinNotionalUsd)}
	}
	return nil
}

// (4) 预期盈利下限：|target-entry| * units
// 没有显式止盈时无法估算，放行（默认保护在成交后才挂）
func checkExpectedProfit(cfg conf.ExecutionConfig, in *Input) *Rejection {
	if cfg.MinExpectedPnlUsd <= 0 || in.Intent.TP <= 0 {
		return nil
	}
	entry, ok := entryPrice(in)
	if !ok {
		return nil
	}
	units, ok := absUnits(in)
	if !ok {
		return nil
	}
	expected := math.Abs(in.Intent.TP-entry) * units
	if expected < cfg.MinExpectedPnlUsd {
		return &Rejection{Reason: fmt.Sprintf("expected pnl %.2f below min %.2f", expected, cfg.MinExpectedPnlUsd)}
	}
	return nil
}

// (5) 盈亏比下限，需要同时有止盈和止损
func checkRiskReward(cfg conf.ExecutionConfig, in *Input) *Rejection {
	if cfg.MinRiskReward <= 0 || in.Intent.TP <= 0 || in.Intent.SL <= 0 {
		return nil
	}
	entry, ok := entryPrice(in)
	if !ok {
		return nil
	}
	risk := math.Abs(entry - in.Intent.SL)
	if risk == 0 {
		return &Rejection{Reason: "zero stop distance"}
	}
	rr := math.Abs(in.Intent.TP-entry) / risk
	if rr < cfg.MinRiskReward {
		return &Rejection{Reason: fmt.Sprintf("risk reward %.2f below min %.2f", rr, cfg.MinRiskReward)}
	}
	return nil
}

// (6) 微型单检查：预估风险、净利都要过线，费用不能吃掉利润
// 子原因：risk-below-min / net-profit-below-min / fees-eat-profit
func checkMicroTrade(cfg conf.ExecutionConfig, in *Input) *Rejection {
	if cfg.AllowMicroTrades || in.Intent.SL <= 0 {
		return nil
	}
	entry, ok := entryPrice(in)
	if !ok {
		return nil
	}
	units, ok := absUnits(in)
	if !ok {
		return nil
	}

	riskUsd := math.Abs(entry-in.Intent.SL) * units
	if cfg.MinRiskUsd > 0 && riskUsd < cfg.MinRiskUsd {
		return &Rejection{Reason: fmt.Sprintf("risk-below-min: %.2f < %.2f", riskUsd, cfg.MinRiskUsd)}
	}

	if in.Intent.TP <= 0 {
		return nil
	}
	grossProfit := math.Abs(in.Intent.TP-entry) * units
	// 开平各收一次费
	fees := in.Intent.NotionalUsd * in.FeeRateBps / 10000 * 2
	if fees >= grossProfit {
		return &Rejection{Reason: fmt.Sprintf("fees-eat-profit: fees %.2f >= profit %.2f", fees, grossProfit)}
	}
	if cfg.MinNetProfitUsd > 0 && grossProfit-fees < cfg.MinNetProfitUsd {
		return &Rejection{Reason: fmt.Sprintf("net-profit-below-min: %.2f < %.2f", grossProfit-fees, cfg.MinNetProfitUsd)}
	}
	return nil
}

// (7) 资金费率上限，仅对实现了 FundingRateProvider 的场所生效
func checkFundingCeiling(cfg conf.ExecutionConfig, in *Input) *Rejection {
	if cfg.MaxFundingRate <= 0 || in.FundingRate == nil {
		return nil
	}
	rate, err := in.FundingRate()
	if err != nil {
		// 查不到资金费率不挡单，只影响衍生品的择时
		return nil
	}
	if math.Abs(rate) > cfg.MaxFundingRate {
		return &Rejection{Reason: fmt.Sprintf("funding rate %.6f above ceiling %.6f", rate, cfg.MaxFundingRate)}
	}
	return nil
}

// (8) 交易时段，场所没实现该能力时不限制
func checkTradingHours(cfg conf.ExecutionConfig, in *Input) *Rejection {
	if in.InTradingHours == nil {
		return nil
	}
	if !in.InTradingHours(in.Now) {
		return &Rejection{Reason: "outside trading hours"}
	}
	return nil
}
