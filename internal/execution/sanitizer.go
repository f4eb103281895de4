package execution

import (
	"math"
	"strings"
	"tradeflow/internal/model"

	"github.com/markcheno/go-talib"
)

// 止盈止损清洗：贴着买卖价和最小距离夹逼，再按精度取整
// 不合规的价格被夹到边界上，而不是拒单

const (
	// 最小距离下限：10 个 pip
	minDistancePips = 10
	// 点差的放大系数
	spreadFactor = 1.2

	// ATR 止损周期和倍数
	atrPeriod     = 14
	atrMultiplier = 1.5
	// ATR 不可用时的固定 pip 距离
	fallbackStopPips = 50
)

// Instrument 品种的价格刻度信息
type Instrument struct {
	Pip       float64 // 一个 pip 的大小
	Precision int     // 价格小数位
	Tick      float64 // 最小跳动，0 表示只按小数位取整
}

// InstrumentFor 根据品种形状推断刻度
// 外汇：JPY 计价 3 位小数，其余 5 位；加密/期货按 tick 取整
func InstrumentFor(symbol string) Instrument {
	_, quote, hasPair := SplitPair(symbol)

	if strings.Contains(symbol, "_") {
		// 外汇
		if quote == "JPY" {
			return Instrument{Pip: 0.01, Precision: 3}
		}
		return Instrument{Pip: 0.0001, Precision: 5}
	}
	if hasPair {
		// 加密货币，tick 0.01
		return Instrument{Pip: 0.01, Precision: 2, Tick: 0.01}
	}
	// 股票/期货
	return Instrument{Pip: 0.01, Precision: 2, Tick: 0.01}
}

// RoundPrice 按品种精度/tick取整
func (inst Instrument) RoundPrice(px float64) float64 {
	if inst.Tick > 0 {
		return math.Round(px/inst.Tick) * inst.Tick
	}
	factor := math.Pow10(inst.Precision)
	return math.Round(px*factor) / factor
}

// MinDistance 基于当前点差的最小保护距离
func (inst Instrument) MinDistance(spread float64) float64 {
	return math.Max(spread*spreadFactor, minDistancePips*inst.Pip)
}

// Sanitize 夹逼止损止盈并取整，原地修改 order
// buy：止损在 bid 下方、止盈在 ask 上方，至少隔 minDistance；sell 镜像
func Sanitize(order *model.SanitizedOrder, quote model.BidAsk, inst Instrument) {
	minDist := inst.MinDistance(quote.Spread())
	long := order.VenueUnits > 0

	if order.StopPrice > 0 {
		if long {
			if order.StopPrice > quote.Bid-minDist {
				order.StopPrice = quote.Bid - minDist
			}
		} else {
			if order.StopPrice < quote.Ask+minDist {
				order.StopPrice = quote.Ask + minDist
			}
		}
		order.StopPrice = inst.RoundPrice(order.StopPrice)
	}

	if order.TargetPrice > 0 {
		if long {
			if order.TargetPrice < quote.Ask+minDist {
				order.TargetPrice = quote.Ask + minDist
			}
		} else {
			if order.TargetPrice > quote.Bid-minDist {
				order.TargetPrice = quote.Bid - minDist
			}
		}
		order.TargetPrice = inst.RoundPrice(order.TargetPrice)
	}

	order.Precision = inst.Precision
}

// DefaultStopDistance 没有显式止损时的默认距离：1.5 倍 ATR(14)
// K线不足时退化为固定 pip 距离
func DefaultStopDistance(klines []model.Kline, inst Instrument) float64 {
	if len(klines) > atrPeriod {
		highs := make([]float64, len(klines))
		lows := make([]float64, len(klines))
		closes := make([]float64, len(klines))
		for i, k := range klines {
			highs[i] = k.High
			lows[i] = k.Low
			closes[i] = k.Close
		}
		atr := talib.Atr(highs, lows, closes, atrPeriod)
		last := atr[len(atr)-1]
		if last > 0 {
			return last * atrMultiplier
		}
	}
	return fallbackStopPips * inst.Pip
}

// DefaultStop 根据方向把默认距离换算成止损价
func DefaultStop(long bool, quote model.BidAsk, distance float64, inst Instrument) float64 {
	if long {
		return inst.RoundPrice(quote.Bid - distance)
	}
	return inst.RoundPrice(quote.Ask + distance)
}
