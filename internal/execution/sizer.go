package execution

import (
	"fmt"
	"math"
	"strings"
	"tradeflow/internal/model"
)

// USD 名义价值 -> 场所原生数量的换算

// 跨盘口报价全部失败时的保守除数，宁可下小不下大
const crossFallbackDivisor = 2.0

// SplitPair 拆出 base/quote，支持 EUR_USD 和 BTC-USD 两种写法
// 没有分隔符（股票代码）时返回 ok=false
func SplitPair(symbol string) (base, quote string, ok bool) {
	for _, sep := range []string{"_", "-"} {
		if strings.Contains(symbol, sep) {
			parts := strings.Split(symbol, sep)
			if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
				return "", "", false
			}
			return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), true
		}
	}
	return "", "", false
}

func isUsdLike(ccy string) bool {
	return ccy == "USD" || ccy == "USDT" || ccy == "USDC"
}

// ComputeUnits 把 USD 名义换算成场所数量，sell 返回负数
// baseUsdPrice 用于跨盘口（如 EUR_GBP）换算 base 的美元价格，可为 nil
func ComputeUnits(symbol string, dir model.Direction, notionalUsd, price float64, baseUsdPrice func(base string) (float64, error)) (float64, error) {
	if notionalUsd <= 0 {
		return 0, fmt.Errorf("invalid notional: %v", notionalUsd)
	}

	base, quote, hasPair := SplitPair(symbol)

	var units float64
	switch {
	case !hasPair:
		// 股票/期货代码，数量=股数
		if price <= 0 {
			return 0, fmt.Errorf("invalid price for %s: %v", symbol, price)
		}
		units = math.Floor(notionalUsd / price)

	case base == "USD":
		// USD 为基础货币（USD_JPY）：1 unit == 1 USD
		units = notionalUsd

	case isUsdLike(quote):
		// USD 为计价货币（EUR_USD、BTC-USD）
		if price <= 0 {
			return 0, fmt.Errorf("invalid price for %s: %v", symbol, price)
		}
		units = notionalUsd / price

	default:
		// 交叉盘（EUR_GBP）：先拿 base 的美元价
		units = crossUnits(base, notionalUsd, price, baseUsdPrice)
	}

	// 外汇的下单单位是整数货币单位，向下取整
	if hasPair && strings.Contains(symbol, "_") {
		units = math.Floor(units)
	}
	if units <= 0 {
		return 0, fmt.Errorf("computed units is zero for %s notional %v", symbol, notionalUsd)
	}

	if dir == model.Sell {
		units = -units
	}
	return units, nil
}

func crossUnits(base string, notionalUsd, price float64, baseUsdPrice func(string) (float64, error)) float64 {
	if baseUsdPrice != nil {
		if px, err := baseUsdPrice(base); err == nil && px > 0 {
			return notionalUsd / px
		}
	}
	// 辅助报价失败，退化为用本盘口价格换算
	if price > 0 {
		return notionalUsd / price
	}
	// 最后的保守兜底
	return notionalUsd / crossFallbackDivisor
}
