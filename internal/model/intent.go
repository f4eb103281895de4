package model

import (
	"strings"
	"time"
)

type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// ParseDirection 解析方向，大小写不敏感（webhook 发送的是 BUY/SELL）
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(s) {
	case "buy":
		return Buy, true
	case "sell":
		return Sell, true
	}
	return "", false
}

// OrderIntent 上游信号方发来的下单意图，进入路由后不再修改
type OrderIntent struct {
	Symbol      string    `json:"symbol" binding:"required"`
	Direction   string    `json:"direction" binding:"required,oneof=BUY SELL buy sell"`
	NotionalUsd float64   `json:"notional_value" binding:"required,gt=0"`
	Strategy    string    `json:"strategy"`
	SL          float64   `json:"sl"` // 显式止损价，0 表示未指定
	TP          float64   `json:"tp"` // 显式止盈价，0 表示未指定
	Timeframe   string    `json:"timeframe"`
	Timestamp   time.Time `json:"timestamp"`
}

// Side 返回解析后的方向
func (i OrderIntent) Side() Direction {
	d, _ := ParseDirection(i.Direction)
	return d
}
