package model

import "time"

type Kline struct {
	Timestamp time.Time `json:"time"`
	Open      float64   `json:"open"`
	Close     float64   `json:"close"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Vol       float64   `json:"vol"`
}

// BidAsk 最新买卖报价
type BidAsk struct {
	Bid float64
	Ask float64
}

func (b BidAsk) Spread() float64 {
	return b.Ask - b.Bid
}

func (b BidAsk) Mid() float64 {
	return (b.Bid + b.Ask) / 2
}
