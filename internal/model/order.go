package model

import (
	"time"
)

// 错误分类，场所返回的任何错误都会被归一化成其中一种
type ErrorKind string

const (
	ErrKindConfiguration ErrorKind = "configuration" // 凭证缺失等，场所启动时禁用
	ErrKindValidation    ErrorKind = "validation"    // 风控/清洗拒绝，本地恢复
	ErrKindTransport     ErrorKind = "transport"     // 场所网络/接口失败
	ErrKindIntegrity     ErrorKind = "integrity"     // 重复持仓、裸仓等完整性冲突
	ErrKindLatency       ErrorKind = "latency"       // 下单超时
	ErrKindInternal      ErrorKind = "internal"      // 未预期的内部错误
)

// ExecutionError 统一的错误载荷，调用方不需要分辨场所各自的报文
type ExecutionError struct {
	Kind    ErrorKind `json:"kind"`
	Source  string    `json:"source"` // 哪个场所/哪个检查产生的
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *ExecutionError) Error() string {
	return string(e.Kind) + "/" + e.Source + ": " + e.Message
}

// ExecutionResult 路由一笔意图的最终结果
type ExecutionResult struct {
	Success   bool            `json:"success"`
	OrderId   string          `json:"order_id,omitempty"`
	Venue     string          `json:"venue,omitempty"`
	Units     float64         `json:"units,omitempty"`
	FillPrice float64         `json:"fill_price,omitempty"`
	Error     *ExecutionError `json:"error,omitempty"`
}

// SanitizedOrder 清洗后的场所原生下单参数，下单完成即丢弃
type SanitizedOrder struct {
	Symbol      string
	VenueUnits  float64 // 带符号，sell 为负
	EntryPrice  float64 // 0 表示市价
	StopPrice   float64
	TargetPrice float64
	Precision   int // 价格小数位
}

// OrderRecord 下单审计表，每一笔路由到场所的订单都会落一行
type OrderRecord struct {
	ID        uint      `gorm:"column:id;primary_key;" json:"id"` // 主键id，自增长，不用设置
	OrderId   string    `gorm:"column:order_id;" json:"order_id"` // 场所返回的订单id
	Venue     string    `gorm:"column:venue" json:"venue"`
	Symbol    string    `gorm:"column:symbol" json:"symbol"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`

	Direction Direction `gorm:"column:direction" json:"direction"`
	Notional  float64   `gorm:"column:notional" json:"notional"`
	Units     float64   `gorm:"column:units" json:"units"`
	Entry     float64   `gorm:"column:entry" json:"entry"`
	SL        float64   `gorm:"column:sl" json:"sl"`
	TP        float64   `gorm:"column:tp" json:"tp"`
	Strategy  string    `gorm:"column:strategy" json:"strategy"`
	Success   bool      `gorm:"column:success" json:"success"`
	ErrKind   string    `gorm:"column:err_kind" json:"err_kind"`
	ErrMsg    string    `gorm:"column:err_msg" json:"err_msg"`
}

func (OrderRecord) TableName() string {
	return "order_record"
}
