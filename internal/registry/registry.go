package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"tradeflow/internal/model"
	"tradeflow/pkg/metrics"
)

// 持仓登记表：同一个品种不允许两个场所同时持有
// key 是归一化后的 symbol，EURUSD / EUR-USD / EUR_USD 视为同一个

// NormalizeSymbol 压平大小写和分隔符差异
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	s = strings.NewReplacer("_", "", "-", "", "/", "").Replace(s)
	return s
}

type Registry struct {
	mu       sync.Mutex
	bySymbol map[string]*model.PositionRecord
	byOrder  map[string]string // orderId -> normalized symbol
	byTrade  map[string]string // tradeId -> normalized symbol

	// 配置开关：允许跨场所持有同一品种
	allowDuplicate bool
}

func New(allowDuplicate bool) *Registry {
	return &Registry{
		bySymbol:       make(map[string]*model.PositionRecord),
		byOrder:        make(map[string]string),
		byTrade:        make(map[string]string),
		allowDuplicate: allowDuplicate,
	}
}

// Register 登记一笔新持仓，重复品种直接拒绝
func (r *Registry) Register(venue, orderId, symbol string, units, stopLoss, takeProfit float64) error {
	norm := NormalizeSymbol(symbol)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.bySymbol[norm]; ok && !r.allowDuplicate {
		return fmt.Errorf("symbol %s already held on %s (order %s)", norm, existing.Venue, existing.OrderId)
	}

	rec := &model.PositionRecord{
		Venue:            venue,
		OrderId:          orderId,
		NormalizedSymbol: norm,
		Units:            units,
		StopLoss:         stopLoss,
		TakeProfit:       takeProfit,
		OpenedAt:         time.Now(),
	}
	r.bySymbol[norm] = rec
	r.byOrder[orderId] = norm
	metrics.OpenPositions.Set(float64(len(r.bySymbol)))
	return nil
}

// IsTaken 品种是否已有持仓
func (r *Registry) IsTaken(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bySymbol[NormalizeSymbol(symbol)]
	return ok
}

// UnregisterOrder 按订单id注销
func (r *Registry) UnregisterOrder(orderId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if norm, ok := r.byOrder[orderId]; ok {
		r.removeLocked(norm)
	}
	metrics.OpenPositions.Set(float64(len(r.bySymbol)))
}

// UnregisterSymbol 按品种注销
func (r *Registry) UnregisterSymbol(symbol string) {
	norm := NormalizeSymbol(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(norm)
	metrics.OpenPositions.Set(float64(len(r.bySymbol)))
}

func (r *Registry) removeLocked(norm string) {
	if rec, ok := r.bySymbol[norm]; ok {
		delete(r.byOrder, rec.OrderId)
		if rec.TradeId != "" {
			delete(r.byTrade, rec.TradeId)
		}
		delete(r.bySymbol, norm)
	}
}

// SetTradeId 成交确认后补 trade id
func (r *Registry) SetTradeId(orderId, tradeId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if norm, ok := r.byOrder[orderId]; ok {
		r.bySymbol[norm].TradeId = tradeId
		r.byTrade[tradeId] = norm
	}
}

// UpdateStop 巡检推止损后同步本地账本，按 trade id 定位
func (r *Registry) UpdateStop(tradeId string, stop float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if norm, ok := r.byTrade[tradeId]; ok {
		r.bySymbol[norm].StopLoss = stop
	}
}

// List 当前全部持仓的快照
func (r *Registry) List() []model.PositionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.PositionRecord, 0, len(r.bySymbol))
	for _, rec := range r.bySymbol {
		out = append(out, *rec)
	}
	return out
}

// Count 持仓数量
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySymbol)
}
