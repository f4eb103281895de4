package tradier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"tradeflow/conf"
	"tradeflow/internal/consts"
	"tradeflow/internal/model"
	"tradeflow/internal/venue"
	"tradeflow/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
)

// Tradier 股票经纪商
// 入场市价单 + OCO 保护单（止损 stop / 止盈 limit 互斥成交）
// 没有推送接口，平仓靠轮询持仓差异发现

const (
	requestTimeout = 10 * time.Second
	pollInterval   = 15 * time.Second
)

type tradeInfo struct {
	symbol  string
	units   float64
	entry   float64
	stop    float64
	target  float64
	ocoId   string
	opened  time.Time
}

type Venue struct {
	cfg        conf.Tradier
	apiBase    string
	httpClient *http.Client

	mu        sync.Mutex
	trades    map[string]*tradeInfo // orderId -> info
	callbacks []func(model.TradeClose)

	clockMu      sync.Mutex
	clockState   string
	clockFetched time.Time
}

func New(cfg conf.Tradier) *Venue {
	apiBase := cfg.ApiBase
	if apiBase == "" {
		if cfg.Sandbox {
			apiBase = "https://sandbox.tradier.com"
		} else {
			apiBase = "https://api.tradier.com"
		}
	}
	return &Venue{
		cfg:        cfg,
		apiBase:    strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		trades:     make(map[string]*tradeInfo),
	}
}

func (v *Venue) Name() string { return consts.VenueTradier }

func (v *Venue) Connect(ctx context.Context) error {
	var resp struct {
		Profile struct {
			Id string `json:"id"`
		} `json:"profile"`
	}
	if err := v.get(ctx, "/v1/user/profile", nil, &resp); err != nil {
		return fmt.Errorf("tradier profile: %w", err)
	}
	go v.pollClosed(ctx)
	return nil
}

func (v *Venue) GetCurrentBidAsk(symbol string) (model.BidAsk, error) {
	var resp struct {
		Quotes struct {
			Quote struct {
				Bid  float64 `json:"bid"`
				Ask  float64 `json:"ask"`
				Last float64 `json:"last"`
			} `json:"quote"`
		} `json:"quotes"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := v.get(ctx, "/v1/markets/quotes", url.Values{"symbols": {symbol}}, &resp); err != nil {
		return model.BidAsk{}, err
	}
	q := resp.Quotes.Quote
	if q.Bid <= 0 || q.Ask <= 0 {
		// 盘后没有盘口，退化成最新价
		if q.Last > 0 {
			return model.BidAsk{Bid: q.Last, Ask: q.Last}, nil
		}
		return model.BidAsk{}, fmt.Errorf("no quote for %s", symbol)
	}
	return model.BidAsk{Bid: q.Bid, Ask: q.Ask}, nil
}

func (v *Venue) GetCurrentPrice(symbol string) (float64, error) {
	q, err := v.GetCurrentBidAsk(symbol)
	if err != nil {
		return 0, err
	}
	return q.Mid(), nil
}

func (v *Venue) GetCurrentSpread(symbol string) (float64, error) {
	q, err := v.GetCurrentBidAsk(symbol)
	if err != nil {
		return 0, err
	}
	return q.Spread(), nil
}

func interval(timeframe string) string {
	switch timeframe {
	case "1m", "1":
		return "1min"
	case "5m", "5":
		return "5min"
	default:
		return "15min"
	}
}

func (v *Venue) GetCandles(symbol string, timeframe string, limit int) ([]model.Kline, error) {
	var resp struct {
		Series struct {
			Data []struct {
				Time   string  `json:"time"`
				Open   float64 `json:"open"`
				High   float64 `json:"high"`
				Low    float64 `json:"low"`
				Close  float64 `json:"close"`
				Volume float64 `json:"volume"`
			} `json:"data"`
		} `json:"series"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	params := url.Values{
		"symbol":   {symbol},
		"interval": {interval(timeframe)},
	}
	if err := v.get(ctx, "/v1/markets/timesales", params, &resp); err != nil {
		return nil, err
	}
	data := resp.Series.Data
	if limit > 0 && len(data) > limit {
		data = data[len(data)-limit:]
	}
	out := make([]model.Kline, 0, len(data))
	for _, d := range data {
		ts, _ := time.Parse("2006-01-02T15:04:05", d.Time)
		out = append(out, model.Kline{
			Timestamp: ts, Open: d.Open, High: d.High, Low: d.Low, Close: d.Close, Vol: d.Volume,
		})
	}
	return out, nil
}

// PlaceOrder 市价入场，股数取整
func (v *Venue) PlaceOrder(ctx context.Context, order *model.SanitizedOrder) (*venue.OrderAck, error) {
	side := "buy"
	if order.VenueUnits < 0 {
		side = "sell_short"
	}
	qty := order.VenueUnits
	if qty < 0 {
		qty = -qty
	}
	form := url.Values{
		"class":    {"equity"},
		"symbol":   {order.Symbol},
		"side":     {side},
		"quantity": {strconv.FormatFloat(qty, 'f', 0, 64)},
		"type":     {"market"},
		"duration": {"day"},
	}
	var resp struct {
		Order struct {
			Id     json.Number `json:"id"`
			Status string      `json:"status"`
		} `json:"order"`
		Errors struct {
			Error []string `json:"error"`
		} `json:"errors"`
	}
	if err := v.post(ctx, v.accountPath("/orders"), form, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors.Error) > 0 {
		return nil, fmt.Errorf("tradier order rejected: %s", strings.Join(resp.Errors.Error, "; "))
	}
	orderId := resp.Order.Id.String()
	if orderId == "" || orderId == "0" {
		return nil, fmt.Errorf("tradier order not accepted, status=%s", resp.Order.Status)
	}

	// 市价单基本立即成交，回查成交均价；没回报时退化用当前盘口
	entry, ferr := v.orderFill(ctx, orderId)
	if ferr != nil || entry <= 0 {
		if q, qerr := v.GetCurrentBidAsk(order.Symbol); qerr == nil {
			if order.VenueUnits > 0 {
				entry = q.Ask
			} else {
				entry = q.Bid
			}
		}
	}

	v.mu.Lock()
	v.trades[orderId] = &tradeInfo{
		symbol: order.Symbol,
		units:  order.VenueUnits,
		entry:  entry,
		opened: time.Now(),
	}
	v.mu.Unlock()
	return &venue.OrderAck{OrderId: orderId, TradeId: orderId, FillPrice: entry}, nil
}

// orderFill 查询订单的成交均价
func (v *Venue) orderFill(ctx context.Context, orderId string) (float64, error) {
	var resp struct {
		Order struct {
			Status       string      `json:"status"`
			AvgFillPrice json.Number `json:"avg_fill_price"`
		} `json:"order"`
	}
	if err := v.get(ctx, v.accountPath("/orders/"+orderId), nil, &resp); err != nil {
		return 0, err
	}
	return cast.ToFloat64(resp.Order.AvgFillPrice.String()), nil
}

func (v *Venue) CancelOrder(ctx context.Context, orderId, symbol string) error {
	if orderId == "" {
		return nil
	}
	err := v.delete(ctx, v.accountPath("/orders/"+orderId))
	if err == nil {
		v.mu.Lock()
		delete(v.trades, orderId)
		v.mu.Unlock()
	}
	return err
}

// AttachProtection OCO：止损 stop 单和止盈 limit 单互斥
func (v *Venue) AttachProtection(ctx context.Context, orderId string, stop, target float64) error {
	v.mu.Lock()
	info, ok := v.trades[orderId]
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown order: %s", orderId)
	}
	ocoId, err := v.placeOco(ctx, info, stop, target)
	if err != nil {
		return err
	}
	v.mu.Lock()
	info.ocoId = ocoId
	info.stop = stop
	info.target = target
	v.mu.Unlock()
	return nil
}

func (v *Venue) placeOco(ctx context.Context, info *tradeInfo, stop, target float64) (string, error) {
	closeSide := "sell"
	if info.units < 0 {
		closeSide = "buy_to_cover"
	}
	qty := strconv.FormatFloat(absF(info.units), 'f', 0, 64)

	form := url.Values{
		"class":    {"oco"},
		"duration": {"gtc"},
	}
	leg := 0
	if stop > 0 {
		form.Set(legKey("symbol", leg), info.symbol)
		form.Set(legKey("side", leg), closeSide)
		form.Set(legKey("quantity", leg), qty)
		form.Set(legKey("type", leg), "stop")
		form.Set(legKey("stop", leg), strconv.FormatFloat(stop, 'f', 2, 64))
		leg++
	}
	if target > 0 {
		form.Set(legKey("symbol", leg), info.symbol)
		form.Set(legKey("side", leg), closeSide)
		form.Set(legKey("quantity", leg), qty)
		form.Set(legKey("type", leg), "limit")
		form.Set(legKey("price", leg), strconv.FormatFloat(target, 'f', 2, 64))
	}

	var resp struct {
		Order struct {
			Id json.Number `json:"id"`
		} `json:"order"`
	}
	if err := v.post(ctx, v.accountPath("/orders"), form, &resp); err != nil {
		return "", err
	}
	return resp.Order.Id.String(), nil
}

func legKey(name string, i int) string {
	return fmt.Sprintf("%s[%d]", name, i)
}

// ModifyStop tradier 不支持改 OCO 腿，撤掉重挂
func (v *Venue) ModifyStop(ctx context.Context, tradeId string, price float64) error {
	v.mu.Lock()
	info, ok := v.trades[tradeId]
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown trade: %s", tradeId)
	}
	if info.ocoId != "" {
		if err := v.delete(ctx, v.accountPath("/orders/"+info.ocoId)); err != nil {
			return err
		}
	}
	ocoId, err := v.placeOco(ctx, info, price, info.target)
	if err != nil {
		return err
	}
	v.mu.Lock()
	info.ocoId = ocoId
	info.stop = price
	v.mu.Unlock()
	return nil
}

func (v *Venue) GetOpenPositions(ctx context.Context) ([]model.VenuePosition, error) {
	positions, err := v.fetchPositions(ctx)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	var out []model.VenuePosition
	for orderId, info := range v.trades {
		qty, held := positions[info.symbol]
		if !held || qty == 0 {
			continue
		}
		// 下单时没拿到成交均价的，这里补查
		if info.entry <= 0 {
			if fill, err := v.orderFill(ctx, orderId); err == nil && fill > 0 {
				info.entry = fill
			}
		}
		px, _ := v.lastPrice(info.symbol)
		pos := model.VenuePosition{
			TradeId:    orderId,
			Symbol:     info.symbol,
			Units:      info.units,
			EntryPrice: info.entry,
			StopLoss:   info.stop,
			TakeProfit: info.target,
			OpenedAt:   info.opened,
		}
		if px > 0 && info.entry > 0 {
			pos.UnrealizedPnl = (px - info.entry) * info.units
		}
		out = append(out, pos)
	}
	return out, nil
}

func (v *Venue) fetchPositions(ctx context.Context) (map[string]float64, error) {
	var resp struct {
		Positions json.RawMessage `json:"positions"`
	}
	if err := v.get(ctx, v.accountPath("/positions"), nil, &resp); err != nil {
		return nil, err
	}
	// 没有持仓时接口返回字符串 "null"
	out := make(map[string]float64)
	if string(resp.Positions) == `"null"` || len(resp.Positions) == 0 {
		return out, nil
	}
	var wrapper struct {
		Position json.RawMessage `json:"position"`
	}
	if err := json.Unmarshal(resp.Positions, &wrapper); err != nil {
		return nil, err
	}
	type position struct {
		Symbol   string  `json:"symbol"`
		Quantity float64 `json:"quantity"`
	}
	// 单个持仓时是对象，多个是数组
	var list []position
	if err := json.Unmarshal(wrapper.Position, &list); err != nil {
		var one position
		if err := json.Unmarshal(wrapper.Position, &one); err != nil {
			return nil, err
		}
		list = []position{one}
	}
	for _, p := range list {
		out[p.Symbol] = p.Quantity
	}
	return out, nil
}

func (v *Venue) lastPrice(symbol string) (float64, error) {
	q, err := v.GetCurrentBidAsk(symbol)
	if err != nil {
		return 0, err
	}
	return q.Mid(), nil
}

// CloseTrade 市价反向平仓并撤掉保护单
func (v *Venue) CloseTrade(ctx context.Context, tradeId string) error {
	v.mu.Lock()
	info, ok := v.trades[tradeId]
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown trade: %s", tradeId)
	}
	if info.ocoId != "" {
		if err := v.delete(ctx, v.accountPath("/orders/"+info.ocoId)); err != nil {
			logger.Warn("cancel oco before close", logger.Pair("error", err.Error()))
		}
	}
	side := "sell"
	if info.units < 0 {
		side = "buy_to_cover"
	}
	form := url.Values{
		"class":    {"equity"},
		"symbol":   {info.symbol},
		"side":     {side},
		"quantity": {strconv.FormatFloat(absF(info.units), 'f', 0, 64)},
		"type":     {"market"},
		"duration": {"day"},
	}
	if err := v.post(ctx, v.accountPath("/orders"), form, nil); err != nil {
		return err
	}
	v.mu.Lock()
	delete(v.trades, tradeId)
	v.mu.Unlock()
	return nil
}

func (v *Venue) RegisterTradeClosedCallback(fn func(model.TradeClose)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.callbacks = append(v.callbacks, fn)
}

// pollClosed 轮询持仓差异，消失的仓位按已实现盈亏发平仓回调
func (v *Venue) pollClosed(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		positions, err := v.fetchPositions(ctx)
		if err != nil {
			continue
		}
		v.mu.Lock()
		var closed []model.TradeClose
		for orderId, info := range v.trades {
			if qty := positions[info.symbol]; qty == 0 {
				pnl, _ := v.realizedPnl(ctx, info.symbol)
				closed = append(closed, model.TradeClose{
					TradeId: orderId, OrderId: orderId, Symbol: info.symbol, RealizedPnl: pnl,
				})
				delete(v.trades, orderId)
			}
		}
		callbacks := append([]func(model.TradeClose){}, v.callbacks...)
		v.mu.Unlock()
		for _, c := range closed {
			for _, fn := range callbacks {
				fn(c)
			}
		}
	}
}

// realizedPnl 最近一笔该品种的已实现盈亏
func (v *Venue) realizedPnl(ctx context.Context, symbol string) (float64, error) {
	var resp struct {
		Gainloss struct {
			ClosedPosition []struct {
				Symbol   string      `json:"symbol"`
				GainLoss json.Number `json:"gain_loss"`
			} `json:"closed_position"`
		} `json:"gainloss"`
	}
	params := url.Values{"limit": {"20"}, "sortBy": {"closedate"}, "sort": {"desc"}}
	if err := v.get(ctx, v.accountPath("/gainloss"), params, &resp); err != nil {
		return 0, err
	}
	for _, cp := range resp.Gainloss.ClosedPosition {
		if cp.Symbol == symbol {
			return cast.ToFloat64(string(cp.GainLoss)), nil
		}
	}
	return 0, nil
}

// InTradingHours 美股常规时段，市场时钟接口带缓存
func (v *Venue) InTradingHours(now time.Time) bool {
	v.clockMu.Lock()
	defer v.clockMu.Unlock()
	if time.Since(v.clockFetched) > time.Minute {
		var resp struct {
			Clock struct {
				State string `json:"state"`
			} `json:"clock"`
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := v.get(ctx, "/v1/markets/clock", nil, &resp); err == nil && resp.Clock.State != "" {
			v.clockState = resp.Clock.State
			v.clockFetched = time.Now()
		}
	}
	if v.clockState != "" {
		return v.clockState == "open"
	}
	// 时钟接口不可用时按美东常规时段粗算
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return true
	}
	t := now.In(et)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	open := t.Hour() > 9 || (t.Hour() == 9 && t.Minute() >= 30)
	return open && t.Hour() < 16
}

func (v *Venue) accountPath(path string) string {
	return "/v1/accounts/" + v.cfg.AccountID + path
}

func (v *Venue) get(ctx context.Context, path string, params url.Values, result any) error {
	u := v.apiBase + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return v.do(req, result)
}

func (v *Venue) post(ctx context.Context, path string, form url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.apiBase+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return v.do(req, result)
}

func (v *Venue) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, v.apiBase+path, nil)
	if err != nil {
		return err
	}
	return v.do(req, nil)
}

func (v *Venue) do(req *http.Request, result any) error {
	req.Header.Set("Authorization", "Bearer "+v.cfg.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("tradier api status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(data, result)
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
