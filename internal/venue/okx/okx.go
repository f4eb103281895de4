package okx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"tradeflow/conf"
	"tradeflow/internal/consts"
	model2 "tradeflow/internal/model"
	"tradeflow/internal/venue"
	"tradeflow/pkg/logger"

	"github.com/goccy/go-json"
	goexv2 "github.com/nntaoli-project/goex/v2"
	"github.com/nntaoli-project/goex/v2/model"
	"github.com/nntaoli-project/goex/v2/okx/futures"
	"github.com/nntaoli-project/goex/v2/options"
	"github.com/spf13/cast"
)

// OKX 永续合约场所
// 入场用市价单，保护单走 algo order 单独挂（先入场后保护）

type orderInfo struct {
	symbol  string
	units   float64 // 带符号
	algoId  string  // 保护单 id，挂上之后才有
	opened  time.Time
}

type Venue struct {
	cfg conf.Okx

	prv goexv2.IPrvRest
	pub goexv2.IPubRest

	public *PublicClient

	mu     sync.Mutex
	orders map[string]*orderInfo // orderId -> 本地跟踪信息

	callbacks []func(model2.TradeClose)
	stream    *orderStream
}

func New(cfg conf.Okx) *Venue {
	swap := goexv2.OKx.Swap
	opts := []options.ApiOption{
		options.WithApiKey(cfg.ApiKey),
		options.WithApiSecretKey(cfg.SecretKey),
		options.WithPassphrase(cfg.Password),
	}
	return &Venue{
		cfg:    cfg,
		prv:    swap.NewPrvApi(opts...),
		pub:    swap,
		public: NewPublicClient(),
		orders: make(map[string]*orderInfo),
	}
}

func (v *Venue) Name() string { return consts.VenueOkx }

// Connect 拉一次交易对列表探测连通性，成功后起私有订单流
func (v *Venue) Connect(ctx context.Context) error {
	_, _, err := v.pub.GetExchangeInfo()
	if err != nil {
		return fmt.Errorf("okx exchange info: %w", err)
	}
	if v.cfg.WsURL != "" {
		v.stream = newOrderStream(v.cfg, v.handleStreamFill)
		v.stream.Start(ctx)
	}
	return nil
}

// BTC-USD / BTC-USDT -> goex CurrencyPair
func (v *Venue) toCurrencyPair(symbol string) (model.CurrencyPair, error) {
	parts := strings.Split(symbol, "-")
	if len(parts) == 1 {
		parts = strings.Split(symbol, "/")
	}
	if len(parts) < 2 {
		return model.CurrencyPair{}, fmt.Errorf("invalid symbol: %s", symbol)
	}
	return v.pub.NewCurrencyPair(parts[0], parts[1])
}

func (v *Venue) GetCurrentPrice(symbol string) (float64, error) {
	pair, err := v.toCurrencyPair(symbol)
	if err != nil {
		return 0, err
	}
	ticker, _, err := v.pub.GetTicker(pair)
	if err != nil {
		return 0, err
	}
	if ticker == nil {
		return 0, errors.New("empty ticker")
	}
	return ticker.Last, nil
}

func (v *Venue) GetCurrentBidAsk(symbol string) (model2.BidAsk, error) {
	pair, err := v.toCurrencyPair(symbol)
	if err != nil {
		return model2.BidAsk{}, err
	}
	ticker, _, err := v.pub.GetTicker(pair)
	if err != nil {
		return model2.BidAsk{}, err
	}
	if ticker == nil || ticker.Buy <= 0 || ticker.Sell <= 0 {
		return model2.BidAsk{}, errors.New("empty ticker")
	}
	return model2.BidAsk{Bid: ticker.Buy, Ask: ticker.Sell}, nil
}

func (v *Venue) GetCurrentSpread(symbol string) (float64, error) {
	q, err := v.GetCurrentBidAsk(symbol)
	if err != nil {
		return 0, err
	}
	return q.Spread(), nil
}

func klinePeriod(timeframe string) model.KlinePeriod {
	switch timeframe {
	case "15m", "15":
		return model.Kline_15min
	case "4h", "240":
		return model.Kline_4h
	default:
		return model.Kline_1h
	}
}

func (v *Venue) GetCandles(symbol string, timeframe string, limit int) ([]model2.Kline, error) {
	pair, err := v.toCurrencyPair(symbol)
	if err != nil {
		return nil, err
	}
	var opts []model.OptionParameter
	if limit > 0 {
		opts = append(opts, model.OptionParameter{Key: "limit", Value: strconv.Itoa(limit)})
	}
	items, _, err := v.pub.GetKline(pair, klinePeriod(timeframe), opts...)
	if err != nil {
		return nil, err
	}
	// okx 返回的是新到旧，翻转成时间升序
	out := make([]model2.Kline, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		out = append(out, model2.Kline{
			Timestamp: time.UnixMilli(item.Timestamp),
			Open:      item.Open,
			Close:     item.Close,
			High:      item.High,
			Low:       item.Low,
			Vol:       item.Vol,
		})
	}
	return out, nil
}

// PlaceOrder 裸市价入场，不带 attachAlgoOrds，保护单在成交后单独挂
// goex 不接收 ctx，放到 goroutine 里配合超时
func (v *Venue) PlaceOrder(ctx context.Context, order *model2.SanitizedOrder) (*venue.OrderAck, error) {
	pair, err := v.toCurrencyPair(order.Symbol)
	if err != nil {
		return nil, err
	}

	side := model.Futures_OpenBuy
	if order.VenueUnits < 0 {
		side = model.Futures_OpenSell
	}
	qty := order.VenueUnits
	if qty < 0 {
		qty = -qty
	}

	opts := []model.OptionParameter{
		{Key: "tdMode", Value: "isolated"},
		{Key: "posSide", Value: posSide(order.VenueUnits)},
	}

	type placed struct {
		ack *venue.OrderAck
		err error
	}
	ch := make(chan placed, 1)
	go func() {
		created, _, err := v.prv.CreateOrder(pair, qty, 0, side, model.OrderType_Market, opts...)
		if err != nil {
			ch <- placed{err: err}
			return
		}
		ch <- placed{ack: &venue.OrderAck{OrderId: created.Id, TradeId: created.Id, FillPrice: created.Price}}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p := <-ch:
		if p.err != nil {
			return nil, p.err
		}
		v.mu.Lock()
		v.orders[p.ack.OrderId] = &orderInfo{symbol: order.Symbol, units: order.VenueUnits, opened: time.Now()}
		v.mu.Unlock()
		return p.ack, nil
	}
}

func posSide(units float64) string {
	if units < 0 {
		return "short"
	}
	return "long"
}

func (v *Venue) CancelOrder(ctx context.Context, orderId, symbol string) error {
	if orderId == "" {
		// 超时撤单时可能还没拿到订单id，无从撤起
		return nil
	}
	pair, err := v.toCurrencyPair(symbol)
	if err != nil {
		return err
	}
	_, err = v.prv.CancelOrder(pair, orderId)
	if err == nil {
		v.mu.Lock()
		delete(v.orders, orderId)
		v.mu.Unlock()
	}
	return err
}

// AttachProtection 用 oco 算法单同时挂止盈止损，-1 表示市价触发
// okx v5 的算法单接口 goex 没封装，走 DoAuthRequest 裸调
func (v *Venue) AttachProtection(ctx context.Context, orderId string, stop, target float64) error {
	v.mu.Lock()
	info, ok := v.orders[orderId]
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown order: %s", orderId)
	}
	pair, err := v.toCurrencyPair(info.symbol)
	if err != nil {
		return err
	}
	okxPrv, ok := v.prv.(*futures.PrvApi)
	if !ok {
		return errors.New("prv is not okx futures client")
	}

	closeSide := "sell"
	if info.units < 0 {
		closeSide = "buy"
	}
	qty := info.units
	if qty < 0 {
		qty = -qty
	}

	params := url.Values{}
	params.Set("instId", pair.Symbol)
	params.Set("tdMode", "isolated")
	params.Set("side", closeSide)
	params.Set("posSide", posSide(info.units))
	params.Set("ordType", "oco")
	params.Set("sz", strconv.FormatFloat(qty, 'f', -1, 64))
	if stop > 0 {
		params.Set("slTriggerPx", strconv.FormatFloat(stop, 'f', -1, 64))
		params.Set("slOrdPx", "-1")
	}
	if target > 0 {
		params.Set("tpTriggerPx", strconv.FormatFloat(target, 'f', -1, 64))
		params.Set("tpOrdPx", "-1")
	}

	reqUrl := fmt.Sprintf("%s%s", okxPrv.UriOpts.Endpoint, "/api/v5/trade/order-algo")
	_, resp, err := okxPrv.DoAuthRequest(http.MethodPost, reqUrl, &params, nil)
	if err != nil {
		return fmt.Errorf("order-algo: %w, body=%s", err, string(resp))
	}

	// 记下 algoId，巡检改止损要用
	var body struct {
		Data []struct {
			AlgoId string `json:"algoId"`
		} `json:"data"`
	}
	if jerr := json.Unmarshal(resp, &body); jerr == nil && len(body.Data) > 0 {
		v.mu.Lock()
		info.algoId = body.Data[0].AlgoId
		v.mu.Unlock()
	}
	return nil
}

// ModifyStop 改算法单的止损触发价
func (v *Venue) ModifyStop(ctx context.Context, tradeId string, price float64) error {
	v.mu.Lock()
	info, ok := v.orders[tradeId]
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown trade: %s", tradeId)
	}
	if info.algoId == "" {
		return fmt.Errorf("no protection attached for trade %s", tradeId)
	}
	pair, err := v.toCurrencyPair(info.symbol)
	if err != nil {
		return err
	}
	okxPrv, ok := v.prv.(*futures.PrvApi)
	if !ok {
		return errors.New("prv is not okx futures client")
	}

	px := strconv.FormatFloat(price, 'f', -1, 64)
	params := url.Values{}
	params.Set("instId", pair.Symbol)
	params.Set("algoId", info.algoId)
	params.Set("newSlTriggerPx", px)
	params.Set("newSlOrdPx", "-1")

	reqUrl := fmt.Sprintf("%s%s", okxPrv.UriOpts.Endpoint, "/api/v5/trade/amend-algo-order")
	_, resp, err := okxPrv.DoAuthRequest(http.MethodPost, reqUrl, &params, nil)
	if err != nil {
		return fmt.Errorf("amend-algo-order: %w, body=%s", err, string(resp))
	}
	return nil
}

// GetOpenPositions 逐个跟踪中的品种拉仓位，goex 的接口是按 pair 查询的
func (v *Venue) GetOpenPositions(ctx context.Context) ([]model2.VenuePosition, error) {
	v.mu.Lock()
	tracked := make(map[string]*orderInfo, len(v.orders))
	for id, info := range v.orders {
		tracked[id] = info
	}
	v.mu.Unlock()

	okxPrv, ok := v.prv.(*futures.PrvApi)
	if !ok {
		return nil, errors.New("prv is not okx futures client")
	}

	var out []model2.VenuePosition
	for orderId, info := range tracked {
		pair, err := v.toCurrencyPair(info.symbol)
		if err != nil {
			continue
		}
		res, data, err := okxPrv.GetPositions(pair)
		if err != nil {
			return nil, err
		}
		var raw struct {
			Data []struct {
				Upl         string `json:"upl"`
				SlTriggerPx string `json:"slTriggerPx"`
			} `json:"data"`
		}
		_ = json.Unmarshal(data, &raw)

		for i, re := range res {
			if re.Qty == 0 {
				continue
			}
			units := re.Qty
			if re.PosSide == model.Futures_OpenSell || re.PosSide == model.Spot_Sell {
				units = -units
			}
			if (units > 0) != (info.units > 0) {
				continue
			}
			pos := model2.VenuePosition{
				TradeId:    orderId,
				Symbol:     info.symbol,
				Units:      units,
				EntryPrice: re.AvgPx,
				OpenedAt:   info.opened,
			}
			if i < len(raw.Data) {
				pos.UnrealizedPnl = cast.ToFloat64(raw.Data[i].Upl)
				pos.StopLoss = cast.ToFloat64(raw.Data[i].SlTriggerPx)
			}
			// 本地记录里有 algoId 说明保护单挂过了，接口没回触发价时以本地为准
			if pos.StopLoss == 0 && info.algoId != "" {
				pos.StopLoss = -1 // 占位，表示有保护但拿不到价格
			}
			out = append(out, pos)
		}
	}
	return out, nil
}

// CloseTrade 反向市价平仓
func (v *Venue) CloseTrade(ctx context.Context, tradeId string) error {
	v.mu.Lock()
	info, ok := v.orders[tradeId]
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown trade: %s", tradeId)
	}
	pair, err := v.toCurrencyPair(info.symbol)
	if err != nil {
		return err
	}

	side := model.Futures_CloseBuy
	if info.units < 0 {
		side = model.Futures_CloseSell
	}
	qty := info.units
	if qty < 0 {
		qty = -qty
	}
	opts := []model.OptionParameter{{Key: "tdMode", Value: "isolated"}}
	_, resp, err := v.prv.CreateOrder(pair, qty, 0, side, model.OrderType_Market, opts...)
	if err != nil {
		logger.Error("okx close trade", logger.Pair("trade_id", tradeId), logger.Pair("body", string(resp)))
		return err
	}
	v.mu.Lock()
	delete(v.orders, tradeId)
	v.mu.Unlock()
	return nil
}

func (v *Venue) RegisterTradeClosedCallback(fn func(model2.TradeClose)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.callbacks = append(v.callbacks, fn)
}

// handleStreamFill 私有订单流里收到平仓成交时回调上层
// 平仓单的 ordId 和开仓单不同，按 instId 映射回本地跟踪的开仓单
func (v *Venue) handleStreamFill(close model2.TradeClose) {
	v.mu.Lock()
	for id, info := range v.orders {
		if instIdOf(info.symbol) == close.Symbol || info.symbol == close.Symbol {
			close.OrderId = id
			close.TradeId = id
			close.Symbol = info.symbol
			delete(v.orders, id)
			break
		}
	}
	callbacks := append([]func(model2.TradeClose){}, v.callbacks...)
	v.mu.Unlock()
	for _, fn := range callbacks {
		fn(close)
	}
}

func instIdOf(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", "-")) + "-SWAP"
}

// GetFundingRate 当前资金费率，公开接口不需要签名
func (v *Venue) GetFundingRate(symbol string) (float64, error) {
	return v.public.GetFundingRate(context.Background(), instIdOf(symbol))
}
