package execution

import (
	"context"
	"errors"
	"strings"
	"time"
	"tradeflow/conf"
	"tradeflow/internal/admission"
	"tradeflow/internal/consts"
	"tradeflow/internal/dao"
	"tradeflow/internal/ledger"
	"tradeflow/internal/model"
	"tradeflow/internal/registry"
	"tradeflow/internal/venue"
	"tradeflow/pkg/kafka"
	"tradeflow/pkg/logger"
	"tradeflow/pkg/metrics"
)

// 路由一笔下单意图的完整链路：
// 选场所 -> 冷却 -> 查重 -> 换算数量 -> 准入 -> 清洗 -> 裸单入场 -> 挂保护
// 任何一步失败都归一化成 ExecutionError 返回，绝不半途静默吞掉

const (
	// 下单软超时的缺省值
	defaultPlaceDeadline = 300 * time.Millisecond
	// 算默认止损时拉取的K线数量
	atrCandleLimit = 60
)

// Venues 按资产类别装配的场所集合，未配置的为 nil
type Venues struct {
	FxLive  venue.Adapter
	FxPaper venue.Adapter
	Crypto  venue.Adapter
	Equity  venue.Adapter
}

// All 已装配的场所列表，巡检用
func (v Venues) All() []venue.Adapter {
	var out []venue.Adapter
	for _, a := range []venue.Adapter{v.FxLive, v.FxPaper, v.Crypto, v.Equity} {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

type Router struct {
	cfg      conf.ExecutionConfig
	venues   Venues
	gate     *admission.Gate
	cooldown Cooldown
	registry *registry.Registry
	ledger   *ledger.Ledger
	orderDao dao.OrderRecorder     // 可为 nil（无数据库部署）
	producer kafka.ProducerService // 可为 nil
}

func NewRouter(cfg conf.ExecutionConfig, venues Venues, cooldown Cooldown,
	reg *registry.Registry, led *ledger.Ledger,
	orderDao dao.OrderRecorder, producer kafka.ProducerService) *Router {

	r := &Router{
		cfg:      cfg,
		venues:   venues,
		gate:     admission.NewGate(cfg),
		cooldown: cooldown,
		registry: reg,
		ledger:   led,
		orderDao: orderDao,
		producer: producer,
	}
	// 场所在自己的 goroutine 上投递平仓回调
	for _, a := range venues.All() {
		a.RegisterTradeClosedCallback(r.HandleTradeClose)
	}
	return r
}

// Route 处理一笔意图，同步返回结果
func (r *Router) Route(ctx context.Context, intent model.OrderIntent) *model.ExecutionResult {
	result := r.route(ctx, intent)
	r.finish(ctx, intent, result)
	return result
}

func (r *Router) route(ctx context.Context, intent model.OrderIntent) *model.ExecutionResult {
	// (1) 按品种形状选场所，没有匹配的直接拒绝
	adapter, execErr := r.pickVenue(intent)
	if execErr != nil {
		return &model.ExecutionResult{Error: execErr}
	}
	venueName := adapter.Name()

	// (2) 冷却期
	if r.cooldown != nil && !r.cooldown.Allow(ctx, registry.NormalizeSymbol(intent.Symbol)) {
		return &model.ExecutionResult{Venue: venueName, Error: &model.ExecutionError{
			Kind: model.ErrKindValidation, Source: "cooldown",
			Message: "symbol in cooldown window: " + intent.Symbol,
		}}
	}

	// (3) 持仓查重，同一品种只允许一笔
	if r.registry.IsTaken(intent.Symbol) {
		return &model.ExecutionResult{Venue: venueName, Error: &model.ExecutionError{
			Kind: model.ErrKindIntegrity, Source: "registry",
			Message: "position already open for " + intent.Symbol,
		}}
	}

	// (4) 懒加载行情和数量，准入检查在意图层面失败时零次场所调用
	quote := memoQuote(adapter, intent.Symbol)
	units := memoUnits(intent, quote, adapter)

	// (5) 准入管道
	if rej := r.gate.Evaluate(&admission.Input{
		Intent:         intent,
		Venue:          venueName,
		FeeRateBps:     r.cfg.FeeRateBps[venueName],
		Quote:          quote,
		Units:          units,
		FundingRate:    fundingFn(adapter, intent.Symbol),
		InTradingHours: tradingHoursFn(adapter),
	}); rej != nil {
		return &model.ExecutionResult{Venue: venueName, Error: &model.ExecutionError{
			Kind: model.ErrKindValidation, Source: "admission:" + rej.Check, Message: rej.Reason,
		}}
	}

	// (6) 准入通过后才真正取行情和数量
	q, err := quote()
	if err != nil {
		return &model.ExecutionResult{Venue: venueName, Error: normalize(err, venueName)}
	}
	u, err := units()
	if err != nil {
		return &model.ExecutionResult{Venue: venueName, Error: &model.ExecutionError{
			Kind: model.ErrKindValidation, Source: "sizer", Message: err.Error(),
		}}
	}

	// (7) 清洗止盈止损
	inst := InstrumentFor(intent.Symbol)
	order := &model.SanitizedOrder{
		Symbol:      intent.Symbol,
		VenueUnits:  u,
		StopPrice:   intent.SL,
		TargetPrice: intent.TP,
	}
	Sanitize(order, q, inst)

	// 没有显式止损时按 ATR 算默认距离
	if order.StopPrice == 0 {
		order.StopPrice = r.defaultStop(adapter, intent, q, inst, u > 0)
	}

	// (8) 裸单入场，软超时内必须拿到回执
	ack, execErr := r.placeWithDeadline(ctx, adapter, order)
	if execErr != nil {
		return &model.ExecutionResult{Venue: venueName, Error: execErr}
	}

	// (9) 成交即登记，保护单失败也不能丢归因
	// 平仓回调带的是 trade id，有就用它做归因主键
	attributionKey := ack.TradeId
	if attributionKey == "" {
		attributionKey = ack.OrderId
	}
	if err := r.ledger.MapOrderToStrategy(attributionKey, intent.Strategy); err != nil {
		logger.Error("map order to strategy", logger.Pair("order_id", ack.OrderId), logger.Pair("error", err.Error()))
	}
	if err := r.registry.Register(venueName, ack.OrderId, intent.Symbol, u, order.StopPrice, order.TargetPrice); err != nil {
		logger.Warn("register position", logger.Pair("error", err.Error()))
	}
	if ack.TradeId != "" {
		r.registry.SetTradeId(ack.OrderId, ack.TradeId)
	}
	if err := r.ledger.RecordOpen(); err != nil {
		logger.Error("record open", logger.Pair("error", err.Error()))
	}

	// (10) 挂保护单，失败重试一次；仍失败只告警，裸仓交给巡检止血
	r.attachProtection(ctx, adapter, ack.OrderId, order)

	return &model.ExecutionResult{
		Success: true, OrderId: ack.OrderId, Venue: venueName,
		Units: u, FillPrice: ack.FillPrice,
	}
}

// pickVenue 按品种形状分类：
// 下划线=外汇，横杠=加密货币，纯代码=股票；没配对应场所时拒绝
func (r *Router) pickVenue(intent model.OrderIntent) (venue.Adapter, *model.ExecutionError) {
	symbol := intent.Symbol
	switch {
	case strings.Contains(symbol, "_"):
		return r.pickFx(intent)
	case strings.Contains(symbol, "-"):
		if r.venues.Crypto == nil {
			return nil, noVenue(symbol, consts.VenueOkx)
		}
		return r.venues.Crypto, nil
	case symbol != "" && !strings.ContainsAny(symbol, "/:. "):
		if r.venues.Equity == nil {
			return nil, noVenue(symbol, consts.VenueTradier)
		}
		return r.venues.Equity, nil
	}
	return nil, &model.ExecutionError{
		Kind: model.ErrKindValidation, Source: "router",
		Message: "unrecognized symbol shape: " + symbol,
	}
}

// pickFx 外汇的灰度路由：只有进程开了实盘且策略已转正才走实盘账户
// 需要的那个子场所没配置时宁可拒单也不悄悄换路
func (r *Router) pickFx(intent model.OrderIntent) (venue.Adapter, *model.ExecutionError) {
	if r.cfg.LiveTrading && r.ledger.IsLiveApproved(intent.Strategy) {
		if r.venues.FxLive == nil {
			return nil, noVenue(intent.Symbol, consts.VenueOanda+"(live)")
		}
		return r.venues.FxLive, nil
	}
	if r.venues.FxPaper == nil {
		return nil, noVenue(intent.Symbol, consts.VenueOanda+"(paper)")
	}
	return r.venues.FxPaper, nil
}

func noVenue(symbol, want string) *model.ExecutionError {
	return &model.ExecutionError{
		Kind: model.ErrKindConfiguration, Source: "router",
		Message: "no venue configured for " + symbol, Details: "want " + want,
	}
}

// normalize 把场所返回的任意 error 归一化成 ExecutionError
// 已经分类过的原样透传，其余一律按 transport 处理
func normalize(err error, venueName string) *model.ExecutionError {
	var execErr *model.ExecutionError
	if errors.As(err, &execErr) {
		return execErr
	}
	return &model.ExecutionError{
		Kind: model.ErrKindTransport, Source: venueName, Message: err.Error(),
	}
}

// placeWithDeadline 带软超时的下单，超时后尽力撤单并报 latency
func (r *Router) placeWithDeadline(ctx context.Context, adapter venue.Adapter, order *model.SanitizedOrder) (*venue.OrderAck, *model.ExecutionError) {
	deadline := r.cfg.PlaceOrderDeadline
	if deadline <= 0 {
		deadline = defaultPlaceDeadline
	}
	placeCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ack, err := adapter.PlaceOrder(placeCtx, order)
	if err == nil {
		return ack, nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		// 订单可能已经到了场所，撤单是尽力而为
		cancelCtx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelFn()
		orderId := ""
		if ack != nil {
			orderId = ack.OrderId
		}
		if cerr := adapter.CancelOrder(cancelCtx, orderId, order.Symbol); cerr != nil {
			logger.Error("cancel after deadline",
				logger.Pair("venue", adapter.Name()), logger.Pair("symbol", order.Symbol),
				logger.Pair("error", cerr.Error()))
		}
		return nil, &model.ExecutionError{
			Kind: model.ErrKindLatency, Source: adapter.Name(),
			Message: "place order exceeded deadline " + deadline.String(),
		}
	}
	return nil, normalize(err, adapter.Name())
}

// attachProtection 挂止损止盈，失败重试一次
func (r *Router) attachProtection(ctx context.Context, adapter venue.Adapter, orderId string, order *model.SanitizedOrder) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = adapter.AttachProtection(ctx, orderId, order.StopPrice, order.TargetPrice); err == nil {
			return
		}
	}
	logger.Error("attach protection failed, position is naked until next sweep",
		logger.Pair("venue", adapter.Name()), logger.Pair("order_id", orderId),
		logger.Pair("error", err.Error()))
}

// defaultStop ATR 距离的默认止损，K线拉不到时退化为固定 pip
func (r *Router) defaultStop(adapter venue.Adapter, intent model.OrderIntent, q model.BidAsk, inst Instrument, long bool) float64 {
	timeframe := intent.Timeframe
	if timeframe == "" {
		timeframe = "1h"
	}
	klines, err := adapter.GetCandles(intent.Symbol, timeframe, atrCandleLimit)
	if err != nil {
		logger.Warn("candles for default stop",
			logger.Pair("symbol", intent.Symbol), logger.Pair("error", err.Error()))
		klines = nil
	}
	return DefaultStop(long, q, DefaultStopDistance(klines, inst), inst)
}

// finish 审计、指标、事件外发，失败只记日志不影响结果
func (r *Router) finish(ctx context.Context, intent model.OrderIntent, result *model.ExecutionResult) {
	outcome := "success"
	if !result.Success {
		outcome = string(model.ErrKindInternal)
		if result.Error != nil {
			outcome = string(result.Error.Kind)
		}
	}
	venueName := result.Venue
	if venueName == "" {
		venueName = "none"
	}
	metrics.OrdersRouted.WithLabelValues(venueName, outcome).Inc()

	if r.orderDao != nil {
		rec := &model.OrderRecord{
			OrderId:   result.OrderId,
			Venue:     venueName,
			Symbol:    intent.Symbol,
			CreatedAt: time.Now(),
			Direction: intent.Side(),
			Notional:  intent.NotionalUsd,
			Units:     result.Units,
			Entry:     result.FillPrice,
			SL:        intent.SL,
			TP:        intent.TP,
			Strategy:  intent.Strategy,
			Success:   result.Success,
		}
		if result.Error != nil {
			rec.ErrKind = string(result.Error.Kind)
			rec.ErrMsg = result.Error.Message
		}
		if err := r.orderDao.InsertOrderRecord(ctx, rec); err != nil {
			logger.Error("insert order record", logger.Pair("error", err.Error()))
		}
	}

	if r.producer != nil {
		if err := r.producer.Produce(ctx, kafka.TopicExecutionResult,
			[]byte(registry.NormalizeSymbol(intent.Symbol)), result); err != nil {
			logger.Warn("produce execution result", logger.Pair("error", err.Error()))
		}
	}
}

// HandleTradeClose 场所平仓回调：归因盈亏、注销持仓、外发事件
// 重复回调在账本层会查不到归因，记日志丢弃
func (r *Router) HandleTradeClose(close model.TradeClose) {
	strategy, known := r.ledger.RecordTradeClose(close)
	if !known {
		return
	}
	r.registry.UnregisterSymbol(close.Symbol)
	logger.Info("trade closed",
		logger.Pair("strategy", strategy),
		logger.Pair("order_id", close.OrderId),
		logger.Pair("pnl", close.RealizedPnl))

	if r.producer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.producer.Produce(ctx, kafka.TopicTradeClosed,
			[]byte(registry.NormalizeSymbol(close.Symbol)), close); err != nil {
			logger.Warn("produce trade closed", logger.Pair("error", err.Error()))
		}
	}
}

// memoQuote 行情记忆化，一次路由内最多打一次行情接口
func memoQuote(adapter venue.Adapter, symbol string) func() (model.BidAsk, error) {
	var (
		done bool
		q    model.BidAsk
		err  error
	)
	return func() (model.BidAsk, error) {
		if !done {
			q, err = adapter.GetCurrentBidAsk(symbol)
			done = true
		}
		return q, err
	}
}

// memoUnits 数量换算记忆化，依赖行情所以同样懒加载
func memoUnits(intent model.OrderIntent, quote func() (model.BidAsk, error), adapter venue.Adapter) func() (float64, error) {
	var (
		done bool
		u    float64
		err  error
	)
	return func() (float64, error) {
		if !done {
			var q model.BidAsk
			q, err = quote()
			if err == nil {
				u, err = ComputeUnits(intent.Symbol, intent.Side(), intent.NotionalUsd, q.Mid(), baseUsdFn(adapter, intent.Symbol))
			}
			done = true
		}
		return u, err
	}
}

// baseUsdFn 交叉盘换算用的辅助报价，沿用本盘口的分隔符风格
func baseUsdFn(adapter venue.Adapter, symbol string) func(base string) (float64, error) {
	sep := "_"
	if strings.Contains(symbol, "-") {
		sep = "-"
	}
	return func(base string) (float64, error) {
		return adapter.GetCurrentPrice(base + sep + "USD")
	}
}

func fundingFn(adapter venue.Adapter, symbol string) func() (float64, error) {
	fp, ok := adapter.(venue.FundingRateProvider)
	if !ok {
		return nil
	}
	return func() (float64, error) {
		return fp.GetFundingRate(symbol)
	}
}

func tradingHoursFn(adapter venue.Adapter) func(now time.Time) bool {
	tp, ok := adapter.(venue.TradingHoursProvider)
	if !ok {
		return nil
	}
	return tp.InTradingHours
}
