package oanda

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"tradeflow/internal/model"
	"tradeflow/internal/venue"
	"tradeflow/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
)

// OANDA v20 REST 场所，外汇
// live 和 practice 是两套独立的凭证和域名，各建一个实例

const requestTimeout = 10 * time.Second

type Venue struct {
	name      string
	token     string
	accountID string
	apiBase   string

	httpClient *http.Client
	callbacks  []func(model.TradeClose)
	stream     *transactionStream
}

func New(name, token, accountID, apiBase string) *Venue {
	if apiBase == "" {
		apiBase = "https://api-fxpractice.oanda.com"
	}
	return &Venue{
		name:       name,
		token:      token,
		accountID:  accountID,
		apiBase:    strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

func (v *Venue) Name() string { return v.name }

// Connect 查一次账户概要探测凭证有效性，成功后起事务流
func (v *Venue) Connect(ctx context.Context) error {
	var resp struct {
		Account struct {
			Id string `json:"id"`
		} `json:"account"`
	}
	if err := v.doRequest(ctx, http.MethodGet, v.accountURL("/summary"), nil, &resp); err != nil {
		return fmt.Errorf("oanda account summary: %w", err)
	}
	v.stream = newTransactionStream(v)
	v.stream.Start(ctx)
	return nil
}

func (v *Venue) accountURL(path string) string {
	return fmt.Sprintf("%s/v3/accounts/%s%s", v.apiBase, v.accountID, path)
}

func (v *Venue) GetCurrentBidAsk(symbol string) (model.BidAsk, error) {
	u := v.accountURL("/pricing?instruments=" + url.QueryEscape(symbol))
	var resp struct {
		Prices []struct {
			Bids []struct {
				Price string `json:"price"`
			} `json:"bids"`
			Asks []struct {
				Price string `json:"price"`
			} `json:"asks"`
		} `json:"prices"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := v.doRequest(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return model.BidAsk{}, err
	}
	if len(resp.Prices) == 0 || len(resp.Prices[0].Bids) == 0 || len(resp.Prices[0].Asks) == 0 {
		return model.BidAsk{}, fmt.Errorf("no pricing for %s", symbol)
	}
	return model.BidAsk{
		Bid: cast.ToFloat64(resp.Prices[0].Bids[0].Price),
		Ask: cast.ToFloat64(resp.Prices[0].Asks[0].Price),
	}, nil
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

// 15m -> M15，1h -> H1 这样的粒度映射
func granularity(timeframe string) string {
	switch timeframe {
	case "1m", "1":
		return "M1"
	case "5m", "5":
		return "M5"
	case "15m", "15":
		return "M15"
	case "30m", "30":
		return "M30"
	case "4h", "240":
		return "H4"
	case "1d", "D":
		return "D"
	default:
		return "H1"
	}
}

func (v *Venue) GetCandles(symbol string, timeframe string, limit int) ([]model.Kline, error) {
	if limit <= 0 {
		limit = 60
	}
	u := fmt.Sprintf("%s/v3/instruments/%s/candles?granularity=%s&count=%d&price=M",
		v.apiBase, url.PathEscape(symbol), granularity(timeframe), limit)
	var resp struct {
		Candles []struct {
			Time     string `json:"time"`
			Volume   int64  `json:"volume"`
			Complete bool   `json:"complete"`
			Mid      struct {
				O string `json:"o"`
				H string `json:"h"`
				L string `json:"l"`
				C string `json:"c"`
			} `json:"mid"`
		} `json:"candles"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := v.doRequest(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Kline, 0, len(resp.Candles))
	for _, c := range resp.Candles {
		ts, _ := time.Parse(time.RFC3339Nano, c.Time)
		out = append(out, model.Kline{
			Timestamp: ts,
			Open:      cast.ToFloat64(c.Mid.O),
			High:      cast.ToFloat64(c.Mid.H),
			Low:       cast.ToFloat64(c.Mid.L),
			Close:     cast.ToFloat64(c.Mid.C),
			Vol:       float64(c.Volume),
		})
	}
	return out, nil
}

// PlaceOrder 裸市价单入场，FOK：要么全部成交要么立即失败
func (v *Venue) PlaceOrder(ctx context.Context, order *model.SanitizedOrder) (*venue.OrderAck, error) {
	body := map[string]any{
		"order": map[string]any{
			"type":         "MARKET",
			"instrument":   order.Symbol,
			"units":        strconv.FormatFloat(order.VenueUnits, 'f', 0, 64),
			"timeInForce":  "FOK",
			"positionFill": "DEFAULT",
		},
	}
	var resp struct {
		OrderFillTransaction struct {
			Id          string `json:"id"`
			Price       string `json:"price"`
			TradeOpened struct {
				TradeID string `json:"tradeID"`
			} `json:"tradeOpened"`
		} `json:"orderFillTransaction"`
		OrderCancelTransaction struct {
			Reason string `json:"reason"`
		} `json:"orderCancelTransaction"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := v.doRequest(ctx, http.MethodPost, v.accountURL("/orders"), body, &resp); err != nil {
		return nil, err
	}
	if resp.ErrorMessage != "" {
		return nil, fmt.Errorf("oanda order rejected: %s", resp.ErrorMessage)
	}
	if resp.OrderFillTransaction.Id == "" {
		return nil, fmt.Errorf("oanda order not filled: %s", resp.OrderCancelTransaction.Reason)
	}
	return &venue.OrderAck{
		OrderId:   resp.OrderFillTransaction.Id,
		TradeId:   resp.OrderFillTransaction.TradeOpened.TradeID,
		FillPrice: cast.ToFloat64(resp.OrderFillTransaction.Price),
	}, nil
}

func (v *Venue) CancelOrder(ctx context.Context, orderId, symbol string) error {
	if orderId == "" {
		// 市价 FOK 单没有可撤的挂单，超时撤单走到这里只能等事务流对账
		return nil
	}
	return v.doRequest(ctx, http.MethodPut, v.accountURL("/orders/"+orderId+"/cancel"), nil, nil)
}

// AttachProtection 给已成交的 trade 挂止损止盈依赖单
func (v *Venue) AttachProtection(ctx context.Context, orderId string, stop, target float64) error {
	tradeId, err := v.tradeIdForOrder(ctx, orderId)
	if err != nil {
		return err
	}
	body := map[string]any{}
	if stop > 0 {
		body["stopLoss"] = map[string]string{"price": formatPrice(stop), "timeInForce": "GTC"}
	}
	if target > 0 {
		body["takeProfit"] = map[string]string{"price": formatPrice(target), "timeInForce": "GTC"}
	}
	if len(body) == 0 {
		return nil
	}
	return v.doRequest(ctx, http.MethodPut, v.accountURL("/trades/"+tradeId+"/orders"), body, nil)
}

// ModifyStop 只动止损，止盈保持不变
func (v *Venue) ModifyStop(ctx context.Context, tradeId string, price float64) error {
	body := map[string]any{
		"stopLoss": map[string]string{"price": formatPrice(price), "timeInForce": "GTC"},
	}
	return v.doRequest(ctx, http.MethodPut, v.accountURL("/trades/"+tradeId+"/orders"), body, nil)
}

// tradeIdForOrder 下单回执里已经带了 tradeId，这里兜底从 openTrades 反查
func (v *Venue) tradeIdForOrder(ctx context.Context, orderId string) (string, error) {
	var resp struct {
		Trades []struct {
			Id           string `json:"id"`
			OpeningOrder string `json:"openingOrderID"`
		} `json:"trades"`
	}
	if err := v.doRequest(ctx, http.MethodGet, v.accountURL("/openTrades"), nil, &resp); err != nil {
		return "", err
	}
	for _, t := range resp.Trades {
		if t.OpeningOrder == orderId || t.Id == orderId {
			return t.Id, nil
		}
	}
	return "", fmt.Errorf("no open trade for order %s", orderId)
}

func (v *Venue) GetOpenPositions(ctx context.Context) ([]model.VenuePosition, error) {
	var resp struct {
		Trades []struct {
			Id            string `json:"id"`
			Instrument    string `json:"instrument"`
			CurrentUnits  string `json:"currentUnits"`
			Price         string `json:"price"`
			UnrealizedPL  string `json:"unrealizedPL"`
			OpenTime      string `json:"openTime"`
			StopLossOrder struct {
				Price string `json:"price"`
			} `json:"stopLossOrder"`
			TakeProfitOrder struct {
				Price string `json:"price"`
			} `json:"takeProfitOrder"`
		} `json:"trades"`
	}
	if err := v.doRequest(ctx, http.MethodGet, v.accountURL("/openTrades"), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]model.VenuePosition, 0, len(resp.Trades))
	for _, t := range resp.Trades {
		opened, _ := time.Parse(time.RFC3339Nano, t.OpenTime)
		out = append(out, model.VenuePosition{
			TradeId:       t.Id,
			Symbol:        t.Instrument,
			Units:         cast.ToFloat64(t.CurrentUnits),
			EntryPrice:    cast.ToFloat64(t.Price),
			StopLoss:      cast.ToFloat64(t.StopLossOrder.Price),
			TakeProfit:    cast.ToFloat64(t.TakeProfitOrder.Price),
			UnrealizedPnl: cast.ToFloat64(t.UnrealizedPL),
			OpenedAt:      opened,
		})
	}
	return out, nil
}

func (v *Venue) CloseTrade(ctx context.Context, tradeId string) error {
	return v.doRequest(ctx, http.MethodPut, v.accountURL("/trades/"+tradeId+"/close"), nil, nil)
}

func (v *Venue) RegisterTradeClosedCallback(fn func(model.TradeClose)) {
	v.callbacks = append(v.callbacks, fn)
}

func (v *Venue) emitTradeClose(close model.TradeClose) {
	for _, fn := range v.callbacks {
		fn(close)
	}
}

// formatPrice oanda 要求字符串价格，最多 5 位小数
func formatPrice(px float64) string {
	return strconv.FormatFloat(px, 'f', 5, 64)
}

// doRequest 统一的请求封装：bearer 鉴权 + JSON 编解码 + 非 2xx 报错
func (v *Venue) doRequest(ctx context.Context, method, url string, body any, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+v.token)
	req.Header.Set("Content-Type", "application/json")

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
		logger.Debug("oanda api error",
			logger.Pair("url", url), logger.Pair("status", resp.StatusCode),
			logger.Pair("body", string(data)))
		return fmt.Errorf("oanda api status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(data, result)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
