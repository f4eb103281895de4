package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
	"tradeflow/conf"
	"tradeflow/internal/model"
	"tradeflow/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/spf13/cast"
)

// okx 私有订单频道，平仓成交通过这里异步回来
// 断线指数退避重连，不丢回调的前提是 okx 侧订单状态可重放（拿不到的由巡检兜底）

const (
	pingInterval     = 20 * time.Second
	reconnectBackoff = 2 * time.Second
	maxBackoff       = time.Minute
)

type orderStream struct {
	cfg    conf.Okx
	onFill func(model.TradeClose)
}

func newOrderStream(cfg conf.Okx, onFill func(model.TradeClose)) *orderStream {
	return &orderStream{cfg: cfg, onFill: onFill}
}

func (s *orderStream) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *orderStream) loop(ctx context.Context) {
	backoff := reconnectBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("okx order stream disconnected", logger.Pair("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *orderStream) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.WsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := s.login(conn); err != nil {
		return err
	}

	sub := map[string]any{
		"op": "subscribe",
		"args": []map[string]string{
			{"channel": "orders", "instType": "SWAP"},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	// 心跳，okx 30 秒没流量会断开
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if string(data) == "pong" {
			continue
		}
		s.handleMessage(data)
	}
}

// login okx 私有频道鉴权：hmac-sha256(ts+"GET"+"/users/self/verify")
func (s *orderStream) login(conn *websocket.Conn) error {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(s.cfg.SecretKey))
	mac.Write([]byte(ts + "GET" + "/users/self/verify"))
	sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	login := map[string]any{
		"op": "login",
		"args": []map[string]string{{
			"apiKey":     s.cfg.ApiKey,
			"passphrase": s.cfg.Password,
			"timestamp":  ts,
			"sign":       sign,
		}},
	}
	if err := conn.WriteJSON(login); err != nil {
		return err
	}

	// 等登录确认
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	var resp struct {
		Event string `json:"event"`
		Code  string `json:"code"`
		Msg   string `json:"msg"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}
	if resp.Event == "error" || (resp.Code != "" && resp.Code != "0") {
		logger.Error("okx ws login failed", logger.Pair("code", resp.Code), logger.Pair("msg", resp.Msg))
		return websocket.ErrBadHandshake
	}
	return nil
}

func (s *orderStream) handleMessage(data []byte) {
	var msg struct {
		Arg struct {
			Channel string `json:"channel"`
		} `json:"arg"`
		Data []struct {
			InstId     string `json:"instId"`
			OrdId      string `json:"ordId"`
			State      string `json:"state"`
			Side       string `json:"side"`
			Pnl        string `json:"pnl"`
			ReduceOnly string `json:"reduceOnly"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Arg.Channel != "orders" {
		return
	}
	for _, o := range msg.Data {
		// 只关心完全成交的平仓单
		if o.State != "filled" {
			continue
		}
		if o.ReduceOnly != "true" && o.Pnl == "" {
			continue
		}
		s.onFill(model.TradeClose{
			TradeId:     o.OrdId,
			OrderId:     o.OrdId,
			Symbol:      o.InstId,
			RealizedPnl: cast.ToFloat64(o.Pnl),
		})
	}
}
