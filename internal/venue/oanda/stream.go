package oanda

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"time"
	"tradeflow/internal/model"
	"tradeflow/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
)

// oanda 事务流，平仓成交（止损/止盈触发、手动平仓）从这里异步回来
// 流式接口在 stream-* 域名上，行分隔 JSON

const streamBackoff = 5 * time.Second

type transactionStream struct {
	v *Venue
}

func newTransactionStream(v *Venue) *transactionStream {
	return &transactionStream{v: v}
}

func (s *transactionStream) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *transactionStream) streamURL() string {
	base := strings.Replace(s.v.apiBase, "api-", "stream-", 1)
	return base + "/v3/accounts/" + s.v.accountID + "/transactions/stream"
}

func (s *transactionStream) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.runOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("oanda transaction stream disconnected",
				logger.Pair("venue", s.v.name), logger.Pair("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(streamBackoff):
		}
	}
}

func (s *transactionStream) runOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.streamURL(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.v.token)

	// 流式连接不能带整体超时
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.handleLine(scanner.Bytes())
	}
	return scanner.Err()
}

// ORDER_FILL 且带 tradesClosed 的事务就是平仓成交
func (s *transactionStream) handleLine(line []byte) {
	var tx struct {
		Type         string `json:"type"`
		OrderID      string `json:"orderID"`
		Instrument   string `json:"instrument"`
		TradesClosed []struct {
			TradeID    string `json:"tradeID"`
			RealizedPL string `json:"realizedPL"`
		} `json:"tradesClosed"`
	}
	if err := json.Unmarshal(line, &tx); err != nil {
		return
	}
	if tx.Type != "ORDER_FILL" || len(tx.TradesClosed) == 0 {
		return
	}
	for _, tc := range tx.TradesClosed {
		s.v.emitTradeClose(model.TradeClose{
			TradeId:     tc.TradeID,
			OrderId:     tc.TradeID, // oanda 的平仓以 trade 为主键，本地账本按 tradeId 建的映射
			Symbol:      tx.Instrument,
			RealizedPnl: cast.ToFloat64(tc.RealizedPL),
		})
	}
}
