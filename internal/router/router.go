package router

import (
	"tradeflow/internal/handler/ping"
	"tradeflow/internal/handler/positions"
	"tradeflow/internal/handler/webhook"
	"tradeflow/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ApiRouter struct {
	webhookHandler   *webhook.Handler
	positionsHandler *positions.Handler
}

func NewApiRouter(wh *webhook.Handler, ph *positions.Handler) *ApiRouter {
	return &ApiRouter{webhookHandler: wh, positionsHandler: ph}
}

func (api *ApiRouter) Load(g *gin.Engine) {
	g.GET("/ping", ping.Ping())

	// 信号入口，签名校验在 handler 里做
	g.POST("/webhook", api.webhookHandler.HandleWebhook())

	g.GET("/metrics", gin.WrapH(promhttp.Handler()))

	base := g.Group("/api/v1", middleware.NoCache())
	{
		base.GET("/positions", api.positionsHandler.PositionsGet())
		base.GET("/strategies", api.positionsHandler.StrategiesGet())
		base.POST("/strategies/approve", api.positionsHandler.StrategyApprove())
		base.POST("/daily/reset", api.positionsHandler.DailyReset())
		base.GET("/orders", api.positionsHandler.OrdersGetRecent())
	}
}
