package positions

import (
	"tradeflow/internal/dao"
	"tradeflow/internal/ledger"
	"tradeflow/internal/registry"
	"tradeflow/pkg/errors"
	"tradeflow/pkg/errors/ecode"
	"tradeflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
)

// 运维查询接口：当前持仓、策略战绩、最近订单

type Handler struct {
	registry *registry.Registry
	ledger   *ledger.Ledger
	orderDao dao.OrderRecorder // 可为 nil
}

func NewHandler(reg *registry.Registry, led *ledger.Ledger, orderDao dao.OrderRecorder) *Handler {
	return &Handler{registry: reg, ledger: led, orderDao: orderDao}
}

// PositionsGet 当前本地账本里的持仓和当日风控状态
func (h *Handler) PositionsGet() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		response.JSON(ctx, nil, gin.H{
			"count":     h.registry.Count(),
			"positions": h.registry.List(),
			"daily":     h.ledger.Daily(),
		})
	}
}

// DailyReset 手动重置交易日（正常情况由巡检跨日自动触发）
func (h *Handler) DailyReset() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if err := h.ledger.DailyReset(); err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.ErrInternal, ""), nil)
			return
		}
		response.JSON(ctx, nil, h.ledger.Daily())
	}
}

// StrategiesGet 策略战绩和转正状态
func (h *Handler) StrategiesGet() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		response.JSON(ctx, nil, h.ledger.Strategies())
	}
}

// StrategyApprove 人工转正/降级某个策略
func (h *Handler) StrategyApprove() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req struct {
			Strategy string `json:"strategy" binding:"required"`
			Approved bool   `json:"approved"`
		}
		if err := ctx.ShouldBindJSON(&req); err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.ErrValidate, ""), nil)
			return
		}
		if err := h.ledger.SetLiveApproval(req.Strategy, req.Approved); err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.ErrInternal, ""), nil)
			return
		}
		response.JSON(ctx, nil, nil)
	}
}

// OrdersGetRecent 最近的下单审计记录
func (h *Handler) OrdersGetRecent() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if h.orderDao == nil {
			response.JSON(ctx, errors.New(ecode.ErrInternal, "数据库未启用"), nil)
			return
		}
		limit := cast.ToInt(ctx.DefaultQuery("limit", "50"))
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		records, err := h.orderDao.OrderGetRecent(ctx.Request.Context(), limit)
		if err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.ErrInternal, ""), nil)
			return
		}
		response.JSON(ctx, nil, records)
	}
}
