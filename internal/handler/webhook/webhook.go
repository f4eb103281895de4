package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"
	"tradeflow/internal/consts"
	"tradeflow/internal/execution"
	"tradeflow/internal/model"
	"tradeflow/pkg/errors"
	"tradeflow/pkg/errors/ecode"
	"tradeflow/pkg/logger"
	"tradeflow/pkg/response"

	"github.com/gin-gonic/gin"
)

// TradingView 下单信号入口
// 签名校验 -> 参数绑定 -> 交给路由层执行，同步返回结果

type Handler struct {
	router *execution.Router
	secret string
}

func NewHandler(router *execution.Router, secret string) *Handler {
	return &Handler{router: router, secret: secret}
}

func (h *Handler) HandleWebhook() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		body, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.ErrBind, ""), nil)
			return
		}
		ctx.Request.Body = io.NopCloser(bytes.NewBuffer(body))

		// 信号方用共享密钥对请求体做 hmac-sha256，放在 X-Signature
		if !h.verifySignature(body, ctx.GetHeader("X-Signature")) {
			response.RequireAuthErr(ctx, errors.New(ecode.ErrAuth, ""))
			return
		}

		var intent model.OrderIntent
		if err := ctx.ShouldBindJSON(&intent); err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.ErrValidate, ""), nil)
			return
		}
		if _, ok := model.ParseDirection(intent.Direction); !ok {
			response.JSON(ctx, errors.New(ecode.ErrValidate, "invalid direction: "+intent.Direction), nil)
			return
		}
		if intent.Timestamp.IsZero() {
			intent.Timestamp = time.Now()
		}

		logger.Info("signal received",
			logger.Pair(consts.RequestId, ctx.GetString(consts.RequestId)),
			logger.Pair("symbol", intent.Symbol),
			logger.Pair("direction", intent.Direction),
			logger.Pair("strategy", intent.Strategy),
			logger.Pair("notional", intent.NotionalUsd))

		result := h.router.Route(ctx.Request.Context(), intent)
		if result.Success {
			response.JSON(ctx, nil, result)
			return
		}
		response.JSON(ctx, toCodedError(result.Error), result)
	}
}

func (h *Handler) verifySignature(body []byte, signature string) bool {
	if h.secret == "" {
		// 没配密钥视为内网部署，不校验
		return true
	}
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// 错误分类 -> 业务错误码
func toCodedError(execErr *model.ExecutionError) error {
	if execErr == nil {
		return errors.New(ecode.ErrInternal, "")
	}
	code := ecode.ErrInternal
	switch execErr.Kind {
	case model.ErrKindValidation:
		code = ecode.ErrAdmission
		if execErr.Source == "cooldown" {
			code = ecode.ErrCooldown
		}
	case model.ErrKindConfiguration:
		code = ecode.ErrNoVenue
	case model.ErrKindTransport:
		code = ecode.ErrTransport
	case model.ErrKindIntegrity:
		code = ecode.ErrIntegrity
	case model.ErrKindLatency:
		code = ecode.ErrLatency
	}
	return errors.New(code, execErr.Message)
}
