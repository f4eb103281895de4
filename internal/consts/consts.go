package consts

import "time"

const (
	// RequestId 请求id名称
	RequestId = "request_id"

	DateLayout   = "2006-01-02"
	TimeLayout   = "2006-01-02 15:04:05"
	TimeLayoutMs = "2006-01-02 15:04:05.000"
)

const (
	// 冷却期的 redis key 前缀，key 形如 Trade_Cooldown:EURUSD
	TradeCooldownPrefix = "Trade_Cooldown:"

	// 默认redis过期时间
	RedisExrDefault = time.Hour * 24 * 5
)

// 场所名称，路由和费率配置都以此为键
const (
	VenueOanda   = "oanda"
	VenueOkx     = "okx"
	VenueTradier = "tradier"
	VenuePaper   = "paper"
)
