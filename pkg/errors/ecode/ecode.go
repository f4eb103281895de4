package ecode

// 业务错误码，0 表示成功
const (
	Success = 0

	// 通用
	ErrInternal = 10001 // 内部错误
	ErrBind     = 10002 // 请求参数解析失败
	ErrValidate = 10003 // 请求参数校验失败
	ErrAuth     = 10004 // 签名校验失败

	// 执行层
	ErrAdmission = 20001 // 被风控检查拒绝
	ErrNoVenue   = 20002 // 没有可用的交易场所
	ErrTransport = 20003 // 场所网络/接口错误
	ErrIntegrity = 20004 // 完整性冲突（如重复持仓）
	ErrLatency   = 20005 // 下单超时
	ErrCooldown  = 20006 // 冷却期内重复下单
)

var messages = map[int]string{
	Success:      "OK",
	ErrInternal:  "内部错误",
	ErrBind:      "请求参数解析失败",
	ErrValidate:  "请求参数校验失败",
	ErrAuth:      "签名校验失败",
	ErrAdmission: "被风控检查拒绝",
	ErrNoVenue:   "没有可用的交易场所",
	ErrTransport: "交易场所接口错误",
	ErrIntegrity: "持仓完整性冲突",
	ErrLatency:   "下单超时",
	ErrCooldown:  "冷却期内重复下单",
}

// Text 返回错误码对应的默认文案
func Text(code int) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return messages[ErrInternal]
}
