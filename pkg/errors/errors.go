package errors

import (
	"fmt"
	"tradeflow/pkg/errors/ecode"
)

// 携带业务错误码的 error，供 response 层统一解码

type CodedError struct {
	Code    int
	Message string
	Err     error // 原始错误，仅打日志用，不返回给客户端
}

func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code=%d message=%s err=%v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("code=%d message=%s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error { return e.Err }

// New 创建一个带错误码的错误
func New(code int, message string) error {
	if message == "" {
		message = ecode.Text(code)
	}
	return &CodedError{Code: code, Message: message}
}

// Wrap 把原始错误包装上错误码
func Wrap(err error, code int, message string) error {
	if message == "" {
		message = ecode.Text(code)
	}
	return &CodedError{Code: code, Message: message, Err: err}
}

// DecodeErr 解码错误，返回错误码和提示文案
// nil 返回 Success
func DecodeErr(err error) (int, string) {
	if err == nil {
		return ecode.Success, ecode.Text(ecode.Success)
	}
	if ce, ok := err.(*CodedError); ok {
		return ce.Code, ce.Message
	}
	// 未知错误统一按内部错误处理，细节只进日志
	return ecode.ErrInternal, ecode.Text(ecode.ErrInternal)
}
