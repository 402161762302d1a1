package xerr

import (
	"errors"
	"fmt"
)

// 常用错误码定义
const (
	OK                 = 200
	RequestParamsError = 400
	RecordNotFound     = 404
	StateConflict      = 409
	ServerCommonError  = 500
	DbError            = 501
	TransientError     = 503 // 可重试：网络/存储抖动
	ConfigError        = 510 // 启动配置错误，不可恢复
)

type CodeError struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	Cause error  `json:"-"`
}

func (e *CodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s, Cause:%v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.Cause }

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 保留原始错误，errors.Is 仍然可以穿透
func Wrap(cause error, code int, msg string) error {
	if cause == nil {
		return nil
	}
	return &CodeError{Code: code, Msg: msg, Cause: cause}
}

// As 取出链路上最近的 CodeError
func As(err error) (*CodeError, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// CodeOf 没有业务码的错误一律按 500 处理
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	if ce, ok := As(err); ok {
		return ce.Code
	}
	return ServerCommonError
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "服务器开小差了"
	case RequestParamsError:
		return "参数错误"
	case DbError:
		return "数据库繁忙"
	case RecordNotFound:
		return "记录不存在"
	case StateConflict:
		return "状态冲突"
	case TransientError:
		return "服务繁忙，请稍后重试"
	case ConfigError:
		return "配置错误"
	default:
		return "未知错误"
	}
}
