package common

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"tronex.com/pkg/logger"
	"tronex.com/pkg/xerr"
)

// 定义http返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// FailErr 按业务码映射 http 状态，只回固定文案，原始错误进日志
func FailErr(c *gin.Context, err error) {
	code := xerr.CodeOf(err)
	httpStatus, msg := mapCodeToHTTP(code)
	if ce, ok := xerr.As(err); ok && code == xerr.RequestParamsError && ce.Msg != "" {
		msg = ce.Msg
	}
	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("biz_code", code),
		zap.Error(err),
	}
	if httpStatus >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "http error", fields...)
	} else {
		logger.Warn(c.Request.Context(), "http error", fields...)
	}
	Fail(c, httpStatus, code, msg)
}

func mapCodeToHTTP(code int) (int, string) {
	switch code {
	case xerr.RequestParamsError:
		return http.StatusBadRequest, xerr.MapErrMsg(code)
	case xerr.RecordNotFound:
		return http.StatusNotFound, xerr.MapErrMsg(code)
	case xerr.StateConflict:
		return http.StatusConflict, xerr.MapErrMsg(code)
	case xerr.TransientError:
		return http.StatusServiceUnavailable, xerr.MapErrMsg(code)
	default:
		return http.StatusInternalServerError, xerr.MapErrMsg(xerr.ServerCommonError)
	}
}

// IsCode 判断错误链上是否带某个业务码
func IsCode(err error, code int) bool {
	var ce *xerr.CodeError
	return errors.As(err, &ce) && ce.Code == code
}
