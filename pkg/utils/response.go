package utils

import (
	"errors"

	"github.com/xsxdot/aio-apm/pkg/common"

	"github.com/gofiber/fiber/v2"
)

// 定义常用的状态码
const (
	// 成功状态码，与前端约定为20000
	StatusSuccess = 20000
	// 参数错误状态码
	StatusBadRequest = 40000
	// 未授权状态码
	StatusUnauthorized = 40100
	// 权限不足状态码
	StatusForbidden = 40300
	// 资源不存在状态码
	StatusNotFound = 40400
	// 服务器内部错误状态码
	StatusInternalError = 50000
	// 服务不可用状态码
	StatusServiceUnavailable = 50300
)

// Response 统一返回结构体
type Response struct {
	// 状态码，与前端约定为20000表示成功
	Code int `json:"code"`
	// 消息内容
	Msg string `json:"msg"`
	// 数据内容
	Data interface{} `json:"data,omitempty"`
}

// NewResponse 创建新的响应
func NewResponse(code int, msg string, data interface{}) *Response {
	return &Response{
		Code: code,
		Msg:  msg,
		Data: data,
	}
}

// Success 返回成功响应
func Success(data interface{}) *Response {
	return NewResponse(StatusSuccess, "success", data)
}

// Fail 返回失败响应
func Fail(code int, msg string) *Response {
	return NewResponse(code, msg, nil)
}

// WithResponse 封装响应的辅助函数
func WithResponse(c *fiber.Ctx, resp *Response) error {
	return c.Status(fiber.StatusOK).JSON(resp)
}

// SuccessResponse 返回成功响应的辅助函数
func SuccessResponse(c *fiber.Ctx, data interface{}) error {
	return WithResponse(c, Success(data))
}

// FailResponse 返回失败响应的辅助函数
func FailResponse(c *fiber.Ctx, code int, msg string) error {
	return WithResponse(c, Fail(code, msg))
}

// ErrorResponse 由错误生成的失败响应
func ErrorResponse(c *fiber.Ctx, err error) error {
	code := StatusInternalError
	msg := "服务器内部错误"

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		switch fe.Code {
		case fiber.StatusBadRequest:
			code = StatusBadRequest
			msg = "参数错误"
		case fiber.StatusUnauthorized:
			code = StatusUnauthorized
			msg = "未授权"
		case fiber.StatusForbidden:
			code = StatusForbidden
			msg = "禁止访问"
		case fiber.StatusNotFound:
			code = StatusNotFound
			msg = "资源不存在"
		case fiber.StatusServiceUnavailable:
			code = StatusServiceUnavailable
			msg = "服务不可用"
		}
		if fe.Message != "" {
			msg = fe.Message
		}
	case common.IsAppError(err):
		appErr := common.ToAppError(err)
		code = appErrorCode(appErr)
		msg = appErr.Message
	case err != nil:
		msg = err.Error()
	}

	return WithResponse(c, Fail(code, msg))
}

// appErrorCode 将AppError映射为业务状态码
func appErrorCode(err *common.AppError) int {
	switch err.StatusCode() {
	case fiber.StatusBadRequest:
		return StatusBadRequest
	case fiber.StatusNotFound:
		return StatusNotFound
	case fiber.StatusServiceUnavailable, fiber.StatusRequestTimeout:
		return StatusServiceUnavailable
	default:
		return StatusInternalError
	}
}
