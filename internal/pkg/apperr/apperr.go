// Package apperr 定义业务错误分类以及到 HTTP 状态码的映射。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError 表示请求字段缺失或取值非法。
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError 表示引用的任务或用户不存在。
type NotFoundError struct {
	Resource string
	ID       uint
}

func (e *NotFoundError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// AuthError 表示凭证缺失、过期或无效。
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// AuthorizationError 表示调用方已认证但无权执行该操作。
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	return e.Message
}

// Validation 构造 ValidationError。
func Validation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFound 构造 NotFoundError。
func NotFound(resource string, id uint) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// Auth 构造 AuthError。
func Auth(message string) error {
	return &AuthError{Message: message}
}

// Forbidden 构造 AuthorizationError。
func Forbidden(message string) error {
	return &AuthorizationError{Message: message}
}

// InternalMessage 是未知错误返回给调用方的通用文案。
const InternalMessage = "Internal server error."

// Status 将错误映射为 HTTP 状态码与可展示给调用方的消息。
//
// 四类业务错误返回各自的状态码和消息；其余错误一律映射为 500，
// 不向调用方泄露内部细节。
func Status(err error) (int, string) {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		auth       *AuthError
		forbidden  *AuthorizationError
	)
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Message
	case errors.As(err, &notFound):
		return http.StatusNotFound, notFound.Error()
	case errors.As(err, &auth):
		return http.StatusUnauthorized, auth.Message
	case errors.As(err, &forbidden):
		return http.StatusForbidden, forbidden.Message
	default:
		return http.StatusInternalServerError, InternalMessage
	}
}

// IsExpected 判断错误是否属于业务错误分类（无需按异常记录日志）。
func IsExpected(err error) bool {
	status, _ := Status(err)
	return status != http.StatusInternalServerError
}
