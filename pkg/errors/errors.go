// Package errors 提供统一的错误定义
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess            ErrorCode = "0"
	CodeUnknown            ErrorCode = "1000"
	CodeInvalidParam       ErrorCode = "1001"
	CodeNotFound           ErrorCode = "1004"
	CodeConflict           ErrorCode = "1005"
	CodeInternalError      ErrorCode = "1007"
	CodeServiceUnavailable ErrorCode = "1008"

	// 资源错误 (3xxx)
	CodeStoryNotFound    ErrorCode = "3001"
	CodeChapterNotFound  ErrorCode = "3002"
	CodeTemplateNotFound ErrorCode = "3005"
	CodeSessionNotFound  ErrorCode = "3006"

	// 业务错误 (4xxx)
	CodeGenerationFailed   ErrorCode = "4001"
	CodeGenerationAborted  ErrorCode = "4006"
	CodeStreamFraming      ErrorCode = "4007"
	CodeTemplateResolution ErrorCode = "4008"
	CodeSessionBusy        ErrorCode = "4009"

	// 外部服务错误 (5xxx)
	CodeDatabaseError    ErrorCode = "5001"
	CodeCacheError       ErrorCode = "5002"
	CodeLLMProviderError ErrorCode = "5005"
)

// AppError 应用错误
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码比较，使 errors.Is(err, ErrXxx) 对包装后的错误同样成立
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail 返回附带详细信息的副本（预定义错误是共享的，不能原地修改）
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithError 返回附带底层错误的副本
func (e *AppError) WithError(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

// codeToHTTPStatus 错误码转 HTTP 状态码
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeNotFound, CodeStoryNotFound, CodeChapterNotFound, CodeTemplateNotFound, CodeSessionNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeSessionBusy:
		return http.StatusConflict
	case CodeTemplateResolution:
		return http.StatusUnprocessableEntity
	case CodeGenerationAborted:
		return 499
	case CodeLLMProviderError, CodeStreamFraming:
		return http.StatusBadGateway
	case CodeServiceUnavailable, CodeDatabaseError, CodeCacheError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrInternalError      = New(CodeInternalError, "internal server error")
	ErrServiceUnavailable = New(CodeServiceUnavailable, "service unavailable")

	ErrStoryNotFound    = New(CodeStoryNotFound, "story not found")
	ErrChapterNotFound  = New(CodeChapterNotFound, "chapter not found")
	ErrTemplateNotFound = New(CodeTemplateNotFound, "template not found")
	ErrSessionNotFound  = New(CodeSessionNotFound, "session not found")

	// ErrDataUnavailable 外部数据源读取失败，原样上抛，不在本地重试
	ErrDataUnavailable = New(CodeDatabaseError, "story data unavailable")
	// ErrTransport 生成服务返回非成功状态或网络故障
	ErrTransport = New(CodeLLMProviderError, "generation transport failed")
	// ErrStreamFraming 流中出现格式错误或被截断的帧
	ErrStreamFraming = New(CodeStreamFraming, "malformed stream frame")
	// ErrTemplateResolution 模板解析失败（以值的形式返回给预览调用方）
	ErrTemplateResolution = New(CodeTemplateResolution, "template resolution failed")
	// ErrAborted 生成被调用方主动取消，不属于故障
	ErrAborted     = New(CodeGenerationAborted, "generation aborted")
	ErrSessionBusy = New(CodeSessionBusy, "session already streaming")
)

// IsAppError 检查是否为 AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError 将错误转换为 AppError
func AsAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeUnknown, "unknown error")
}

// IsAborted 判断错误是否表示主动取消
func IsAborted(err error) bool {
	return stderrors.Is(err, ErrAborted)
}
