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
	// 通用错误
	ErrCodeInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrCodeTimeout        ErrorCode = "TIMEOUT"

	// 验证错误
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeMissingRequired   ErrorCode = "MISSING_REQUIRED"
	ErrCodeInvalidFileFormat ErrorCode = "INVALID_FILE_FORMAT"

	// 流水线错误
	ErrCodeExtractionFailed  ErrorCode = "EXTRACTION_FAILED"
	ErrCodeEmbeddingFailed   ErrorCode = "EMBEDDING_FAILED"
	ErrCodeIndexFailed       ErrorCode = "INDEX_FAILED"
	ErrCodeGenerationFailed  ErrorCode = "GENERATION_FAILED"
	ErrCodeNothingIndexed    ErrorCode = "NOTHING_INDEXED"
	ErrCodeDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeSystem:
		return "system"
	case ErrorTypeBusiness:
		return "business"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeExternal:
		return "external"
	default:
		return "unknown"
	}
}

// AppError 应用错误结构体
type AppError struct {
	Code     ErrorCode   `json:"code"`
	Message  string      `json:"message"`
	Type     ErrorType   `json:"type"`
	HTTPCode int         `json:"-"`
	Details  interface{} `json:"details,omitempty"`
	Cause    error       `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func newAppError(code ErrorCode, t ErrorType, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     t,
		HTTPCode: httpCodeFor(code),
	}
}

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, message string) *AppError {
	return newAppError(code, ErrorTypeSystem, message)
}

// NewValidationError 创建验证错误
func NewValidationError(message string) *AppError {
	return newAppError(ErrCodeValidationFailed, ErrorTypeValidation, message)
}

// NewMissingConfigError 远程服务缺少必需配置（如API Key）
func NewMissingConfigError(key string) *AppError {
	return newAppError(ErrCodeMissingRequired, ErrorTypeValidation,
		fmt.Sprintf("missing required configuration: %s", key))
}

// NewExtractionError 单个文件文本提取失败
func NewExtractionError(fileName string, cause error) *AppError {
	return newAppError(ErrCodeExtractionFailed, ErrorTypeBusiness,
		fmt.Sprintf("failed to extract text from %s", fileName)).WithCause(cause)
}

// NewEmbeddingError 向量化失败
func NewEmbeddingError(cause error) *AppError {
	return newAppError(ErrCodeEmbeddingFailed, ErrorTypeExternal, "embedding request failed").WithCause(cause)
}

// NewIndexError 向量库读写失败
func NewIndexError(cause error) *AppError {
	return newAppError(ErrCodeIndexFailed, ErrorTypeExternal, "vector store request failed").WithCause(cause)
}

// NewGenerationError 语言模型调用失败
func NewGenerationError(cause error) *AppError {
	return newAppError(ErrCodeGenerationFailed, ErrorTypeExternal, "Could not generate an answer.").WithCause(cause)
}

// NewNothingIndexedError 没有任何片段被成功索引
func NewNothingIndexedError(message string) *AppError {
	return newAppError(ErrCodeNothingIndexed, ErrorTypeBusiness, message)
}

// NewDimensionMismatchError 向量维度与部署配置不一致
func NewDimensionMismatchError(cause error) *AppError {
	return newAppError(ErrCodeDimensionMismatch, ErrorTypeSystem, "embedding dimension does not match configuration").WithCause(cause)
}

// NewTimeoutError 远程调用超时
func NewTimeoutError(operation string, cause error) *AppError {
	return newAppError(ErrCodeTimeout, ErrorTypeExternal,
		fmt.Sprintf("%s timed out", operation)).WithCause(cause)
}

func httpCodeFor(code ErrorCode) int {
	switch code {
	case ErrCodeValidationFailed, ErrCodeMissingRequired, ErrCodeInvalidFileFormat, ErrCodeNothingIndexed:
		return http.StatusBadRequest
	case ErrCodeExtractionFailed:
		return http.StatusUnprocessableEntity
	case ErrCodeEmbeddingFailed, ErrCodeIndexFailed, ErrCodeGenerationFailed:
		return http.StatusBadGateway
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// IsAppError 检查是否为AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// HasCode 判断错误链中是否包含指定错误码
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)
}
