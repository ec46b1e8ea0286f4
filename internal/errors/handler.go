package errors

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// ErrorBody 错误响应中的error字段
type ErrorBody struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Response 统一错误响应
type Response struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// ToResponse 构建错误响应及HTTP状态码
func ToResponse(err error) (int, Response) {
	appErr := Translate(err)
	if appErr == nil {
		appErr = NewSystemError(ErrCodeInternalServer, "Internal server error")
	}

	body := ErrorBody{
		Code:    appErr.Code,
		Message: appErr.Message,
	}
	if appErr.Details != nil && shouldIncludeDetails(appErr) {
		body.Details = appErr.Details
	}
	return appErr.HTTPCode, Response{Success: false, Error: body}
}

// ErrorHandler 错误处理器
type ErrorHandler struct {
	logger  *zap.Logger
	monitor *ErrorMonitor
}

// NewErrorHandler 创建错误处理器，monitor可为nil
func NewErrorHandler(logger *zap.Logger, monitor *ErrorMonitor) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{logger: logger, monitor: monitor}
}

// Handle 记录错误并写出JSON响应
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	appErr := Translate(err)
	h.Log(r.URL.Path, appErr)

	status, resp := ToResponse(appErr)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(resp); encodeErr != nil {
		h.logger.Error("Failed to write error response", zap.Error(encodeErr))
	}
}

// Log 按错误类型选择日志级别并记录监控
func (h *ErrorHandler) Log(endpoint string, appErr *AppError) {
	if appErr == nil {
		return
	}
	if h.monitor != nil {
		h.monitor.RecordError(appErr, endpoint)
	}

	fields := []zap.Field{
		zap.String("error_code", string(appErr.Code)),
		zap.String("error_type", appErr.Type.String()),
		zap.Int("http_code", appErr.HTTPCode),
		zap.String("path", endpoint),
	}
	if appErr.Cause != nil {
		fields = append(fields, zap.String("cause", appErr.Cause.Error()))
	}

	switch appErr.Type {
	case ErrorTypeValidation:
		h.logger.Info(appErr.Message, fields...)
	case ErrorTypeBusiness, ErrorTypeExternal:
		h.logger.Warn(appErr.Message, fields...)
	default:
		h.logger.Error(appErr.Message, fields...)
	}
}

// 系统错误和外部错误不暴露详情
func shouldIncludeDetails(appErr *AppError) bool {
	return appErr.Type == ErrorTypeValidation || appErr.Type == ErrorTypeBusiness
}
