package errors

import (
	"context"
	stderrors "errors"
	"net"

	"github.com/go-playground/validator/v10"
)

// Translate 将各种类型的错误转换为AppError
func Translate(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	var validationErrors validator.ValidationErrors
	if stderrors.As(err, &validationErrors) {
		return translateValidationErrors(validationErrors)
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("operation", err)
	}

	var netErr *net.OpError
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeoutError("network call", err)
	}

	return NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)
}

// FieldError 单个字段的校验失败
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func translateValidationErrors(validationErrors validator.ValidationErrors) *AppError {
	details := make([]FieldError, 0, len(validationErrors))
	message := "Validation failed"
	for _, fieldError := range validationErrors {
		details = append(details, FieldError{
			Field:   fieldError.Field(),
			Tag:     fieldError.Tag(),
			Message: validationMessage(fieldError),
		})
	}
	if len(details) == 1 {
		message = details[0].Message
	}

	return NewValidationError(message).WithDetails(map[string]interface{}{
		"errors": details,
	})
}

func validationMessage(fieldError validator.FieldError) string {
	field := fieldError.Field()

	switch fieldError.Tag() {
	case "required", "notblank":
		return "Missing " + field
	case "min":
		return field + " must be at least " + fieldError.Param()
	case "max":
		return field + " must be at most " + fieldError.Param()
	default:
		return field + " is invalid"
	}
}
