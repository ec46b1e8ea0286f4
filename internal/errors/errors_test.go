package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAppError_HTTPCodes(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, NewValidationError("Missing query").HTTPCode)
	assert.Equal(t, http.StatusBadRequest, NewMissingConfigError("OPENAI_API_KEY").HTTPCode)
	assert.Equal(t, http.StatusBadRequest, NewNothingIndexedError("No content extracted.").HTTPCode)
	assert.Equal(t, http.StatusBadGateway, NewIndexError(fmt.Errorf("down")).HTTPCode)
	assert.Equal(t, http.StatusInternalServerError, NewDimensionMismatchError(fmt.Errorf("3 != 4")).HTTPCode)
}

func TestGetAppError_WrapsForeignErrors(t *testing.T) {
	wrapped := fmt.Errorf("ingest: %w", NewIndexError(fmt.Errorf("conn refused")))
	assert.Equal(t, ErrCodeIndexFailed, GetAppError(wrapped).Code)
	assert.True(t, HasCode(wrapped, ErrCodeIndexFailed))

	plain := GetAppError(fmt.Errorf("boom"))
	assert.Equal(t, ErrCodeInternalServer, plain.Code)
	assert.EqualError(t, plain, "Internal server error: boom")
}

func TestTranslate(t *testing.T) {
	assert.Nil(t, Translate(nil))
	assert.Equal(t, ErrCodeTimeout, Translate(context.DeadlineExceeded).Code)

	type req struct {
		Question string `validate:"required"`
	}
	err := validator.New().Struct(req{})
	require.Error(t, err)
	appErr := Translate(err)
	assert.Equal(t, ErrCodeValidationFailed, appErr.Code)
	assert.Equal(t, "Missing Question", appErr.Message)
}

func TestToResponse_Envelope(t *testing.T) {
	status, resp := ToResponse(NewValidationError("No files uploaded.").WithDetails("x"))
	assert.Equal(t, http.StatusBadRequest, status)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":{"code":"VALIDATION_FAILED","message":"No files uploaded.","details":"x"}}`, string(raw))

	// 系统错误不暴露详情
	_, resp = ToResponse(NewSystemError(ErrCodeInternalServer, "oops").WithDetails("secret"))
	assert.Nil(t, resp.Error.Details)
}

func TestErrorHandler_Handle(t *testing.T) {
	reg := prometheus.NewRegistry()
	monitor := NewErrorMonitor(reg)
	h := NewErrorHandler(zap.NewNop(), monitor)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/query", nil)
	h.Handle(rec, req, NewValidationError("Missing query"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Missing query"`)
	assert.Equal(t, 1.0, testutil.ToFloat64(monitor.errorCounter.WithLabelValues("VALIDATION_FAILED", "validation", "/api/query")))
	assert.Equal(t, int64(1), monitor.Snapshot()[ErrCodeValidationFailed].Count)
}
