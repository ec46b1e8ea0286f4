package controllers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/beego/beego/v2/server/web"

	apperrors "github.com/aihub/docqa-go/internal/errors"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	_ = c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError writes the error envelope for err and logs it through handler.
func (c *BaseController) JSONError(handler *apperrors.ErrorHandler, err error) {
	appErr := apperrors.Translate(err)
	if handler != nil {
		handler.Log(c.Ctx.Request.URL.Path, appErr)
	}
	status, resp := apperrors.ToResponse(appErr)
	c.JSON(status, resp)
}

// bindJSON decodes the request body into v.
func (c *BaseController) bindJSON(v interface{}) error {
	body := c.Ctx.Input.RequestBody
	if len(body) == 0 && c.Ctx.Request.Body != nil {
		raw, err := io.ReadAll(c.Ctx.Request.Body)
		if err != nil {
			return apperrors.NewValidationError("Failed to read request body")
		}
		body = raw
	}
	if len(body) == 0 {
		return apperrors.NewValidationError("Request body is empty")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperrors.NewValidationError("Invalid JSON body").WithCause(err)
	}
	return nil
}
