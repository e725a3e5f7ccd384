// Package server provides HTTP handlers and server setup for the gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"relaygate/internal/core"
)

// ChatCompleter runs one chat-completion request and writes the response.
// A returned error means nothing has been written.
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, w http.ResponseWriter, body []byte) error
}

// Handler holds the HTTP handlers
type Handler struct {
	gateway ChatCompleter
	catalog func() core.Catalog
}

// NewHandler creates a new handler
func NewHandler(gw ChatCompleter, catalog func() core.Catalog) *Handler {
	return &Handler{
		gateway: gw,
		catalog: catalog,
	}
}

// ChatCompletion handles POST /v1/chat/completions
func (h *Handler) ChatCompletion(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr
		}
		return handleError(c, core.NewInvalidRequestError("failed to read request body", err))
	}

	if err := h.gateway.ChatCompletion(c.Request().Context(), c.Response(), body); err != nil {
		return handleError(c, err)
	}
	return nil
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListModels handles GET /v1/models
func (h *Handler) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, core.ModelsResponse{
		Object: "list",
		Data:   h.catalog().ListModels(),
	})
}

// handleError converts gateway errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		errType := core.ErrorTypeInvalidRequest
		if httpErr.Code >= http.StatusInternalServerError {
			errType = core.ErrorTypeServer
		}
		return c.JSON(httpErr.Code, errorBody(errType, fmt.Sprint(httpErr.Message)))
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, errorBody(core.ErrorTypeServer, "an unexpected error occurred"))
}

// httpErrorHandler renders errors returned through echo (routing, body
// limits, panics) in the same shape as gateway errors.
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		var httpErr *echo.HTTPError
		status := http.StatusInternalServerError
		if errors.As(err, &httpErr) {
			status = httpErr.Code
		}
		_ = c.NoContent(status)
		return
	}
	_ = handleError(c, err)
}

func errorBody(errType core.ErrorType, message string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    errType,
			"message": message,
		},
	}
}
