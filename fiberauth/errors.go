package fiberauth

import (
	"net/http"

	auth "github.com/dinarest/contacts-auth"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

// ErrorResponse is the JSON body written for failed requests
type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// ErrorHandler renders errors with the status from auth.HTTPStatus. Server
// side failures are logged and answered with a generic message.
func ErrorHandler(logger auth.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = auth.SlogLogger{}
	}

	return func(c *fiber.Ctx, err error) error {
		status, body := renderError(err)

		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		}

		if status == http.StatusUnauthorized {
			c.Set(fiber.HeaderWWWAuthenticate, "Bearer")
		}

		return c.Status(status).JSON(body)
	}
}

func renderError(err error) (int, ErrorResponse) {
	var fiberErr *fiber.Error
	if goerrors.As(err, &fiberErr) {
		return fiberErr.Code, ErrorResponse{Error: fiberErr.Message}
	}

	status := auth.HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		return status, ErrorResponse{Error: http.StatusText(status)}
	}

	body := ErrorResponse{
		Error: err.Error(),
		Code:  auth.TextCode(err),
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		body.Error = richErr.Message
		if len(richErr.ValidationErrors) > 0 {
			body.Fields = richErr.ValidationMap()
		}
	}

	return status, body
}
