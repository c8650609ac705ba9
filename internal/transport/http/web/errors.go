package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Additional-Code/courierdesk/pkg/errorbank"
)

// errorMessages is the text shown for HTTP errors raised by routing or handlers.
var errorMessages = map[int]string{
	http.StatusNotFound:         "This page does not exist.",
	http.StatusMethodNotAllowed: "This action is not available here.",
	http.StatusForbidden:        "You do not have access to this page.",
}

const genericErrorMessage = "The page could not be loaded. Please try again."

// wantsHTML reports whether the request comes from a browser screen rather
// than the JSON API or the event stream.
func wantsHTML(c echo.Context) bool {
	path := c.Request().URL.Path
	if strings.HasPrefix(path, "/api/") || path == "/events" || strings.HasPrefix(path, "/static/") {
		return false
	}
	return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMETextHTML)
}

// ErrorPage is the full-page error screen.
type ErrorPage struct {
	Page
	Status  int
	Message string
}

// htmlErrorHandler renders error.html for browser requests and defers
// everything else to next.
func htmlErrorHandler(next echo.HTTPErrorHandler, logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed || !wantsHTML(c) {
			next(err, c)
			return
		}

		status := http.StatusInternalServerError
		message := genericErrorMessage
		var appErr *errorbank.AppError
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &appErr):
			status = appErr.StatusCode()
			if appErr.Kind() != errorbank.KindInternal {
				message = appErr.Message()
			}
		case errors.As(err, &httpErr):
			status = httpErr.Code
			if m, ok := errorMessages[status]; ok {
				message = m
			}
		}
		if status >= http.StatusInternalServerError {
			logger.Error("page request failed", zap.String("path", c.Path()), zap.Error(err))
		}

		page := ErrorPage{Page: Page{Title: http.StatusText(status)}, Status: status, Message: message}
		if renderErr := c.Render(status, "error.html", page); renderErr != nil {
			logger.Warn("error page render failed", zap.Error(renderErr))
			next(err, c)
		}
	}
}
