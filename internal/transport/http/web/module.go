package web

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires the HTML screens.
var Module = fx.Options(
	fx.Provide(NewRenderer, NewHandler),
	fx.Invoke(func(e *echo.Echo, r *Renderer, h *Handler, logger *zap.Logger) {
		e.Renderer = r
		e.HTTPErrorHandler = htmlErrorHandler(e.HTTPErrorHandler, logger)
		Register(e, h)
	}),
)
