package order

import (
	"go.uber.org/fx"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/copra/internal/config"
	"github.com/Additional-Code/copra/internal/pricing"
	service "github.com/Additional-Code/copra/internal/service/order"
	"github.com/Additional-Code/copra/internal/transport/http/admin"
)

// Module wires HTTP order handlers.
var Module = fx.Options(
	fx.Provide(func(svc *service.Service, fees *pricing.Calculator, cfg config.Config) *Handler {
		return NewHandler(svc, fees, cfg.Store.Currency)
	}),
	fx.Invoke(func(e *echo.Echo, g *admin.Group, h *Handler) {
		Register(e, g.Group, h)
	}),
)
