// Package admin mounts the route group shared by back-office endpoints.
package admin

import (
	"crypto/subtle"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/copra/internal/config"
	"github.com/Additional-Code/copra/pkg/errorbank"
)

// Module provides the admin route group.
var Module = fx.Provide(NewGroup)

// Group is the /admin route group.
type Group struct {
	*echo.Group
}

// NewGroup mounts /admin, guarded by bearer-key auth when an admin key is configured.
func NewGroup(e *echo.Echo, cfg config.Config, logger *zap.Logger) *Group {
	if cfg.Admin.APIKey == "" {
		logger.Warn("ADMIN_API_KEY not set; admin routes are unauthenticated")
		return &Group{Group: e.Group("/admin")}
	}
	return &Group{Group: e.Group("/admin", KeyAuth(cfg.Admin.APIKey))}
}

// KeyAuth accepts requests carrying "Authorization: Bearer <key>".
func KeyAuth(key string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(got string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1, nil
		},
		ErrorHandler: func(err error, _ echo.Context) error {
			return errorbank.Unauthorized("admin credentials required", errorbank.WithCause(err))
		},
	})
}
