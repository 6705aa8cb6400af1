package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/copra/internal/config"
	"github.com/Additional-Code/copra/internal/database"
	"github.com/Additional-Code/copra/internal/observability"
	"github.com/Additional-Code/copra/internal/presentation/http/response"
	"github.com/Additional-Code/copra/internal/validation"
	"github.com/Additional-Code/copra/pkg/errorbank"
)

// Module exposes the HTTP server lifecycle to Fx.
var Module = fx.Module("http_server",
	fx.Provide(NewEcho),
	fx.Invoke(Run),
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Params collects the router's dependencies.
type Params struct {
	fx.In

	Config      config.Config
	Observer    *observability.Manager `optional:"true"`
	Logger      *zap.Logger
	Validator   *validation.Validator
	Connections *database.Connections `optional:"true"`
}

// NewEcho configures the Echo router with the shared middleware stack.
func NewEcho(p Params) *echo.Echo {
	var db Pinger
	if p.Connections != nil {
		db = p.Connections
	}
	return newEcho(p.Config, p.Observer, p.Logger, p.Validator, db)
}

func newEcho(cfg config.Config, obs *observability.Manager, logger *zap.Logger, v *validation.Validator, db Pinger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = v
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			if httpErr.Code >= http.StatusInternalServerError {
				logger.Error("http request failed", zap.Error(err))
			}
			c.Echo().DefaultHTTPErrorHandler(err, c)
			return
		}
		logger.Error("http request failed", zap.String("path", c.Path()), zap.Error(err))
		if werr := response.New(c).WithError(err).Build(); werr != nil {
			logger.Error("write error response", zap.Error(werr))
		}
	}

	e.Use(middleware.RequestID())
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("panic recovered", zap.String("path", c.Path()), zap.Error(err), zap.ByteString("stack", stack))
			return errorbank.Internal("internal error", errorbank.WithCause(err))
		},
	}))
	if obs != nil && obs.TracingEnabled() {
		e.Use(otelecho.Middleware(cfg.Observability.ServiceName))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/ready", func(c echo.Context) error {
		if db == nil {
			return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			logger.Warn("readiness check failed", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": "unreachable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
	})

	if obs != nil && obs.MetricsEnabled() && obs.MetricsHandler() != nil {
		e.GET(cfg.Observability.PrometheusPath, echo.WrapHandler(obs.MetricsHandler()))
	}

	return e
}

// Run starts the HTTP server and ties it to the Fx lifecycle.
func Run(lc fx.Lifecycle, cfg config.Config, e *echo.Echo, logger *zap.Logger) {
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)

	server := &http.Server{
		Addr:              addr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting HTTP server", zap.String("addr", addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping HTTP server")
			return server.Shutdown(ctx)
		},
	})
}
