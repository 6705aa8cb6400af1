package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/copra/internal/cache"
	"github.com/Additional-Code/copra/internal/config"
	"github.com/Additional-Code/copra/internal/database"
	"github.com/Additional-Code/copra/internal/inventory"
	"github.com/Additional-Code/copra/internal/logger"
	"github.com/Additional-Code/copra/internal/messaging"
	"github.com/Additional-Code/copra/internal/notification"
	"github.com/Additional-Code/copra/internal/observability"
	"github.com/Additional-Code/copra/internal/ordernumber"
	"github.com/Additional-Code/copra/internal/payment"
	"github.com/Additional-Code/copra/internal/pricing"
	repositoryorder "github.com/Additional-Code/copra/internal/repository/order"
	repositorypayment "github.com/Additional-Code/copra/internal/repository/payment"
	repositoryproduct "github.com/Additional-Code/copra/internal/repository/product"
	repositorysequence "github.com/Additional-Code/copra/internal/repository/sequence"
	grpcserver "github.com/Additional-Code/copra/internal/server/grpc"
	httpserver "github.com/Additional-Code/copra/internal/server/http"
	serviceorder "github.com/Additional-Code/copra/internal/service/order"
	servicepayment "github.com/Additional-Code/copra/internal/service/payment"
	transporthttp "github.com/Additional-Code/copra/internal/transport/http"
	"github.com/Additional-Code/copra/internal/validation"
	"github.com/Additional-Code/copra/internal/worker"
	workerorder "github.com/Additional-Code/copra/internal/worker/order"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	validation.Module,
	pricing.Module,
	repositoryorder.Module,
	repositoryproduct.Module,
	repositorysequence.Module,
	repositorypayment.Module,
	ordernumber.Module,
	inventory.Module,
	serviceorder.Module,
)

// Payments adds the gateway client and reconciliation service.
var Payments = fx.Options(
	payment.Module,
	servicepayment.Module,
)

// HTTP wires the HTTP and gRPC health transports on top of the core modules.
var HTTP = fx.Options(
	Core,
	Payments,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	notification.Module,
	worker.Module,
	workerorder.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
