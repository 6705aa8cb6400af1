package http

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/copra/internal/transport/http/admin"
	ordertransport "github.com/Additional-Code/copra/internal/transport/http/order"
	paymenttransport "github.com/Additional-Code/copra/internal/transport/http/payment"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	admin.Module,
	ordertransport.Module,
	paymenttransport.Module,
)
