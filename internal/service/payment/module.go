package payment

import (
	"go.uber.org/fx"

	paymentrepo "github.com/Additional-Code/copra/internal/repository/payment"
	orderservice "github.com/Additional-Code/copra/internal/service/order"
)

// Module provides the payment reconciliation service.
var Module = fx.Options(
	fx.Provide(NewService),
	fx.Provide(
		func(s *orderservice.Service) Orders { return s },
		func(r *paymentrepo.Repository) Events { return r },
	),
)
