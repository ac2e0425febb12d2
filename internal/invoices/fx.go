package invoices

import (
	"github.com/nordbooks/varekost/internal/invoices/repository"
	"github.com/nordbooks/varekost/internal/invoices/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoices.service",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
