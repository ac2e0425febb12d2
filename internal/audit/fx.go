package audit

import (
	"github.com/nordbooks/varekost/internal/audit/repository"
	"github.com/nordbooks/varekost/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
