package priceledger

import (
	"github.com/nordbooks/varekost/internal/events"
	"github.com/nordbooks/varekost/internal/priceledger/domain"
	"github.com/nordbooks/varekost/internal/priceledger/repository"
	"github.com/nordbooks/varekost/internal/priceledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("priceledger.service",
	fx.Provide(
		repository.Provide,
		service.New,
		func(b *events.Bus) domain.EventPublisher { return b },
	),
)
