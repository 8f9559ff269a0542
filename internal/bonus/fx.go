package bonus

import (
	"github.com/smallbiznis/storefront-ledger/internal/bonus/repository"
	"github.com/smallbiznis/storefront-ledger/internal/bonus/service"
	"go.uber.org/fx"
)

var Module = fx.Module("bonus.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
