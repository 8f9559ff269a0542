package tier

import (
	"github.com/smallbiznis/storefront-ledger/internal/tier/repository"
	"github.com/smallbiznis/storefront-ledger/internal/tier/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tier.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
