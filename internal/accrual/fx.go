package accrual

import (
	"github.com/smallbiznis/storefront-ledger/internal/accrual/repository"
	"github.com/smallbiznis/storefront-ledger/internal/accrual/service"
	"go.uber.org/fx"
)

var Module = fx.Module("accrual.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
