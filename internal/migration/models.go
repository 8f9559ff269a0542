package migration

import (
	auditdomain "github.com/smallbiznis/storefront-ledger/internal/audit/domain"
	bonusdomain "github.com/smallbiznis/storefront-ledger/internal/bonus/domain"
	coupondomain "github.com/smallbiznis/storefront-ledger/internal/coupon/domain"
	customerdomain "github.com/smallbiznis/storefront-ledger/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/storefront-ledger/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/storefront-ledger/internal/order/domain"
	redemptiondomain "github.com/smallbiznis/storefront-ledger/internal/redemption/domain"
	tierdomain "github.com/smallbiznis/storefront-ledger/internal/tier/domain"
)

// Models lists every persisted type in dependency order. AutoMigrate uses it
// for sqlite and mysql; postgres runs the embedded SQL instead.
func Models() []any {
	return []any{
		&tierdomain.Tier{},
		&bonusdomain.Setting{},
		&customerdomain.Customer{},
		&ledgerdomain.Entry{},
		&redemptiondomain.Rule{},
		&coupondomain.Definition{},
		&coupondomain.Instance{},
		&orderdomain.Order{},
		&orderdomain.Item{},
		&auditdomain.AuditLog{},
	}
}
