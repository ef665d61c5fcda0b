package models

import (
	"context"
	"fmt"

	"bitbucket.org/wifizone/hotspot_backend/utils"
	"gorm.io/gorm"
)

// acquireTenantLedgerLock takes a MySQL advisory lock on the caller's
// connection, serializing a tenant's ledger transactions (assign, sell,
// cancel, recharge). Must be called inside a transaction so release and
// commit happen on the same connection.
func acquireTenantLedgerLock(tx *gorm.DB, ctx context.Context, tenantId string) error {
	lockName := fmt.Sprintf("ledger:%s", tenantId)
	var acquired int
	if err := tx.WithContext(ctx).Raw("SELECT GET_LOCK(?, 10)", lockName).Scan(&acquired).Error; err != nil {
		return err
	}
	if acquired != 1 {
		return utils.ErrBackendUnavailable
	}
	return nil
}

func releaseTenantLedgerLock(tx *gorm.DB, ctx context.Context, tenantId string) {
	lockName := fmt.Sprintf("ledger:%s", tenantId)
	var released int
	_ = tx.WithContext(ctx).Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&released).Error
}
