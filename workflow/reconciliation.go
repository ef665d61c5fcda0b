package workflow

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ResellerDrift is one reseller whose stored balance disagrees with the
// ledger. Expected balance is credited recharges minus consumed face value;
// drift is stored minus expected.
type ResellerDrift struct {
	ResellerId      int             `json:"reseller_id"`
	Username        string          `json:"username"`
	StoredBalance   decimal.Decimal `json:"stored_balance"`
	ExpectedBalance decimal.Decimal `json:"expected_balance"`
	Drift           decimal.Decimal `json:"drift"`
}

// ReconcileResellerBalances recomputes every reseller balance of a tenant
// from sales history and credited recharges and returns the rows that drift.
// Read only; intended for a nightly run or the internal admin endpoint.
func ReconcileResellerBalances(ctx context.Context, db *gorm.DB, logger *logrus.Logger, tenantId string) ([]*ResellerDrift, error) {

	type row struct {
		ResellerId    int
		Username      string
		StoredBalance decimal.Decimal
		SalesTotal    decimal.Decimal
		PaymentsTotal decimal.Decimal
	}

	var rows []row
	if err := db.WithContext(ctx).Raw(`
		SELECT
			u.id AS reseller_id,
			u.username,
			u.balance AS stored_balance,
			COALESCE((SELECT SUM(s.price) FROM sales_history s
				WHERE s.seller_id = u.id AND s.seller_role = 'REVENDEUR'), 0) AS sales_total,
			COALESCE((SELECT SUM(p.amount) FROM payments p
				WHERE p.reseller_id = u.id AND p.credited = 1), 0) AS payments_total
		FROM users u
		WHERE u.tenant_id = ? AND u.role = 'REVENDEUR'
	`, tenantId).Scan(&rows).Error; err != nil {
		return nil, err
	}

	drifts := []*ResellerDrift{}
	for _, r := range rows {
		expected := r.PaymentsTotal.Sub(r.SalesTotal)
		if r.StoredBalance.Equal(expected) {
			continue
		}
		drifts = append(drifts, &ResellerDrift{
			ResellerId:      r.ResellerId,
			Username:        r.Username,
			StoredBalance:   r.StoredBalance,
			ExpectedBalance: expected,
			Drift:           r.StoredBalance.Sub(expected),
		})
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":     "Reconciliation",
			"tenant_id": tenantId,
			"resellers": len(rows),
			"drifts":    len(drifts),
		}).Info("reseller balance reconciliation completed")
	}
	return drifts, nil
}
