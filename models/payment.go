package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/wifizone/hotspot_backend/config"
	"bitbucket.org/wifizone/hotspot_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Payment is a reseller balance recharge. Credited tracks whether the
// balance credit has been applied, so approval and rejection know exactly
// what to do regardless of the credit-timing setting in force at submission.
type Payment struct {
	ID         int             `gorm:"primary_key" json:"id"`
	TenantId   string          `gorm:"index;size:36;not null" json:"tenant_id"`
	ResellerId int             `gorm:"index;not null" json:"reseller_id"`
	Amount     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Method     PaymentMethod   `gorm:"type:enum('CASH','ORANGE_MONEY','MTN_MOMO','BANK_TRANSFER');not null" json:"method"`
	Status     PaymentStatus   `gorm:"type:enum('PENDING','APPROVED','REJECTED');default:PENDING;index" json:"status"`
	PayerPhone *string         `gorm:"size:20" json:"payer_phone"`
	Reference  string          `gorm:"size:100" json:"reference"`
	RecordedBy int             `gorm:"not null" json:"recorded_by"`
	Credited   *bool           `gorm:"not null;default:false" json:"credited"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPayment struct {
	ResellerId int             `json:"reseller_id" binding:"required"`
	Amount     decimal.Decimal `json:"amount" binding:"required"`
	Method     PaymentMethod   `json:"method" binding:"required"`
	PayerPhone string          `json:"payer_phone"`
	Reference  string          `json:"reference"`
}

// RecordPayment registers a recharge. Cash and bank transfers are approved
// and credited on the spot. Mobile-money recharges stay PENDING until an
// operator confirms the carrier notification; whether the balance credit
// happens now or at approval is a platform setting.
func RecordPayment(ctx context.Context, input *NewPayment) (*Payment, error) {

	roleStr, ok := utils.GetUserRoleFromContext(ctx)
	if !ok || !UserRole(roleStr).CanManageResellers() {
		return nil, utils.ErrPermissionDenied
	}
	recordedBy, _ := utils.GetUserIdFromContext(ctx)
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	// recharges also arrive from non-HTTP callers (seeds, ops scripts), so
	// the input contract is checked here rather than only at binding time
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("amount must be positive")
	}
	method, err := ParsePaymentMethod(string(input.Method))
	if err != nil {
		return nil, err
	}

	var payerPhone *string
	if method.IsMobileMoney() {
		if !utils.IsValidMobileMoneyPhone(input.PayerPhone) {
			return nil, utils.ErrInvalidPhone
		}
		payerPhone = &input.PayerPhone
	}

	db := config.GetDB()
	var reseller User
	if err := db.WithContext(ctx).First(&reseller, input.ResellerId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if !reseller.IsReseller() {
		return nil, errors.New("user is not a reseller")
	}

	settings, err := GetSaasSettings(ctx)
	if err != nil {
		return nil, err
	}

	status := PaymentStatusApproved
	creditNow := true
	if method.IsMobileMoney() {
		status = PaymentStatusPending
		creditNow = settings.CreditMomoImmediately()
	}

	payment := Payment{
		TenantId:   tenantId,
		ResellerId: input.ResellerId,
		Amount:     input.Amount,
		Method:     method,
		Status:     status,
		PayerPhone: payerPhone,
		Reference:  input.Reference,
		RecordedBy: recordedBy,
		Credited:   &creditNow,
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := acquireTenantLedgerLock(tx, ctx, tenantId); err != nil {
			return err
		}
		defer releaseTenantLedgerLock(tx, ctx, tenantId)

		if err := tx.Create(&payment).Error; err != nil {
			return err
		}
		if creditNow {
			locked, err := lockUserForUpdate(tx, ctx, input.ResellerId)
			if err != nil {
				return err
			}
			if err := tx.Model(&User{}).Where("id = ?", input.ResellerId).
				Update("balance", locked.Balance.Add(input.Amount)).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ApprovePayment confirms a pending mobile-money recharge, crediting the
// reseller if the credit was deferred.
func ApprovePayment(ctx context.Context, id int) (*Payment, error) {
	return settlePayment(ctx, id, PaymentStatusApproved)
}

// RejectPayment refuses a pending recharge. An already-applied credit is
// taken back; the balance may go negative, which reconciliation surfaces.
func RejectPayment(ctx context.Context, id int) (*Payment, error) {
	return settlePayment(ctx, id, PaymentStatusRejected)
}

func settlePayment(ctx context.Context, id int, target PaymentStatus) (*Payment, error) {

	roleStr, ok := utils.GetUserRoleFromContext(ctx)
	if !ok || !UserRole(roleStr).CanManageResellers() {
		return nil, utils.ErrPermissionDenied
	}
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	// serialize operator settlement of the same payment
	release, err := utils.TenantLock(ctx, tenantId, "payment-settle", "models", "settlePayment")
	if err != nil {
		return nil, err
	}
	defer release()

	db := config.GetDB()
	var payment Payment
	if err := db.WithContext(ctx).First(&payment, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if payment.Status != PaymentStatusPending {
		return nil, errors.New("payment is not pending")
	}

	credited := payment.Credited != nil && *payment.Credited
	needsCredit := target == PaymentStatusApproved && !credited
	needsReversal := target == PaymentStatusRejected && credited

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := acquireTenantLedgerLock(tx, ctx, tenantId); err != nil {
			return err
		}
		defer releaseTenantLedgerLock(tx, ctx, tenantId)

		// conditional update so a concurrent settlement loses cleanly
		settle := tx.Model(&Payment{}).
			Where("id = ? AND status = ?", id, PaymentStatusPending).
			Updates(map[string]interface{}{
				"status":   target,
				"credited": target == PaymentStatusApproved,
			})
		if settle.Error != nil {
			return settle.Error
		}
		if settle.RowsAffected != 1 {
			return errors.New("payment is not pending")
		}

		if needsCredit || needsReversal {
			locked, err := lockUserForUpdate(tx, ctx, payment.ResellerId)
			if err != nil {
				return err
			}
			newBalance := locked.Balance.Add(payment.Amount)
			if needsReversal {
				newBalance = locked.Balance.Sub(payment.Amount)
			}
			if err := tx.Model(&User{}).Where("id = ?", payment.ResellerId).
				Update("balance", newBalance).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	payment.Status = target
	approved := target == PaymentStatusApproved
	payment.Credited = &approved
	return &payment, nil
}

type PaymentsFilter struct {
	ResellerId *int           `json:"reseller_id" form:"reseller_id"`
	Status     *PaymentStatus `json:"status" form:"status"`
}

func GetPayments(ctx context.Context, filter *PaymentsFilter) ([]*Payment, error) {

	roleStr, ok := utils.GetUserRoleFromContext(ctx)
	if !ok {
		return nil, utils.ErrPermissionDenied
	}
	role := UserRole(roleStr)
	userId, _ := utils.GetUserIdFromContext(ctx)

	db := config.GetDB()
	query := db.WithContext(ctx).Model(&Payment{})

	if role == UserRoleRevendeur {
		query = query.Where("reseller_id = ?", userId)
	} else if !role.CanManageResellers() {
		return nil, utils.ErrPermissionDenied
	} else if filter != nil && filter.ResellerId != nil {
		query = query.Where("reseller_id = ?", *filter.ResellerId)
	}
	if filter != nil && filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	var results []*Payment
	if err := query.Order("id DESC").Limit(500).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
