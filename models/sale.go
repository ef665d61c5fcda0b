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

// SaleRecord is one completed voucher sale. Price is the profile's face
// value frozen at sale time, so later price edits never change history.
type SaleRecord struct {
	ID              int             `gorm:"primary_key" json:"id"`
	TenantId        string          `gorm:"index;size:36;not null" json:"tenant_id"`
	TicketId        int             `gorm:"index;not null" json:"ticket_id"`
	TicketProfileId int             `gorm:"index;not null" json:"ticket_profile_id"`
	SellerId        int             `gorm:"index;not null" json:"seller_id"`
	SellerRole      UserRole        `gorm:"type:enum('SUPER_ADMIN','ADMIN','GESTIONNAIRE','AGENT','REVENDEUR','CLIENT');not null" json:"seller_role"`
	Price           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	BuyerPhone      *string         `gorm:"size:20" json:"buyer_phone"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (SaleRecord) TableName() string {
	return "sales_history"
}

type NewSale struct {
	TicketProfileId int    `json:"ticket_profile_id" binding:"required"`
	BuyerPhone      string `json:"buyer_phone"`
}

// SaleResult carries the voucher credentials back to the seller. NewBalance
// is set only for reseller sales.
type SaleResult struct {
	SaleId     int              `json:"sale_id"`
	TicketId   int              `json:"ticket_id"`
	Username   string           `json:"username"`
	Password   string           `json:"password"`
	Price      decimal.Decimal  `json:"price"`
	NewBalance *decimal.Decimal `json:"new_balance,omitempty"`
}

// SellTicket claims one ticket and records the sale in a single transaction.
// Agency staff sell from the tenant's NEUF pool; resellers sell from their
// own ASSIGNE stock and are debited the face value. The claim is a
// conditional update checked by rows affected, so a ticket can never be
// sold twice even under concurrent sellers.
func SellTicket(ctx context.Context, input *NewSale) (*SaleResult, error) {

	roleStr, ok := utils.GetUserRoleFromContext(ctx)
	if !ok {
		return nil, utils.ErrPermissionDenied
	}
	role := UserRole(roleStr)
	if !role.IsAgencyStaff() && role != UserRoleRevendeur {
		return nil, utils.ErrPermissionDenied
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, utils.ErrPermissionDenied
	}
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	var buyerPhone *string
	if input.BuyerPhone != "" {
		if err := utils.ValidatePhoneNumber(input.BuyerPhone, utils.CountryCode); err != nil {
			return nil, utils.ErrInvalidPhone
		}
		formatted := utils.FormatPhoneE164(input.BuyerPhone)
		buyerPhone = &formatted
	}

	profile, err := GetTicketProfile(ctx, input.TicketProfileId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	result := SaleResult{Price: profile.Price}
	var ticket Ticket
	var sale SaleRecord

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := acquireTenantLedgerLock(tx, ctx, tenantId); err != nil {
			return err
		}
		defer releaseTenantLedgerLock(tx, ctx, tenantId)

		var seller *User
		if role == UserRoleRevendeur {
			// pin the balance row before deciding anything
			var err error
			seller, err = lockUserForUpdate(tx, ctx, userId)
			if err != nil {
				return err
			}
			if seller.Balance.LessThan(profile.Price) {
				return utils.ErrInsufficientBalance
			}
		}

		// pick the oldest eligible ticket
		pick := tx.Where("tenant_id = ? AND ticket_profile_id = ?", tenantId, input.TicketProfileId)
		if role == UserRoleRevendeur {
			pick = pick.Where("status = ? AND assigned_to = ?", TicketStatusAssigne, userId)
		} else {
			pick = pick.Where("status = ?", TicketStatusNeuf)
		}
		if err := pick.Order("id").First(&ticket).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrOutOfStock
			}
			return err
		}

		// conditional claim: re-checks the status so a concurrent sale of the
		// same row shows up as zero rows affected
		now := time.Now().UTC()
		claim := tx.Model(&Ticket{}).
			Where("id = ? AND status = ?", ticket.ID, ticket.Status).
			Updates(map[string]interface{}{
				"status":        TicketStatusVendu,
				"sold_by":       userId,
				"sold_at":       now,
				"sold_to_phone": buyerPhone,
			})
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected != 1 {
			return utils.ErrOutOfStock
		}

		sale = SaleRecord{
			TenantId:        tenantId,
			TicketId:        ticket.ID,
			TicketProfileId: input.TicketProfileId,
			SellerId:        userId,
			SellerRole:      role,
			Price:           profile.Price,
			BuyerPhone:      buyerPhone,
		}
		if err := tx.Create(&sale).Error; err != nil {
			return err
		}

		if role == UserRoleRevendeur {
			newBalance := seller.Balance.Sub(profile.Price)
			if err := tx.Model(&User{}).Where("id = ?", userId).
				Update("balance", newBalance).Error; err != nil {
				return err
			}
			result.NewBalance = &newBalance
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.SaleId = sale.ID
	result.TicketId = ticket.ID
	result.Username = ticket.Username
	result.Password = ticket.Password
	return &result, nil
}

// CancelSale undoes a sale: the ticket returns to the state it was sold
// from (a reseller's stock stays assigned to them, a counter sale goes back
// to the pool), the reseller is re-credited, and the sale row is removed.
// All in one transaction. Managers may cancel any sale; a reseller may only
// cancel its own. Counter staff go through a manager.
func CancelSale(ctx context.Context, saleId int) (*SaleRecord, error) {

	roleStr, ok := utils.GetUserRoleFromContext(ctx)
	if !ok {
		return nil, utils.ErrPermissionDenied
	}
	role := UserRole(roleStr)
	userId, _ := utils.GetUserIdFromContext(ctx)
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()

	var sale SaleRecord
	if err := db.WithContext(ctx).First(&sale, saleId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	selfCancel := sale.SellerRole == UserRoleRevendeur && sale.SellerId == userId
	if !role.CanCancelAnySale() && !selfCancel {
		return nil, utils.ErrPermissionDenied
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := acquireTenantLedgerLock(tx, ctx, tenantId); err != nil {
			return err
		}
		defer releaseTenantLedgerLock(tx, ctx, tenantId)

		var ticket Ticket
		if err := tx.First(&ticket, sale.TicketId).Error; err != nil {
			return utils.ErrorRecordNotFound
		}
		if ticket.Status != TicketStatusVendu {
			return errors.New("ticket is not sold")
		}

		revert := map[string]interface{}{
			"sold_by":       nil,
			"sold_at":       nil,
			"sold_to_phone": nil,
		}
		if sale.SellerRole == UserRoleRevendeur {
			revert["status"] = TicketStatusAssigne
			revert["assigned_to"] = sale.SellerId
		} else {
			revert["status"] = TicketStatusNeuf
			revert["assigned_to"] = nil
		}
		undo := tx.Model(&Ticket{}).
			Where("id = ? AND status = ?", ticket.ID, TicketStatusVendu).
			Updates(revert)
		if undo.Error != nil {
			return undo.Error
		}
		if undo.RowsAffected != 1 {
			return errors.New("ticket is not sold")
		}

		if sale.SellerRole == UserRoleRevendeur {
			seller, err := lockUserForUpdate(tx, ctx, sale.SellerId)
			if err != nil {
				return err
			}
			if err := tx.Model(&User{}).Where("id = ?", sale.SellerId).
				Update("balance", seller.Balance.Add(sale.Price)).Error; err != nil {
				return err
			}
		}

		return tx.Delete(&SaleRecord{}, sale.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

type SalesFilter struct {
	SellerId  *int       `json:"seller_id" form:"seller_id"`
	ProfileId *int       `json:"profile_id" form:"profile_id"`
	From      *time.Time `json:"from" form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To        *time.Time `json:"to" form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

// GetSalesHistory lists sales newest first. Resellers and agents only see
// their own; managers see the whole tenant.
func GetSalesHistory(ctx context.Context, filter *SalesFilter) ([]*SaleRecord, error) {

	roleStr, ok := utils.GetUserRoleFromContext(ctx)
	if !ok {
		return nil, utils.ErrPermissionDenied
	}
	role := UserRole(roleStr)
	userId, _ := utils.GetUserIdFromContext(ctx)

	db := config.GetDB()
	query := db.WithContext(ctx).Model(&SaleRecord{})

	if !role.CanCancelAnySale() {
		query = query.Where("seller_id = ?", userId)
	} else if filter != nil && filter.SellerId != nil {
		query = query.Where("seller_id = ?", *filter.SellerId)
	}
	if filter != nil {
		if filter.ProfileId != nil {
			query = query.Where("ticket_profile_id = ?", *filter.ProfileId)
		}
		if filter.From != nil {
			query = query.Where("created_at >= ?", *filter.From)
		}
		if filter.To != nil {
			query = query.Where("created_at < ?", *filter.To)
		}
	}

	var results []*SaleRecord
	if err := query.Order("id DESC").Limit(500).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
