package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/wifizone/hotspot_backend/config"
	"bitbucket.org/wifizone/hotspot_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Ticket is one hotspot voucher. Credentials come from the router's export
// file and never change; only the lifecycle fields move.
type Ticket struct {
	ID              int          `gorm:"primary_key" json:"id"`
	TenantId        string       `gorm:"index;size:36;not null" json:"tenant_id"`
	TicketProfileId int          `gorm:"index;not null" json:"ticket_profile_id"`
	BatchId         string       `gorm:"index;size:36" json:"batch_id"`
	Username        string       `gorm:"size:100;not null" json:"username"`
	Password        string       `gorm:"size:100;not null" json:"password"`
	Status          TicketStatus `gorm:"type:enum('NEUF','ASSIGNE','VENDU','EXPIRE');default:NEUF;index" json:"status"`
	AssignedTo      *int         `gorm:"index" json:"assigned_to"`
	SoldBy          *int         `gorm:"index" json:"sold_by"`
	SoldAt          *time.Time   `json:"sold_at"`
	SoldToPhone     *string      `gorm:"size:20" json:"sold_to_phone"`
	CreatedAt       time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// TicketCredential is one parsed row of a router export.
type TicketCredential struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type ImportTicketsInput struct {
	TicketProfileId int                `json:"ticket_profile_id" binding:"required"`
	Credentials     []TicketCredential `json:"credentials" binding:"required"`
}

type ImportTicketsResult struct {
	BatchId  string `json:"batch_id"`
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
}

// ImportTickets loads a batch of vouchers into the NEUF pool. Credentials
// already known to the tenant are skipped rather than failing the batch, so
// re-uploading an overlapping export is harmless.
func ImportTickets(ctx context.Context, input *ImportTicketsInput) (*ImportTicketsResult, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if len(input.Credentials) == 0 {
		return nil, errors.New("no credentials to import")
	}
	if err := utils.ValidateResourceId[TicketProfile](ctx, tenantId, input.TicketProfileId); err != nil {
		return nil, errors.New("ticket profile not found")
	}

	db := config.GetDB()

	usernames := make([]string, 0, len(input.Credentials))
	for _, c := range input.Credentials {
		usernames = append(usernames, strings.TrimSpace(c.Username))
	}
	var existing []string
	if err := db.WithContext(ctx).Model(&Ticket{}).
		Where("username IN ?", usernames).
		Pluck("username", &existing).Error; err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, u := range existing {
		known[u] = true
	}

	batchId := uuid.NewString()
	rows := make([]Ticket, 0, len(input.Credentials))
	skipped := 0
	for _, c := range input.Credentials {
		username := strings.TrimSpace(c.Username)
		if username == "" || known[username] {
			skipped++
			continue
		}
		known[username] = true
		rows = append(rows, Ticket{
			TenantId:        tenantId,
			TicketProfileId: input.TicketProfileId,
			BatchId:         batchId,
			Username:        username,
			Password:        strings.TrimSpace(c.Password),
			Status:          TicketStatusNeuf,
		})
	}

	if len(rows) > 0 {
		if err := db.WithContext(ctx).CreateInBatches(rows, 500).Error; err != nil {
			return nil, err
		}
	}

	return &ImportTicketsResult{
		BatchId:  batchId,
		Imported: len(rows),
		Skipped:  skipped,
	}, nil
}

// AssignStock moves quantity NEUF tickets of a profile to a reseller in one
// conditional update. The claim is atomic: the WHERE clause only matches
// still-unassigned rows, so two concurrent assigns can never hand out the
// same ticket. A partial match rolls back.
func AssignStock(ctx context.Context, resellerId int, profileId int, quantity int) (int, error) {

	role, ok := utils.GetUserRoleFromContext(ctx)
	if !ok || !UserRole(role).CanManageResellers() {
		return 0, utils.ErrPermissionDenied
	}
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return 0, errors.New("tenant id is required")
	}
	if quantity < 1 {
		return 0, errors.New("quantity must be at least 1")
	}

	db := config.GetDB()

	var reseller User
	if err := db.WithContext(ctx).First(&reseller, resellerId).Error; err != nil {
		return 0, utils.ErrorRecordNotFound
	}
	if !reseller.IsReseller() {
		return 0, errors.New("user is not a reseller")
	}
	if err := utils.ValidateResourceId[TicketProfile](ctx, tenantId, profileId); err != nil {
		return 0, errors.New("ticket profile not found")
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := acquireTenantLedgerLock(tx, ctx, tenantId); err != nil {
			return err
		}
		// Released before the surrounding transaction commits; the claimed
		// rows stay row-locked until then, so a competing claim still blocks.
		defer releaseTenantLedgerLock(tx, ctx, tenantId)

		claim := tx.Exec(`
			UPDATE tickets
			SET status = ?, assigned_to = ?
			WHERE tenant_id = ? AND ticket_profile_id = ? AND status = ?
			ORDER BY id
			LIMIT ?
		`, TicketStatusAssigne, resellerId, tenantId, profileId, TicketStatusNeuf, quantity)
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected < int64(quantity) {
			return utils.ErrInsufficientStock
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return quantity, nil
}

type StockCount struct {
	TicketProfileId int          `json:"ticket_profile_id"`
	ProfileName     string       `json:"profile_name"`
	Status          TicketStatus `json:"status"`
	Count           int          `json:"count"`
}

// GetStockSummary counts tickets per profile and status for the tenant.
func GetStockSummary(ctx context.Context) ([]*StockCount, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var results []*StockCount
	if err := db.WithContext(ctx).Raw(`
		SELECT
			t.ticket_profile_id,
			p.name AS profile_name,
			t.status,
			COUNT(*) AS count
		FROM
			tickets t
			JOIN ticket_profiles p ON p.id = t.ticket_profile_id
		WHERE
			t.tenant_id = ?
		GROUP BY t.ticket_profile_id, p.name, t.status
		ORDER BY p.name, t.status
	`, tenantId).Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetResellerStock counts a reseller's unsold assigned tickets per profile.
func GetResellerStock(ctx context.Context, resellerId int) ([]*StockCount, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var results []*StockCount
	if err := db.WithContext(ctx).Raw(`
		SELECT
			t.ticket_profile_id,
			p.name AS profile_name,
			t.status,
			COUNT(*) AS count
		FROM
			tickets t
			JOIN ticket_profiles p ON p.id = t.ticket_profile_id
		WHERE
			t.tenant_id = ? AND t.assigned_to = ? AND t.status = ?
		GROUP BY t.ticket_profile_id, p.name, t.status
		ORDER BY p.name
	`, tenantId, resellerId, TicketStatusAssigne).Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ExpireBatch retires every unsold ticket of an import batch. EXPIRE is
// terminal; sold tickets are left alone so sales history stays intact.
func ExpireBatch(ctx context.Context, batchId string) (int, error) {

	role, ok := utils.GetUserRoleFromContext(ctx)
	if !ok || !UserRole(role).CanManageResellers() {
		return 0, utils.ErrPermissionDenied
	}

	db := config.GetDB()
	result := db.WithContext(ctx).Model(&Ticket{}).
		Where("batch_id = ? AND status IN ?", batchId, []TicketStatus{TicketStatusNeuf, TicketStatusAssigne}).
		Update("status", TicketStatusExpire)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}
