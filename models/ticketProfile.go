package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/wifizone/hotspot_backend/config"
	"bitbucket.org/wifizone/hotspot_backend/utils"
	"github.com/shopspring/decimal"
)

// TicketProfile is a priced offer type (e.g. "24H Pass") grouping tickets.
type TicketProfile struct {
	ID                int             `gorm:"primary_key" json:"id"`
	TenantId          string          `gorm:"index;size:36;not null" json:"tenant_id"`
	Name              string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Price             decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price" binding:"required"`
	Cost              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cost"`
	Validity          string          `gorm:"size:50" json:"validity"`
	LowStockThreshold int             `gorm:"default:0" json:"low_stock_threshold"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewTicketProfile struct {
	Name              string          `json:"name" binding:"required"`
	Price             decimal.Decimal `json:"price" binding:"required"`
	Cost              decimal.Decimal `json:"cost"`
	Validity          string          `json:"validity"`
	LowStockThreshold int             `json:"low_stock_threshold"`
}

func (input *NewTicketProfile) validate(ctx context.Context, tenantId string, exceptId int) error {
	if input.Price.LessThanOrEqual(decimal.Zero) {
		return errors.New("price must be positive")
	}
	if err := utils.ValidateUnique[TicketProfile](ctx, tenantId, "name", input.Name, exceptId); err != nil {
		return err
	}
	return nil
}

func CreateTicketProfile(ctx context.Context, input *NewTicketProfile) (*TicketProfile, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if err := input.validate(ctx, tenantId, 0); err != nil {
		return nil, err
	}

	profile := TicketProfile{
		TenantId:          tenantId,
		Name:              input.Name,
		Price:             input.Price,
		Cost:              input.Cost,
		Validity:          input.Validity,
		LowStockThreshold: input.LowStockThreshold,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

func GetTicketProfile(ctx context.Context, id int) (*TicketProfile, error) {

	db := config.GetDB()
	var result TicketProfile
	if err := db.WithContext(ctx).First(&result, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func GetAllTicketProfiles(ctx context.Context) ([]*TicketProfile, error) {

	db := config.GetDB()
	var results []*TicketProfile
	if err := db.WithContext(ctx).Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func UpdateTicketProfile(ctx context.Context, id int, input *NewTicketProfile) (*TicketProfile, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if err := input.validate(ctx, tenantId, id); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var profile TicketProfile
	if err := db.WithContext(ctx).First(&profile, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	if err := db.WithContext(ctx).Model(&profile).Updates(map[string]interface{}{
		"name":                input.Name,
		"price":               input.Price,
		"cost":                input.Cost,
		"validity":            input.Validity,
		"low_stock_threshold": input.LowStockThreshold,
	}).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// DeleteTicketProfile refuses while any ticket still references the profile.
func DeleteTicketProfile(ctx context.Context, id int) (*TicketProfile, error) {

	db := config.GetDB()
	var profile TicketProfile
	if err := db.WithContext(ctx).First(&profile, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	var count int64
	if err := db.WithContext(ctx).Model(&Ticket{}).Where("ticket_profile_id = ?", id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("profile still has tickets")
	}

	if err := db.WithContext(ctx).Delete(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

type LowStockProfile struct {
	ProfileId         int    `json:"profile_id"`
	Name              string `json:"name"`
	LowStockThreshold int    `json:"low_stock_threshold"`
	AvailableCount    int    `json:"available_count"`
}

// GetLowStockProfiles lists profiles whose NEUF pool dropped to or below
// their threshold. Profiles without a threshold are skipped.
func GetLowStockProfiles(ctx context.Context) ([]*LowStockProfile, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var results []*LowStockProfile
	if err := db.WithContext(ctx).Raw(`
		SELECT
			p.id AS profile_id,
			p.name,
			p.low_stock_threshold,
			COUNT(t.id) AS available_count
		FROM
			ticket_profiles p
			LEFT JOIN tickets t ON t.ticket_profile_id = p.id AND t.status = 'NEUF'
		WHERE
			p.tenant_id = ?
			AND p.low_stock_threshold > 0
		GROUP BY p.id, p.name, p.low_stock_threshold
		HAVING available_count <= p.low_stock_threshold
	`, tenantId).Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
