package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/wifizone/hotspot_backend/config"
	"bitbucket.org/wifizone/hotspot_backend/utils"
)

// Zone is a coverage area grouping a tenant's agents and resellers.
type Zone struct {
	ID        int       `gorm:"primary_key" json:"id"`
	TenantId  string    `gorm:"index;size:36;not null" json:"tenant_id"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	City      string    `gorm:"size:100" json:"city"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewZone struct {
	Name string `json:"name" binding:"required"`
	City string `json:"city"`
}

func CreateZone(ctx context.Context, input *NewZone) (*Zone, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if err := utils.ValidateUnique[Zone](ctx, tenantId, "name", input.Name, 0); err != nil {
		return nil, err
	}

	zone := Zone{
		TenantId: tenantId,
		Name:     input.Name,
		City:     input.City,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&zone).Error; err != nil {
		return nil, err
	}
	return &zone, nil
}

func GetAllZones(ctx context.Context) ([]*Zone, error) {

	db := config.GetDB()
	var results []*Zone
	if err := db.WithContext(ctx).Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func DeleteZone(ctx context.Context, id int) (*Zone, error) {

	db := config.GetDB()
	var zone Zone
	if err := db.WithContext(ctx).First(&zone, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	var count int64
	if err := db.WithContext(ctx).Model(&User{}).Where("zone_id = ?", id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("zone still has users")
	}

	if err := db.WithContext(ctx).Delete(&zone).Error; err != nil {
		return nil, err
	}
	return &zone, nil
}
