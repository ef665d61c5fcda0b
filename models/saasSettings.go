package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/wifizone/hotspot_backend/config"
	"github.com/shopspring/decimal"
)

// SaasSettings is a platform-wide singleton row (id is always 1).
type SaasSettings struct {
	ID                   int             `gorm:"primary_key" json:"id"`
	MonthlyPrice         decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"monthly_price"`
	TrialDays            int             `gorm:"not null;default:14" json:"trial_days"`
	SupportPhone         string          `gorm:"size:20" json:"support_phone"`
	IsMaintenanceMode    *bool           `gorm:"not null;default:false" json:"is_maintenance_mode"`
	CreditMomoOnApproval *bool           `gorm:"not null;default:false" json:"credit_momo_on_approval"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type UpdateSaasSettingsInput struct {
	MonthlyPrice         *decimal.Decimal `json:"monthly_price"`
	TrialDays            *int             `json:"trial_days"`
	SupportPhone         *string          `json:"support_phone"`
	IsMaintenanceMode    *bool            `json:"is_maintenance_mode"`
	CreditMomoOnApproval *bool            `json:"credit_momo_on_approval"`
}

const saasSettingsCacheKey = "SaasSettings"

func (settings *SaasSettings) MaintenanceOn() bool {
	return settings.IsMaintenanceMode != nil && *settings.IsMaintenanceMode
}

// CreditMomoImmediately reports whether a pending mobile-money recharge
// credits the reseller at submission. When the platform opts into
// credit-on-approval, the credit waits until an operator approves and a
// rejection never has to claw anything back.
func (settings *SaasSettings) CreditMomoImmediately() bool {
	return settings.CreditMomoOnApproval == nil || !*settings.CreditMomoOnApproval
}

// GetSaasSettings reads the singleton, creating the default row on first use.
// Every authenticated request consults this for the maintenance flag, so it
// is cached in redis and invalidated on update.
func GetSaasSettings(ctx context.Context) (*SaasSettings, error) {

	var settings SaasSettings
	exists, err := config.GetRedisObject(saasSettingsCacheKey, &settings)
	if err != nil {
		return nil, err
	}
	if exists {
		return &settings, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).FirstOrCreate(&settings, SaasSettings{ID: 1}).Error; err != nil {
		return nil, err
	}
	if err := config.SetRedisObject(saasSettingsCacheKey, &settings, 0); err != nil {
		return nil, err
	}
	return &settings, nil
}

func UpdateSaasSettings(ctx context.Context, input *UpdateSaasSettingsInput) (*SaasSettings, error) {

	if err := requireSuperAdmin(ctx); err != nil {
		return nil, err
	}

	settings, err := GetSaasSettings(ctx)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.MonthlyPrice != nil {
		if input.MonthlyPrice.IsNegative() {
			return nil, errors.New("monthly price cannot be negative")
		}
		updates["monthly_price"] = *input.MonthlyPrice
		settings.MonthlyPrice = *input.MonthlyPrice
	}
	if input.TrialDays != nil {
		if *input.TrialDays < 0 {
			return nil, errors.New("trial days cannot be negative")
		}
		updates["trial_days"] = *input.TrialDays
		settings.TrialDays = *input.TrialDays
	}
	if input.SupportPhone != nil {
		updates["support_phone"] = *input.SupportPhone
		settings.SupportPhone = *input.SupportPhone
	}
	if input.IsMaintenanceMode != nil {
		updates["is_maintenance_mode"] = *input.IsMaintenanceMode
		settings.IsMaintenanceMode = input.IsMaintenanceMode
	}
	if input.CreditMomoOnApproval != nil {
		updates["credit_momo_on_approval"] = *input.CreditMomoOnApproval
		settings.CreditMomoOnApproval = input.CreditMomoOnApproval
	}
	if len(updates) == 0 {
		return settings, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&SaasSettings{}).Where("id = ?", 1).Updates(updates).Error; err != nil {
		return nil, err
	}
	if err := config.RemoveRedisKey(saasSettingsCacheKey); err != nil {
		return nil, err
	}
	return settings, nil
}
