package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/wifizone/hotspot_backend/config"
	"bitbucket.org/wifizone/hotspot_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Tenant struct {
	ID                 uuid.UUID          `gorm:"primary_key" json:"id"`
	Name               string             `gorm:"index;size:100;not null" json:"name" binding:"required"`
	ContactName        string             `gorm:"size:100" json:"contact_name"`
	Email              string             `gorm:"size:255" json:"email"`
	Phone              string             `gorm:"size:20" json:"phone"`
	Address            string             `gorm:"type:text" json:"address"`
	City               string             `gorm:"size:100" json:"city"`
	CurrencyCode       string             `gorm:"size:3;not null;default:XAF" json:"currency_code"`
	SubscriptionStatus SubscriptionStatus `gorm:"type:enum('PENDING','ACTIVE','SUSPENDED');default:PENDING" json:"subscription_status"`
	SubscriptionEndAt  *time.Time         `json:"subscription_end_at"`
	IsActive           *bool              `gorm:"not null;default:true" json:"is_active"`
	CreatedAt          time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewTenant struct {
	Name         string `json:"name" binding:"required"`
	ContactName  string `json:"contact_name"`
	Email        string `json:"email" binding:"required"`
	Phone        string `json:"phone"`
	Address      string `json:"address"`
	City         string `json:"city"`
	CurrencyCode string `json:"currency_code"`
}

/*
caches:
	Tenant:$tenantId
*/

func (tenant *Tenant) StoreRedis() error {
	return config.SetRedisObject("Tenant:"+fmt.Sprint(tenant.ID), tenant, 0)
}

func (tenant *Tenant) RemoveRedis() error {
	return config.RemoveRedisKey("Tenant:" + fmt.Sprint(tenant.ID))
}

// SubscriptionExpired reports whether a dated subscription has run out.
// An absent end date means unlimited.
func (tenant *Tenant) SubscriptionExpired(now time.Time) bool {
	return tenant.SubscriptionEndAt != nil && tenant.SubscriptionEndAt.Before(now)
}

func (input *NewTenant) validate(ctx context.Context) error {
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return errors.New("invalid email address")
	}
	if err := utils.ValidateUnique[Tenant](ctx, "", "name", input.Name, ""); err != nil {
		return err
	}
	if err := utils.ValidateUnique[Tenant](ctx, "", "email", input.Email, ""); err != nil {
		return err
	}
	return nil
}

// CreateTenant registers an agency. New tenants start PENDING and stay
// gated until the super-admin approves them.
func CreateTenant(ctx context.Context, input *NewTenant) (*Tenant, error) {

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(input.CurrencyCode))
	if currency == "" {
		currency = "XAF"
	}

	tenant := Tenant{
		ID:                 uuid.New(),
		Name:               strings.TrimSpace(input.Name),
		ContactName:        input.ContactName,
		Email:              strings.ToLower(input.Email),
		Phone:              input.Phone,
		Address:            input.Address,
		City:               input.City,
		CurrencyCode:       currency,
		SubscriptionStatus: SubscriptionStatusPending,
		IsActive:           utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

func GetTenantById(ctx context.Context, id string) (*Tenant, error) {

	var tenant Tenant
	exists, err := config.GetRedisObject("Tenant:"+id, &tenant)
	if err != nil {
		return nil, err
	}
	if exists {
		return &tenant, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&Tenant{}).Where("id = ?", id).First(&tenant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := tenant.StoreRedis(); err != nil {
		return nil, err
	}
	return &tenant, nil
}

// GetAllTenants is the platform roster; agency staff never see other
// agencies' records.
func GetAllTenants(ctx context.Context) ([]*Tenant, error) {

	if err := requireSuperAdmin(ctx); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var results []*Tenant

	if err := db.WithContext(ctx).Order("created_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// requireSuperAdmin guards tenant lifecycle mutations.
func requireSuperAdmin(ctx context.Context) error {
	role, ok := utils.GetUserRoleFromContext(ctx)
	if !ok || UserRole(role) != UserRoleSuperAdmin {
		return utils.ErrPermissionDenied
	}
	return nil
}

// transitionSubscription updates the tenant's status/end date and appends a
// subscription event record in the same transaction (transactional outbox);
// the dispatcher publishes it to the realtime feed after commit.
func transitionSubscription(ctx context.Context, tenantId string, status SubscriptionStatus, endAt *time.Time) (*Tenant, error) {

	if err := requireSuperAdmin(ctx); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var tenant Tenant
	tx := db.Begin()
	if tx.Error != nil {
		return nil, utils.ErrBackendUnavailable
	}
	if err := tx.WithContext(ctx).Where("id = ?", tenantId).First(&tenant).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	oldStatus := tenant.SubscriptionStatus
	tenant.SubscriptionStatus = status
	tenant.SubscriptionEndAt = endAt

	if err := tx.WithContext(ctx).Model(&Tenant{}).Where("id = ?", tenantId).
		Updates(map[string]interface{}{
			"subscription_status": status,
			"subscription_end_at": endAt,
		}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := AppendSubscriptionEvent(ctx, tx, tenantId, oldStatus, status, endAt); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	// Cache is rebuilt on next read.
	if err := tenant.RemoveRedis(); err != nil {
		return nil, err
	}
	return &tenant, nil
}

// ApproveTenant activates a pending agency and opens its trial window from
// the SaaS settings.
func ApproveTenant(ctx context.Context, tenantId string) (*Tenant, error) {
	settings, err := GetSaasSettings(ctx)
	if err != nil {
		return nil, err
	}
	var endAt *time.Time
	if settings.TrialDays > 0 {
		t := time.Now().UTC().AddDate(0, 0, settings.TrialDays)
		endAt = &t
	}
	return transitionSubscription(ctx, tenantId, SubscriptionStatusActive, endAt)
}

func SuspendTenant(ctx context.Context, tenantId string) (*Tenant, error) {
	tenant, err := GetTenantById(ctx, tenantId)
	if err != nil {
		return nil, err
	}
	return transitionSubscription(ctx, tenantId, SubscriptionStatusSuspended, tenant.SubscriptionEndAt)
}

func ReactivateTenant(ctx context.Context, tenantId string) (*Tenant, error) {
	tenant, err := GetTenantById(ctx, tenantId)
	if err != nil {
		return nil, err
	}
	return transitionSubscription(ctx, tenantId, SubscriptionStatusActive, tenant.SubscriptionEndAt)
}

// ExtendSubscription pushes the paid period forward by whole months. The new
// window starts from the later of now and the current end date, so renewing
// early never loses paid days.
func ExtendSubscription(ctx context.Context, tenantId string, months int) (*Tenant, error) {
	if months < 1 {
		return nil, errors.New("months must be at least 1")
	}
	tenant, err := GetTenantById(ctx, tenantId)
	if err != nil {
		return nil, err
	}
	start := time.Now().UTC()
	if tenant.SubscriptionEndAt != nil && tenant.SubscriptionEndAt.After(start) {
		start = *tenant.SubscriptionEndAt
	}
	endAt := start.AddDate(0, months, 0)
	return transitionSubscription(ctx, tenantId, SubscriptionStatusActive, &endAt)
}
