package models

import (
	"context"
	"time"

	"bitbucket.org/wifizone/hotspot_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SubscriptionEventPublishStatus string

const (
	SubscriptionEventPending   SubscriptionEventPublishStatus = "PENDING"
	SubscriptionEventPublished SubscriptionEventPublishStatus = "PUBLISHED"
	SubscriptionEventDead      SubscriptionEventPublishStatus = "DEAD"
)

// SubscriptionEventRecord is the transactional outbox for tenant subscription
// changes. It is written inside the status-change transaction and published
// to Redis pub/sub by the workflow dispatcher after commit, so the gate's
// realtime feed never sees an uncommitted transition.
type SubscriptionEventRecord struct {
	ID               int                            `gorm:"primary_key" json:"id"`
	TenantId         string                         `gorm:"index;not null" json:"tenant_id"`
	OldStatus        SubscriptionStatus             `gorm:"type:enum('PENDING','ACTIVE','SUSPENDED')" json:"old_status"`
	NewStatus        SubscriptionStatus             `gorm:"type:enum('PENDING','ACTIVE','SUSPENDED')" json:"new_status"`
	EndAt            *time.Time                     `json:"end_at"`
	CorrelationId    string                         `gorm:"size:64" json:"correlation_id"`
	PublishStatus    SubscriptionEventPublishStatus `gorm:"type:enum('PENDING','PUBLISHED','DEAD');default:PENDING;index" json:"publish_status"`
	PublishAttempts  int                            `gorm:"default:0" json:"publish_attempts"`
	LastPublishError *string                        `gorm:"size:500" json:"last_publish_error"`
	CreatedAt        time.Time                      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time                      `gorm:"autoUpdateTime" json:"updated_at"`
}

// SubscriptionEvent is the wire payload delivered on channel
// "tenant:<id>:subscription".
type SubscriptionEvent struct {
	TenantId      string             `json:"tenant_id"`
	OldStatus     SubscriptionStatus `json:"old_status"`
	NewStatus     SubscriptionStatus `json:"new_status"`
	EndAt         *time.Time         `json:"end_at"`
	CorrelationId string             `json:"correlation_id"`
}

func SubscriptionChannel(tenantId string) string {
	return "tenant:" + tenantId + ":subscription"
}

// AppendSubscriptionEvent writes the outbox row inside the caller's
// transaction. It never publishes.
func AppendSubscriptionEvent(ctx context.Context, tx *gorm.DB, tenantId string, oldStatus, newStatus SubscriptionStatus, endAt *time.Time) error {
	record := SubscriptionEventRecord{
		TenantId:      tenantId,
		OldStatus:     oldStatus,
		NewStatus:     newStatus,
		EndAt:         endAt,
		CorrelationId: correlationIdFromContextOrNew(ctx),
		PublishStatus: SubscriptionEventPending,
	}
	return tx.WithContext(ctx).Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func (r *SubscriptionEventRecord) ToEvent() SubscriptionEvent {
	return SubscriptionEvent{
		TenantId:      r.TenantId,
		OldStatus:     r.OldStatus,
		NewStatus:     r.NewStatus,
		EndAt:         r.EndAt,
		CorrelationId: r.CorrelationId,
	}
}
