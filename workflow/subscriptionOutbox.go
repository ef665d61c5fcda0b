package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/wifizone/hotspot_backend/config"
	"bitbucket.org/wifizone/hotspot_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriptionOutboxDispatcher drains subscription_event_records and
// publishes them to the per-tenant Redis channel. Rows are claimed FOR
// UPDATE SKIP LOCKED so several instances can run side by side; a row that
// keeps failing goes DEAD after MaxAttempts.
type SubscriptionOutboxDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	DispatcherID string

	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
}

func NewSubscriptionOutboxDispatcher(db *gorm.DB, logger *logrus.Logger) *SubscriptionOutboxDispatcher {
	return &SubscriptionOutboxDispatcher{
		DB:           db,
		Logger:       logger,
		DispatcherID: uuid.NewString(),
		BatchSize:    50,
		PollInterval: 500 * time.Millisecond,
		MaxAttempts:  20,
	}
}

func (d *SubscriptionOutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

func (d *SubscriptionOutboxDispatcher) dispatchOnce(ctx context.Context) {
	db := d.DB
	if db == nil {
		return
	}

	var claimed []models.SubscriptionEventRecord
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("publish_status = ?", models.SubscriptionEventPending).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			// poison rows go terminal
			if d.MaxAttempts > 0 && claimed[i].PublishAttempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				claimed[i].PublishStatus = models.SubscriptionEventDead
				if err := tx.Model(&models.SubscriptionEventRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"publish_status":     models.SubscriptionEventDead,
					"last_publish_error": &msg,
				}).Error; err != nil {
					return err
				}
				continue
			}
			claimed[i].PublishAttempts = claimed[i].PublishAttempts + 1
			if err := tx.Model(&models.SubscriptionEventRecord{}).Where("id = ?", claimed[i].ID).
				Update("publish_attempts", gorm.Expr("publish_attempts + 1")).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || len(claimed) == 0 {
		return
	}

	for _, rec := range claimed {
		if rec.PublishStatus == models.SubscriptionEventDead {
			continue
		}
		event := rec.ToEvent()
		pubErr := config.PublishRedis(ctx, models.SubscriptionChannel(rec.TenantId), event)
		if pubErr != nil {
			msg := pubErr.Error()
			if len(msg) > 500 {
				msg = msg[:500]
			}
			_ = db.WithContext(ctx).Model(&models.SubscriptionEventRecord{}).Where("id = ?", rec.ID).
				Update("last_publish_error", &msg).Error
			if d.Logger != nil {
				d.Logger.WithFields(logrus.Fields{
					"field":     "SubscriptionOutbox",
					"record_id": rec.ID,
					"tenant_id": rec.TenantId,
					"attempts":  rec.PublishAttempts,
				}).WithError(pubErr).Warn("subscription event publish failed")
			}
			continue
		}
		_ = db.WithContext(ctx).Model(&models.SubscriptionEventRecord{}).Where("id = ?", rec.ID).Updates(map[string]interface{}{
			"publish_status":     models.SubscriptionEventPublished,
			"last_publish_error": nil,
		}).Error
		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":          "SubscriptionOutbox",
				"record_id":      rec.ID,
				"tenant_id":      rec.TenantId,
				"new_status":     rec.NewStatus,
				"correlation_id": rec.CorrelationId,
			}).Info("subscription event published")
		}
	}
}
