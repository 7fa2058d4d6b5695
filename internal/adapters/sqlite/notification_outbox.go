package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/surveysync/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
)

type notificationModel struct {
	ID              int64  `gorm:"column:id;primaryKey;autoIncrement"`
	EventType       string `gorm:"column:event_type;not null"`
	MutationID      string `gorm:"column:mutation_id;not null"`
	PayloadJSON     string `gorm:"column:payload_json;not null"`
	Status          string `gorm:"column:status;not null"`
	Attempts        int    `gorm:"column:attempts;not null"`
	NextAttemptAtNS int64  `gorm:"column:next_attempt_at_ns;not null"`
	LastError       string `gorm:"column:last_error;not null"`
	CreatedAtNS     int64  `gorm:"column:created_at_ns;not null"`
	DispatchedAtNS  *int64 `gorm:"column:dispatched_at_ns"`
}

func (notificationModel) TableName() string {
	return "notification_outbox"
}

type NotificationOutbox struct {
	db  *gormsqlite.DB
	now func() time.Time
}

func NewNotificationOutbox(db *gormsqlite.DB) *NotificationOutbox {
	return &NotificationOutbox{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *NotificationOutbox) Add(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	now := r.now()
	model := notificationModel{
		EventType:       string(event.Type),
		MutationID:      event.MutationID,
		PayloadJSON:     string(payload),
		Status:          string(domain.NotificationPending),
		NextAttemptAtNS: unixNano(now),
		CreatedAtNS:     unixNano(now),
	}
	err = r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("add notification: %w", err)
	}
	return nil
}

func (r *NotificationOutbox) FetchPending(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []notificationModel
	now := unixNano(r.now())
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("status = ? AND next_attempt_at_ns <= ?", string(domain.NotificationPending), now).
			Order("id ASC").
			Limit(limit).
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("fetch pending notifications: %w", err)
	}

	result := make([]domain.Notification, 0, len(rows))
	for _, row := range rows {
		n := domain.Notification{
			ID:            row.ID,
			EventType:     domain.EventType(row.EventType),
			MutationID:    row.MutationID,
			Payload:       json.RawMessage(row.PayloadJSON),
			Status:        domain.NotificationStatus(row.Status),
			Attempts:      row.Attempts,
			NextAttemptAt: fromUnixNano(row.NextAttemptAtNS),
			LastError:     row.LastError,
			CreatedAt:     fromUnixNano(row.CreatedAtNS),
		}
		if row.DispatchedAtNS != nil {
			at := fromUnixNano(*row.DispatchedAtNS)
			n.DispatchedAt = &at
		}
		result = append(result, n)
	}
	return result, nil
}

func (r *NotificationOutbox) MarkDispatched(ctx context.Context, id int64) error {
	now := unixNano(r.now())
	return r.update(ctx, "mark notification dispatched", id, map[string]any{
		"status":           string(domain.NotificationDispatched),
		"dispatched_at_ns": now,
		"last_error":       "",
	})
}

func (r *NotificationOutbox) MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, errMsg string) error {
	return r.update(ctx, "mark notification failed", id, map[string]any{
		"attempts":           attempts,
		"next_attempt_at_ns": unixNano(nextAttemptAt),
		"last_error":         errMsg,
	})
}

func (r *NotificationOutbox) MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error {
	return r.update(ctx, "mark notification dead", id, map[string]any{
		"status":     string(domain.NotificationDead),
		"attempts":   attempts,
		"last_error": errMsg,
	})
}

func (r *NotificationOutbox) update(ctx context.Context, op string, id int64, values map[string]any) error {
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&notificationModel{}).Where("id = ?", id).Updates(values).Error
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
