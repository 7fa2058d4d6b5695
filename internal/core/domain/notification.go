package domain

import (
	"encoding/json"
	"time"
)

type NotificationStatus string

const (
	NotificationPending    NotificationStatus = "pending"
	NotificationDispatched NotificationStatus = "dispatched"
	NotificationDead       NotificationStatus = "dead"
)

// Notification is a sync event waiting to be delivered to an operator
// endpoint. It is stored locally so alerts raised offline are not lost.
type Notification struct {
	ID            int64
	EventType     EventType
	MutationID    string
	Payload       json.RawMessage
	Status        NotificationStatus
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}

// Notifiable reports whether an event type warrants an operator alert.
func (t EventType) Notifiable() bool {
	return t == EventItemFailed || t == EventItemConflict
}
