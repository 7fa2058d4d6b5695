package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventConnectivityChange EventType = "connectivity:change"
	EventSyncStart          EventType = "sync:start"
	EventItemApplied        EventType = "sync:item:applied"
	EventItemRetry          EventType = "sync:item:retry"
	EventItemFailed         EventType = "sync:item:failed"
	EventItemConflict       EventType = "sync:item:conflict"
	EventDrainComplete      EventType = "sync:drain:complete"
)

type Event struct {
	Type         EventType       `json:"type"`
	At           time.Time       `json:"at"`
	Online       *bool           `json:"online,omitempty"`
	MutationID   string          `json:"mutation_id,omitempty"`
	ResourceType ResourceType    `json:"resource_type,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Operation    Operation       `json:"operation,omitempty"`
	Attempt      int             `json:"attempt,omitempty"`
	Error        string          `json:"error,omitempty"`
	Detail       json.RawMessage `json:"detail,omitempty"`
}

// DrainSummary is carried in the detail of sync:drain:complete.
type DrainSummary struct {
	Applied   int `json:"applied"`
	Failed    int `json:"failed"`
	Retrying  int `json:"retrying"`
	Remaining int `json:"remaining"`
}

type JournalEntry struct {
	ID    int64 `json:"id"`
	Event Event `json:"event"`
}

type JournalFilter struct {
	Type         EventType
	ResourceType ResourceType
	MutationID   string
	BeforeID     int64
	Limit        int
}
