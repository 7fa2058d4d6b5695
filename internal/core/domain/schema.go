package domain

import (
	"encoding/json"
	"time"
)

// ResourceSchema holds the JSON Schema document that write payloads for a
// resource type must satisfy before they are sent or queued.
type ResourceSchema struct {
	ResourceType ResourceType
	Schema       json.RawMessage
	// Revision starts at 1 and grows each time the document changes.
	Revision  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
