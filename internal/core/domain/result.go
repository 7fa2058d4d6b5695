package domain

import (
	"encoding/json"
	"time"
)

// Status tells callers whether a call completed against the remote service,
// was deferred to the offline queue, or failed.
type Status string

const (
	StatusOK     Status = "ok"
	StatusQueued Status = "queued"
	StatusFailed Status = "failed"
)

type Result struct {
	Status Status          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Stale  bool            `json:"stale,omitempty"`
	// Expired marks a cached record served past its TTL.
	Expired    bool       `json:"expired,omitempty"`
	FetchedAt  *time.Time `json:"fetched_at,omitempty"`
	MutationID string     `json:"mutation_id,omitempty"`
	Error      string     `json:"error,omitempty"`
}
