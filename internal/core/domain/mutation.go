package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// CurrentMutationSchemaVersion is the version stamped on newly enqueued
// mutations. Older persisted rows are upcast by the mutation codec.
const CurrentMutationSchemaVersion = 1

type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationAction Operation = "action"
)

func (o Operation) Validate() error {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete, OperationAction:
		return nil
	default:
		return errors.New("invalid operation")
	}
}

type MutationStatus string

const (
	MutationPending  MutationStatus = "pending"
	MutationInFlight MutationStatus = "in_flight"
	MutationFailed   MutationStatus = "failed"
	MutationApplied  MutationStatus = "applied"
)

type PendingMutation struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	ResourceType  ResourceType    `json:"resource_type"`
	ResourceID    string          `json:"resource_id,omitempty"`
	Operation     Operation       `json:"operation"`
	Action        string          `json:"action,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	SchemaVersion int             `json:"schema_version"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	AttemptCount  int             `json:"attempt_count"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	Status        MutationStatus  `json:"status"`
	LastError     string          `json:"last_error,omitempty"`
}

func (m PendingMutation) Validate() error {
	if m.ID == "" {
		return errors.New("mutation id is required")
	}
	if err := m.ResourceType.Validate(); err != nil {
		return err
	}
	if err := m.Operation.Validate(); err != nil {
		return err
	}
	if m.Operation != OperationCreate {
		if err := ValidateID(m.ResourceID); err != nil {
			return err
		}
	} else if m.ResourceID != "" {
		if err := ValidateID(m.ResourceID); err != nil {
			return err
		}
	}
	if m.Operation == OperationAction {
		if err := ValidateAction(m.Action); err != nil {
			return err
		}
	}
	if len(m.Payload) > 0 && !json.Valid(m.Payload) {
		return errors.New("payload must be valid json")
	}
	return nil
}

// QueueKey groups mutations that must be applied in enqueue order. Creates
// without a resource id are independent of everything else.
func (m PendingMutation) QueueKey() string {
	if m.ResourceID == "" {
		return string(m.ResourceType) + "/+" + m.ID
	}
	return QueueKey(m.ResourceType, m.ResourceID)
}

func QueueKey(resourceType ResourceType, resourceID string) string {
	return string(resourceType) + "/" + resourceID
}

// Ready reports whether a backoff delay, if any, has elapsed.
func (m PendingMutation) Ready(now time.Time) bool {
	return m.NextAttemptAt.IsZero() || !now.Before(m.NextAttemptAt)
}

type CacheEffect int

const (
	CacheEffectNone CacheEffect = iota
	CacheEffectUpsert
	CacheEffectEvict
)

// ConfirmedCacheEffect reports how a write confirmed by the remote service
// changes the cached entity: creates and updates store the returned
// representation, deletes and actions evict the entity so the next read
// refetches it.
func (m PendingMutation) ConfirmedCacheEffect(representation json.RawMessage) (string, CacheEffect) {
	id := m.ResourceID
	if id == "" {
		id = RepresentationID(representation)
	}
	if id == "" || ValidateID(id) != nil {
		return "", CacheEffectNone
	}
	switch m.Operation {
	case OperationCreate, OperationUpdate:
		if !isJSONObject(representation) {
			return id, CacheEffectEvict
		}
		return id, CacheEffectUpsert
	default:
		return id, CacheEffectEvict
	}
}

// RepresentationID extracts the "id" field of a JSON object, accepting string
// and numeric ids.
func RepresentationID(representation json.RawMessage) string {
	var doc struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(representation, &doc); err != nil || len(doc.ID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(doc.ID, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(doc.ID, &n); err == nil {
		return n.String()
	}
	return ""
}

func isJSONObject(raw json.RawMessage) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(raw, &obj) == nil && obj != nil
}
