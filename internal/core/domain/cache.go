package domain

import (
	"encoding/json"
	"errors"
	"time"
)

type CacheRecord struct {
	ResourceType ResourceType
	ResourceID   string
	Payload      json.RawMessage
	FetchedAt    time.Time
	TTLExpiresAt time.Time
	// Generation is the key's write generation read before the snapshot was
	// requested. A put is discarded once a confirmed mutation or an
	// invalidation has moved the key past it.
	Generation int64
}

func (r CacheRecord) Validate() error {
	if err := r.ResourceType.Validate(); err != nil {
		return err
	}
	if r.ResourceID != CollectionID {
		if err := ValidateID(r.ResourceID); err != nil {
			return err
		}
	}
	if !json.Valid(r.Payload) {
		return errors.New("payload must be valid json")
	}
	if r.FetchedAt.IsZero() {
		return errors.New("fetched_at is required")
	}
	return nil
}

// Expired reports whether the record is past its TTL. Expired records are
// still served as stale fallbacks.
func (r CacheRecord) Expired(now time.Time) bool {
	if r.TTLExpiresAt.IsZero() {
		return false
	}
	return !now.Before(r.TTLExpiresAt)
}

func NewCacheRecord(resourceType ResourceType, resourceID string, payload json.RawMessage, fetchedAt time.Time, ttl time.Duration) CacheRecord {
	rec := CacheRecord{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Payload:      payload,
		FetchedAt:    fetchedAt.UTC(),
	}
	if ttl > 0 {
		rec.TTLExpiresAt = rec.FetchedAt.Add(ttl)
	}
	return rec
}
