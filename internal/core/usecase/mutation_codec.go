package usecase

import (
	"encoding/json"
	"fmt"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
)

// Upcaster rewrites a persisted mutation payload from one schema version to
// the next.
type Upcaster interface {
	FromVersion() int
	ToVersion() int
	Upcast(payload json.RawMessage) (json.RawMessage, error)
}

// MutationCodec brings queued mutations written by older builds up to the
// current payload shape before they are sent.
type MutationCodec struct {
	upcasters map[int]Upcaster
}

// NewMutationCodec registers the built-in upcasters followed by extra ones.
// A later upcaster for the same source version replaces an earlier one.
func NewMutationCodec(extra ...Upcaster) *MutationCodec {
	all := append([]Upcaster{legacyEnvelopeUpcaster{}}, extra...)
	m := make(map[int]Upcaster, len(all))
	for _, up := range all {
		m[up.FromVersion()] = up
	}
	return &MutationCodec{upcasters: m}
}

func (c *MutationCodec) Normalize(m domain.PendingMutation) (domain.PendingMutation, error) {
	v := m.SchemaVersion
	if v > domain.CurrentMutationSchemaVersion {
		return domain.PendingMutation{}, fmt.Errorf("mutation schema version %d is newer than supported %d", v, domain.CurrentMutationSchemaVersion)
	}
	payload := m.Payload
	for v < domain.CurrentMutationSchemaVersion {
		up, ok := c.upcasters[v]
		if !ok {
			return domain.PendingMutation{}, fmt.Errorf("missing upcaster from version %d", v)
		}
		next, err := up.Upcast(payload)
		if err != nil {
			return domain.PendingMutation{}, fmt.Errorf("upcast %d->%d: %w", up.FromVersion(), up.ToVersion(), err)
		}
		payload = next
		v = up.ToVersion()
	}

	m.SchemaVersion = v
	m.Payload = payload
	return m, nil
}

// legacyEnvelopeUpcaster unwraps version 0 payloads, which were stored as
// {"data": <body>}.
type legacyEnvelopeUpcaster struct{}

func (legacyEnvelopeUpcaster) FromVersion() int { return 0 }
func (legacyEnvelopeUpcaster) ToVersion() int   { return 1 }

func (legacyEnvelopeUpcaster) Upcast(payload json.RawMessage) (json.RawMessage, error) {
	if len(payload) == 0 {
		return payload, nil
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, err
	}
	data, ok := envelope["data"]
	if !ok || len(envelope) != 1 {
		return payload, nil
	}
	return data, nil
}
