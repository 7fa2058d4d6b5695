package ports

import (
	"context"
	"encoding/json"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
)

// RemoteClient talks to the remote service. Implementations classify failures
// into the domain error types so callers can decide between retrying,
// queueing and propagating.
type RemoteClient interface {
	List(ctx context.Context, resourceType domain.ResourceType) (json.RawMessage, error)
	Get(ctx context.Context, resourceType domain.ResourceType, id string) (json.RawMessage, error)
	Send(ctx context.Context, m domain.PendingMutation, opts SendOptions) (json.RawMessage, error)
}

type SendOptions struct {
	// Overwrite asks the remote service to accept the write despite a version
	// mismatch.
	Overwrite bool
}

type Prober interface {
	Probe(ctx context.Context) error
}

// NetworkSignal is the host's passive reachability reading.
type NetworkSignal interface {
	Reachable() bool
}

type ConnectivityMonitor interface {
	IsOnline() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}
