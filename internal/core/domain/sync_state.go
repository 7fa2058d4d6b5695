package domain

import "time"

type EnginePhase string

const (
	PhaseIdle     EnginePhase = "idle"
	PhaseDraining EnginePhase = "draining"
	PhaseBackoff  EnginePhase = "backoff"
)

type SyncState struct {
	IsOnline     bool        `json:"is_online"`
	IsDraining   bool        `json:"is_draining"`
	Phase        EnginePhase `json:"phase"`
	LastSyncAt   *time.Time  `json:"last_sync_at,omitempty"`
	PendingCount int         `json:"pending_count"`
}

type ConflictPolicy string

const (
	ConflictReject        ConflictPolicy = "reject"
	ConflictLastWriteWins ConflictPolicy = "last-write-wins"
)

func ParseConflictPolicy(raw string) (ConflictPolicy, bool) {
	switch ConflictPolicy(raw) {
	case "", ConflictReject:
		return ConflictReject, true
	case ConflictLastWriteWins:
		return ConflictLastWriteWins, true
	default:
		return "", false
	}
}
