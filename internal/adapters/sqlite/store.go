package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/surveysync/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
	"github.com/atvirokodosprendimai/surveysync/internal/core/ports"
)

type cacheRecordModel struct {
	ResourceType   string `gorm:"column:resource_type;primaryKey"`
	ResourceID     string `gorm:"column:resource_id;primaryKey"`
	PayloadJSON    string `gorm:"column:payload_json;not null"`
	FetchedAtNS    int64  `gorm:"column:fetched_at_ns;not null"`
	TTLExpiresAtNS int64  `gorm:"column:ttl_expires_at_ns;not null"`
}

func (cacheRecordModel) TableName() string {
	return "cache_records"
}

type mutationModel struct {
	Seq             int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	ID              string `gorm:"column:id;not null"`
	ResourceType    string `gorm:"column:resource_type;not null"`
	ResourceID      string `gorm:"column:resource_id;not null"`
	Operation       string `gorm:"column:operation;not null"`
	Action          string `gorm:"column:action;not null"`
	PayloadJSON     string `gorm:"column:payload_json;not null"`
	SchemaVersion   int    `gorm:"column:schema_version;not null"`
	EnqueuedAtNS    int64  `gorm:"column:enqueued_at_ns;not null"`
	AttemptCount    int    `gorm:"column:attempt_count;not null"`
	NextAttemptAtNS int64  `gorm:"column:next_attempt_at_ns;not null"`
	Status          string `gorm:"column:status;not null"`
	LastError       string `gorm:"column:last_error;not null"`
}

func (mutationModel) TableName() string {
	return "mutation_queue"
}

type appliedModel struct {
	ID          string `gorm:"column:id;primaryKey"`
	AppliedAtNS int64  `gorm:"column:applied_at_ns;not null"`
}

func (appliedModel) TableName() string {
	return "applied_mutations"
}

type cacheGenerationModel struct {
	ResourceType string `gorm:"column:resource_type;primaryKey"`
	ResourceID   string `gorm:"column:resource_id;primaryKey"`
	Generation   int64  `gorm:"column:generation;not null"`
}

func (cacheGenerationModel) TableName() string {
	return "cache_generations"
}

var activeStatuses = []string{string(domain.MutationPending), string(domain.MutationInFlight)}

// Store is the durable local store: cache records, the ordered mutation queue
// and the applied-mutation ledger, all in one SQLite file.
type Store struct {
	db         *gormsqlite.DB
	logger     *slog.Logger
	now        func() time.Time
	evictBatch int
}

var _ ports.LocalStore = (*Store)(nil)

type StoreOption func(*Store)

// WithEvictBatch sets how many of the oldest cache records are dropped when
// a cache write hits the storage limit.
func WithEvictBatch(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.evictBatch = n
		}
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(db *gormsqlite.DB, logger *slog.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:         db,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		evictBatch: 32,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) GetCache(ctx context.Context, resourceType domain.ResourceType, resourceID string) (domain.CacheRecord, error) {
	var model cacheRecordModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("resource_type = ? AND resource_id = ?", string(resourceType), resourceID).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.CacheRecord{}, domain.ErrNotFound
		}
		return domain.CacheRecord{}, fmt.Errorf("get cache record: %w", err)
	}
	return toCacheDomain(model), nil
}

// PutCache stores rec unless a newer snapshot of the same record is already
// present or the key's generation has moved past rec.Generation. When storage
// is full the oldest records are evicted and the write is retried once.
func (s *Store) PutCache(ctx context.Context, rec domain.CacheRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	err := s.putCache(ctx, rec)
	if gormsqlite.IsFull(err) {
		evicted, evictErr := s.evictOldest(ctx, s.evictBatch)
		s.logger.Warn("local store full, evicted oldest cache records", "evicted", evicted, "error", evictErr)
		if evictErr == nil && evicted > 0 {
			err = s.putCache(ctx, rec)
		}
	}
	if err != nil {
		return &domain.StorageError{Op: "put cache", Full: gormsqlite.IsFull(err), Err: err}
	}
	return nil
}

func (s *Store) putCache(ctx context.Context, rec domain.CacheRecord) error {
	model := toCacheModel(rec)
	return s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		current, err := generationOf(tx.DB, string(rec.ResourceType), rec.ResourceID)
		if err != nil {
			return err
		}
		if current > rec.Generation {
			s.logger.Debug("discarding cache snapshot older than a confirmed write",
				"resource_type", rec.ResourceType, "resource_id", rec.ResourceID,
				"generation", rec.Generation, "current", current)
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "resource_type"}, {Name: "resource_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload_json", "fetched_at_ns", "ttl_expires_at_ns"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "excluded.fetched_at_ns >= cache_records.fetched_at_ns"},
			}},
		}).Create(&model).Error
	})
}

// CacheGeneration reports how many confirmed writes and invalidations have
// touched the key. Keys never touched are at generation zero.
func (s *Store) CacheGeneration(ctx context.Context, resourceType domain.ResourceType, resourceID string) (int64, error) {
	var gen int64
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		var err error
		gen, err = generationOf(tx.DB, string(resourceType), resourceID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get cache generation: %w", err)
	}
	return gen, nil
}

func generationOf(tx *gorm.DB, rt, id string) (int64, error) {
	var rows []cacheGenerationModel
	if err := tx.Where("resource_type = ? AND resource_id = ?", rt, id).Limit(1).Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("read cache generation: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Generation, nil
}

func bumpGeneration(tx *gorm.DB, rt, id string) error {
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource_type"}, {Name: "resource_id"}},
		DoUpdates: clause.Set{{Column: clause.Column{Name: "generation"}, Value: gorm.Expr("cache_generations.generation + 1")}},
	}).Create(&cacheGenerationModel{ResourceType: rt, ResourceID: id, Generation: 1}).Error
	if err != nil {
		return fmt.Errorf("bump cache generation: %w", err)
	}
	return nil
}

func (s *Store) evictOldest(ctx context.Context, n int) (int64, error) {
	var evicted int64
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Exec(`DELETE FROM cache_records WHERE rowid IN (
			SELECT rowid FROM cache_records ORDER BY fetched_at_ns ASC LIMIT ?)`, n)
		evicted = res.RowsAffected
		return res.Error
	})
	return evicted, err
}

func (s *Store) InvalidateCache(ctx context.Context, resourceType domain.ResourceType, resourceID string) error {
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		if err := bumpGeneration(tx.DB, string(resourceType), resourceID); err != nil {
			return err
		}
		return tx.Where("resource_type = ? AND resource_id = ?", string(resourceType), resourceID).
			Delete(&cacheRecordModel{}).Error
	})
	if err != nil {
		return fmt.Errorf("invalidate cache record: %w", err)
	}
	return nil
}

// Enqueue appends m to the queue and returns it with its assigned sequence
// number. It never drops a write: a full store is reported to the caller.
func (s *Store) Enqueue(ctx context.Context, m domain.PendingMutation) (domain.PendingMutation, error) {
	if err := m.Validate(); err != nil {
		return domain.PendingMutation{}, err
	}
	if m.Status == "" {
		m.Status = domain.MutationPending
	}
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = s.now()
	}
	model := toMutationModel(m)
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.PendingMutation{}, &domain.StorageError{Op: "enqueue", Full: gormsqlite.IsFull(err), Err: err}
	}
	return toMutationDomain(model), nil
}

func (s *Store) ListPending(ctx context.Context, resourceType domain.ResourceType) ([]domain.PendingMutation, error) {
	var rows []mutationModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Where("status IN ?", activeStatuses)
		if resourceType != "" {
			query = query.Where("resource_type = ?", string(resourceType))
		}
		return query.Order("seq ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list pending mutations: %w", err)
	}
	return toMutationsDomain(rows), nil
}

func (s *Store) ListFailed(ctx context.Context) ([]domain.PendingMutation, error) {
	var rows []mutationModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("status = ?", string(domain.MutationFailed)).Order("seq ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list failed mutations: %w", err)
	}
	return toMutationsDomain(rows), nil
}

func (s *Store) GetMutation(ctx context.Context, id string) (domain.PendingMutation, error) {
	var model mutationModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("id = ?", id).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PendingMutation{}, domain.ErrNotFound
		}
		return domain.PendingMutation{}, fmt.Errorf("get mutation: %w", err)
	}
	return toMutationDomain(model), nil
}

func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int64
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&mutationModel{}).Where("status IN ?", activeStatuses).Count(&n).Error
	})
	if err != nil {
		return 0, fmt.Errorf("count pending mutations: %w", err)
	}
	return int(n), nil
}

func (s *Store) HasPending(ctx context.Context, resourceType domain.ResourceType, resourceID string) (bool, error) {
	var n int64
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&mutationModel{}).
			Where("resource_type = ? AND resource_id = ? AND status IN ?", string(resourceType), resourceID, activeStatuses).
			Limit(1).
			Count(&n).Error
	})
	if err != nil {
		return false, fmt.Errorf("check pending mutations: %w", err)
	}
	return n > 0, nil
}

func (s *Store) MarkStatus(ctx context.Context, id string, status domain.MutationStatus, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	var affected int64
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&mutationModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":             string(status),
				"attempt_count":      attemptCount,
				"next_attempt_at_ns": unixNano(nextAttemptAt),
				"last_error":         lastError,
			})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("mark mutation %s: %w", status, err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) RemoveApplied(ctx context.Context, id string) error {
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("id = ?", id).Delete(&mutationModel{}).Error
	})
	if err != nil {
		return fmt.Errorf("remove mutation: %w", err)
	}
	return nil
}

// RequeueFailed returns failed mutations to the pending state with a fresh
// retry budget. Their original sequence numbers keep them in order.
func (s *Store) RequeueFailed(ctx context.Context) (int, error) {
	var affected int64
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&mutationModel{}).
			Where("status = ?", string(domain.MutationFailed)).
			Updates(map[string]any{
				"status":             string(domain.MutationPending),
				"attempt_count":      0,
				"next_attempt_at_ns": int64(0),
			})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("requeue failed mutations: %w", err)
	}
	return int(affected), nil
}

func (s *Store) WasApplied(ctx context.Context, id string) (bool, error) {
	var n int64
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&appliedModel{}).Where("id = ?", id).Count(&n).Error
	})
	if err != nil {
		return false, fmt.Errorf("check applied ledger: %w", err)
	}
	return n > 0, nil
}

func (s *Store) MarkApplied(ctx context.Context, id string) (bool, error) {
	var first bool
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		var err error
		first, err = insertLedger(tx.DB, id, s.now())
		return err
	})
	if err != nil {
		return false, fmt.Errorf("mark applied: %w", err)
	}
	return first, nil
}

// ApplyConfirmed records the idempotency key, merges the server representation
// into the cache and removes the queue row in one transaction. The cache is
// left untouched when the key was already applied.
func (s *Store) ApplyConfirmed(ctx context.Context, m domain.PendingMutation, representation json.RawMessage) (bool, error) {
	now := s.now()
	var first bool
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		var err error
		first, err = insertLedger(tx.DB, m.ID, now)
		if err != nil {
			return err
		}
		if first {
			if err := mergeConfirmed(tx.DB, m, representation, now); err != nil {
				return err
			}
		}
		if err := tx.Where("id = ?", m.ID).Delete(&mutationModel{}).Error; err != nil {
			return fmt.Errorf("remove applied mutation: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, &domain.StorageError{Op: "apply confirmed", Full: gormsqlite.IsFull(err), Err: err}
	}
	return first, nil
}

func insertLedger(tx *gorm.DB, id string, at time.Time) (bool, error) {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&appliedModel{ID: id, AppliedAtNS: unixNano(at)})
	if res.Error != nil {
		return false, fmt.Errorf("insert applied ledger: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func mergeConfirmed(tx *gorm.DB, m domain.PendingMutation, representation json.RawMessage, now time.Time) error {
	rt := string(m.ResourceType)
	id, effect := m.ConfirmedCacheEffect(representation)
	if effect != domain.CacheEffectNone {
		if err := bumpGeneration(tx, rt, id); err != nil {
			return err
		}
	}
	if err := bumpGeneration(tx, rt, domain.CollectionID); err != nil {
		return err
	}
	switch effect {
	case domain.CacheEffectUpsert:
		model := cacheRecordModel{
			ResourceType: rt,
			ResourceID:   id,
			PayloadJSON:  string(representation),
			FetchedAtNS:  unixNano(now),
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "resource_type"}, {Name: "resource_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload_json", "fetched_at_ns", "ttl_expires_at_ns"}),
		}).Create(&model).Error
		if err != nil {
			return fmt.Errorf("merge cache record: %w", err)
		}
	case domain.CacheEffectEvict:
		if err := tx.Where("resource_type = ? AND resource_id = ?", rt, id).Delete(&cacheRecordModel{}).Error; err != nil {
			return fmt.Errorf("evict cache record: %w", err)
		}
	}
	if err := tx.Where("resource_type = ? AND resource_id = ?", rt, domain.CollectionID).Delete(&cacheRecordModel{}).Error; err != nil {
		return fmt.Errorf("invalidate list snapshot: %w", err)
	}
	return nil
}

func toCacheModel(rec domain.CacheRecord) cacheRecordModel {
	return cacheRecordModel{
		ResourceType:   string(rec.ResourceType),
		ResourceID:     rec.ResourceID,
		PayloadJSON:    string(rec.Payload),
		FetchedAtNS:    unixNano(rec.FetchedAt),
		TTLExpiresAtNS: unixNano(rec.TTLExpiresAt),
	}
}

func toCacheDomain(model cacheRecordModel) domain.CacheRecord {
	return domain.CacheRecord{
		ResourceType: domain.ResourceType(model.ResourceType),
		ResourceID:   model.ResourceID,
		Payload:      json.RawMessage(model.PayloadJSON),
		FetchedAt:    fromUnixNano(model.FetchedAtNS),
		TTLExpiresAt: fromUnixNano(model.TTLExpiresAtNS),
	}
}

func toMutationModel(m domain.PendingMutation) mutationModel {
	return mutationModel{
		ID:              m.ID,
		ResourceType:    string(m.ResourceType),
		ResourceID:      m.ResourceID,
		Operation:       string(m.Operation),
		Action:          m.Action,
		PayloadJSON:     string(m.Payload),
		SchemaVersion:   m.SchemaVersion,
		EnqueuedAtNS:    unixNano(m.EnqueuedAt),
		AttemptCount:    m.AttemptCount,
		NextAttemptAtNS: unixNano(m.NextAttemptAt),
		Status:          string(m.Status),
		LastError:       m.LastError,
	}
}

func toMutationDomain(model mutationModel) domain.PendingMutation {
	m := domain.PendingMutation{
		ID:            model.ID,
		Seq:           model.Seq,
		ResourceType:  domain.ResourceType(model.ResourceType),
		ResourceID:    model.ResourceID,
		Operation:     domain.Operation(model.Operation),
		Action:        model.Action,
		SchemaVersion: model.SchemaVersion,
		EnqueuedAt:    fromUnixNano(model.EnqueuedAtNS),
		AttemptCount:  model.AttemptCount,
		NextAttemptAt: fromUnixNano(model.NextAttemptAtNS),
		Status:        domain.MutationStatus(model.Status),
		LastError:     model.LastError,
	}
	if model.PayloadJSON != "" {
		m.Payload = json.RawMessage(model.PayloadJSON)
	}
	return m
}

func toMutationsDomain(rows []mutationModel) []domain.PendingMutation {
	out := make([]domain.PendingMutation, 0, len(rows))
	for _, row := range rows {
		out = append(out, toMutationDomain(row))
	}
	return out
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
