package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atvirokodosprendimai/surveysync/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
)

type journalModel struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Type         string `gorm:"column:type;not null"`
	AtNS         int64  `gorm:"column:at_ns;not null"`
	Online       *bool  `gorm:"column:online"`
	MutationID   string `gorm:"column:mutation_id;not null"`
	ResourceType string `gorm:"column:resource_type;not null"`
	ResourceID   string `gorm:"column:resource_id;not null"`
	Operation    string `gorm:"column:operation;not null"`
	Attempt      int    `gorm:"column:attempt;not null"`
	Error        string `gorm:"column:error;not null"`
	DetailJSON   string `gorm:"column:detail_json;not null"`
}

func (journalModel) TableName() string {
	return "sync_journal"
}

// JournalRepository persists sync events so operators can see what happened
// to each queued write after the fact.
type JournalRepository struct {
	db *gormsqlite.DB
}

func NewJournalRepository(db *gormsqlite.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

func (r *JournalRepository) Append(ctx context.Context, event domain.Event) error {
	model := journalModel{
		Type:         string(event.Type),
		AtNS:         unixNano(event.At),
		Online:       event.Online,
		MutationID:   event.MutationID,
		ResourceType: string(event.ResourceType),
		ResourceID:   event.ResourceID,
		Operation:    string(event.Operation),
		Attempt:      event.Attempt,
		Error:        event.Error,
		DetailJSON:   string(event.Detail),
	}
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// List returns entries newest first. BeforeID pages backwards.
func (r *JournalRepository) List(ctx context.Context, filter domain.JournalFilter) ([]domain.JournalEntry, error) {
	var rows []journalModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Model(&journalModel{})
		if filter.Type != "" {
			query = query.Where("type = ?", string(filter.Type))
		}
		if filter.ResourceType != "" {
			query = query.Where("resource_type = ?", string(filter.ResourceType))
		}
		if filter.MutationID != "" {
			query = query.Where("mutation_id = ?", filter.MutationID)
		}
		if filter.BeforeID > 0 {
			query = query.Where("id < ?", filter.BeforeID)
		}
		return query.Order("id DESC").Limit(filter.Limit).Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}

	result := make([]domain.JournalEntry, 0, len(rows))
	for _, row := range rows {
		event := domain.Event{
			Type:         domain.EventType(row.Type),
			At:           fromUnixNano(row.AtNS),
			Online:       row.Online,
			MutationID:   row.MutationID,
			ResourceType: domain.ResourceType(row.ResourceType),
			ResourceID:   row.ResourceID,
			Operation:    domain.Operation(row.Operation),
			Attempt:      row.Attempt,
			Error:        row.Error,
		}
		if row.DetailJSON != "" {
			event.Detail = json.RawMessage(row.DetailJSON)
		}
		result = append(result, domain.JournalEntry{ID: row.ID, Event: event})
	}
	return result, nil
}
