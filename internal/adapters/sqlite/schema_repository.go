package sqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/surveysync/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
	"github.com/atvirokodosprendimai/surveysync/internal/core/ports"
)

type schemaRow struct {
	ResourceType string    `gorm:"column:resource_type;primaryKey"`
	SchemaJSON   string    `gorm:"column:schema_json;not null"`
	Revision     int64     `gorm:"column:revision;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

func (schemaRow) TableName() string {
	return "resource_schemas"
}

func (row schemaRow) toDomain() domain.ResourceSchema {
	return domain.ResourceSchema{
		ResourceType: domain.ResourceType(row.ResourceType),
		Schema:       json.RawMessage(row.SchemaJSON),
		Revision:     row.Revision,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

// SchemaRepository keeps one JSON Schema document per resource type. Writing
// a byte-identical document is a no-op, so seeding the same directory on every
// start leaves revisions and timestamps alone.
type SchemaRepository struct {
	db  *gormsqlite.DB
	now func() time.Time
}

var _ ports.ResourceSchemaRepository = (*SchemaRepository)(nil)

func NewSchemaRepository(db *gormsqlite.DB) *SchemaRepository {
	return &SchemaRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *SchemaRepository) Upsert(ctx context.Context, schema domain.ResourceSchema) (domain.ResourceSchema, error) {
	var saved schemaRow
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		current, found, err := findSchema(tx.DB, schema.ResourceType)
		if err != nil {
			return err
		}
		now := r.now()
		switch {
		case !found:
			saved = schemaRow{
				ResourceType: string(schema.ResourceType),
				SchemaJSON:   string(schema.Schema),
				Revision:     1,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			return tx.Create(&saved).Error
		case bytes.Equal([]byte(current.SchemaJSON), schema.Schema):
			saved = current
			return nil
		default:
			saved = current
			saved.SchemaJSON = string(schema.Schema)
			saved.Revision++
			saved.UpdatedAt = now
			return tx.Model(&schemaRow{}).
				Where("resource_type = ? AND revision = ?", current.ResourceType, current.Revision).
				Updates(map[string]any{
					"schema_json": saved.SchemaJSON,
					"revision":    saved.Revision,
					"updated_at":  saved.UpdatedAt,
				}).Error
		}
	})
	if err != nil {
		return domain.ResourceSchema{}, fmt.Errorf("save %s schema: %w", schema.ResourceType, err)
	}
	return saved.toDomain(), nil
}

func (r *SchemaRepository) Get(ctx context.Context, resourceType domain.ResourceType) (domain.ResourceSchema, error) {
	var (
		row   schemaRow
		found bool
	)
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		var err error
		row, found, err = findSchema(tx.DB, resourceType)
		return err
	})
	switch {
	case err != nil:
		return domain.ResourceSchema{}, fmt.Errorf("load %s schema: %w", resourceType, err)
	case !found:
		return domain.ResourceSchema{}, domain.ErrNotFound
	}
	return row.toDomain(), nil
}

// Delete reports whether a schema was removed.
func (r *SchemaRepository) Delete(ctx context.Context, resourceType domain.ResourceType) (bool, error) {
	var removed int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Delete(&schemaRow{ResourceType: string(resourceType)})
		removed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("drop %s schema: %w", resourceType, err)
	}
	return removed == 1, nil
}

func findSchema(tx *gorm.DB, resourceType domain.ResourceType) (schemaRow, bool, error) {
	var rows []schemaRow
	if err := tx.Where("resource_type = ?", string(resourceType)).Limit(1).Find(&rows).Error; err != nil {
		return schemaRow{}, false, err
	}
	if len(rows) == 0 {
		return schemaRow{}, false, nil
	}
	return rows[0], true, nil
}
