package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
	"github.com/atvirokodosprendimai/surveysync/internal/core/ports"
)

// SchemaService manages per-resource JSON schemas and validates write payloads.
type SchemaService struct {
	repo  ports.ResourceSchemaRepository
	cache sync.Map // key: resource type → *santhosh.Schema
}

func NewSchemaService(repo ports.ResourceSchemaRepository) *SchemaService {
	return &SchemaService{repo: repo}
}

func (s *SchemaService) Upsert(ctx context.Context, resourceType domain.ResourceType, schemaJSON json.RawMessage) (domain.ResourceSchema, error) {
	if err := resourceType.Validate(); err != nil {
		return domain.ResourceSchema{}, err
	}
	if !json.Valid(schemaJSON) {
		return domain.ResourceSchema{}, &domain.ValidationError{Errors: []string{"schema must be valid json"}}
	}
	if err := compilable(schemaJSON); err != nil {
		return domain.ResourceSchema{}, &domain.ValidationError{Errors: []string{"invalid json schema: " + err.Error()}}
	}
	s.cache.Delete(resourceType)
	return s.repo.Upsert(ctx, domain.ResourceSchema{
		ResourceType: resourceType,
		Schema:       schemaJSON,
	})
}

func (s *SchemaService) Get(ctx context.Context, resourceType domain.ResourceType) (domain.ResourceSchema, error) {
	if err := resourceType.Validate(); err != nil {
		return domain.ResourceSchema{}, err
	}
	return s.repo.Get(ctx, resourceType)
}

func (s *SchemaService) Delete(ctx context.Context, resourceType domain.ResourceType) (bool, error) {
	if err := resourceType.Validate(); err != nil {
		return false, err
	}
	s.cache.Delete(resourceType)
	return s.repo.Delete(ctx, resourceType)
}

// Validate checks a write payload against the resource schema. Payloads for
// resources without a schema pass. Returns *domain.ValidationError on failure.
func (s *SchemaService) Validate(ctx context.Context, resourceType domain.ResourceType, data json.RawMessage) error {
	if len(data) == 0 {
		return nil
	}
	if cached, ok := s.cache.Load(resourceType); ok {
		return runValidation(cached.(*santhosh.Schema), data)
	}

	rs, err := s.repo.Get(ctx, resourceType)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	compiled, err := compileSchema(rs.Schema)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	s.cache.Store(resourceType, compiled)
	return runValidation(compiled, data)
}

// SeedDir upserts every <resource_type>.json file found in dir. Files named
// after unknown resource types are skipped with a warning.
func (s *SchemaService) SeedDir(ctx context.Context, dir string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read schema dir: %w", err)
	}
	seeded := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		rt := domain.ResourceType(strings.TrimSuffix(entry.Name(), ".json"))
		if err := rt.Validate(); err != nil {
			logger.Warn("skipping schema for unknown resource", "file", entry.Name())
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return seeded, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		if _, err := s.Upsert(ctx, rt, raw); err != nil {
			return seeded, fmt.Errorf("seed %s: %w", rt, err)
		}
		seeded++
	}
	return seeded, nil
}

func compileSchema(schemaJSON json.RawMessage) (*santhosh.Schema, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func runValidation(sch *santhosh.Schema, data json.RawMessage) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return &domain.ValidationError{Errors: []string{"payload is not valid json"}}
	}
	if err := sch.Validate(v); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return &domain.ValidationError{Errors: collectValidationErrors(ve)}
		}
		return &domain.ValidationError{Errors: []string{err.Error()}}
	}
	return nil
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		msgs = append(msgs, ve.Error())
	}
	return msgs
}

func compilable(schemaJSON json.RawMessage) error {
	_, err := compileSchema(schemaJSON)
	return err
}
