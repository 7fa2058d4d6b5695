package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
)

// stubSchemaRepo is an in-memory ResourceSchemaRepository for tests.
type stubSchemaRepo struct {
	schemas map[domain.ResourceType]domain.ResourceSchema
	gets    int
}

func newStubSchemaRepo() *stubSchemaRepo {
	return &stubSchemaRepo{schemas: make(map[domain.ResourceType]domain.ResourceSchema)}
}

func (r *stubSchemaRepo) Upsert(_ context.Context, schema domain.ResourceSchema) (domain.ResourceSchema, error) {
	r.schemas[schema.ResourceType] = schema
	return schema, nil
}

func (r *stubSchemaRepo) Get(_ context.Context, resourceType domain.ResourceType) (domain.ResourceSchema, error) {
	r.gets++
	s, ok := r.schemas[resourceType]
	if !ok {
		return domain.ResourceSchema{}, domain.ErrNotFound
	}
	return s, nil
}

func (r *stubSchemaRepo) Delete(_ context.Context, resourceType domain.ResourceType) (bool, error) {
	if _, ok := r.schemas[resourceType]; !ok {
		return false, nil
	}
	delete(r.schemas, resourceType)
	return true, nil
}

const surveySchema = `{"type":"object","properties":{"title":{"type":"string"}},"required":["title"]}`

func TestSchemaServiceUpsertAndGet(t *testing.T) {
	svc := NewSchemaService(newStubSchemaRepo())
	schemaJSON := json.RawMessage(surveySchema)

	rs, err := svc.Upsert(context.Background(), domain.ResourceSurveys, schemaJSON)
	if err != nil {
		t.Fatalf("upsert schema: %v", err)
	}
	if rs.ResourceType != domain.ResourceSurveys {
		t.Fatalf("unexpected resource type: %s", rs.ResourceType)
	}

	got, err := svc.Get(context.Background(), domain.ResourceSurveys)
	if err != nil {
		t.Fatalf("get schema: %v", err)
	}
	if string(got.Schema) != string(schemaJSON) {
		t.Fatalf("unexpected schema: %s", got.Schema)
	}
}

func TestSchemaServiceRejectsUnknownResource(t *testing.T) {
	svc := NewSchemaService(newStubSchemaRepo())
	_, err := svc.Upsert(context.Background(), "invoices", json.RawMessage(`{"type":"object"}`))
	if !errors.Is(err, domain.ErrInvalidResource) {
		t.Fatalf("expected invalid resource, got %v", err)
	}
}

func TestSchemaServiceUpsertRejectsInvalidJSON(t *testing.T) {
	svc := NewSchemaService(newStubSchemaRepo())
	_, err := svc.Upsert(context.Background(), domain.ResourceSurveys, json.RawMessage(`not json`))
	if err == nil {
		t.Fatal("expected error for invalid json schema")
	}
}

func TestSchemaServiceUpsertRejectsInvalidSchemaDocument(t *testing.T) {
	svc := NewSchemaService(newStubSchemaRepo())
	// type must be a string or an array
	_, err := svc.Upsert(context.Background(), domain.ResourceSurveys, json.RawMessage(`{"type":123}`))
	if err == nil {
		t.Fatal("expected error for invalid json schema document")
	}
}

func TestSchemaServiceGetMissingReturnsNotFound(t *testing.T) {
	svc := NewSchemaService(newStubSchemaRepo())
	_, err := svc.Get(context.Background(), domain.ResourceRoles)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSchemaServiceDelete(t *testing.T) {
	svc := NewSchemaService(newStubSchemaRepo())
	if _, err := svc.Upsert(context.Background(), domain.ResourceProjects, json.RawMessage(`{"type":"object"}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	deleted, err := svc.Delete(context.Background(), domain.ResourceProjects)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatal("expected deleted=true")
	}
	if _, err := svc.Get(context.Background(), domain.ResourceProjects); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestSchemaServiceValidate(t *testing.T) {
	repo := newStubSchemaRepo()
	svc := NewSchemaService(repo)
	if _, err := svc.Upsert(context.Background(), domain.ResourceSurveys, json.RawMessage(surveySchema)); err != nil {
		t.Fatalf("upsert schema: %v", err)
	}

	if err := svc.Validate(context.Background(), domain.ResourceSurveys, json.RawMessage(`{"title":"Q3"}`)); err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}

	err := svc.Validate(context.Background(), domain.ResourceSurveys, json.RawMessage(`{"owner":"ana"}`))
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Errors) == 0 {
		t.Fatal("expected non-empty validation errors")
	}
	if repo.gets != 1 {
		t.Fatalf("expected compiled schema to be cached, repo hit %d times", repo.gets)
	}
}

func TestSchemaServiceValidateNoSchema(t *testing.T) {
	svc := NewSchemaService(newStubSchemaRepo())
	if err := svc.Validate(context.Background(), domain.ResourceFeedback, json.RawMessage(`{"x":1}`)); err != nil {
		t.Fatalf("expected nil error when no schema configured, got %v", err)
	}
}

func TestSchemaServiceSeedDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "surveys.json"), []byte(surveySchema), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "invoices.json"), []byte(`{"type":"object"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("notes"), 0o644); err != nil {
		t.Fatal(err)
	}

	svc := NewSchemaService(newStubSchemaRepo())
	n, err := svc.SeedDir(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 seeded schema, got %d", n)
	}
	if _, err := svc.Get(context.Background(), domain.ResourceSurveys); err != nil {
		t.Fatalf("expected seeded surveys schema: %v", err)
	}
}
