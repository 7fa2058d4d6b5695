package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
)

// Resource is a typed client bound to one resource type. Method names mirror
// the remote client so call sites read the same online and offline.
type Resource struct {
	facade *Facade
	kind   domain.ResourceType
}

func (f *Facade) Resource(resourceType domain.ResourceType) Resource {
	return Resource{facade: f, kind: resourceType}
}

func (f *Facade) Surveys() Resource       { return f.Resource(domain.ResourceSurveys) }
func (f *Facade) Feedback() Resource      { return f.Resource(domain.ResourceFeedback) }
func (f *Facade) Announcements() Resource { return f.Resource(domain.ResourceAnnouncements) }
func (f *Facade) Documents() Resource     { return f.Resource(domain.ResourceDocuments) }
func (f *Facade) Projects() Resource      { return f.Resource(domain.ResourceProjects) }
func (f *Facade) Roles() Resource         { return f.Resource(domain.ResourceRoles) }

func (f *Facade) SurveyResponses() SurveyResponses {
	return SurveyResponses{Resource: f.Resource(domain.ResourceSurveyResponses)}
}

func (r Resource) Type() domain.ResourceType { return r.kind }

func (r Resource) List(ctx context.Context) (domain.Result, error) {
	return r.facade.List(ctx, r.kind)
}

func (r Resource) Get(ctx context.Context, id string) (domain.Result, error) {
	return r.facade.Get(ctx, r.kind, id)
}

func (r Resource) Create(ctx context.Context, payload json.RawMessage) (domain.Result, error) {
	return r.facade.Create(ctx, r.kind, payload)
}

func (r Resource) Update(ctx context.Context, id string, payload json.RawMessage) (domain.Result, error) {
	return r.facade.Update(ctx, r.kind, id, payload)
}

func (r Resource) Delete(ctx context.Context, id string) (domain.Result, error) {
	return r.facade.Delete(ctx, r.kind, id)
}

func (r Resource) Action(ctx context.Context, id, action string, payload json.RawMessage) (domain.Result, error) {
	return r.facade.Action(ctx, r.kind, id, action, payload)
}

type SurveyResponses struct {
	Resource
}

// SubmitResponse records answers to a survey. The survey id is carried in the
// response body as survey_id.
func (r SurveyResponses) SubmitResponse(ctx context.Context, surveyID string, answers json.RawMessage) (domain.Result, error) {
	if err := domain.ValidateID(surveyID); err != nil {
		return domain.Result{}, err
	}
	body := map[string]json.RawMessage{}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &body); err != nil {
			return domain.Result{}, &domain.ValidationError{Errors: []string{fmt.Sprintf("answers must be a json object: %v", err)}}
		}
	}
	if body == nil {
		body = map[string]json.RawMessage{}
	}
	body["survey_id"] = mustJSON(surveyID)
	return r.Create(ctx, mustJSON(body))
}
