package domain

import (
	"errors"
	"regexp"
)

var (
	ErrInvalidResource = errors.New("invalid resource type")
	ErrInvalidID       = errors.New("invalid resource id")
	ErrInvalidAction   = errors.New("invalid action")
	ErrInvalidFilter   = errors.New("invalid filter")
	ErrNotFound        = errors.New("not found")
	ErrNoCachedData    = errors.New("no cached data")
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

type ResourceType string

const (
	ResourceSurveys         ResourceType = "surveys"
	ResourceSurveyResponses ResourceType = "survey_responses"
	ResourceFeedback        ResourceType = "feedback"
	ResourceAnnouncements   ResourceType = "announcements"
	ResourceDocuments       ResourceType = "documents"
	ResourceProjects        ResourceType = "projects"
	ResourceRoles           ResourceType = "roles"
)

// CollectionID is the resource id under which list snapshots are cached.
const CollectionID = "*"

var resourceTypes = map[ResourceType]struct{}{
	ResourceSurveys:         {},
	ResourceSurveyResponses: {},
	ResourceFeedback:        {},
	ResourceAnnouncements:   {},
	ResourceDocuments:       {},
	ResourceProjects:        {},
	ResourceRoles:           {},
}

func ResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceSurveys,
		ResourceSurveyResponses,
		ResourceFeedback,
		ResourceAnnouncements,
		ResourceDocuments,
		ResourceProjects,
		ResourceRoles,
	}
}

func (t ResourceType) Validate() error {
	if _, ok := resourceTypes[t]; !ok {
		return ErrInvalidResource
	}
	return nil
}

func ValidateID(id string) error {
	if id == "" || id == CollectionID || !idPattern.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}

var actionPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

func ValidateAction(action string) error {
	if !actionPattern.MatchString(action) {
		return ErrInvalidAction
	}
	return nil
}
