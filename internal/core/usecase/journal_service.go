package usecase

import (
	"context"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
	"github.com/atvirokodosprendimai/surveysync/internal/core/ports"
)

type JournalService struct {
	repo ports.JournalRepository
}

func NewJournalService(repo ports.JournalRepository) *JournalService {
	return &JournalService{repo: repo}
}

func (s *JournalService) List(ctx context.Context, filter domain.JournalFilter) ([]domain.JournalEntry, error) {
	if filter.ResourceType != "" {
		if err := filter.ResourceType.Validate(); err != nil {
			return nil, err
		}
	}
	if filter.BeforeID < 0 {
		return nil, domain.ErrInvalidFilter
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}
	return s.repo.List(ctx, filter)
}
