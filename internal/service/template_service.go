package service

import (
	"context"

	"thumbnail-bot/internal/model"
	"thumbnail-bot/internal/repository"
)

// TemplateService wraps template-related business logic.
type TemplateService struct {
	repo      *repository.TemplateRepository
	admins    map[int64]struct{}
	listLimit int
}

func NewTemplateService(repo *repository.TemplateRepository, adminIDs []int64, listLimit int) *TemplateService {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	if listLimit <= 0 {
		listLimit = repository.DefaultListLimit
	}
	return &TemplateService{repo: repo, admins: admins, listLimit: listLimit}
}

// IsAdmin reports whether telegramID may create shared templates.
func (s *TemplateService) IsAdmin(telegramID int64) bool {
	_, ok := s.admins[telegramID]
	return ok
}

// CreateTemplate validates input and stores it for ownerID. The owner must
// have been registered through EnsureUser beforehand.
func (s *TemplateService) CreateTemplate(ctx context.Context, ownerID int64, input TemplateInput) (*model.Template, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if input.Shared && !s.IsAdmin(ownerID) {
		return nil, &ValidationError{Field: "shared", Reason: "only administrators can create shared templates"}
	}
	return s.repo.Create(ctx, ownerID, input.Name, input.Buttons, input.Shared)
}

// ListVisible returns the requester's own and shared templates, newest first.
func (s *TemplateService) ListVisible(ctx context.Context, requesterID int64) ([]model.Template, error) {
	return s.repo.ListForUser(ctx, requesterID, s.listLimit)
}

// Get returns a template the requester may see. Foreign private templates
// are reported as repository.ErrNotFound.
func (s *TemplateService) Get(ctx context.Context, requesterID int64, id string) (*model.Template, error) {
	tpl, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tpl.IsShared && tpl.OwnerID != requesterID {
		return nil, repository.ErrNotFound
	}
	return tpl, nil
}

// Delete removes a template owned by requesterID and returns it. Missing and
// foreign templates both yield repository.ErrNotFound.
func (s *TemplateService) Delete(ctx context.Context, requesterID int64, id string) (*model.Template, error) {
	tpl, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl.OwnerID != requesterID {
		return nil, repository.ErrNotFound
	}
	n, err := s.repo.Delete(ctx, tpl.ID, requesterID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, repository.ErrNotFound
	}
	return tpl, nil
}
