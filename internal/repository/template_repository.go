package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"thumbnail-bot/internal/model"
)

// DefaultListLimit caps ListForUser when no positive limit is given.
const DefaultListLimit = 100

// TemplateRepository stores templates. Ids are UUID strings assigned on creation.
type TemplateRepository struct {
	db    *gorm.DB
	now   func() time.Time
	newID func() string
}

func NewTemplateRepository(db *gorm.DB) *TemplateRepository {
	return &TemplateRepository{db: db, now: time.Now, newID: uuid.NewString}
}

// Create inserts a new template owned by ownerID. The owner must already
// exist; users are not created here.
func (r *TemplateRepository) Create(ctx context.Context, ownerID int64, name string, buttons []model.Button, isShared bool) (*model.Template, error) {
	now := r.now().UTC()
	tpl := model.Template{
		ID:        r.newID(),
		OwnerID:   ownerID,
		Name:      name,
		Buttons:   datatypes.JSONSlice[model.Button](append([]model.Button(nil), buttons...)),
		IsShared:  isShared,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(&tpl).Error; err != nil {
		return nil, unavailable("create template", err)
	}
	return &tpl, nil
}

// ListForUser returns shared templates plus those owned by requesterID,
// newest first.
func (r *TemplateRepository) ListForUser(ctx context.Context, requesterID int64, limit int) ([]model.Template, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var templates []model.Template
	if err := r.db.WithContext(ctx).
		Where("is_shared = ? OR owner_id = ?", true, requesterID).
		Order("created_at DESC").
		Limit(limit).
		Find(&templates).Error; err != nil {
		return nil, unavailable("list templates", err)
	}
	return templates, nil
}

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*model.Template, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var tpl model.Template
	err = r.db.WithContext(ctx).Where("id = ?", parsed.String()).First(&tpl).Error
	switch {
	case err == nil:
		return &tpl, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrNotFound
	default:
		return nil, unavailable("get template", err)
	}
}

// Delete removes the template only when requesterID owns it. It reports the
// number of deleted rows and does not distinguish a missing template from a
// foreign one.
func (r *TemplateRepository) Delete(ctx context.Context, id string, requesterID int64) (int64, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", parsed.String(), requesterID).
		Delete(&model.Template{})
	if res.Error != nil {
		return 0, unavailable("delete template", res.Error)
	}
	return res.RowsAffected, nil
}
