package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"thumbnail-bot/internal/model"
)

// Identity describes the Telegram account a request comes from.
type Identity struct {
	TelegramID  int64
	DisplayName string
	Handle      string
}

// UserRepository handles CRUD for users.
type UserRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db, now: time.Now}
}

// EnsureUser inserts the user if absent or refreshes its profile and
// last_seen_at if present, in a single upsert. created_at is only written on insert.
func (r *UserRepository) EnsureUser(ctx context.Context, id Identity) (*model.User, error) {
	now := r.now().UTC()
	user := model.User{
		TelegramID:  id.TelegramID,
		DisplayName: id.DisplayName,
		Handle:      id.Handle,
		CreatedAt:   now,
		LastSeenAt:  now,
		UpdatedAt:   now,
	}

	db := r.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "telegram_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "handle", "last_seen_at", "updated_at"}),
	}).Create(&user).Error
	if err != nil {
		return nil, unavailable("upsert user", err)
	}

	var stored model.User
	if err := db.Where("telegram_id = ?", id.TelegramID).First(&stored).Error; err != nil {
		return nil, unavailable("load user", err)
	}
	return &stored, nil
}
