package model

import "time"

// User stores Telegram user metadata.
type User struct {
	ID          uint  `gorm:"primaryKey"`
	TelegramID  int64 `gorm:"uniqueIndex"`
	DisplayName string
	Handle      string
	CreatedAt   time.Time
	LastSeenAt  time.Time
	UpdatedAt   time.Time
}
