package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"thumbnail-bot/internal/model"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db
}

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func TestEnsureUser_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(testDB(t))
	repo.now = stepClock(time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC))

	id := Identity{TelegramID: 42, DisplayName: "Ann", Handle: "ann"}
	first, err := repo.EnsureUser(ctx, id)
	require.NoError(t, err)
	second, err := repo.EnsureUser(ctx, id)
	require.NoError(t, err)

	var count int64
	require.NoError(t, repo.db.Model(&model.User{}).Where("telegram_id = ?", 42).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt), "created_at changed: %v -> %v", first.CreatedAt, second.CreatedAt)
	assert.False(t, second.LastSeenAt.Before(first.LastSeenAt))
}

func TestEnsureUser_UpdatesProfile(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(testDB(t))
	repo.now = stepClock(time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC))

	created, err := repo.EnsureUser(ctx, Identity{TelegramID: 7, DisplayName: "Bob"})
	require.NoError(t, err)
	assert.Empty(t, created.Handle)

	updated, err := repo.EnsureUser(ctx, Identity{TelegramID: 7, DisplayName: "Robert", Handle: "rob"})
	require.NoError(t, err)
	assert.Equal(t, "Robert", updated.DisplayName)
	assert.Equal(t, "rob", updated.Handle)
	assert.True(t, updated.CreatedAt.Equal(created.CreatedAt))
	assert.True(t, updated.LastSeenAt.After(created.LastSeenAt))
}

func TestTemplateRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewTemplateRepository(testDB(t))

	buttons := []model.Button{
		{Label: "Watch", URL: "https://example.com/watch"},
		{Label: "Read", URL: "http://example.com/read"},
	}
	tpl, err := repo.Create(ctx, 1, "Movie Night", buttons, false)
	require.NoError(t, err)
	require.NotEmpty(t, tpl.ID)
	assert.True(t, tpl.CreatedAt.Equal(tpl.UpdatedAt))

	got, err := repo.GetByID(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Movie Night", got.Name)
	assert.EqualValues(t, 1, got.OwnerID)
	assert.Equal(t, buttons, []model.Button(got.Buttons))
	assert.False(t, got.IsShared)
}

func TestTemplateRepository_GetByIDNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewTemplateRepository(testDB(t))

	_, err := repo.GetByID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetByID(ctx, "6f1c2a5e-3d4b-4c8a-9e7f-0a1b2c3d4e5f")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTemplateRepository_DeleteRequiresOwner(t *testing.T) {
	ctx := context.Background()
	repo := NewTemplateRepository(testDB(t))

	tpl, err := repo.Create(ctx, 1, "Owned", []model.Button{{Label: "A", URL: "https://a.example"}}, false)
	require.NoError(t, err)

	n, err := repo.Delete(ctx, tpl.ID, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
	_, err = repo.GetByID(ctx, tpl.ID)
	require.NoError(t, err, "foreign delete must leave the record intact")

	n, err = repo.Delete(ctx, tpl.ID, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = repo.GetByID(ctx, tpl.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err = repo.Delete(ctx, tpl.ID, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	n, err = repo.Delete(ctx, "garbage", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestTemplateRepository_ListForUser(t *testing.T) {
	ctx := context.Background()
	repo := NewTemplateRepository(testDB(t))
	repo.now = stepClock(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))

	btn := []model.Button{{Label: "Go", URL: "https://go.dev"}}
	mine1, err := repo.Create(ctx, 10, "mine-1", btn, false)
	require.NoError(t, err)
	shared, err := repo.Create(ctx, 20, "shared", btn, true)
	require.NoError(t, err)
	_, err = repo.Create(ctx, 20, "foreign", btn, false)
	require.NoError(t, err)
	mine2, err := repo.Create(ctx, 10, "mine-2", btn, false)
	require.NoError(t, err)

	got, err := repo.ListForUser(ctx, 10, 0)
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, tpl := range got {
		ids = append(ids, tpl.ID)
	}
	assert.Equal(t, []string{mine2.ID, shared.ID, mine1.ID}, ids)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].CreatedAt.After(got[i].CreatedAt))
	}

	limited, err := repo.ListForUser(ctx, 10, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	other, err := repo.ListForUser(ctx, 99, 0)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, shared.ID, other[0].ID)
}

func TestOperationsReportUnavailableStore(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = NewTemplateRepository(db).ListForUser(ctx, 1, 10)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = NewUserRepository(db).EnsureUser(ctx, Identity{TelegramID: 1})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestResolveDSN(t *testing.T) {
	tests := []struct {
		name       string
		dsn        string
		dbName     string
		wantDriver string
		want       string
	}{
		{name: "sqlite path", dsn: "data/bot.db", wantDriver: DriverSQLite, want: "data/bot.db"},
		{name: "sqlite scheme", dsn: "sqlite://data/bot.db", wantDriver: DriverSQLite, want: "data/bot.db"},
		{name: "sqlite name override", dsn: "data/bot.db?_busy_timeout=5000", dbName: "thumbnail_bot", wantDriver: DriverSQLite, want: "data/thumbnail_bot.db?_busy_timeout=5000"},
		{name: "sqlite file prefix override", dsn: "file:bot.db", dbName: "other", wantDriver: DriverSQLite, want: "file:other.db"},
		{name: "sqlite memory ignores override", dsn: ":memory:", dbName: "other", wantDriver: DriverSQLite, want: ":memory:"},
		{name: "postgres", dsn: "postgres://u:p@db:5432/app?sslmode=disable", wantDriver: DriverPostgres, want: "postgres://u:p@db:5432/app?sslmode=disable"},
		{name: "postgres override", dsn: "postgresql://u:p@db:5432/app?sslmode=disable", dbName: "thumbs", wantDriver: DriverPostgres, want: "postgresql://u:p@db:5432/thumbs?sslmode=disable"},
		{name: "mysql adds parseTime", dsn: "mysql://root@tcp(db:3306)/app", wantDriver: DriverMySQL, want: "root@tcp(db:3306)/app?parseTime=true"},
		{name: "mysql override keeps query", dsn: "mysql://root@tcp(db:3306)/app?parseTime=true&loc=UTC", dbName: "thumbs", wantDriver: DriverMySQL, want: "root@tcp(db:3306)/thumbs?parseTime=true&loc=UTC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, got, err := ResolveDSN(tt.dsn, tt.dbName)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, driver)
			assert.Equal(t, tt.want, got)
		})
	}

	_, _, err := ResolveDSN("  ", "")
	assert.Error(t, err)
}

func TestConnect_SQLiteFile(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "bot.db")
	db, err := Connect(context.Background(), dsn, "", RetryPolicy{Attempts: 1, InitialInterval: time.Millisecond}, zap.NewNop())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	assert.True(t, db.Migrator().HasTable(&model.User{}))
	assert.True(t, db.Migrator().HasTable(&model.Template{}))
}

func TestConnect_ExhaustsRetries(t *testing.T) {
	// a regular file where a directory is expected makes every attempt fail
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := Connect(context.Background(), filepath.Join(blocker, "bot.db"), "", RetryPolicy{Attempts: 3, InitialInterval: time.Millisecond}, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnect)
	assert.Contains(t, err.Error(), "after 3 attempts")
}
