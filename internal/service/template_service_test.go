package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"thumbnail-bot/internal/model"
	"thumbnail-bot/internal/repository"
)

func newTestService(t *testing.T, admins ...int64) *TemplateService {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repository.Migrate(db))
	return NewTemplateService(repository.NewTemplateRepository(db), admins, 0)
}

func sampleInput(name string) TemplateInput {
	return TemplateInput{Name: name, Buttons: []model.Button{{Label: "Open", URL: "https://example.com"}}}
}

func TestTemplateService_CreateValidates(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreateTemplate(context.Background(), 1, TemplateInput{Name: "No buttons"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	list, err := svc.ListVisible(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTemplateService_SharedRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, 100)

	in := sampleInput("Team")
	in.Shared = true
	_, err := svc.CreateTemplate(ctx, 1, in)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "shared", verr.Field)

	tpl, err := svc.CreateTemplate(ctx, 100, in)
	require.NoError(t, err)
	assert.True(t, tpl.IsShared)

	visible, err := svc.ListVisible(ctx, 1)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, tpl.ID, visible[0].ID)
}

func TestTemplateService_GetHidesForeignPrivate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	tpl, err := svc.CreateTemplate(ctx, 1, sampleInput("Private"))
	require.NoError(t, err)

	got, err := svc.Get(ctx, 1, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Private", got.Name)

	_, err = svc.Get(ctx, 2, tpl.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTemplateService_Delete(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	tpl, err := svc.CreateTemplate(ctx, 1, sampleInput("Mine"))
	require.NoError(t, err)

	_, err = svc.Delete(ctx, 2, tpl.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	deleted, err := svc.Delete(ctx, 1, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mine", deleted.Name)

	_, err = svc.Delete(ctx, 1, tpl.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
