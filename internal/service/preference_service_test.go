package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatmate-server/internal/cache"
	"chatmate-server/internal/model"
)

func TestPreferenceService_LoadModelFallbacks(t *testing.T) {
	prefs := NewPreferenceService(cache.NewMemoryCache(), model.DefaultCatalog())
	ctx := context.Background()

	// 没有保存过
	assert.Equal(t, "gpt-3.5-turbo", prefs.LoadModel(ctx, "u1"))

	require.NoError(t, prefs.SaveModel(ctx, "u1", "gpt-4"))
	assert.Equal(t, "gpt-4", prefs.LoadModel(ctx, "u1"))

	// 不在目录中的ID回退到默认
	require.NoError(t, prefs.SaveModel(ctx, "u1", "gpt-9"))
	assert.Equal(t, "gpt-3.5-turbo", prefs.LoadModel(ctx, "u1"))
}

type failingPrefs struct{}

func (failingPrefs) GetPreference(ctx context.Context, ownerID, key string) (string, error) {
	return "", errors.New("redis down")
}

func (failingPrefs) SetPreference(ctx context.Context, ownerID, key, value string) error {
	return errors.New("redis down")
}

func TestPreferenceService_BackendFailure(t *testing.T) {
	prefs := NewPreferenceService(failingPrefs{}, model.DefaultCatalog())
	assert.Equal(t, "gpt-3.5-turbo", prefs.LoadModel(context.Background(), "u1"))
	assert.Error(t, prefs.SaveModel(context.Background(), "u1", "gpt-4"))
}

func TestPreferenceService_CatalogWithoutDefault(t *testing.T) {
	catalog := model.NewModelCatalog([]model.ModelInfo{{ID: "a"}, {ID: "b"}})
	prefs := NewPreferenceService(cache.NewMemoryCache(), catalog)
	assert.Equal(t, "a", prefs.LoadModel(context.Background(), "u1"))
}

func TestModelSelection_SelectAndRestore(t *testing.T) {
	backend := cache.NewMemoryCache()
	prefs := NewPreferenceService(backend, model.DefaultCatalog())
	identity := model.NewIdentity("u1", "a@example.com", "")
	ctx := context.Background()

	sel := NewModelSelection(prefs, identity)
	assert.Equal(t, "gpt-3.5-turbo", sel.Current())

	var changes []string
	sel.OnChange(func(id string) { changes = append(changes, id) })

	require.NoError(t, sel.Select(ctx, "gpt-4"))
	assert.Equal(t, "gpt-4", sel.Current())
	assert.Equal(t, []string{"gpt-4"}, changes)

	err := sel.Select(ctx, "gpt-9")
	assert.ErrorIs(t, err, ErrUnknownModel)
	assert.Equal(t, "gpt-4", sel.Current())

	// 新的实例从偏好恢复
	restored := NewModelSelection(prefs, identity)
	assert.Equal(t, "gpt-4", restored.Load(ctx))
	assert.Len(t, restored.Catalog(), 2)
}
