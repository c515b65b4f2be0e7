package service

import (
	"context"
	"sync"

	"chatmate-server/internal/model"
)

// ModelSelection 当前选中的模型
// 启动时从偏好中恢复，切换时写回偏好
type ModelSelection struct {
	prefs    *PreferenceService
	identity *model.Identity

	mu       sync.RWMutex
	current  string
	onChange func(string)
}

// NewModelSelection 创建 ModelSelection，初始为目录默认模型
func NewModelSelection(prefs *PreferenceService, identity *model.Identity) *ModelSelection {
	return &ModelSelection{
		prefs:    prefs,
		identity: identity,
		current:  prefs.Catalog().Default().ID,
	}
}

// OnChange 注册模型变化回调
func (m *ModelSelection) OnChange(fn func(string)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Load 从偏好中恢复已选模型
func (m *ModelSelection) Load(ctx context.Context) string {
	if m.identity == nil {
		return m.Current()
	}
	id := m.prefs.LoadModel(ctx, m.identity.ID)
	m.set(id)
	return id
}

// Select 切换模型
// 不在目录中的ID被拒绝；偏好写入失败时选择仍然生效，错误返回给调用方
func (m *ModelSelection) Select(ctx context.Context, modelID string) error {
	if _, ok := m.prefs.Catalog().Find(modelID); !ok {
		return ErrUnknownModel
	}
	m.set(modelID)

	if m.identity == nil {
		return ErrNotAuthenticated
	}
	return m.prefs.SaveModel(ctx, m.identity.ID, modelID)
}

// Current 当前模型ID
func (m *ModelSelection) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Catalog 可选模型列表
func (m *ModelSelection) Catalog() []model.ModelInfo {
	return m.prefs.Catalog().Models()
}

func (m *ModelSelection) set(id string) {
	m.mu.Lock()
	changed := m.current != id
	m.current = id
	fn := m.onChange
	m.mu.Unlock()

	if changed && fn != nil {
		fn(id)
	}
}
