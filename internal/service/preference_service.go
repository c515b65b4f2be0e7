package service

import (
	"context"
	"fmt"

	"chatmate-server/internal/model"
	"chatmate-server/pkg/logger"
)

// PreferenceSelectedModel 已选模型的偏好键
const PreferenceSelectedModel = "selected_model"

// PreferenceBackend 偏好的键值存储
// 由 cache.RedisCache / cache.MemoryCache 实现
type PreferenceBackend interface {
	GetPreference(ctx context.Context, ownerID, key string) (string, error)
	SetPreference(ctx context.Context, ownerID, key, value string) error
}

// PreferenceService 用户偏好服务
// 目前只保存一个键：已选模型ID
type PreferenceService struct {
	backend PreferenceBackend
	catalog model.ModelCatalog
}

// NewPreferenceService 创建 PreferenceService 实例
func NewPreferenceService(backend PreferenceBackend, catalog model.ModelCatalog) *PreferenceService {
	return &PreferenceService{backend: backend, catalog: catalog}
}

// Catalog 返回模型目录
func (s *PreferenceService) Catalog() model.ModelCatalog {
	return s.catalog
}

// LoadModel 读取已选模型
// 没有保存过、保存的ID不在目录中、或读取失败时，返回目录的默认模型
func (s *PreferenceService) LoadModel(ctx context.Context, ownerID string) string {
	fallback := s.catalog.Default().ID

	saved, err := s.backend.GetPreference(ctx, ownerID, PreferenceSelectedModel)
	if err != nil {
		logger.Warnf("load model preference for %s failed: %v", ownerID, err)
		return fallback
	}
	if saved == "" {
		return fallback
	}
	if _, ok := s.catalog.Find(saved); !ok {
		logger.Infof("saved model %q is not in the catalog, using %s", saved, fallback)
		return fallback
	}
	return saved
}

// SaveModel 保存已选模型
// 原样保存，读取时再做校验
func (s *PreferenceService) SaveModel(ctx context.Context, ownerID, modelID string) error {
	if err := s.backend.SetPreference(ctx, ownerID, PreferenceSelectedModel, modelID); err != nil {
		return fmt.Errorf("save model preference: %w", err)
	}
	return nil
}
