package model

// ModelInfo 可选模型的静态描述
type ModelInfo struct {
	ID          string `mapstructure:"id" json:"id"`
	Name        string `mapstructure:"name" json:"name"`
	Description string `mapstructure:"description" json:"description"`
	IsDefault   bool   `mapstructure:"is_default" json:"is_default"`
}

// ModelCatalog 只读的模型目录
type ModelCatalog struct {
	models []ModelInfo
}

// DefaultCatalog 内置模型目录
func DefaultCatalog() ModelCatalog {
	return NewModelCatalog([]ModelInfo{
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Description: "快速且成本低", IsDefault: true},
		{ID: "gpt-4", Name: "GPT-4", Description: "更聰明但較慢", IsDefault: false},
	})
}

// NewModelCatalog 基于给定条目构造目录
func NewModelCatalog(models []ModelInfo) ModelCatalog {
	cp := make([]ModelInfo, len(models))
	copy(cp, models)
	return ModelCatalog{models: cp}
}

// Models 返回目录条目的副本
func (c ModelCatalog) Models() []ModelInfo {
	cp := make([]ModelInfo, len(c.models))
	copy(cp, c.models)
	return cp
}

// Default 返回默认模型
// 没有条目标记为默认时取第一条
func (c ModelCatalog) Default() ModelInfo {
	for _, m := range c.models {
		if m.IsDefault {
			return m
		}
	}
	if len(c.models) > 0 {
		return c.models[0]
	}
	return ModelInfo{}
}

// Find 按ID查找模型
func (c ModelCatalog) Find(id string) (ModelInfo, bool) {
	for _, m := range c.models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}
