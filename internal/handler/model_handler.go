package handler

import (
	"github.com/gin-gonic/gin"

	"chatmate-server/internal/middleware"
	"chatmate-server/internal/service"
	"chatmate-server/pkg/response"
)

// ModelHandler 模型目录与模型选择
type ModelHandler struct {
	prefs *service.PreferenceService
}

// NewModelHandler 创建 ModelHandler 实例
func NewModelHandler(prefs *service.PreferenceService) *ModelHandler {
	return &ModelHandler{prefs: prefs}
}

// ListModels 可选模型目录
// @Router /api/v1/models [get]
func (h *ModelHandler) ListModels(c *gin.Context) {
	response.Success(c, gin.H{"models": h.prefs.Catalog().Models()})
}

// GetSelected 当前用户已选模型
// @Router /api/v1/models/selected [get]
func (h *ModelHandler) GetSelected(c *gin.Context) {
	modelID := h.prefs.LoadModel(c.Request.Context(), middleware.GetUserID(c))
	response.Success(c, gin.H{"model_id": modelID})
}

// SelectModelRequest 选择模型请求
type SelectModelRequest struct {
	ModelID string `json:"model_id" binding:"required"`
}

// SelectModel 切换模型
// @Router /api/v1/models/selected [put]
func (h *ModelHandler) SelectModel(c *gin.Context) {
	var req SelectModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误")
		return
	}

	sel := service.NewModelSelection(h.prefs, middleware.GetIdentity(c))
	if err := sel.Select(c.Request.Context(), req.ModelID); err != nil {
		respondError(c, err, "保存模型选择失败")
		return
	}

	response.Success(c, gin.H{"model_id": sel.Current()})
}
