package handler

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/gin-gonic/gin"

	"chatmate-server/pkg/response"
)

// audioNamePattern 合成音频的文件名: {uuid}.mp3
var audioNamePattern = regexp.MustCompile(`^[0-9a-f]{32}\.mp3$`)

// AudioHandler 提供语音合成生成的音频文件
type AudioHandler struct {
	dir string
}

// NewAudioHandler 创建 AudioHandler 实例
func NewAudioHandler(dir string) *AudioHandler {
	return &AudioHandler{dir: dir}
}

// GetAudio 下载音频文件
// @Router /api/v1/audio/{name} [get]
func (h *AudioHandler) GetAudio(c *gin.Context) {
	name := c.Param("name")
	// 只接受生成的文件名，避免路径穿越
	if !audioNamePattern.MatchString(name) {
		response.NotFound(c, "音频不存在")
		return
	}

	path := filepath.Join(h.dir, name)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		response.NotFound(c, "音频不存在")
		return
	}

	c.Header("Content-Type", "audio/mpeg")
	c.File(path)
}
