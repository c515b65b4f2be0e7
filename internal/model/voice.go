package model

import "time"

// VoiceMessage 一轮语音问答，只保存在内存中
type VoiceMessage struct {
	ID            string    `json:"id"`
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	AudioURI      string    `json:"audio_uri,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	// IsPlaying 同一时刻至多一条为 true
	IsPlaying bool `json:"is_playing"`
}
