// internal/models/character.go
package models

import "time"

// CharacterProfile 静态角色定义，启动时加载后不再修改
type CharacterProfile struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Prompt      string `json:"-" yaml:"prompt"` // 人设提示词，不下发给前端
	Description string `json:"description" yaml:"description"`
	Location    string `json:"location,omitempty" yaml:"location"`
	Image       string `json:"image,omitempty" yaml:"image"`
}

// ConversationTurn 一轮玩家发言与角色回复，创建后不可变
type ConversationTurn struct {
	Timestamp time.Time `json:"timestamp"`
	Player    string    `json:"player"`
	Character string    `json:"character"`
	Location  string    `json:"location,omitempty"`
}

// ReplySource 回复内容的来源
type ReplySource string

const (
	ReplySourceRemote   ReplySource = "remote"
	ReplySourceFallback ReplySource = "fallback"
	ReplySourceGreeting ReplySource = "greeting"
	ReplySourceApology  ReplySource = "apology"
)

// ReplyPayload 回复生成器的输出。Dialogue 非空时为结构化结果，
// 否则 Raw 保存模型原始文本，交给对白提取器处理。
type ReplyPayload struct {
	Raw               string      `json:"raw,omitempty"`
	InternalMonologue string      `json:"internal_monologue,omitempty"`
	Dialogue          string      `json:"dialogue,omitempty"`
	Source            ReplySource `json:"source"`
	Category          string      `json:"category,omitempty"`
}

// IsStructured 是否已带有对白字段
func (p ReplyPayload) IsStructured() bool {
	return p.Dialogue != ""
}
