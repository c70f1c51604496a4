package entity

// MessageRole 消息角色
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Valid 是否为受支持的角色
func (r MessageRole) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// PromptMessage 发送给生成服务的一条消息；顺序即对话历史，具有语义
type PromptMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}
