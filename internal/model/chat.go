package model

type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
	Ctime   int64    `json:"ctime"`
}

type ChatReply struct {
	Answer  string        `json:"answer"`
	Sources []SearchHit   `json:"sources"`
	History []ChatMessage `json:"history"`
}

type KnowledgeBase struct {
	Collection string   `json:"collection"`
	Sources    []Source `json:"sources"`
	ChunkCount int      `json:"chunk_count"`
}

func (kb *KnowledgeBase) Loaded() bool {
	return kb != nil && len(kb.Sources) > 0
}
