package agent

import (
	"fmt"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// ChatMemory 聊天记忆存储
type ChatMemory interface {
	// GetHistory 会话不存在时返回空切片和 nil
	GetHistory(sessionID string) ([]*schema.Message, error)

	// AddMessages 追加消息，保持顺序
	AddMessages(sessionID string, messages ...*schema.Message) error

	// ClearHistory 会话不存在时静默成功
	ClearHistory(sessionID string) error
}

// InMemoryChatMemory 进程内的 ChatMemory 实现，重启即丢失
type InMemoryChatMemory struct {
	mu        sync.RWMutex
	histories map[string][]*schema.Message
	// 每个会话保留的最大消息数，0 表示不限
	maxMessages int
}

// NewInMemoryChatMemory 创建一个新的 InMemoryChatMemory 实例
func NewInMemoryChatMemory(maxMessages int) *InMemoryChatMemory {
	return &InMemoryChatMemory{
		histories:   make(map[string][]*schema.Message),
		maxMessages: maxMessages,
	}
}

// GetHistory 返回历史副本
func (m *InMemoryChatMemory) GetHistory(sessionID string) ([]*schema.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.histories[sessionID]
	cpy := make([]*schema.Message, len(history))
	copy(cpy, history)
	return cpy, nil
}

// AddMessages 追加消息，超出上限时丢弃最早的消息
func (m *InMemoryChatMemory) AddMessages(sessionID string, messages ...*schema.Message) error {
	for _, msg := range messages {
		if msg == nil {
			return fmt.Errorf("会话 %s 不能追加 nil 消息", sessionID)
		}
	}
	if len(messages) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	history := append(m.histories[sessionID], messages...)
	if m.maxMessages > 0 && len(history) > m.maxMessages {
		history = append([]*schema.Message(nil), history[len(history)-m.maxMessages:]...)
	}
	m.histories[sessionID] = history
	return nil
}

// ClearHistory 删除会话
func (m *InMemoryChatMemory) ClearHistory(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.histories, sessionID)
	return nil
}
