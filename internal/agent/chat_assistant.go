package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"scholar-ai-go/internal/logger"
	"scholar-ai-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
)

const chatSystemPrompt = `You are ScholarAI, a helpful and encouraging assistant for students seeking scholarships. Your goal is to provide guidance, answer questions about the application process, and help users stay motivated. You have access to the user's profile but not the specific scholarships they are viewing. Keep your answers concise and friendly.`

// degradedReplies 推理服务不可用时的固定回复
var degradedReplies = map[string]string{
	"en": "Sorry, I'm having trouble connecting right now. Please try again in a moment.",
	"ar": "عذرًا، أواجه مشكلة في الاتصال حاليًا. يرجى المحاولة مرة أخرى بعد قليل.",
}

// DegradedReply 返回指定语言的降级回复
func DegradedReply(language string) string {
	if r, ok := degradedReplies[language]; ok {
		return r
	}
	return degradedReplies["en"]
}

// ChatAssistant 维护与当前档案绑定的单个对话会话
type ChatAssistant struct {
	llm    model.ToolCallingChatModel
	memory ChatMemory
	logger zerolog.Logger

	mu           sync.Mutex
	sessionID    string
	systemPrompt string
	language     string
	modelName    string
}

// NewChatAssistant 创建对话助手，初始会话不含档案上下文
func NewChatAssistant(llm model.ToolCallingChatModel, memory ChatMemory, modelName string) *ChatAssistant {
	if memory == nil {
		memory = NewInMemoryChatMemory(0)
	}
	a := &ChatAssistant{
		llm:       llm,
		memory:    memory,
		logger:    logger.Named("chat"),
		modelName: modelName,
		language:  "en",
	}
	a.startLocked(nil, "en")
	return a
}

// StartSession 以新档案开启会话，旧会话历史被丢弃
func (a *ChatAssistant) StartSession(profile *types.Profile, language string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.startLocked(profile, language)
}

func (a *ChatAssistant) startLocked(profile *types.Profile, language string) {
	if a.sessionID != "" {
		_ = a.memory.ClearHistory(a.sessionID)
	}
	a.sessionID = uuid.Must(uuid.NewV7()).String()
	a.systemPrompt = buildChatSystemPrompt(profile)
	if language != "" {
		a.language = language
	}
}

// SetLanguage 切换响应语言，不重置历史
func (a *ChatAssistant) SetLanguage(language string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.language = language
}

// Reset 清空会话
func (a *ChatAssistant) Reset() {
	a.StartSession(nil, "")
}

// Send 发送一条用户消息并返回回复
// 调用失败时返回降级文本，不向上传播错误
func (a *ChatAssistant) Send(ctx context.Context, message string) string {
	message = strings.TrimSpace(message)

	a.mu.Lock()
	sessionID, systemPrompt, language := a.sessionID, a.systemPrompt, a.language
	a.mu.Unlock()

	if message == "" {
		return ""
	}

	history, err := a.memory.GetHistory(sessionID)
	if err != nil {
		a.logger.Warn().Err(err).Str("session", sessionID).Msg("读取对话历史失败")
		history = nil
	}

	userMsg := schema.UserMessage(message)
	input := make([]*schema.Message, 0, len(history)+2)
	input = append(input, schema.SystemMessage(systemPrompt))
	input = append(input, history...)
	input = append(input, userMsg)

	opts := []model.Option{WithLanguage(language), WithTask("chat")}
	if a.modelName != "" {
		opts = append(opts, model.WithModel(a.modelName))
	}

	resp, err := a.llm.Generate(ctx, input, opts...)
	if err != nil || resp == nil || strings.TrimSpace(resp.Content) == "" {
		a.logger.Warn().Err(err).Str("session", sessionID).Msg("对话调用失败，返回降级回复")
		return DegradedReply(language)
	}

	// 会话在调用期间被重置时不再写入旧会话
	a.mu.Lock()
	current := a.sessionID
	a.mu.Unlock()
	if current == sessionID {
		if err := a.memory.AddMessages(sessionID, userMsg, schema.AssistantMessage(resp.Content, nil)); err != nil {
			a.logger.Warn().Err(err).Msg("写入对话历史失败")
		}
	}
	return resp.Content
}

// History 返回当前会话历史
func (a *ChatAssistant) History() []types.ChatMessage {
	a.mu.Lock()
	sessionID := a.sessionID
	a.mu.Unlock()

	msgs, _ := a.memory.GetHistory(sessionID)
	out := make([]types.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		role := types.ChatRoleAssistant
		if m.Role == schema.User {
			role = types.ChatRoleUser
		}
		out = append(out, types.ChatMessage{Role: role, Content: m.Content})
	}
	return out
}

func buildChatSystemPrompt(profile *types.Profile) string {
	if profile == nil {
		return chatSystemPrompt
	}
	var sb strings.Builder
	sb.WriteString(chatSystemPrompt)
	sb.WriteString("\n\nUser profile:\n")
	fmt.Fprintf(&sb, "- Name: %s\n", profile.Name)
	for _, e := range profile.Education {
		fmt.Fprintf(&sb, "- Education: %s in %s from %s\n", e.Degree, e.FieldOfStudy, e.Institution)
	}
	if len(profile.Skills) > 0 {
		fmt.Fprintf(&sb, "- Skills: %s\n", strings.Join(profile.Skills, ", "))
	}
	if len(profile.StudyInterests) > 0 {
		fmt.Fprintf(&sb, "- Study interests: %s\n", strings.Join(profile.StudyInterests, ", "))
	}
	if profile.Goals != "" {
		fmt.Fprintf(&sb, "- Goals: %s\n", profile.Goals)
	}
	return sb.String()
}
