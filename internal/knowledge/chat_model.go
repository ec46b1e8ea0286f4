package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// 消息角色
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// ChatMessage 对话消息
type ChatMessage struct {
	Role    string
	Content string
}

// ChatModel 语言模型接口
type ChatModel interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
	Model() string
	Ready() bool
}

// ChatOptions 对话模型配置
type ChatOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// OpenAIChatModel 基于Chat Completions接口
type OpenAIChatModel struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAIChatModel 创建对话模型
func NewOpenAIChatModel(opts ChatOptions) *OpenAIChatModel {
	model := opts.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	m := &OpenAIChatModel{
		model:       model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return m
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	m.client = openai.NewClientWithConfig(cfg)
	return m
}

func (m *OpenAIChatModel) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	if m.client == nil {
		return "", errors.New("chat model not configured")
	}

	reqMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		reqMessages = append(reqMessages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    reqMessages,
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("chat completion returned empty content")
	}
	return content, nil
}

func (m *OpenAIChatModel) Model() string {
	return m.model
}

func (m *OpenAIChatModel) Ready() bool {
	return m.client != nil
}

// ExtractiveChatModel 无外部模型时的本地回答：返回上下文中与问题重合度最高的句子
type ExtractiveChatModel struct{}

func (ExtractiveChatModel) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var user string
	for _, msg := range messages {
		if msg.Role == RoleUser {
			user = msg.Content
		}
	}

	passage, question, ok := strings.Cut(user, "\n\nQuestion: ")
	if !ok {
		return "", errors.New("prompt has no question")
	}
	passage = strings.TrimPrefix(passage, "Context:\n")

	best := BestSentence(passage, question)
	if best == "" {
		return "The provided context does not contain the answer.", nil
	}
	return best, nil
}

func (ExtractiveChatModel) Model() string {
	return "local-extractive"
}

func (ExtractiveChatModel) Ready() bool {
	return true
}
