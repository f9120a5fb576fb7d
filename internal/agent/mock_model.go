package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockResponse 定义了 MockChatClient 的单次预期响应
type MockResponse struct {
	Content string
	Error   error
}

// MockCall 记录一次 Generate 调用
type MockCall struct {
	Messages []*schema.Message
	Options  *CallOptions
}

// MockHandler 按请求内容决定响应，适用于并发调用顺序不确定的场景
type MockHandler func(messages []*schema.Message, opts *CallOptions) (string, error)

// MockChatClient 是一个用于测试的 model.ToolCallingChatModel 模拟实现，并发安全
type MockChatClient struct {
	mu sync.Mutex

	// 固定响应
	ExpectedResponse string
	ExpectedError    error

	// 顺序响应
	SequentialResponses []MockResponse
	ResponseIndex       int
	IsSequential        bool

	// 优先级最高
	Handler MockHandler

	Calls []MockCall
}

// NewMockChatClient 创建一个返回固定响应的 MockChatClient
func NewMockChatClient(expectedResponse string, expectedError error) *MockChatClient {
	return &MockChatClient{
		ExpectedResponse: expectedResponse,
		ExpectedError:    expectedError,
	}
}

// NewMockChatClientSequential 创建一个按顺序返回不同响应的 MockChatClient
func NewMockChatClientSequential(responses []MockResponse) *MockChatClient {
	if len(responses) == 0 {
		responses = []MockResponse{{Error: errors.New("mock client has no responses configured")}}
	}
	return &MockChatClient{
		SequentialResponses: responses,
		IsSequential:        true,
	}
}

// NewMockChatClientWithHandler 创建一个由 handler 决定响应的 MockChatClient
func NewMockChatClientWithHandler(h MockHandler) *MockChatClient {
	return &MockChatClient{Handler: h}
}

// Generate 模拟 LLM 的 Generate 方法
func (m *MockChatClient) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	callOpts := ResolveCallOptions(opts...)
	received := make([]*schema.Message, len(input))
	copy(received, input)

	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Messages: received, Options: callOpts})
	handler := m.Handler
	m.mu.Unlock()

	if handler != nil {
		content, err := handler(received, callOpts)
		if err != nil {
			return nil, err
		}
		return schema.AssistantMessage(content, nil), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.IsSequential {
		if m.ResponseIndex >= len(m.SequentialResponses) {
			return nil, errors.New("mock client has run out of sequential responses")
		}
		resp := m.SequentialResponses[m.ResponseIndex]
		m.ResponseIndex++
		if resp.Error != nil {
			return nil, resp.Error
		}
		return schema.AssistantMessage(resp.Content, nil), nil
	}

	if m.ExpectedError != nil {
		return nil, m.ExpectedError
	}
	return schema.AssistantMessage(m.ExpectedResponse, nil), nil
}

// Stream 模拟 LLM 的 Stream 方法
func (m *MockChatClient) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("streaming not implemented in MockChatClient")
}

// WithTools 返回自身
func (m *MockChatClient) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

// CallCount 返回 Generate 调用次数
func (m *MockChatClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// GetCalls 返回调用记录的副本
func (m *MockChatClient) GetCalls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.Calls))
	copy(out, m.Calls)
	return out
}

var _ model.ToolCallingChatModel = (*MockChatClient)(nil)

// SetError 之后的固定响应改为返回错误
func (m *MockChatClient) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExpectedError = err
}
