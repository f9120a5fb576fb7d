package agent

import (
	"github.com/cloudwego/eino/components/model"
)

// ResponseFormat OpenAI 兼容的 response_format 字段
type ResponseFormat struct {
	Type       string          `json:"type"` // text, json_object, json_schema
	JSONSchema *JSONSchemaSpec `json:"json_schema,omitempty"`
}

// JSONSchemaSpec 约束输出的 JSON Schema
type JSONSchemaSpec struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

// CallOptions 本包模型实现专用的调用选项
type CallOptions struct {
	ResponseFormat *ResponseFormat
	EnableSearch   bool
	// Language 响应语言代码 (en/ar)，模型会追加一条 "Respond in X" 指令
	Language string
	// Task 任务名，仅用于日志和指标
	Task string
}

// WithJSONSchema 要求输出符合给定 schema
func WithJSONSchema(name string, schema map[string]any) model.Option {
	return model.WrapImplSpecificOptFn(func(o *CallOptions) {
		o.ResponseFormat = &ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &JSONSchemaSpec{Name: name, Schema: schema, Strict: true},
		}
	})
}

// WithJSONObject 仅要求输出为合法 JSON 对象
func WithJSONObject() model.Option {
	return model.WrapImplSpecificOptFn(func(o *CallOptions) {
		o.ResponseFormat = &ResponseFormat{Type: "json_object"}
	})
}

// WithEnableSearch 开启服务端联网检索 (DashScope enable_search)
func WithEnableSearch(enable bool) model.Option {
	return model.WrapImplSpecificOptFn(func(o *CallOptions) {
		o.EnableSearch = enable
	})
}

// WithLanguage 声明响应语言
func WithLanguage(lang string) model.Option {
	return model.WrapImplSpecificOptFn(func(o *CallOptions) {
		o.Language = lang
	})
}

// WithTask 标注任务名
func WithTask(task string) model.Option {
	return model.WrapImplSpecificOptFn(func(o *CallOptions) {
		o.Task = task
	})
}

// ResolveCallOptions 从 model.Option 列表中取出本包的专用选项
func ResolveCallOptions(opts ...model.Option) *CallOptions {
	return model.GetImplSpecificOptions(&CallOptions{}, opts...)
}
