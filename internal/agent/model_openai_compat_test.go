package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCompatTestServer(t *testing.T, status int, respBody string, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		if captured != nil {
			require.NoError(t, json.Unmarshal(body, captured))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAICompatGenerateSendsOptions(t *testing.T) {
	var captured map[string]any
	srv := newCompatTestServer(t, http.StatusOK,
		`{"id":"1","choices":[{"index":0,"message":{"role":"assistant","content":"[]"},"finish_reason":"stop"}],"usage":{"total_tokens":12}}`,
		&captured)

	m, err := NewOpenAICompatChatModel("test-key", "qwen-plus", srv.URL)
	require.NoError(t, err)

	resp, err := m.Generate(context.Background(),
		[]*schema.Message{schema.UserMessage("find scholarships")},
		WithEnableSearch(true), WithLanguage("ar"), WithTask("discover"), model.WithModel("qwen-max"),
	)
	require.NoError(t, err)
	assert.Equal(t, "[]", resp.Content)
	assert.Equal(t, schema.Assistant, resp.Role)
	require.NotNil(t, resp.ResponseMeta)
	assert.Equal(t, "stop", resp.ResponseMeta.FinishReason)

	assert.Equal(t, "qwen-max", captured["model"])
	assert.Equal(t, true, captured["enable_search"])
	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 2, "语言指令应作为额外的 system 消息追加")
	last := msgs[1].(map[string]any)
	assert.Equal(t, "system", last["role"])
	assert.Equal(t, "Respond in Arabic.", last["content"])
}

func TestOpenAICompatGenerateJSONSchemaAndMultiContent(t *testing.T) {
	var captured map[string]any
	srv := newCompatTestServer(t, http.StatusOK,
		`{"choices":[{"message":{"role":"assistant","content":"{}"}}]}`, &captured)

	m, err := NewOpenAICompatChatModel("test-key", "", srv.URL)
	require.NoError(t, err)

	msg := &schema.Message{
		Role:    schema.User,
		Content: "extract",
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeAudioURL, AudioURL: &schema.ChatMessageAudioURL{URL: "data:audio/wav;base64,AAA=", MIMEType: "audio/wav"}},
		},
	}
	_, err = m.Generate(context.Background(), []*schema.Message{msg},
		WithJSONSchema("profile", map[string]any{"type": "object"}))
	require.NoError(t, err)

	rf := captured["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", rf["type"])

	msgs := captured["messages"].([]any)
	content := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "text", content[0].(map[string]any)["type"])
	audio := content[1].(map[string]any)
	assert.Equal(t, "input_audio", audio["type"])
	assert.Equal(t, "wav", audio["input_audio"].(map[string]any)["format"])
}

func TestOpenAICompatGenerateHTTPError(t *testing.T) {
	srv := newCompatTestServer(t, http.StatusTooManyRequests, `{"error":"rate limit"}`, nil)

	m, err := NewOpenAICompatChatModel("test-key", "qwen-plus", srv.URL)
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAICompatEmptyChoices(t *testing.T) {
	srv := newCompatTestServer(t, http.StatusOK, `{"choices":[]}`, nil)
	m, err := NewOpenAICompatChatModel("test-key", "qwen-plus", srv.URL)
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	assert.ErrorContains(t, err, "空选项")
}

func TestNewOpenAICompatChatModelRequiresKey(t *testing.T) {
	_, err := NewOpenAICompatChatModel(" ", "", "")
	assert.Error(t, err)
}
