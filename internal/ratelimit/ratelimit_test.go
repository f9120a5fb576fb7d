package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retryableErr struct{ retry bool }

func (e retryableErr) Error() string   { return "upstream" }
func (e retryableErr) Retryable() bool { return e.retry }

// flakyModel 前 failures 次返回错误
type flakyModel struct {
	failures int
	err      error
	calls    int
}

func (f *flakyModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return schema.AssistantMessage("ok", nil), nil
}

func (f *flakyModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func (f *flakyModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

func TestTokenBucketAllow(t *testing.T) {
	tb := NewTokenBucket(60, 2)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "容量耗尽后应拒绝")
}

func TestTokenBucketWaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestRateLimitedModelRetriesRetryableErrors(t *testing.T) {
	inner := &flakyModel{failures: 2, err: retryableErr{retry: true}}
	m := NewLLMWithRateLimit(inner, "qwen-plus", nil, 6000, 3, time.Millisecond)

	resp, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, inner.calls)
}

func TestRateLimitedModelStopsOnFatalErrors(t *testing.T) {
	inner := &flakyModel{failures: 5, err: retryableErr{retry: false}}
	m := NewLLMWithRateLimit(inner, "qwen-plus", nil, 6000, 3, time.Millisecond)

	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestIsRetryableErrorByMessage(t *testing.T) {
	assert.True(t, isRetryableError(errors.New("dial tcp: connection refused")))
	assert.False(t, isRetryableError(errors.New("invalid api key")))
	assert.False(t, isRetryableError(context.Canceled))
}
