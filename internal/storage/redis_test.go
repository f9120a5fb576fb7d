package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"scholar-ai-go/internal/constants"
	"scholar-ai-go/internal/types"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func sampleProfile() *types.Profile {
	return &types.Profile{
		Name: "Alex Doe",
		Education: []types.Education{
			{Institution: "State U", Degree: "BSc", FieldOfStudy: "CS", GPA: 3.8},
		},
		Skills:             []string{"Python"},
		StudyInterests:     []string{"AI"},
		FinancialSituation: types.FinancialNeedSome,
	}
}

func TestRedisStateStoreRoundTrip(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStateStore(client)
	ctx := context.Background()

	_, err := store.LoadProfile(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.LoadPlan(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveProfile(ctx, "u1", sampleProfile()))
	items := []types.ActionItem{{ID: "i1", ScholarshipID: "s1", Task: "Submit Fund", Week: 2}}
	require.NoError(t, store.SavePlan(ctx, "u1", items))

	// 档案和计划各占一个键，值为 JSON
	raw, err := mr.Get(fmt.Sprintf(constants.KeyProfileData, "u1"))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, "Alex Doe", decoded["name"])
	assert.True(t, mr.Exists(fmt.Sprintf(constants.KeyPlanItems, "u1")))

	p, err := store.LoadProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, sampleProfile(), p)

	plan, err := store.LoadPlan(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, items, plan)

	require.NoError(t, store.Delete(ctx, "u1"))
	_, err = store.LoadProfile(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.LoadPlan(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStateStoreEmptyPlanIsArray(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStateStore(client)

	require.NoError(t, store.SavePlan(context.Background(), "u1", nil))
	raw, err := mr.Get(fmt.Sprintf(constants.KeyPlanItems, "u1"))
	require.NoError(t, err)
	assert.Equal(t, "[]", raw)
}

func TestRedisStateStoreCorruptValue(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStateStore(client)
	require.NoError(t, mr.Set(fmt.Sprintf(constants.KeyProfileData, "u1"), "{not json"))

	_, err := store.LoadProfile(context.Background(), "u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestScanLock(t *testing.T) {
	mr, client := newTestRedis(t)
	r := &Redis{Client: client}
	ctx := context.Background()

	ok, err := r.AcquireScanLock(ctx, "u1", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.AcquireScanLock(ctx, "u1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "锁已被占用")

	// 非持有者释放无效
	require.NoError(t, r.ReleaseScanLock(ctx, "u1", "b"))
	assert.True(t, mr.Exists(fmt.Sprintf(constants.KeyScanLock, "u1")))

	require.NoError(t, r.ReleaseScanLock(ctx, "u1", "a"))
	assert.False(t, mr.Exists(fmt.Sprintf(constants.KeyScanLock, "u1")))

	// 过期后可重新获取
	ok, _ = r.AcquireScanLock(ctx, "u1", "c", time.Minute)
	require.True(t, ok)
	mr.FastForward(2 * time.Minute)
	ok, err = r.AcquireScanLock(ctx, "u1", "d", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
