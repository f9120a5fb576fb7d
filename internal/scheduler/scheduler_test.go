package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"scholar-ai-go/internal/constants"
	"scholar-ai-go/internal/orchestrator"
	"scholar-ai-go/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	phase orchestrator.Phase
	calls int
	err   error
}

func (f *fakeTarget) Phase() orchestrator.Phase { return f.phase }

func (f *fakeTarget) Rescan(ctx context.Context) (orchestrator.Snapshot, error) {
	f.calls++
	return orchestrator.Snapshot{Phase: orchestrator.PhaseReady}, f.err
}

func newLocker(t *testing.T) (*miniredis.Miniredis, *storage.Redis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, &storage.Redis{Client: client}
}

func TestRunOnceSkipsOutsideReadyOrError(t *testing.T) {
	for _, phase := range []orchestrator.Phase{orchestrator.PhaseInitializing, orchestrator.PhaseOnboarding, orchestrator.PhasePopulating} {
		target := &fakeTarget{phase: phase}
		s := New("0 0 6 * * *", target, nil, "u1")
		assert.False(t, s.RunOnce(context.Background()), phase)
		assert.Zero(t, target.calls)
	}
}

func TestRunOnceTakesAndReleasesLock(t *testing.T) {
	mr, locker := newLocker(t)
	target := &fakeTarget{phase: orchestrator.PhaseError, err: errors.New("boom")}
	s := New("0 0 6 * * *", target, locker, "u1")

	assert.True(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, target.calls)
	assert.False(t, mr.Exists(fmt.Sprintf(constants.KeyScanLock, "u1")), "结束后释放锁")
}

func TestRunOnceSkipsWhenLocked(t *testing.T) {
	mr, locker := newLocker(t)
	require.NoError(t, mr.Set(fmt.Sprintf(constants.KeyScanLock, "u1"), "other-instance"))
	target := &fakeTarget{phase: orchestrator.PhaseReady}
	s := New("0 0 6 * * *", target, locker, "u1")

	assert.False(t, s.RunOnce(context.Background()))
	assert.Zero(t, target.calls)
	v, _ := mr.Get(fmt.Sprintf(constants.KeyScanLock, "u1"))
	assert.Equal(t, "other-instance", v)
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	s := New("every day", &fakeTarget{}, nil, "u1")
	assert.Error(t, s.Start(context.Background()))

	s = New("0 0 6 * * *", &fakeTarget{}, nil, "u1")
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
