package storage

import (
	"context"
	"errors"
	"sync"

	"scholar-ai-go/internal/types"
)

// ErrNotFound 档案或计划不存在
var ErrNotFound = errors.New("记录不存在")

// StateStore 档案与行动计划的持久化，两个值各占一个键，均为 UTF-8 JSON
type StateStore interface {
	LoadProfile(ctx context.Context, ownerID string) (*types.Profile, error)
	SaveProfile(ctx context.Context, ownerID string, profile *types.Profile) error
	LoadPlan(ctx context.Context, ownerID string) ([]types.ActionItem, error)
	SavePlan(ctx context.Context, ownerID string, items []types.ActionItem) error
	// Delete 同时删除档案和计划，不存在时不报错
	Delete(ctx context.Context, ownerID string) error
}

// MemoryStateStore 进程内实现，用于测试和无外部依赖的单机部署
type MemoryStateStore struct {
	mu       sync.RWMutex
	profiles map[string]*types.Profile
	plans    map[string][]types.ActionItem
}

var _ StateStore = (*MemoryStateStore)(nil)

// NewMemoryStateStore 创建内存状态存储
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		profiles: make(map[string]*types.Profile),
		plans:    make(map[string][]types.ActionItem),
	}
}

func (m *MemoryStateStore) LoadProfile(ctx context.Context, ownerID string) (*types.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryStateStore) SaveProfile(ctx context.Context, ownerID string, profile *types.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[ownerID] = profile.Clone()
	return nil
}

func (m *MemoryStateStore) LoadPlan(ctx context.Context, ownerID string) ([]types.ActionItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items, ok := m.plans[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]types.ActionItem(nil), items...), nil
}

func (m *MemoryStateStore) SavePlan(ctx context.Context, ownerID string, items []types.ActionItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[ownerID] = append([]types.ActionItem{}, items...)
	return nil
}

func (m *MemoryStateStore) Delete(ctx context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, ownerID)
	delete(m.plans, ownerID)
	return nil
}
