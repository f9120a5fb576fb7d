// Package orchestrator 持有档案、机会与行动计划的状态树，并驱动其生命周期。
//
// 阶段转换:
//
//	initializing ──► onboarding ──► populating ──► ready
//	      │                             ▲  │         │
//	      └─────────────────────────────┘  └► error ◄┘ (rescan 回到 populating)
//
// reset 从任意阶段回到 onboarding。
package orchestrator

import "fmt"

// Phase 生命周期阶段
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseOnboarding   Phase = "onboarding"
	PhasePopulating   Phase = "populating"
	PhaseReady        Phase = "ready"
	PhaseError        Phase = "error"
)

// AllPhases 全部阶段，用于指标
var AllPhases = []string{
	string(PhaseInitializing),
	string(PhaseOnboarding),
	string(PhasePopulating),
	string(PhaseReady),
	string(PhaseError),
}

// validTransitions 允许的 (from → to)
var validTransitions = map[Phase][]Phase{
	PhaseInitializing: {PhaseOnboarding, PhasePopulating, PhaseError},
	PhaseOnboarding:   {PhasePopulating},
	// 新一轮 populate 取代进行中的一轮
	PhasePopulating: {PhaseReady, PhaseError, PhasePopulating, PhaseOnboarding},
	PhaseReady:      {PhasePopulating, PhaseOnboarding},
	PhaseError:      {PhasePopulating, PhaseOnboarding},
}

// ParsePhase 解析阶段名
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if _, ok := validTransitions[p]; ok {
		return p, nil
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// IsTransitionAllowed 判断 from → to 是否合法
func IsTransitionAllowed(from, to Phase) bool {
	for _, p := range validTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition 非法阶段转换
type ErrInvalidTransition struct {
	From, To Phase
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("不允许从 %s 转换到 %s", e.From, e.To)
}
