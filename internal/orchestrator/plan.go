package orchestrator

import (
	"context"
	"fmt"

	"scholar-ai-go/internal/constants"
	"scholar-ai-go/internal/processor"
	"scholar-ai-go/internal/types"
)

// GeneratePlan 基于当前机会生成并保存行动计划。有接受的机会时只规划这些，被拒绝的始终排除
func (o *Orchestrator) GeneratePlan(ctx context.Context) ([]types.ActionItem, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.generate_plan")
	defer span.End()

	if o.svc.Planner == nil {
		return nil, fmt.Errorf("行动计划服务未配置")
	}

	o.mu.Lock()
	if o.state.oppsGeneration == 0 {
		o.mu.Unlock()
		return nil, ErrNotReady
	}
	selected := processor.SelectForPlan(cloneOpportunities(o.state.Opportunities))
	oppsGen := o.state.oppsGeneration
	lang := o.state.Language
	o.mu.Unlock()

	items, err := o.svc.Planner.Synthesize(ctx, selected, lang)
	if err != nil {
		o.logger.Warn().Err(err).Msg("生成行动计划失败")
		return nil, err
	}
	anchor := o.svc.Planner.Today()

	o.mu.Lock()
	next, err := reduce(o.state, planGenerated{oppsGeneration: oppsGen, items: items, anchor: anchor})
	if err == nil {
		if perr := o.store.SavePlan(ctx, o.ownerID, next.Plan); perr != nil {
			err = fmt.Errorf("保存行动计划失败: %w", perr)
		}
	}
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.setLocked(next)
	o.mu.Unlock()

	o.logger.Info().Int("items", len(items)).Int("opportunities", len(selected)).Msg("行动计划已生成")
	o.publish(ctx, EventPlanGenerated, map[string]any{"items": len(items)})
	return append([]types.ActionItem{}, items...), nil
}

// ToggleActionItem 切换完成标记并保存
func (o *Orchestrator) ToggleActionItem(ctx context.Context, id string) (types.ActionItem, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	next, err := reduce(o.state, itemToggled{id: id})
	if err != nil {
		return types.ActionItem{}, err
	}
	if err := o.store.SavePlan(ctx, o.ownerID, next.Plan); err != nil {
		return types.ActionItem{}, fmt.Errorf("保存行动计划失败: %w", err)
	}
	o.setLocked(next)

	for _, it := range next.Plan {
		if it.ID == id {
			return it, nil
		}
	}
	return types.ActionItem{}, ErrUnknownActionItem
}

// SetActionItemCompleted 设置为指定值，已是该值时不写存储
func (o *Orchestrator) SetActionItemCompleted(ctx context.Context, id string, completed bool) (types.ActionItem, error) {
	o.mu.Lock()
	for _, it := range o.state.Plan {
		if it.ID == id && it.Completed == completed {
			o.mu.Unlock()
			return it, nil
		}
	}
	o.mu.Unlock()
	return o.ToggleActionItem(ctx, id)
}

// CalendarLink 为行动项生成日历事件链接
func (o *Orchestrator) CalendarLink(id string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var item *types.ActionItem
	for i := range o.state.Plan {
		if o.state.Plan[i].ID == id {
			item = &o.state.Plan[i]
			break
		}
	}
	if item == nil {
		return "", ErrUnknownActionItem
	}

	// 重扫后机会可能已不在结果中，按未知截止日期处理
	opp := types.Opportunity{ID: item.ScholarshipID, Deadline: constants.DeadlineUnknown}
	for _, candidate := range o.state.Opportunities {
		if candidate.ID == item.ScholarshipID {
			opp = candidate
			break
		}
	}

	today := o.today()
	anchor := o.state.PlanAnchor
	if anchor.IsZero() {
		anchor = today
	}
	return processor.CalendarLink(*item, opp, anchor, today), nil
}
