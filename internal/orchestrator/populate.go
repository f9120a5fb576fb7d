package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"scholar-ai-go/internal/processor"
	"scholar-ai-go/internal/tracing"
	"scholar-ai-go/internal/types"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// populate 周期结果
const (
	outcomeOK    = "ok"
	outcomeEmpty = "empty"
	outcomeError = "error"
	outcomeStale = "stale"
)

// StartRescan 开启新一轮 populate 并立即返回轮次。进行中的旧一轮继续执行，但结果会被丢弃
func (o *Orchestrator) StartRescan(ctx context.Context) (uint64, error) {
	gen, _, err := o.startCycle(ctx)
	return gen, err
}

// Rescan 开启新一轮并只等待这一轮结束
// 本轮被更新的一轮取代时返回 ErrStaleCycle，快照为当前状态
func (o *Orchestrator) Rescan(ctx context.Context) (Snapshot, error) {
	_, c, err := o.startCycle(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-c.done:
	case <-ctx.Done():
		return o.Snapshot(), ctx.Err()
	}
	return o.Snapshot(), c.err
}

func (o *Orchestrator) startCycle(ctx context.Context) (uint64, *cycle, error) {
	o.mu.Lock()
	// 关闭后不再登记新的轮次，running 只会在 Close 中等待
	if o.runCtx.Err() != nil {
		o.mu.Unlock()
		return 0, nil, ErrClosed
	}
	gen := o.nextGen + 1
	if err := o.dispatchLocked(populateStarted{generation: gen}); err != nil {
		o.mu.Unlock()
		return 0, nil, err
	}
	o.nextGen = gen
	profile := o.state.Profile.Clone()
	lang := o.state.Language
	c := &cycle{done: make(chan struct{})}
	o.cycles[gen] = c
	o.running.Add(1)
	o.mu.Unlock()

	o.publish(ctx, EventPopulateStarted, map[string]any{"generation": gen})

	// 请求结束不影响后台周期，关闭编排器时取消
	cycleCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopAfter := context.AfterFunc(o.runCtx, cancel)
	go func() {
		defer o.running.Done()
		defer cancel()
		defer stopAfter()
		c.err = o.populate(cycleCtx, gen, profile, lang)

		o.mu.Lock()
		delete(o.cycles, gen)
		o.mu.Unlock()
		close(c.done)
	}()
	return gen, c, nil
}

// populate 先发现，结果挂到本轮批次后再并发生成摘要和反馈，两者都完成才提交
func (o *Orchestrator) populate(ctx context.Context, gen uint64, profile *types.Profile, lang string) error {
	ctx, span := tracer.Start(ctx, "orchestrator.populate",
		trace.WithAttributes(attribute.Int64("populate.generation", int64(gen))))
	defer span.End()

	log := o.logger.With().Uint64("generation", gen).Logger()
	log.Info().Msg("开始 populate")

	opps, err := o.svc.Discovery.Discover(ctx, profile, lang)
	empty := false
	if errors.Is(err, processor.ErrDiscoveryEmpty) {
		// 空结果不是错误
		opps, empty, err = []types.Opportunity{}, true, nil
	}
	if err != nil {
		return o.failCycle(ctx, span, gen, err)
	}

	if err := o.dispatch(discoveryAssigned{batch: &batch{generation: gen, opportunities: opps, empty: empty}}); err != nil {
		return o.discardStale(span, gen)
	}

	var (
		summary, feedback string
		g                 errgroup.Group
	)
	// 不使用 WithContext: 一个分支失败不取消另一个
	g.Go(func() error {
		s, err := o.svc.Insights.Summary(ctx, profile, lang)
		if err != nil {
			return fmt.Errorf("生成档案摘要失败: %w", err)
		}
		summary = s
		return nil
	})
	g.Go(func() error {
		f, err := o.svc.Insights.Feedback(ctx, profile, opps, lang)
		if err != nil {
			return fmt.Errorf("生成档案反馈失败: %w", err)
		}
		feedback = f
		return nil
	})
	if err := g.Wait(); err != nil {
		return o.failCycle(ctx, span, gen, err)
	}

	o.mu.Lock()
	next, err := reduce(o.state, populateSucceeded{generation: gen, summary: summary, feedback: feedback, at: o.now().UTC()})
	if errors.Is(err, ErrStaleCycle) {
		o.mu.Unlock()
		return o.discardStale(span, gen)
	}
	if err == nil {
		if perr := o.store.SaveProfile(ctx, o.ownerID, next.Profile); perr != nil {
			err = fmt.Errorf("保存档案失败: %w", perr)
		}
	}
	if err != nil {
		o.mu.Unlock()
		return o.failCycle(ctx, span, gen, err)
	}
	o.setLocked(next)
	count := len(next.Opportunities)
	o.mu.Unlock()

	outcome := outcomeOK
	if empty {
		outcome = outcomeEmpty
	}
	o.metrics.PopulateFinished(outcome)
	o.metrics.SetOpportunities(count)
	span.SetAttributes(attribute.Int("populate.opportunities", count))
	tracing.MarkOK(span)
	log.Info().Int("opportunities", count).Bool("empty", empty).Msg("populate 完成")
	o.publish(ctx, EventPopulateReady, map[string]any{"generation": gen, "opportunities": count})

	if o.autoPlan && o.svc.Planner != nil {
		if _, err := o.GeneratePlan(ctx); err != nil && !errors.Is(err, ErrStaleCycle) {
			log.Warn().Err(err).Msg("自动生成行动计划失败")
		}
	}
	return nil
}

// failCycle 记录失败并返回原因，本轮已被取代时返回 ErrStaleCycle
func (o *Orchestrator) failCycle(ctx context.Context, span trace.Span, gen uint64, cause error) error {
	failure := newFailure(cause, o.now().UTC())
	if err := o.dispatch(populateFailed{generation: gen, failure: failure}); err != nil {
		return o.discardStale(span, gen)
	}
	o.metrics.PopulateFinished(outcomeError)
	tracing.RecordError(span, cause, tracing.ErrorTypeInternal,
		attribute.String("error.kind", string(failure.Kind)))
	o.logger.Error().Err(cause).Uint64("generation", gen).Str("kind", string(failure.Kind)).Msg("populate 失败，保留上一次结果")
	o.publish(ctx, EventPopulateFailed, map[string]any{"generation": gen, "kind": failure.Kind, "retryable": failure.Retryable})
	return cause
}

func (o *Orchestrator) discardStale(span trace.Span, gen uint64) error {
	o.metrics.PopulateFinished(outcomeStale)
	span.SetAttributes(attribute.Bool("populate.stale", true))
	o.logger.Info().Uint64("generation", gen).Msg("结果属于已被取代的一轮，丢弃")
	return ErrStaleCycle
}
