package orchestrator

import (
	"context"
	"time"
)

// 生命周期事件
const (
	EventProfileIngested = "profile.ingested"
	EventIngestFailed    = "profile.ingest_failed"
	EventProfileUpdated  = "profile.updated"
	EventProfileReset    = "profile.reset"
	EventPopulateStarted = "populate.started"
	EventPopulateReady   = "populate.ready"
	EventPopulateFailed  = "populate.failed"
	EventFeedbackSet     = "opportunity.feedback"
	EventPlanGenerated   = "plan.generated"
)

const publishTimeout = 3 * time.Second

// publish 尽力投递，失败只记录
func (o *Orchestrator) publish(ctx context.Context, event string, payload map[string]any) {
	if o.publisher == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["ownerId"] = o.ownerID

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	err := o.publisher.Publish(ctx, event, payload)
	o.metrics.EventPublished(event, err)
	if err != nil {
		o.logger.Warn().Err(err).Str("event", event).Msg("发布事件失败")
	}
}
