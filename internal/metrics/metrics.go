package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "scholarai"

// Metrics 服务级 Prometheus 指标，nil 接收者上的方法都是空操作
type Metrics struct {
	llmCalls       *prometheus.CounterVec
	llmLatency     *prometheus.HistogramVec
	populateCycles *prometheus.CounterVec
	opportunities  prometheus.Gauge
	phase          *prometheus.GaugeVec
	events         *prometheus.CounterVec
}

// New 创建指标并注册到 reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "推理服务调用次数，按任务和结果划分",
		}, []string{"task", "outcome"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "推理服务调用耗时",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"task"}),
		populateCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "populate_cycles_total",
			Help:      "populate 周期结果: ready, empty, error, stale",
		}, []string{"outcome"}),
		opportunities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "opportunities_current",
			Help:      "当前已提交的机会数量",
		}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orchestrator_phase",
			Help:      "当前所处阶段，值为 1 的标签即当前阶段",
		}, []string{"phase"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "生命周期事件发布次数",
		}, []string{"event", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.llmCalls, m.llmLatency, m.populateCycles, m.opportunities, m.phase, m.events)
	}
	return m
}

// ObserveLLMCall 记录一次推理调用
func (m *Metrics) ObserveLLMCall(task string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.llmCalls.WithLabelValues(task, outcome).Inc()
	m.llmLatency.WithLabelValues(task).Observe(time.Since(start).Seconds())
}

// PopulateFinished 记录一次 populate 周期结果
func (m *Metrics) PopulateFinished(outcome string) {
	if m == nil {
		return
	}
	m.populateCycles.WithLabelValues(outcome).Inc()
}

// SetOpportunities 当前机会数量
func (m *Metrics) SetOpportunities(n int) {
	if m == nil {
		return
	}
	m.opportunities.Set(float64(n))
}

// SetPhase 当前阶段置 1，其余置 0
func (m *Metrics) SetPhase(current string, all []string) {
	if m == nil {
		return
	}
	for _, p := range all {
		v := 0.0
		if p == current {
			v = 1
		}
		m.phase.WithLabelValues(p).Set(v)
	}
}

// EventPublished 记录事件发布结果
func (m *Metrics) EventPublished(event string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.events.WithLabelValues(event, outcome).Inc()
}
