package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all steward metric instruments.
type Metrics struct {
	CycleDuration    metric.Float64Histogram
	APICallDuration  metric.Float64Histogram
	APICallRetries   metric.Int64Counter
	RateLimitWaits   metric.Int64Counter
	IntentsExecuted  metric.Int64Counter
	IntentsFailed    metric.Int64Counter
	SweepRepos       metric.Int64Counter
	LLMCallDuration  metric.Float64Histogram
	PlanFallbacks    metric.Int64Counter
	ActiveOperations metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CycleDuration, err = meter.Float64Histogram("steward.cycle.duration",
		metric.WithDescription("Full orchestration cycle duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.APICallDuration, err = meter.Float64Histogram("steward.api.duration",
		metric.WithDescription("Outbound REST call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.APICallRetries, err = meter.Int64Counter("steward.api.retries",
		metric.WithDescription("Outbound call retry count"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitWaits, err = meter.Int64Counter("steward.api.ratelimit_waits",
		metric.WithDescription("Number of rate-limit sleep-and-retry waits"),
	)
	if err != nil {
		return nil, err
	}

	m.IntentsExecuted, err = meter.Int64Counter("steward.intents.executed",
		metric.WithDescription("Plan intents executed successfully"),
	)
	if err != nil {
		return nil, err
	}

	m.IntentsFailed, err = meter.Int64Counter("steward.intents.failed",
		metric.WithDescription("Plan intents that failed"),
	)
	if err != nil {
		return nil, err
	}

	m.SweepRepos, err = meter.Int64Counter("steward.sweep.repos",
		metric.WithDescription("Repositories visited by the maintenance sweep"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("steward.llm.duration",
		metric.WithDescription("LLM API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.PlanFallbacks, err = meter.Int64Counter("steward.plan.fallbacks",
		metric.WithDescription("Planner deterministic fallbacks after parse failures"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveOperations, err = meter.Int64UpDownCounter("steward.executor.active",
		metric.WithDescription("Executor operations currently in flight"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
