package engine

import "github.com/prometheus/client_golang/prometheus"

type engineMetricsProvider struct {
	requests     *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	retries      prometheus.Counter
	inflight     prometheus.Gauge
}

func newEngineMetricsProvider(registry *prometheus.Registry) *engineMetricsProvider {
	if registry == nil {
		return nil
	}

	provider := &engineMetricsProvider{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchinfer_requests_total",
				Help: "Total number of provider requests by outcome",
			},
			[]string{"outcome"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchinfer_cache_lookups_total",
				Help: "Total number of cache lookups by result",
			},
			[]string{"result"},
		),
		retries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "batchinfer_retries_total",
				Help: "Total number of retries after rate limiting",
			},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "batchinfer_inflight",
				Help: "Number of provider requests currently in flight",
			},
		),
	}

	registry.MustRegister(
		provider.requests,
		provider.cacheLookups,
		provider.retries,
		provider.inflight,
	)

	return provider
}

func (p *engineMetricsProvider) IncrementRequests(outcome string) {
	if p != nil {
		p.requests.WithLabelValues(outcome).Inc()
	}
}

func (p *engineMetricsProvider) IncrementCacheLookups(result string) {
	if p != nil {
		p.cacheLookups.WithLabelValues(result).Inc()
	}
}

func (p *engineMetricsProvider) IncrementRetries() {
	if p != nil {
		p.retries.Inc()
	}
}

func (p *engineMetricsProvider) AddInflight(delta float64) {
	if p != nil {
		p.inflight.Add(delta)
	}
}
