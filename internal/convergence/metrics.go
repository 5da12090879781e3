package convergence

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides instrumentation for the cycle loop.
//
// This interface is optional - pass nil in Deps to disable metrics
// collection.
type MetricsCollector interface {
	// RecordCycle is called after every cycle, interrupted ones included
	RecordCycle(report *CycleReport)

	// RecordRunComplete is called when Run returns
	RecordRunComplete(result *Result)
}

// AggregateMetrics provides rolled-up statistics across runs.
type AggregateMetrics struct {
	Runs          int
	ConvergedRuns int
	AbortedRuns   int
	StoppedRuns   int

	Cycles      int
	DryCycles   int
	URLsNew     int
	FetchErrors int
	DealsAdded  int
	Merged      int

	// MeanCyclesToConverge is the mean cycle count of converged runs
	MeanCyclesToConverge float64
}

// InMemoryMetricsCollector is a simple in-memory implementation of MetricsCollector.
// It stores all metrics in memory for analysis and testing.
type InMemoryMetricsCollector struct {
	mu      sync.Mutex
	reports []CycleReport
	results []Result
}

// NewInMemoryMetricsCollector creates a new in-memory metrics collector
func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{}
}

// RecordCycle implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordCycle(report *CycleReport) {
	if report == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, *report)
}

// RecordRunComplete implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordRunComplete(result *Result) {
	if result == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, *result)
}

// Reports returns every recorded cycle report
func (m *InMemoryMetricsCollector) Reports() []CycleReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CycleReport(nil), m.reports...)
}

// Aggregate returns rolled-up statistics
func (m *InMemoryMetricsCollector) Aggregate() AggregateMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	var agg AggregateMetrics
	for _, r := range m.reports {
		agg.Cycles++
		agg.URLsNew += r.NewURLs
		agg.FetchErrors += r.FetchErrors
		agg.DealsAdded += r.Added
		agg.Merged += r.Merged
		if r.Added == 0 && !r.Interrupted {
			agg.DryCycles++
		}
	}

	convergedCycles := 0
	for _, res := range m.results {
		agg.Runs++
		switch {
		case res.Stopped:
			agg.StoppedRuns++
		case res.State == StateConverged:
			agg.ConvergedRuns++
			convergedCycles += res.Cycles
		case res.State == StateAborted:
			agg.AbortedRuns++
		}
	}
	if agg.ConvergedRuns > 0 {
		agg.MeanCyclesToConverge = float64(convergedCycles) / float64(agg.ConvergedRuns)
	}
	return agg
}

// PrometheusCollector exports cycle metrics to a Prometheus registry.
type PrometheusCollector struct {
	cycles        prometheus.Counter
	urlsNew       prometheus.Counter
	outcomes      *prometheus.CounterVec
	dealsAdded    prometheus.Counter
	merged        prometheus.Counter
	dryCycles     prometheus.Gauge
	cycleDuration prometheus.Histogram
	runs          *prometheus.CounterVec
}

// NewPrometheusCollector registers the controller metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		cycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "dealfinder_cycles_total",
			Help: "Total number of discovery cycles.",
		}),
		urlsNew: factory.NewCounter(prometheus.CounterOpts{
			Name: "dealfinder_urls_new_total",
			Help: "Discovered URLs not yet in the ledger.",
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dealfinder_url_outcomes_total",
			Help: "Processed URLs by outcome.",
		}, []string{"outcome"}),
		dealsAdded: factory.NewCounter(prometheus.CounterOpts{
			Name: "dealfinder_deals_added_total",
			Help: "New canonical deals.",
		}),
		merged: factory.NewCounter(prometheus.CounterOpts{
			Name: "dealfinder_deals_merged_total",
			Help: "Records folded into an existing canonical deal.",
		}),
		dryCycles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dealfinder_dry_cycles",
			Help: "Current consecutive cycles without a new deal.",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dealfinder_cycle_duration_seconds",
			Help:    "Duration of discovery cycles.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dealfinder_runs_total",
			Help: "Completed runs by final state.",
		}, []string{"state"}),
	}
}

// RecordCycle implements MetricsCollector
func (p *PrometheusCollector) RecordCycle(r *CycleReport) {
	if r == nil {
		return
	}
	p.cycles.Inc()
	p.urlsNew.Add(float64(r.NewURLs))
	p.outcomes.WithLabelValues("deal").Add(float64(r.Deals))
	p.outcomes.WithLabelValues("no_deal").Add(float64(r.NoDeal))
	p.outcomes.WithLabelValues("excluded").Add(float64(r.Excluded))
	p.outcomes.WithLabelValues("malformed").Add(float64(r.Malformed))
	p.outcomes.WithLabelValues("fetch_error").Add(float64(r.FetchErrors))
	p.dealsAdded.Add(float64(r.Added))
	p.merged.Add(float64(r.Merged))
	p.dryCycles.Set(float64(r.DryCycles))
	p.cycleDuration.Observe(r.Duration.Seconds())
}

// RecordRunComplete implements MetricsCollector
func (p *PrometheusCollector) RecordRunComplete(res *Result) {
	if res == nil {
		return
	}
	state := string(res.State)
	if res.Stopped {
		state = "STOPPED"
	}
	p.runs.WithLabelValues(state).Inc()
}
