package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/km-arc/go-registry/framework/storage"
)

const subsystem = "registry"

var (
	registrationsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "registrations_total",
			Help:      "Count of registry rows created, by kind (anonymous or named).",
		},
		[]string{"kind"},
	)
	replacementsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "replacements_total",
			Help:      "Count of registrations that replaced the manager of an existing row.",
		},
	)
	resizesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "resizes_total",
			Help:      "Count of table growths, by table (registry or contracts).",
		},
		[]string{"table"},
	)
)

// Registry holds every metric exported by the inspector.
var Registry = prometheus.NewRegistry()

var registerMetrics sync.Once

// Register all metrics.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(registrationsCounter)
		Registry.MustRegister(replacementsCounter)
		Registry.MustRegister(resizesCounter)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var (
	occupancyMu sync.Mutex
	occupancy   prometheus.Collector
)

// RegisterOccupancy exports the occupancy of source on Registry, replacing the
// source of an earlier call.
func RegisterOccupancy(source Source) error {
	occupancyMu.Lock()
	defer occupancyMu.Unlock()
	if occupancy != nil {
		Registry.Unregister(occupancy)
	}
	occupancy = NewOccupancyCollector(source)
	return Registry.Register(occupancy)
}

// Recorder is a storage.Observer feeding the counters above.
type Recorder struct{}

var _ storage.Observer = Recorder{}

// Registered records a new registry row.
func (Recorder) Registered(named bool) {
	kind := "anonymous"
	if named {
		kind = "named"
	}
	registrationsCounter.WithLabelValues(kind).Inc()
}

// Replaced records an overwrite of an existing row.
func (Recorder) Replaced() {
	replacementsCounter.Inc()
}

// Resized records a table growth.
func (Recorder) Resized(table string, _ int) {
	resizesCounter.WithLabelValues(table).Inc()
}

// ── Occupancy ────────────────────────────────────────────────────────────────

// Source enumerates live scopes for the occupancy collector.
type Source interface {
	Walk(fn func(id string, stats storage.Stats))
}

// SourceFunc adapts a function to Source.
type SourceFunc func(fn func(id string, stats storage.Stats))

func (f SourceFunc) Walk(fn func(id string, stats storage.Stats)) { f(fn) }

type occupancyCollector struct {
	source Source

	registrations *prometheus.Desc
	names         *prometheus.Desc
	capacity      *prometheus.Desc
}

// NewOccupancyCollector reports the row counts and table capacities of every
// scope in source at scrape time.
func NewOccupancyCollector(source Source) prometheus.Collector {
	labels := []string{"container", "level"}
	return &occupancyCollector{
		source: source,
		registrations: prometheus.NewDesc(
			prometheus.BuildFQName("", subsystem, "registrations"),
			"Rows in the registry table of a container, built-ins included.",
			labels, nil,
		),
		names: prometheus.NewDesc(
			prometheus.BuildFQName("", subsystem, "names"),
			"Distinct registration names known to a container.",
			labels, nil,
		),
		capacity: prometheus.NewDesc(
			prometheus.BuildFQName("", subsystem, "capacity"),
			"Bucket count of a container's table.",
			append(labels, "table"), nil,
		),
	}
}

func (c *occupancyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.registrations
	ch <- c.names
	ch <- c.capacity
}

func (c *occupancyCollector) Collect(ch chan<- prometheus.Metric) {
	c.source.Walk(func(id string, s storage.Stats) {
		level := strconv.Itoa(s.Level)
		ch <- prometheus.MustNewConstMetric(c.registrations, prometheus.GaugeValue, float64(s.Registrations), id, level)
		ch <- prometheus.MustNewConstMetric(c.names, prometheus.GaugeValue, float64(s.Names), id, level)
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.RegistryCapacity), id, level, "registry")
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.ContractCapacity), id, level, "contracts")
	})
}
