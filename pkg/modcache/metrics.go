package modcache

import "github.com/prometheus/client_golang/prometheus"

type collector struct {
	cache *Cache

	entries    *prometheus.Desc
	generation *prometheus.Desc
	loads      *prometheus.Desc
	failures   *prometheus.Desc
	hits       *prometheus.Desc
	instances  *prometheus.Desc
}

// NewCollector exports cache telemetry. Per-module series are labelled by
// source path.
func NewCollector(c *Cache) prometheus.Collector {
	return &collector{
		cache: c,
		entries: prometheus.NewDesc("modserve_modcache_entries",
			"Number of cached modules.", nil, nil),
		generation: prometheus.NewDesc("modserve_modcache_generation",
			"Last load generation handed out.", nil, nil),
		loads: prometheus.NewDesc("modserve_modcache_loads_total",
			"Successful module loads and reloads.", nil, nil),
		failures: prometheus.NewDesc("modserve_modcache_load_failures_total",
			"Failed module loads and reloads.", nil, nil),
		hits: prometheus.NewDesc("modserve_modcache_module_hits_total",
			"Resolutions of a module.", []string{"path", "kind"}, nil),
		instances: prometheus.NewDesc("modserve_modcache_module_instances_total",
			"Instances created for a module.", []string{"path"}, nil),
	}
}

func (m *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.entries
	ch <- m.generation
	ch <- m.loads
	ch <- m.failures
	ch <- m.hits
	ch <- m.instances
}

func (m *collector) Collect(ch chan<- prometheus.Metric) {
	stats := m.cache.Stats()
	ch <- prometheus.MustNewConstMetric(m.entries, prometheus.GaugeValue, float64(len(stats)))
	ch <- prometheus.MustNewConstMetric(m.generation, prometheus.GaugeValue, float64(m.cache.Generation()))
	ch <- prometheus.MustNewConstMetric(m.loads, prometheus.CounterValue, float64(m.cache.loads.Load()))
	ch <- prometheus.MustNewConstMetric(m.failures, prometheus.CounterValue, float64(m.cache.failures.Load()))
	for _, st := range stats {
		ch <- prometheus.MustNewConstMetric(m.hits, prometheus.CounterValue, float64(st.DirectHits), st.Path, "direct")
		ch <- prometheus.MustNewConstMetric(m.hits, prometheus.CounterValue, float64(st.IndirectHits), st.Path, "indirect")
		ch <- prometheus.MustNewConstMetric(m.instances, prometheus.CounterValue, float64(st.Instances), st.Path)
	}
}
