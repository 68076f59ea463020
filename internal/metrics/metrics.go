package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine labels for the spawn counters.
const (
	EngineAsync = "async"
	EngineSync  = "sync"
)

var (
	registry = prometheus.NewRegistry()

	spawnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hatch",
		Name:      "spawns_total",
		Help:      "Total number of child processes spawned, per engine.",
	}, []string{"engine"})

	spawnFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hatch",
		Name:      "spawn_failures_total",
		Help:      "Total number of spawn attempts that failed before the child ran.",
	}, []string{"engine"})

	activeChildren = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hatch",
		Name:      "active_children",
		Help:      "Number of asynchronously spawned children not yet reaped.",
	})

	syncSpawnDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hatch",
		Name:      "sync_spawn_duration_seconds",
		Help:      "Wall-clock duration of synchronous spawn calls in seconds.",
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hatch",
		Name:      "build_info",
		Help:      "Build metadata for the running hatch binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(spawnsTotal, spawnFailures, activeChildren, syncSpawnDuration, buildInfo)
}

// Registry returns the Prometheus registry containing all hatch metrics.
func Registry() *prometheus.Registry {
	return registry
}

// IncSpawn records one successfully created child for the given engine.
// Informational only; no correctness invariant depends on it.
func IncSpawn(engine string) {
	spawnsTotal.WithLabelValues(engine).Inc()
}

// IncSpawnFailure records one spawn attempt that failed before the child
// began executing.
func IncSpawnFailure(engine string) {
	spawnFailures.WithLabelValues(engine).Inc()
}

// AddActiveChildren adjusts the gauge of live asynchronously spawned
// children.
func AddActiveChildren(delta int) {
	activeChildren.Add(float64(delta))
}

// ObserveSyncSpawnDuration records the wall-clock duration of one
// synchronous spawn call.
func ObserveSyncSpawnDuration(d time.Duration) {
	syncSpawnDuration.Observe(d.Seconds())
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
