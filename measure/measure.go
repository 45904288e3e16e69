// Package measure provides optional measurement hooks for the
// persistence engine: v-log size, NVM flush size, group size, group
// commit count, and per-transaction commit delay. Collection is a pure
// observation — disabling it (Enabled = false) never changes control
// flow, only whether the observation is recorded.
package measure

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Hooks bundles the engine's collectors behind a single Enabled switch
// and its own registry, so multiple Cores in the same process (as in
// tests) never collide on metric registration.
type Hooks struct {
	Enabled bool

	Registry *prometheus.Registry

	VLogSize     prometheus.Histogram
	FlushSize    prometheus.Histogram
	GroupSize    prometheus.Histogram
	GroupCommits prometheus.Counter
	CommitDelay  prometheus.Histogram
}

// New builds a fresh set of collectors, registered to their own
// registry. enabled controls whether Observe/Inc calls actually record
// anything; the collectors exist either way so Handler always serves a
// valid (possibly empty) metrics page.
func New(enabled bool) *Hooks {
	reg := prometheus.NewRegistry()

	h := &Hooks{
		Enabled:  enabled,
		Registry: reg,
		VLogSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dudetm",
			Name:      "vlog_entries",
			Help:      "Number of entries in a transaction's volatile log at absorb time.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		FlushSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dudetm",
			Name:      "nvm_flush_bytes",
			Help:      "Byte length of each NVM cache-line flush.",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 12),
		}),
		GroupSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dudetm",
			Name:      "group_distinct_entries",
			Help:      "Distinct entries persisted per group commit.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}),
		GroupCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dudetm",
			Name:      "group_commits_total",
			Help:      "Number of group-commit persist records written.",
		}),
		CommitDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dudetm",
			Name:      "commit_delay_seconds",
			Help:      "Time from transaction start to before_commit.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(h.VLogSize, h.FlushSize, h.GroupSize, h.GroupCommits, h.CommitDelay)
	return h
}

// Handler serves the hooks' registry in the Prometheus exposition
// format.
func (h *Hooks) Handler() http.Handler {
	return promhttp.HandlerFor(h.Registry, promhttp.HandlerOpts{})
}

// Timer marks a transaction's start time, for the per-transaction
// commit-delay observation.
type Timer struct {
	start time.Time
}

// AfterTxStart is the "after transaction start" collection point.
func (h *Hooks) AfterTxStart() Timer {
	return Timer{start: time.Now()}
}

// BeforeLogCombine is the "before log combine" collection point: the
// number of entries in the committing transaction's volatile log.
func (h *Hooks) BeforeLogCombine(vlogEntries int) {
	if !h.Enabled {
		return
	}
	h.VLogSize.Observe(float64(vlogEntries))
}

// BeforeFlush is the "before each NVM flush" collection point.
func (h *Hooks) BeforeFlush(bytes int) {
	if !h.Enabled {
		return
	}
	h.FlushSize.Observe(float64(bytes))
}

// BeforeCommit is the "before commit" collection point: the group's
// distinct-entry size (recorded only when a group was actually
// persisted), a group-commit tick, and the committing transaction's
// start-to-commit delay.
func (h *Hooks) BeforeCommit(flushed bool, groupDistinctEntries int, started Timer) {
	if !h.Enabled {
		return
	}
	if flushed {
		h.GroupSize.Observe(float64(groupDistinctEntries))
		h.GroupCommits.Inc()
	}
	h.CommitDelay.Observe(time.Since(started.start).Seconds())
}
