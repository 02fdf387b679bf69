package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the microarchitectural counters SPEC_FULL.md's
// domain-stack section calls for: commits/cycle, mispredicts, IQ-full
// stalls, LSU nacks, and replays, via promauto on the registry passed
// to NewMetrics so an embedding harness can scrape them like a real core's
// performance-counter block.
type Metrics struct {
	Commits      prometheus.Counter
	Cycles       prometheus.Counter
	Mispredicts  prometheus.Counter
	Exceptions   prometheus.Counter
	IQFullStalls prometheus.Counter
	LSUNacks     prometheus.Counter
	Replays      prometheus.Counter
}

// Nack and Replay implement lsu.Counters, so the LSU can report nacks
// and address-conflict replays without importing prometheus itself.
func (m *Metrics) Nack()   { m.LSUNacks.Inc() }
func (m *Metrics) Replay() { m.Replays.Inc() }

// NewMetrics registers the counter set on reg. Pass
// prometheus.NewRegistry() for an isolated test registry, or
// prometheus.DefaultRegisterer to scrape from a single process-wide
// /metrics endpoint.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Commits:      f.NewCounter(prometheus.CounterOpts{Name: "rvcore_commits_total", Help: "Retired MicroOps."}),
		Cycles:       f.NewCounter(prometheus.CounterOpts{Name: "rvcore_cycles_total", Help: "Simulated clock cycles."}),
		Mispredicts:  f.NewCounter(prometheus.CounterOpts{Name: "rvcore_branch_mispredicts_total", Help: "Branch/jump mispredictions resolved."}),
		Exceptions:   f.NewCounter(prometheus.CounterOpts{Name: "rvcore_exceptions_total", Help: "Architectural exceptions delivered at commit."}),
		IQFullStalls: f.NewCounter(prometheus.CounterOpts{Name: "rvcore_iq_full_stalls_total", Help: "Dispatch cycles stalled on a full issue queue."}),
		LSUNacks:     f.NewCounter(prometheus.CounterOpts{Name: "rvcore_lsu_nacks_total", Help: "D-cache request nacks (structural hazard / MSHR full)."}),
		Replays:      f.NewCounter(prometheus.CounterOpts{Name: "rvcore_lsu_replays_total", Help: "Load address-conflict sleep/replay events."}),
	}
}
