package agent

import "sync/atomic"

// agentCounters accumulates per-agent call statistics. All fields are
// updated atomically so concurrent workflow tasks can share one client.
type agentCounters struct {
	attempts       atomic.Int64
	failures       atomic.Int64
	totalLatencyMS atomic.Int64
}

// MetricsSnapshot is the externally visible view of one agent's counters.
type MetricsSnapshot struct {
	Attempts         int64   `json:"attempts"`
	Failures         int64   `json:"failures"`
	AverageLatencyMS float64 `json:"average_latency_ms"`
}

func (c *agentCounters) record(latencyMS int64, failed bool) {
	c.attempts.Add(1)
	c.totalLatencyMS.Add(latencyMS)

	if failed {
		c.failures.Add(1)
	}
}

func (c *agentCounters) snapshot() MetricsSnapshot {
	attempts := c.attempts.Load()

	snap := MetricsSnapshot{
		Attempts: attempts,
		Failures: c.failures.Load(),
	}

	if attempts > 0 {
		snap.AverageLatencyMS = float64(c.totalLatencyMS.Load()) / float64(attempts)
	}

	return snap
}

// Metrics returns a snapshot of the per-agent call counters.
func (c *Client) Metrics() map[Name]MetricsSnapshot {
	result := make(map[Name]MetricsSnapshot, len(c.endpoints))

	for name := range c.endpoints {
		result[name] = c.counters[name].snapshot()
	}

	return result
}
