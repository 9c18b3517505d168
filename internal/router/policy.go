package router

import (
	"github.com/droverhq/drover/internal/metrics"
	"github.com/droverhq/drover/internal/providers"
)

// Policy scores providers for selection. Scores live in [0,1]; higher wins.
type Policy struct {
	metrics *metrics.Metrics
	// AllowStreaming grants the streaming bonus to providers that support it.
	AllowStreaming bool
}

// NewPolicy builds a policy over a metrics ledger.
func NewPolicy(m *metrics.Metrics) *Policy {
	return &Policy{metrics: m, AllowStreaming: true}
}

// Score rates one provider from its health ledger.
func (p *Policy) Score(name string, prov providers.Provider) float64 {
	pm := p.metrics.Snapshot(name)
	score := p.metrics.Health(name) * 0.4

	switch {
	case pm.AvgLatencyMS < 2000:
		score += 0.3
	case pm.AvgLatencyMS < 5000:
		score += 0.2
	case pm.AvgLatencyMS < 10000:
		score += 0.1
	}

	sr := pm.SuccessRate()
	switch {
	case sr > 0.9:
		score += 0.2
	case sr > 0.7:
		score += 0.1
	}

	if p.AllowStreaming && prov.SupportsStreaming() {
		score += 0.1
	}
	if pm.RateLimited {
		score -= 0.3
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Select returns the highest-scoring available provider from candidates,
// preserving candidate order for ties. Empty string when nothing is
// available.
func (p *Policy) Select(names []string, lookup func(string) providers.Provider) string {
	best := ""
	bestScore := -1.0
	for _, name := range names {
		prov := lookup(name)
		if prov == nil || !p.metrics.IsAvailable(name) {
			continue
		}
		if s := p.Score(name, prov); s > bestScore {
			best = name
			bestScore = s
		}
	}
	return best
}
