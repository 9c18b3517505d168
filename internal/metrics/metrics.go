// Package metrics tracks per-provider request outcomes and derives a health
// score used for routing.
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/droverhq/drover/internal/storage/jsonstore"
)

// RateLimitCooldown is applied when a rate-limit signal is detected.
const RateLimitCooldown = 120 * time.Second

// rateLimitMarkers are scanned case-insensitively across header values.
var rateLimitMarkers = []string{"429", "rate_limit", "rate limit", "quota", "limit"}

// ProviderMetric is the persisted ledger for one provider.
type ProviderMetric struct {
	Requests       int64   `json:"requests"`
	Successes      int64   `json:"successes"`
	Failures       int64   `json:"failures"`
	TotalLatencyMS float64 `json:"total_latency_ms"`
	AvgLatencyMS   float64 `json:"avg_latency_ms"`
	TokensIn       int64   `json:"tokens_in"`
	TokensOut      int64   `json:"tokens_out"`
	LastRequest    int64   `json:"last_request"`
	RateLimited    bool    `json:"rate_limited"`
	CooldownUntil  int64   `json:"cooldown_until"`
}

// SuccessRate returns successes/requests, 1.0 with no history.
func (m *ProviderMetric) SuccessRate() float64 {
	if m.Requests == 0 {
		return 1.0
	}
	return float64(m.Successes) / float64(m.Requests)
}

// FailureRate returns failures/requests, 0.0 with no history.
func (m *ProviderMetric) FailureRate() float64 {
	if m.Requests == 0 {
		return 0
	}
	return float64(m.Failures) / float64(m.Requests)
}

// Metrics is the provider metrics service, persisted to model_metrics.json.
type Metrics struct {
	mu      sync.Mutex
	store   *jsonstore.Store
	ledgers map[string]*ProviderMetric
	now     func() time.Time
}

// Open loads the metrics ledger from path.
func Open(path string) (*Metrics, error) {
	store, err := jsonstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metrics store: %w", err)
	}

	m := &Metrics{store: store, ledgers: make(map[string]*ProviderMetric), now: time.Now}
	for _, key := range store.Keys() {
		var pm ProviderMetric
		if ok, err := store.Get(key, &pm); err == nil && ok {
			m.ledgers[key] = &pm
		}
	}
	return m, nil
}

// RecordGeneration records one request outcome.
func (m *Metrics) RecordGeneration(provider string, latency time.Duration, tokensIn, tokensOut int, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pm := m.ledgerLocked(provider)
	pm.Requests++
	if success {
		pm.Successes++
	} else {
		pm.Failures++
	}
	pm.TotalLatencyMS += float64(latency.Milliseconds())
	pm.AvgLatencyMS = pm.TotalLatencyMS / float64(pm.Requests)
	pm.TokensIn += int64(tokensIn)
	pm.TokensOut += int64(tokensOut)
	pm.LastRequest = m.now().Unix()

	return m.persistLocked(provider, pm)
}

// CheckRateLimit scans response header values for rate-limit signals. A hit
// marks the provider rate-limited and starts a cooldown.
func (m *Metrics) CheckRateLimit(provider string, headers map[string]string) (bool, error) {
	hit := false
	for _, v := range headers {
		lower := strings.ToLower(v)
		for _, marker := range rateLimitMarkers {
			if strings.Contains(lower, marker) {
				hit = true
				break
			}
		}
		if hit {
			break
		}
	}
	if !hit {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	pm := m.ledgerLocked(provider)
	pm.RateLimited = true
	pm.CooldownUntil = m.now().Add(RateLimitCooldown).Unix()
	return true, m.persistLocked(provider, pm)
}

// ClearRateLimit resets the rate-limited flag and cooldown.
func (m *Metrics) ClearRateLimit(provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm := m.ledgerLocked(provider)
	pm.RateLimited = false
	pm.CooldownUntil = 0
	return m.persistLocked(provider, pm)
}

// Health derives the provider's health score in [0,1].
func (m *Metrics) Health(provider string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthLocked(provider)
}

func (m *Metrics) healthLocked(provider string) float64 {
	pm := m.ledgerLocked(provider)

	// The rate-limit and failure-rate penalties are exclusive: a rate-limited
	// provider is already halved, stacking the failure penalty would bury it.
	score := pm.SuccessRate()
	switch {
	case pm.RateLimited:
		score = max(0.1, score) * 0.5
	case pm.FailureRate() > 0.2:
		score = max(0.1, score*0.7)
	}
	if pm.CooldownUntil > m.now().Unix() {
		score *= 0.5
	}
	if pm.AvgLatencyMS > 5000 {
		score *= 0.8
	}
	return score
}

// IsAvailable reports whether a provider is healthy enough to route to.
func (m *Metrics) IsAvailable(provider string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm := m.ledgerLocked(provider)
	if pm.CooldownUntil > m.now().Unix() {
		return false
	}
	return m.healthLocked(provider) > 0.5
}

// Snapshot returns a copy of the provider's ledger.
func (m *Metrics) Snapshot(provider string) ProviderMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.ledgerLocked(provider)
}

// Providers lists every provider with a ledger entry.
func (m *Metrics) Providers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.ledgers))
	for name := range m.ledgers {
		out = append(out, name)
	}
	return out
}

func (m *Metrics) ledgerLocked(provider string) *ProviderMetric {
	pm, ok := m.ledgers[provider]
	if !ok {
		pm = &ProviderMetric{}
		m.ledgers[provider] = pm
	}
	return pm
}

func (m *Metrics) persistLocked(provider string, pm *ProviderMetric) error {
	if err := m.store.Set(provider, pm); err != nil {
		return fmt.Errorf("persist metrics for %s: %w", provider, err)
	}
	return nil
}
