package metrics

import (
	"math"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *Metrics {
	t.Helper()
	m, err := Open(filepath.Join(t.TempDir(), "model_metrics.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return m
}

func TestRecordGenerationInvariants(t *testing.T) {
	m := openTest(t)

	if err := m.RecordGeneration("dummy", 100*time.Millisecond, 5, 10, true); err != nil {
		t.Fatal(err)
	}
	if err := m.RecordGeneration("dummy", 300*time.Millisecond, 3, 7, false); err != nil {
		t.Fatal(err)
	}

	pm := m.Snapshot("dummy")
	if pm.Requests != 2 || pm.Successes != 1 || pm.Failures != 1 {
		t.Errorf("counts = %+v", pm)
	}
	if pm.Successes+pm.Failures != pm.Requests {
		t.Error("successes+failures != requests")
	}
	if math.Abs(pm.AvgLatencyMS-200) > 1e-9 {
		t.Errorf("avg latency = %v", pm.AvgLatencyMS)
	}
	if pm.TokensIn != 8 || pm.TokensOut != 17 {
		t.Errorf("tokens = %d/%d", pm.TokensIn, pm.TokensOut)
	}
	if pm.LastRequest == 0 {
		t.Error("last request not stamped")
	}
}

func TestHealthFormula(t *testing.T) {
	m := openTest(t)

	// Fresh provider: perfect health.
	if h := m.Health("fresh"); h != 1.0 {
		t.Errorf("fresh health = %v", h)
	}

	// 10 requests, 1 failure: success rate 0.9, failure rate 0.1.
	for i := 0; i < 9; i++ {
		_ = m.RecordGeneration("p", 100*time.Millisecond, 1, 1, true)
	}
	_ = m.RecordGeneration("p", 100*time.Millisecond, 1, 1, false)
	if h := m.Health("p"); math.Abs(h-0.9) > 1e-9 {
		t.Errorf("health = %v, want 0.9", h)
	}

	// Failure rate above 0.2 applies the 0.7 penalty.
	m2 := openTest(t)
	_ = m2.RecordGeneration("q", 100*time.Millisecond, 1, 1, true)
	_ = m2.RecordGeneration("q", 100*time.Millisecond, 1, 1, false)
	if h := m2.Health("q"); math.Abs(h-0.35) > 1e-9 {
		t.Errorf("health = %v, want 0.35", h)
	}
}

func TestHealthPenaltiesExclusive(t *testing.T) {
	m := openTest(t)
	_ = m.RecordGeneration("p", 100*time.Millisecond, 1, 1, true)
	_ = m.RecordGeneration("p", 100*time.Millisecond, 1, 1, false)
	if _, err := m.CheckRateLimit("p", map[string]string{"X-Status": "429"}); err != nil {
		t.Fatal(err)
	}

	// Jump past the cooldown so only the rate-limited flag is in play.
	m.now = func() time.Time { return time.Now().Add(2 * RateLimitCooldown) }

	// Success rate 0.5 and rate-limited: max(0.1, 0.5)*0.5. The failure-rate
	// penalty must not stack on top even though FailureRate() is 0.5.
	if h := m.Health("p"); math.Abs(h-0.25) > 1e-9 {
		t.Errorf("health = %v, want 0.25", h)
	}
}

func TestHealthSlowProviderPenalty(t *testing.T) {
	m := openTest(t)
	_ = m.RecordGeneration("slow", 6*time.Second, 1, 1, true)
	if h := m.Health("slow"); math.Abs(h-0.8) > 1e-9 {
		t.Errorf("health = %v, want 0.8", h)
	}
}

func TestCheckRateLimit(t *testing.T) {
	m := openTest(t)

	hit, err := m.CheckRateLimit("p", map[string]string{"X-Status": "429 Too Many Requests"})
	if err != nil || !hit {
		t.Fatalf("hit=%v err=%v", hit, err)
	}

	pm := m.Snapshot("p")
	if !pm.RateLimited {
		t.Error("rate_limited not set")
	}
	until := time.Unix(pm.CooldownUntil, 0)
	if d := time.Until(until); d < 100*time.Second || d > 121*time.Second {
		t.Errorf("cooldown window = %v", d)
	}

	// Rate-limited halves health and makes the provider unavailable.
	if h := m.Health("p"); h > 0.5 {
		t.Errorf("rate-limited health = %v", h)
	}
	if m.IsAvailable("p") {
		t.Error("provider in cooldown reported available")
	}

	if err := m.ClearRateLimit("p"); err != nil {
		t.Fatal(err)
	}
	if !m.IsAvailable("p") {
		t.Error("provider unavailable after clear")
	}
}

func TestCheckRateLimitNoSignal(t *testing.T) {
	m := openTest(t)
	hit, err := m.CheckRateLimit("p", map[string]string{"Content-Type": "application/json"})
	if err != nil || hit {
		t.Fatalf("hit=%v err=%v", hit, err)
	}
	if m.Snapshot("p").RateLimited {
		t.Error("rate_limited set without signal")
	}
}

func TestMetricsPersistAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model_metrics.json")

	m, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = m.RecordGeneration("p", 150*time.Millisecond, 2, 4, true)

	m2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	pm := m2.Snapshot("p")
	if pm.Requests != 1 || pm.TokensOut != 4 {
		t.Errorf("reopened ledger = %+v", pm)
	}
}
