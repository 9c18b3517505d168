package router

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/droverhq/drover/internal/metrics"
	"github.com/droverhq/drover/internal/providers"
)

// failing is a provider that always errors.
type failing struct{ name string }

func (f *failing) Name() string             { return f.name }
func (f *failing) SupportsStreaming() bool  { return false }
func (f *failing) AuthType() providers.AuthType { return providers.AuthAPIKey }
func (f *failing) Generate(context.Context, string, providers.Context) (string, error) {
	return "", errors.New("boom")
}

func openMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	m, err := metrics.Open(filepath.Join(t.TempDir(), "model_metrics.json"))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestGenerateExplicitProvider(t *testing.T) {
	m := openMetrics(t)
	r := New(m, nil)
	r.Register(providers.NewDummy("pinned response"))
	_ = r.SetDefault("dummy")

	out, err := r.Generate(context.Background(), "hello world", Options{Provider: "dummy"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "pinned response" {
		t.Errorf("out = %q", out)
	}

	pm := m.Snapshot("dummy")
	if pm.Requests != 1 || pm.Successes != 1 {
		t.Errorf("metrics = %+v", pm)
	}
	// Token approximation is word counts.
	if pm.TokensIn != 2 || pm.TokensOut != 2 {
		t.Errorf("tokens = %d/%d", pm.TokensIn, pm.TokensOut)
	}
}

func TestGenerateUnknownProvider(t *testing.T) {
	r := New(openMetrics(t), nil)
	if _, err := r.Generate(context.Background(), "p", Options{Provider: "nope"}); err == nil {
		t.Fatal("expected unknown provider error")
	}
}

func TestGenerateRecordsFailure(t *testing.T) {
	m := openMetrics(t)
	r := New(m, nil)
	r.Register(&failing{name: "bad"})

	_, err := r.Generate(context.Background(), "p", Options{Provider: "bad"})
	if err == nil {
		t.Fatal("expected provider error")
	}
	pm := m.Snapshot("bad")
	if pm.Failures != 1 {
		t.Errorf("failures = %d", pm.Failures)
	}
}

func TestPolicySelectionPrefersHealthy(t *testing.T) {
	m := openMetrics(t)

	// Degrade "bad" with repeated failures, keep "good" pristine.
	for i := 0; i < 5; i++ {
		_ = m.RecordGeneration("bad", 100*time.Millisecond, 1, 1, false)
		_ = m.RecordGeneration("good", 100*time.Millisecond, 1, 1, true)
	}

	r := New(m, nil)
	bad := &failing{name: "bad"}
	good := providers.NewDummy("from the healthy one")
	// Wrap the dummy so it carries the name "good".
	r.Register(bad)
	r.Register(named{Provider: good, name: "good"})
	_ = r.SetDefault("good")

	out, err := r.Generate(context.Background(), "prompt", Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "from the healthy one" {
		t.Errorf("routed to wrong provider: %q", out)
	}
}

// named renames a provider for registration.
type named struct {
	providers.Provider
	name string
}

func (n named) Name() string { return n.name }

func TestPolicyScoreBounds(t *testing.T) {
	m := openMetrics(t)
	p := NewPolicy(m)

	// Fresh provider: health 1.0*0.4 + latency <2000 (+0.3) + success >0.9
	// (+0.2) = 0.9, no streaming.
	score := p.Score("fresh", providers.NewDummy())
	if score < 0 || score > 1 {
		t.Fatalf("score out of bounds: %v", score)
	}
	if math.Abs(score-0.9) > 1e-9 {
		t.Errorf("fresh score = %v, want 0.9", score)
	}
}

func TestPolicyRateLimitedPenalty(t *testing.T) {
	m := openMetrics(t)
	if _, err := m.CheckRateLimit("p", map[string]string{"s": "429"}); err != nil {
		t.Fatal(err)
	}
	p := NewPolicy(m)
	limited := p.Score("p", providers.NewDummy())
	clean := p.Score("other", providers.NewDummy())
	if limited >= clean {
		t.Errorf("rate-limited score %v not below clean %v", limited, clean)
	}
}

func TestPolicySelectSkipsUnavailable(t *testing.T) {
	m := openMetrics(t)
	_, _ = m.CheckRateLimit("down", map[string]string{"s": "quota exceeded"})

	p := NewPolicy(m)
	lookup := func(string) providers.Provider { return providers.NewDummy() }
	got := p.Select([]string{"down", "up"}, lookup)
	if got != "up" {
		t.Errorf("selected %q, want up", got)
	}
}

func TestDefaultFallbackWhenNothingAvailable(t *testing.T) {
	m := openMetrics(t)
	_, _ = m.CheckRateLimit("dummy", map[string]string{"s": "429"})

	r := New(m, nil)
	r.Register(providers.NewDummy("still served"))
	_ = r.SetDefault("dummy")

	// Policy finds nothing available, so the default serves anyway.
	out, err := r.Generate(context.Background(), "p", Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "still served" {
		t.Errorf("out = %q", out)
	}
}
