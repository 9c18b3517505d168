// Package router dispatches generation requests across registered providers,
// tracking outcomes and rotating accounts.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/droverhq/drover/internal/auth"
	"github.com/droverhq/drover/internal/metrics"
	"github.com/droverhq/drover/internal/providers"
)

// Options steer a single generation.
type Options struct {
	// Provider pins the request to a named provider; empty means policy
	// selection.
	Provider string
	// Goal is the task goal, used as the selection hint for logging. When
	// empty the first 100 characters of the prompt stand in.
	Goal string
	// Context carries the generation knobs forwarded to the provider.
	Context providers.Context
}

// Router maps provider names to implementations and routes requests.
type Router struct {
	mu        sync.Mutex
	providers map[string]providers.Provider
	order     []string
	def       string
	metrics   *metrics.Metrics
	rotator   *auth.Rotator
	policy    *Policy
	logger    *slog.Logger
}

// New creates a Router over a metrics ledger. The rotator is optional; when
// nil no account rotation happens.
func New(m *metrics.Metrics, rotator *auth.Rotator) *Router {
	return &Router{
		providers: make(map[string]providers.Provider),
		metrics:   m,
		rotator:   rotator,
		policy:    NewPolicy(m),
		logger:    slog.Default().With("component", "router"),
	}
}

// NewDefault builds a Router with the standard provider set: openai when
// OPENAI_API_KEY is present, the offline dummy otherwise. The dummy is always
// registered as a fallback.
func NewDefault(m *metrics.Metrics, rotator *auth.Rotator) (*Router, error) {
	r := New(m, rotator)
	r.Register(providers.NewDummy())
	r.def = "dummy"

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		p, err := providers.NewOpenAI(key, "")
		if err != nil {
			return nil, fmt.Errorf("init openai provider: %w", err)
		}
		r.Register(p)
		r.def = "openai"
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		p, err := providers.NewAnthropic(key, "")
		if err != nil {
			return nil, fmt.Errorf("init anthropic provider: %w", err)
		}
		r.Register(p)
	}
	return r, nil
}

// Register adds a provider under its own name.
func (r *Router) Register(p providers.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; !exists {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// SetDefault pins the default provider. Unknown names error.
func (r *Router) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}
	r.def = name
	return nil
}

// Default returns the current default provider name.
func (r *Router) Default() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.def
}

// Get returns a registered provider, or nil.
func (r *Router) Get(name string) providers.Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.providers[name]
}

// Names lists registered providers in registration order.
func (r *Router) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Generate routes a prompt to a provider, records the outcome, and returns
// the completion. With no pinned provider the policy picks the healthiest
// candidate, falling back to the default.
func (r *Router) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	name, prov, err := r.resolve(prompt, opts)
	if err != nil {
		return "", err
	}

	pc := opts.Context
	if r.rotator != nil && prov.AuthType() != providers.AuthAPIKey {
		if acc, _, err := r.rotator.SelectAccount(name); err == nil {
			pc.AccountID = acc.AccountID
		}
	}

	start := time.Now()
	out, err := prov.Generate(ctx, prompt, pc)
	latency := time.Since(start)

	tokensIn := len(strings.Fields(prompt))
	tokensOut := len(strings.Fields(out))
	if recErr := r.metrics.RecordGeneration(name, latency, tokensIn, tokensOut, err == nil); recErr != nil {
		r.logger.Warn("record generation", "provider", name, "error", recErr)
	}
	if err != nil {
		return "", fmt.Errorf("provider %s: %w", name, err)
	}
	return out, nil
}

// resolve picks the provider serving a request.
func (r *Router) resolve(prompt string, opts Options) (string, providers.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if opts.Provider != "" {
		prov, ok := r.providers[opts.Provider]
		if !ok {
			return "", nil, fmt.Errorf("unknown provider: %s", opts.Provider)
		}
		return opts.Provider, prov, nil
	}

	hint := opts.Goal
	if hint == "" {
		hint = prompt
		if len(hint) > 100 {
			hint = hint[:100]
		}
	}

	name := r.policy.Select(r.order, func(n string) providers.Provider { return r.providers[n] })
	if name == "" {
		name = r.def
	}
	prov, ok := r.providers[name]
	if !ok {
		return "", nil, fmt.Errorf("no provider available")
	}
	r.logger.Debug("provider selected", "provider", name, "hint", hint)
	return name, prov, nil
}
