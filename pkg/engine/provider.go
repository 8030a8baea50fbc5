package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Provider converges declarations of one kind. Implementations must be
// idempotent: converging an already satisfied declaration reports
// Changed=false and touches nothing.
type Provider interface {
	// Kind returns the resource kind this provider handles.
	Kind() Kind

	// Converge brings the host in line with d. In dry-run mode it only
	// reports whether a change would be made.
	Converge(ctx context.Context, d *Declaration, dryRun bool) (*Outcome, error)
}

// Outcome describes what a provider did, or would have done in dry-run.
type Outcome struct {
	// Changed is true when host state was (or would be) modified.
	Changed bool `json:"changed"`

	// Message is a short human-readable summary such as "content updated".
	Message string `json:"message,omitempty"`

	// Details holds provider-specific information, e.g. the backup path.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Unchanged returns an outcome for a declaration that already holds.
func Unchanged(msg string) *Outcome {
	return &Outcome{Message: msg}
}

// Changed returns an outcome for a declaration that was (or would be) applied.
func Changed(msg string) *Outcome {
	return &Outcome{Changed: true, Message: msg}
}

// WithDetail adds a detail field to the outcome.
func (o *Outcome) WithDetail(key string, value interface{}) *Outcome {
	if o.Details == nil {
		o.Details = make(map[string]interface{})
	}
	o.Details[key] = value
	return o
}

// ProviderRegistry maps kinds to providers.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[Kind]Provider
}

// NewProviderRegistry creates a registry with the given providers.
func NewProviderRegistry(providers ...Provider) (*ProviderRegistry, error) {
	r := &ProviderRegistry{providers: make(map[Kind]Provider)}
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a provider. Registering a second provider for a kind fails.
func (r *ProviderRegistry) Register(p Provider) error {
	if err := p.Kind().Validate(); err != nil {
		return NewInternalError("cannot register provider", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Kind()]; exists {
		return NewInternalError(fmt.Sprintf("provider for %s already registered", p.Kind()), nil)
	}
	r.providers[p.Kind()] = p
	return nil
}

// Get returns the provider for kind.
func (r *ProviderRegistry) Get(kind Kind) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[kind]
	if !ok {
		return nil, NewInternalError(fmt.Sprintf("no provider registered for kind %s", kind), nil).
			WithCode(ErrCodeProviderMissing)
	}
	return p, nil
}

// Kinds returns the registered kinds, sorted.
func (r *ProviderRegistry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.providers))
	for k := range r.providers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CheckCoverage returns an error naming the first declaration whose kind has
// no provider. The orchestrator runs it before touching the host.
func (r *ProviderRegistry) CheckCoverage(decls []*Declaration) error {
	for _, d := range decls {
		if _, err := r.Get(d.Kind); err != nil {
			return err.(*EngineError).WithResource(d.String())
		}
	}
	return nil
}
