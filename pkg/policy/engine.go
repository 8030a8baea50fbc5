package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/rs/zerolog"
)

// Engine evaluates Rego policies against the compiled declaration list.
// It implements engine.PolicyGate.
type Engine struct {
	mu       sync.RWMutex
	builtins map[string]*compiledPolicy
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
	now      func() time.Time
}

var _ engine.PolicyGate = (*Engine)(nil)

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		builtins: make(map[string]*compiledPolicy),
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		now:      time.Now,
	}

	builtins := BuiltinPolicies()
	for i := range builtins {
		cp, err := compile(context.Background(), &builtins[i])
		if err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
		e.builtins[cp.policy.Name] = cp
		e.policies[cp.policy.Name] = cp
	}

	e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	return e, nil
}

// Check implements engine.PolicyGate. Warnings are logged; blocking
// violations are returned as a policy-denied error.
func (e *Engine) Check(ctx context.Context, decls []*engine.Declaration) error {
	result, err := e.Evaluate(ctx, decls)
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		e.logger.Warn().
			Str("policy", w.Policy).
			Str("resource", w.Resource).
			Str("severity", string(w.Severity)).
			Msg(w.Message)
	}
	if result.Allowed {
		return nil
	}

	msgs := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		e.logger.Error().
			Str("policy", v.Policy).
			Str("resource", v.Resource).
			Str("severity", string(v.Severity)).
			Msg(v.Message)
		msgs = append(msgs, v.String())
	}
	return engine.NewPolicyDeniedError(msgs)
}

// Evaluate runs every enabled policy against decls.
func (e *Engine) Evaluate(ctx context.Context, decls []*engine.Declaration) (*Result, error) {
	start := e.now()

	in, err := NewInput(decls)
	if err != nil {
		return nil, err
	}
	doc, err := toDocument(in)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true, EvaluatedAt: start}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, doc)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		for _, v := range violations {
			if v.Severity.Blocks() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}
	result.Duration = e.now().Sub(start)

	e.logger.Debug().
		Int("declarations", len(decls)).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// LoadPolicies loads policy files and directories on top of the built-ins.
// A loaded policy replaces any policy of the same name.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.ReplaceLoaded(ctx, policies)
}

// ReplaceLoaded swaps every non-builtin policy for policies. Nothing is
// replaced if any of them fails to compile. A built-in shadowed by an
// earlier load comes back when it is no longer shadowed.
func (e *Engine) ReplaceLoaded(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		cp, err := compile(ctx, &policies[i])
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		compiled[policies[i].Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy, len(e.builtins)+len(compiled))
	for name, cp := range e.builtins {
		e.policies[name] = cp
	}
	for name, cp := range compiled {
		e.policies[name] = cp
	}

	e.logger.Info().Int("count", len(policies)).Msg("Policies loaded")
	return nil
}

// Watch keeps the loaded policies in sync with paths until ctx is done.
// A reload that fails to compile keeps the previous set.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	return NewLoader(e.logger).Watch(ctx, paths, func(policies []Policy) error {
		return e.ReplaceLoaded(ctx, policies)
	})
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, doc interface{}) ([]Violation, error) {
	rs, err := cp.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, r := range rs {
		for _, expr := range r.Expressions {
			set, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, item := range set {
				violations = append(violations, newViolation(cp.policy, item))
			}
		}
	}
	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Resource != violations[j].Resource {
			return violations[i].Resource < violations[j].Resource
		}
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

// newViolation reads a deny entry, which is either a string or an object
// with message, severity, resource and remediation.
func newViolation(p *Policy, item interface{}) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}

	switch x := item.(type) {
	case string:
		v.Message = x
	case map[string]interface{}:
		if msg, ok := x["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := x["severity"].(string); ok && Severity(sev).Validate() == nil {
			v.Severity = Severity(sev)
		}
		if res, ok := x["resource"].(string); ok {
			v.Resource = res
		}
		if rem, ok := x["remediation"].(string); ok {
			v.Remediation = rem
		}
	default:
		v.Message = fmt.Sprintf("%v", item)
	}
	return v
}

// compile parses p and prepares a query for data.<package>.deny.
func compile(ctx context.Context, p *Policy) (*compiledPolicy, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("policy name is required")
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	if err := p.Severity.Validate(); err != nil {
		return nil, err
	}

	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{policy: p, query: query}, nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// toDocument turns in into plain JSON values for the evaluator.
func toDocument(in *Input) (interface{}, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy input: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode policy input: %w", err)
	}
	return doc, nil
}
