package policy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openfroyo/rancherhost/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are logged but never block a run.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the run.
	SeverityError Severity = "error"

	// SeverityCritical blocks the run.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity aborts the run.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Validate checks if the severity is known.
func (s Severity) Validate() error {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid severity: %q", s)
	}
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. The module must define a
	// "deny" set in its package.
	Rego string `json:"rego"`

	// Severity is used for violations that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks the policies shipped with the binary.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file a loaded policy came from.
	Source string `json:"source,omitempty"`
}

// Violation is a single finding produced by a policy.
type Violation struct {
	Policy      string   `json:"policy"`
	Resource    string   `json:"resource,omitempty"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	Remediation string   `json:"remediation,omitempty"`
}

func (v Violation) String() string {
	if v.Resource == "" {
		return fmt.Sprintf("%s: %s", v.Policy, v.Message)
	}
	return fmt.Sprintf("%s: %s: %s", v.Policy, v.Resource, v.Message)
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	// Allowed is false when any violation blocks.
	Allowed bool `json:"allowed"`

	// Violations lists blocking findings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists findings that do not block.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the policies that ran, sorted by name.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	EvaluatedAt time.Time     `json:"evaluated_at"`
	Duration    time.Duration `json:"duration"`
}

// Input is the document exposed to policies as "input".
type Input struct {
	Declarations []DeclarationInput `json:"declarations"`
}

// DeclarationInput is one declaration as policies see it. Spec is the
// JSON form of the kind's spec struct.
type DeclarationInput struct {
	ID     string          `json:"id"`
	Kind   string          `json:"kind"`
	Name   string          `json:"name"`
	Action string          `json:"action"`
	Recipe string          `json:"recipe"`
	Spec   json.RawMessage `json:"spec"`
}

// NewInput converts compiled declarations into policy input.
func NewInput(decls []*engine.Declaration) (*Input, error) {
	in := &Input{Declarations: make([]DeclarationInput, 0, len(decls))}
	for _, d := range decls {
		spec, err := json.Marshal(d.Spec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", d, err)
		}
		in.Declarations = append(in.Declarations, DeclarationInput{
			ID:     d.String(),
			Kind:   string(d.Kind),
			Name:   d.Name,
			Action: string(d.Action),
			Recipe: d.Recipe,
			Spec:   spec,
		})
	}
	return in, nil
}
