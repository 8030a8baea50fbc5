// Package engine turns recipes into an ordered list of declarations and
// converges them on the local host.
//
// # Overview
//
// A run has three phases:
//
//  1. Compile - expand the run list through the RecipeGraph and let every
//     recipe declare its resources through a Builder
//  2. Check - hand the complete declaration list to the PolicyGate
//  3. Converge - apply each declaration with the Provider for its Kind,
//     strictly in order, stopping at the first failure
//
// # Declarations
//
// A Declaration is pure data: a Kind, a Name, an Action and a Spec whose
// concrete type matches the Kind. The identity of a declaration is its
// (Kind, Name) pair; declaring the same identity twice keeps the first
// position and the last properties.
//
// # Providers
//
// Providers are idempotent. Converging a declaration that already holds
// returns an Outcome with Changed=false and leaves the host untouched:
//
//	type Provider interface {
//	    Kind() Kind
//	    Converge(ctx context.Context, d *Declaration, dryRun bool) (*Outcome, error)
//	}
//
// # Errors
//
// Errors are EngineErrors classified as config (the run never started),
// policy (the declaration list was rejected), apply (a resource failed) or
// internal. Use IsConfig, IsPolicy and IsApply, or errors.Is with the
// sentinels such as ErrCommandTimeout.
//
// # Status Tracking
//
//   - RunStatus: pending, running, converged, failed or cancelled
//   - ResourceState: pending, applying, converged or failed
//
// A run's history is written through a RunRecorder and its timeline through
// an EventPublisher; both are optional.
package engine
