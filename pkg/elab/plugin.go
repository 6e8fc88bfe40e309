package elab

import (
	"github.com/pkg/errors"

	"github.com/kanon-lang/kanon/pkg/kernel"
)

// ErrNoAlternatives is returned by synthesizer and plugin streams when
// their lazy sequence is exhausted.
var ErrNoAlternatives = errors.New("no more alternatives")

// Synthesizer proposes candidate terms for an unassigned metavariable from
// its inferred type. The engine explores the candidates as a case split.
type Synthesizer interface {
	Synthesize(env *kernel.Environment, menv *kernel.MetavarEnv, m *kernel.Name, ty *kernel.Expr) SynthesizerResult
}

// SynthesizerResult is a lazy stream of candidate terms.
type SynthesizerResult interface {
	// Next returns the next candidate, or ErrNoAlternatives.
	Next() (*kernel.Expr, error)
}

// Plugin extends the engine with domain-specific constraint solving: given
// a constraint the core cannot reduce, it yields alternatives explored as a
// case split.
type Plugin interface {
	// Solve returns a stream of alternatives for c, or false when the
	// plugin does not apply.
	Solve(c *kernel.Constraint, menv *kernel.MetavarEnv) (PluginResult, bool)
}

// PluginResult is a lazy stream of alternatives. Each call may mutate menv
// (create or assign metavariables) and returns constraints to enqueue; the
// engine restores the pre-split state before every call and guards the
// branch with the supplied assumption.
type PluginResult interface {
	Next(assumption kernel.Justification, menv *kernel.MetavarEnv) ([]*kernel.Constraint, error)
}
