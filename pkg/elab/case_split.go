package elab

import (
	"github.com/kanon-lang/kanon/pkg/kernel"
)

// state is a saved engine state: the metavariable environment snapshot and
// the constraint queue at a point in time. Both are persistent, so a state
// is two field copies.
type state struct {
	menv  kernel.MetavarSnapshot
	queue Queue
}

// caseSplit is one open branching point on the engine's stack. next
// advances to the following alternative, restoring the saved state; it
// reports false (setting the engine conflict) when exhausted.
type caseSplit interface {
	next(s *Session) bool
	currentAssumption() kernel.Justification
	addFailure(j kernel.Justification)
}

type baseSplit struct {
	curr   kernel.Justification
	prev   state
	failed []kernel.Justification
}

func (b *baseSplit) currentAssumption() kernel.Justification { return b.curr }
func (b *baseSplit) addFailure(j kernel.Justification)       { b.failed = append(b.failed, j) }

// choiceSplit enumerates the alternatives of a Choice constraint.
type choiceSplit struct {
	baseSplit
	choice *kernel.Constraint
	idx    int
}

func (cs *choiceSplit) next(s *Session) bool {
	if cs.idx >= len(cs.choice.Choices) {
		s.conflict = &kernel.FailureByCases{C: cs.choice, Failed: cs.failed}
		return false
	}
	alt := cs.choice.Choices[cs.idx]
	cs.idx++
	cs.curr = s.mkAssumption()
	s.restore(cs.prev)
	s.pushFront(kernel.MkEqConstraint(cs.choice.Ctx, cs.choice.M, alt, cs.curr))
	return true
}

// genericSplit holds eagerly prepared alternative states (projection and
// imitation branches). Alternatives are explored from the last pushed.
type genericSplit struct {
	baseSplit
	constraint  *kernel.Constraint
	idx         int
	states      []state
	assumptions []kernel.Justification
}

func (gs *genericSplit) pushAlternative(st state, a kernel.Justification) {
	gs.states = append(gs.states, st)
	gs.assumptions = append(gs.assumptions, a)
}

func (gs *genericSplit) next(s *Session) bool {
	sz := len(gs.states)
	if gs.idx >= sz {
		s.conflict = &kernel.FailureByCases{C: gs.constraint, Failed: gs.failed}
		return false
	}
	i := sz - gs.idx - 1
	gs.idx++
	gs.curr = gs.assumptions[i]
	s.restore(gs.states[i])
	return true
}

// pluginSplit drains a plugin's lazy alternative stream.
type pluginSplit struct {
	baseSplit
	constraint *kernel.Constraint
	result     PluginResult
}

func (ps *pluginSplit) next(s *Session) bool {
	ps.curr = s.mkAssumption()
	s.restore(ps.prev)
	cnstrs, err := ps.result.Next(ps.curr, s.menv)
	if err != nil {
		s.conflict = &kernel.FailureByCases{C: ps.constraint, Failed: ps.failed}
		return false
	}
	for _, c := range cnstrs {
		s.pushFront(c)
	}
	return true
}

// synthSplit drains a synthesizer's candidate stream for a metavariable.
type synthSplit struct {
	baseSplit
	metavar *kernel.Name
	ctx     *kernel.Context
	result  SynthesizerResult
}

func (ss *synthSplit) next(s *Session) bool {
	cand, err := ss.result.Next()
	if err != nil {
		s.conflict = &kernel.NextSolution{Assumptions: ss.failed}
		return false
	}
	ss.curr = s.mkAssumption()
	s.restore(ss.prev)
	s.pushFront(kernel.MkEqConstraint(ss.ctx, kernel.MkMetavar(ss.metavar, nil), cand, ss.curr))
	return true
}
