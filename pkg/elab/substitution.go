package elab

import (
	"github.com/kanon-lang/kanon/pkg/kernel"
)

// Substitution is one solution produced by a session: a frozen assignment
// of metavariables.
type Substitution struct {
	menv *kernel.MetavarEnv
}

// Apply replaces every assigned metavariable in e by its solution.
func (s *Substitution) Apply(e *kernel.Expr) *kernel.Expr {
	return s.menv.InstantiateMetavars(e)
}

// Get returns the term assigned to m, fully substituted, or nil.
func (s *Substitution) Get(m *kernel.Name) *kernel.Expr {
	v := s.menv.GetSubst(m)
	if v == nil {
		return nil
	}
	return s.menv.InstantiateMetavars(v)
}

// ForEach visits the assignments in metavariable creation order. Terms are
// fully substituted.
func (s *Substitution) ForEach(f func(m *kernel.Name, t *kernel.Expr)) {
	s.menv.ForEachAssignment(func(m *kernel.Name, v *kernel.Expr) {
		f(m, s.menv.InstantiateMetavars(v))
	})
}
