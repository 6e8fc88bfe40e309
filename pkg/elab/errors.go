package elab

import (
	"github.com/kanon-lang/kanon/pkg/kernel"
)

// ElaborationError reports that the constraint set is unsatisfiable. The
// conflict justification transitively reaches every assumption the failure
// depends on.
type ElaborationError struct {
	Conflict kernel.Justification
}

func (e *ElaborationError) Error() string {
	msg := "elaboration failed"
	if e.Conflict != nil {
		msg += ": " + e.Conflict.Describe()
	}
	return msg
}

// Explain renders the conflict's justification tree.
func (e *ElaborationError) Explain() string {
	return kernel.ExplainJustification(e.Conflict)
}

// NoSolutionsError reports that the session's solution stream is exhausted.
type NoSolutionsError struct {
	Conflict kernel.Justification
}

func (e *NoSolutionsError) Error() string {
	return "no more solutions"
}
