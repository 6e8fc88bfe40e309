package kernel

import (
	"fmt"
	"strings"
)

// Justification records why a constraint exists or failed. Justifications
// form a DAG whose leaves are case-split assumptions; conflict resolution
// walks the DAG to find the assumptions a failure depends on.
type Justification interface {
	// Children returns the justifications this node was derived from.
	Children() []Justification
	Describe() string
}

// DependsOn reports whether target is reachable from j. Nodes are visited
// at most once, so sharing in the DAG stays cheap.
func DependsOn(j, target Justification) bool {
	if j == nil || target == nil {
		return false
	}
	visited := map[Justification]bool{}
	todo := []Justification{j}
	for len(todo) > 0 {
		cur := todo[len(todo)-1]
		todo = todo[:len(todo)-1]
		if cur == target {
			return true
		}
		if cur == nil || visited[cur] {
			continue
		}
		visited[cur] = true
		todo = append(todo, cur.Children()...)
	}
	return false
}

// Assumption is the leaf justification of one case-split branch.
type Assumption struct {
	ID int
}

func (a *Assumption) Children() []Justification { return nil }
func (a *Assumption) Describe() string          { return fmt.Sprintf("assumption %d", a.ID) }

// Destruct justifies constraints produced by decomposing c.
type Destruct struct {
	C *Constraint
}

func (d *Destruct) Children() []Justification { return []Justification{d.C.Justification} }
func (d *Destruct) Describe() string          { return "destruct " + d.C.String() }

// Substitution justifies rewriting c with one or more metavariable
// assignments.
type Substitution struct {
	C    *Constraint
	Subs []Justification
}

func (s *Substitution) Children() []Justification {
	out := make([]Justification, 0, len(s.Subs)+1)
	out = append(out, s.C.Justification)
	out = append(out, s.Subs...)
	return out
}

func (s *Substitution) Describe() string { return "substitution into " + s.C.String() }

// NormalizeJustification justifies rewriting c by normalization steps.
type NormalizeJustification struct {
	C *Constraint
}

func (n *NormalizeJustification) Children() []Justification { return []Justification{n.C.Justification} }
func (n *NormalizeJustification) Describe() string          { return "normalize " + n.C.String() }

// UnificationFailure marks c as unsatisfiable.
type UnificationFailure struct {
	C *Constraint
}

func (u *UnificationFailure) Children() []Justification { return []Justification{u.C.Justification} }
func (u *UnificationFailure) Describe() string          { return "failed to unify " + u.C.String() }

// FailureByCases marks c unsatisfiable after all branches of its case split
// failed; Failed holds one conflict per branch.
type FailureByCases struct {
	C      *Constraint
	Failed []Justification
}

func (u *FailureByCases) Children() []Justification {
	out := make([]Justification, 0, len(u.Failed)+1)
	out = append(out, u.C.Justification)
	out = append(out, u.Failed...)
	return out
}

func (u *FailureByCases) Describe() string {
	return fmt.Sprintf("all %d cases failed for %s", len(u.Failed), u.C)
}

// NextSolution drives the search away from the current solution: it depends
// on every assumption of the case splits that produced it.
type NextSolution struct {
	Assumptions []Justification
}

func (n *NextSolution) Children() []Justification { return n.Assumptions }
func (n *NextSolution) Describe() string          { return "next solution requested" }

// Assignment justifies a metavariable assignment made to solve c.
type Assignment struct {
	C *Constraint
}

func (a *Assignment) Children() []Justification { return []Justification{a.C.Justification} }
func (a *Assignment) Describe() string          { return "assignment solving " + a.C.String() }

// TypeOfMetavar justifies the convertibility constraint between a
// metavariable's declared type and the type of its assignment.
type TypeOfMetavar struct {
	Metavar      *Name
	DeclaredType *Expr
	ValueType    *Expr
	AssignJst    Justification
}

func (t *TypeOfMetavar) Children() []Justification { return []Justification{t.AssignJst} }
func (t *TypeOfMetavar) Describe() string {
	return fmt.Sprintf("type of ?%s: %s vs %s", t.Metavar, t.DeclaredType, t.ValueType)
}

// InferredBy justifies residual constraints emitted by the type inferer.
type InferredBy struct {
	Expr *Expr
}

func (i *InferredBy) Children() []Justification { return nil }
func (i *InferredBy) Describe() string          { return "type inference of " + i.Expr.String() }

// ExplainJustification renders the dependency tree of j for error messages,
// one node per line, children indented.
func ExplainJustification(j Justification) string {
	var b strings.Builder
	seen := map[Justification]bool{}
	var walk func(j Justification, depth int)
	walk = func(j Justification, depth int) {
		if j == nil {
			return
		}
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(j.Describe())
		b.WriteString("\n")
		if seen[j] {
			return
		}
		seen[j] = true
		for _, c := range j.Children() {
			walk(c, depth+1)
		}
	}
	walk(j, 0)
	return b.String()
}
