package kernel

import (
	"fmt"
	"strings"
)

// LocalEntry is one deferred operation on a metavariable's eventual
// assignment: either a lift of free variables >= S by N, or the
// instantiation of free variable S with the term V.
type LocalEntry struct {
	isLift bool
	s      int
	n      int   // lift amount
	v      *Expr // inst term
}

// MkLiftEntry records that free variables >= s must be lifted by n.
func MkLiftEntry(s, n int) LocalEntry {
	return LocalEntry{isLift: true, s: s, n: n}
}

// MkInstEntry records that free variable i must be replaced by t.
func MkInstEntry(i int, t *Expr) LocalEntry {
	return LocalEntry{s: i, v: t}
}

// IsLift reports whether the entry is a lift.
func (le LocalEntry) IsLift() bool { return le.isLift }

// LiftStart returns the first index affected by a lift, or the
// instantiated index for an inst entry.
func (le LocalEntry) LiftStart() int { return le.s }

// LiftAmount returns the lift offset.
func (le LocalEntry) LiftAmount() int { return le.n }

// InstIndex returns the instantiated variable index.
func (le LocalEntry) InstIndex() int { return le.s }

// InstValue returns the substituted term of an inst entry.
func (le LocalEntry) InstValue() *Expr { return le.v }

func (le LocalEntry) hash() uint64 {
	if le.isLift {
		return mixHash(mixHash(23, uint64(le.s)), uint64(le.n))
	}
	return mixHash(mixHash(29, uint64(le.s)), le.v.hash)
}

func (le LocalEntry) String() string {
	if le.isLift {
		return fmt.Sprintf("lift:%d:%d", le.s, le.n)
	}
	return fmt.Sprintf("inst:%d %s", le.s, le.v)
}

// LocalContext is the ordered list of deferred operations carried by a
// metavariable. The head entry is the outermost operation: applying the
// context to an assignment processes entries from last to first.
type LocalContext []LocalEntry

// EmptyLocalContext is the local context of a freshly created metavariable.
var EmptyLocalContext = LocalContext(nil)

// Head returns the outermost entry.
func (lc LocalContext) Head() LocalEntry {
	return lc[0]
}

// Tail returns the context without its outermost entry.
func (lc LocalContext) Tail() LocalContext {
	return lc[1:]
}

// Empty reports whether the context has no entries.
func (lc LocalContext) Empty() bool { return len(lc) == 0 }

// push prepends an entry, becoming the new outermost operation.
func (lc LocalContext) push(e LocalEntry) LocalContext {
	out := make(LocalContext, 0, len(lc)+1)
	out = append(out, e)
	out = append(out, lc...)
	return out
}

// compose collapses adjacent lift entries where legal: an outer
// lift(s2, n2) over lift(s1, n1) with s1 <= s2 <= s1+n1 is lift(s1, n1+n2).
func (lc LocalContext) compose() LocalContext {
	if len(lc) < 2 {
		return lc
	}
	out := make(LocalContext, 0, len(lc))
	for i := len(lc) - 1; i >= 0; i-- {
		e := lc[i]
		if e.isLift && len(out) > 0 {
			inner := out[len(out)-1]
			if inner.isLift && inner.s <= e.s && e.s <= inner.s+inner.n {
				out[len(out)-1] = MkLiftEntry(inner.s, inner.n+e.n)
				continue
			}
		}
		out = append(out, e)
	}
	// out was built innermost-first; restore outermost-first order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (lc LocalContext) String() string {
	parts := make([]string, len(lc))
	for i, e := range lc {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// AddLift pushes a lift entry onto a metavariable's local context.
// When menv is provided and the metavariable's creation context shows it
// cannot mention any variable >= s, the entry is dropped.
func AddLift(m *Expr, s, n int, menv ReadOnlyMetavarEnv) *Expr {
	m.check(ExprMetavar)
	if n == 0 {
		return m
	}
	if menv != nil && m.lctx.Empty() {
		if ctx, ok := menv.ContextOf(m.name); ok && ctx.Size() <= s {
			return m
		}
	}
	return MkMetavar(m.name, m.lctx.push(MkLiftEntry(s, n)))
}

// AddInst pushes an inst entry onto a metavariable's local context, subject
// to the same creation-context minimization as AddLift.
func AddInst(m *Expr, i int, t *Expr, menv ReadOnlyMetavarEnv) *Expr {
	m.check(ExprMetavar)
	if menv != nil && m.lctx.Empty() {
		if ctx, ok := menv.ContextOf(m.name); ok && ctx.Size() <= i {
			return m
		}
	}
	if !m.lctx.Empty() {
		// Instantiating a variable introduced by the outermost lift only
		// shrinks the lift: the assignment has no occurrence to replace.
		head := m.lctx.Head()
		if head.isLift && head.s <= i && i < head.s+head.n {
			rest := m.lctx.Tail()
			if head.n == 1 {
				return MkMetavar(m.name, rest)
			}
			return MkMetavar(m.name, rest.push(MkLiftEntry(head.s, head.n-1)))
		}
	}
	return MkMetavar(m.name, m.lctx.push(MkInstEntry(i, t)))
}

// PopLocalCtx removes the outermost local-context entry.
func PopLocalCtx(m *Expr) *Expr {
	m.check(ExprMetavar)
	return MkMetavar(m.name, m.lctx.Tail())
}
