package kernel

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// ExprKind discriminates expression variants.
type ExprKind int

const (
	ExprVar ExprKind = iota
	ExprConst
	ExprValue
	ExprType
	ExprApp
	ExprLambda
	ExprPi
	ExprEq
	ExprLet
	ExprMetavar
)

func (k ExprKind) String() string {
	switch k {
	case ExprVar:
		return "Var"
	case ExprConst:
		return "Const"
	case ExprValue:
		return "Value"
	case ExprType:
		return "Type"
	case ExprApp:
		return "App"
	case ExprLambda:
		return "Lambda"
	case ExprPi:
		return "Pi"
	case ExprEq:
		return "Eq"
	case ExprLet:
		return "Let"
	case ExprMetavar:
		return "Metavar"
	}
	return "Unknown"
}

// Value is a semantic attachment: a builtin with an optional reduction hook.
// Equality of value expressions is delegated to the stored name.
type Value interface {
	ValueName() *Name
	ValueType() *Expr
	// NormalizeValue asks the value to reduce an application headed by it.
	// args[0] is the value itself. The bool reports whether reduction fired.
	NormalizeValue(args []*Expr) (*Expr, bool)
}

// unboundedFree marks nodes whose free-variable range is unknown
// (metavariables may mention any variable in scope).
const unboundedFree = math.MaxInt32

// Expr is a term of the calculus. Expressions are immutable and hash-consed:
// structurally equal expressions are the same pointer.
type Expr struct {
	kind ExprKind
	hash uint64

	// freeUpper is one past the largest free de Bruijn index, or
	// unboundedFree when the node contains a metavariable whose
	// dependencies are unknown.
	freeUpper int
	hasMeta   bool

	idx    int     // ExprVar
	name   *Name   // ExprConst, ExprLambda/ExprPi/ExprLet binder, ExprMetavar
	ctype  *Expr   // ExprConst cached type, ExprLet optional type
	levels []*Level // ExprConst universe arguments
	level  *Level  // ExprType
	val    Value   // ExprValue
	args   []*Expr // ExprApp, len >= 2, head not an App
	domain *Expr   // ExprLambda, ExprPi
	body   *Expr   // ExprLambda, ExprPi, ExprLet
	lhs    *Expr   // ExprEq
	rhs    *Expr   // ExprEq
	lval   *Expr   // ExprLet value
	lctx   LocalContext // ExprMetavar
}

var (
	exprMu    sync.RWMutex
	exprTable = map[uint64][]*Expr{}
)

// intern canonicalizes e, returning the shared node for its structure.
func intern(e *Expr) *Expr {
	e.hash = structuralHash(e)
	exprMu.RLock()
	for _, cand := range exprTable[e.hash] {
		if structurallyEqual(cand, e) {
			exprMu.RUnlock()
			return cand
		}
	}
	exprMu.RUnlock()
	exprMu.Lock()
	defer exprMu.Unlock()
	for _, cand := range exprTable[e.hash] {
		if structurallyEqual(cand, e) {
			return cand
		}
	}
	exprTable[e.hash] = append(exprTable[e.hash], e)
	return e
}

func structuralHash(e *Expr) uint64 {
	h := mixHash(17, uint64(e.kind))
	switch e.kind {
	case ExprVar:
		h = mixHash(h, uint64(e.idx))
	case ExprConst:
		h = mixHash(h, e.name.Hash())
		for _, l := range e.levels {
			h = mixHash(h, l.Hash())
		}
	case ExprValue:
		h = mixHash(h, e.val.ValueName().Hash())
	case ExprType:
		h = mixHash(h, e.level.Hash())
	case ExprApp:
		for _, a := range e.args {
			h = mixHash(h, a.hash)
		}
	case ExprLambda, ExprPi:
		h = mixHash(mixHash(h, e.domain.hash), e.body.hash)
	case ExprEq:
		h = mixHash(mixHash(h, e.lhs.hash), e.rhs.hash)
	case ExprLet:
		if e.ctype != nil {
			h = mixHash(h, e.ctype.hash)
		}
		h = mixHash(mixHash(h, e.lval.hash), e.body.hash)
	case ExprMetavar:
		h = mixHash(h, e.name.Hash())
		for _, entry := range e.lctx {
			h = mixHash(h, entry.hash())
		}
	}
	return h
}

// structurallyEqual compares one level deep; children are compared by
// pointer since they are already interned.
func structurallyEqual(a, b *Expr) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case ExprVar:
		return a.idx == b.idx
	case ExprConst:
		if a.name != b.name || len(a.levels) != len(b.levels) {
			return false
		}
		for i := range a.levels {
			if !a.levels[i].Equal(b.levels[i]) {
				return false
			}
		}
		return true
	case ExprValue:
		return a.val.ValueName() == b.val.ValueName()
	case ExprType:
		return a.level.Equal(b.level)
	case ExprApp:
		if len(a.args) != len(b.args) {
			return false
		}
		for i := range a.args {
			if a.args[i] != b.args[i] {
				return false
			}
		}
		return true
	case ExprLambda, ExprPi:
		return a.domain == b.domain && a.body == b.body
	case ExprEq:
		return a.lhs == b.lhs && a.rhs == b.rhs
	case ExprLet:
		return a.ctype == b.ctype && a.lval == b.lval && a.body == b.body
	case ExprMetavar:
		if a.name != b.name || len(a.lctx) != len(b.lctx) {
			return false
		}
		for i := range a.lctx {
			if a.lctx[i] != b.lctx[i] {
				return false
			}
		}
		return true
	}
	return false
}

func maxFree(vals ...int) int {
	m := 0
	for _, v := range vals {
		if v > m {
			m = v
		}
	}
	return m
}

// dropBinder adjusts a body's free range for one enclosing binder.
func dropBinder(freeUpper int) int {
	if freeUpper == unboundedFree {
		return unboundedFree
	}
	if freeUpper > 0 {
		return freeUpper - 1
	}
	return 0
}

// MkVar returns the bound variable with de Bruijn index i.
func MkVar(i int) *Expr {
	return intern(&Expr{kind: ExprVar, idx: i, freeUpper: i + 1})
}

// MkConst returns the constant named n.
func MkConst(n *Name) *Expr {
	return intern(&Expr{kind: ExprConst, name: n})
}

// MkConstLevels returns the constant n applied to universe arguments.
func MkConstLevels(n *Name, levels []*Level) *Expr {
	return intern(&Expr{kind: ExprConst, name: n, levels: levels})
}

// MkConstWithType returns the constant n with a cached declared type.
// The cached type does not participate in structural equality.
func MkConstWithType(n *Name, ty *Expr) *Expr {
	c := MkConst(n)
	if c.ctype == nil {
		c.ctype = ty
	}
	return c
}

// MkType returns the universe at the given level.
func MkType(l *Level) *Expr {
	return intern(&Expr{kind: ExprType, level: l})
}

// MkValue returns the expression wrapping a semantic value.
func MkValue(v Value) *Expr {
	return intern(&Expr{kind: ExprValue, val: v})
}

// mkTransientValue wraps a value without interning. Used for normalizer
// closures, which must not be identified by name.
func mkTransientValue(v Value) *Expr {
	e := &Expr{kind: ExprValue, val: v}
	e.hash = structuralHash(e)
	return e
}

// MkApp builds an application, flattening a head that is itself an
// application. A single part collapses to the part itself.
func MkApp(parts ...*Expr) *Expr {
	if len(parts) == 0 {
		panic("kernel: empty application")
	}
	if len(parts) == 1 {
		return parts[0]
	}
	var args []*Expr
	if parts[0].kind == ExprApp {
		args = append(args, parts[0].args...)
	} else {
		args = append(args, parts[0])
	}
	args = append(args, parts[1:]...)
	free := 0
	meta := false
	for _, a := range args {
		free = maxFree(free, a.freeUpper)
		meta = meta || a.hasMeta
	}
	return intern(&Expr{kind: ExprApp, args: args, freeUpper: free, hasMeta: meta})
}

// MkLambda returns a lambda abstraction.
func MkLambda(n *Name, domain, body *Expr) *Expr {
	return intern(&Expr{
		kind: ExprLambda, name: n, domain: domain, body: body,
		freeUpper: maxFree(domain.freeUpper, dropBinder(body.freeUpper)),
		hasMeta:   domain.hasMeta || body.hasMeta,
	})
}

// MkPi returns a dependent function type.
func MkPi(n *Name, domain, body *Expr) *Expr {
	return intern(&Expr{
		kind: ExprPi, name: n, domain: domain, body: body,
		freeUpper: maxFree(domain.freeUpper, dropBinder(body.freeUpper)),
		hasMeta:   domain.hasMeta || body.hasMeta,
	})
}

// MkEq returns an equality between two terms.
func MkEq(lhs, rhs *Expr) *Expr {
	return intern(&Expr{
		kind: ExprEq, lhs: lhs, rhs: rhs,
		freeUpper: maxFree(lhs.freeUpper, rhs.freeUpper),
		hasMeta:   lhs.hasMeta || rhs.hasMeta,
	})
}

// MkLet returns a let binding. ty may be nil.
func MkLet(n *Name, ty, value, body *Expr) *Expr {
	free := maxFree(value.freeUpper, dropBinder(body.freeUpper))
	meta := value.hasMeta || body.hasMeta
	if ty != nil {
		free = maxFree(free, ty.freeUpper)
		meta = meta || ty.hasMeta
	}
	return intern(&Expr{
		kind: ExprLet, name: n, ctype: ty, lval: value, body: body,
		freeUpper: free, hasMeta: meta,
	})
}

// MkMetavar returns a metavariable node with the given local context,
// composing adjacent lift entries where legal.
func MkMetavar(n *Name, lctx LocalContext) *Expr {
	lctx = lctx.compose()
	return intern(&Expr{
		kind: ExprMetavar, name: n, lctx: lctx,
		freeUpper: unboundedFree, hasMeta: true,
	})
}

// Accessors. Each panics when applied to the wrong kind, mirroring how the
// construction invariants are enforced.

func (e *Expr) Kind() ExprKind { return e.kind }

func (e *Expr) VarIdx() int {
	e.check(ExprVar)
	return e.idx
}

func (e *Expr) ConstName() *Name {
	e.check(ExprConst)
	return e.name
}

func (e *Expr) ConstLevels() []*Level {
	e.check(ExprConst)
	return e.levels
}

func (e *Expr) ConstType() *Expr {
	e.check(ExprConst)
	return e.ctype
}

func (e *Expr) TypeLevel() *Level {
	e.check(ExprType)
	return e.level
}

func (e *Expr) Value() Value {
	e.check(ExprValue)
	return e.val
}

func (e *Expr) NumArgs() int {
	e.check(ExprApp)
	return len(e.args)
}

func (e *Expr) Arg(i int) *Expr {
	e.check(ExprApp)
	return e.args[i]
}

func (e *Expr) Args() []*Expr {
	e.check(ExprApp)
	return e.args
}

func (e *Expr) BinderName() *Name {
	if e.kind != ExprLambda && e.kind != ExprPi && e.kind != ExprLet {
		panic("kernel: BinderName on " + e.kind.String())
	}
	return e.name
}

func (e *Expr) Domain() *Expr {
	if e.kind != ExprLambda && e.kind != ExprPi {
		panic("kernel: Domain on " + e.kind.String())
	}
	return e.domain
}

func (e *Expr) Body() *Expr {
	if e.kind != ExprLambda && e.kind != ExprPi && e.kind != ExprLet {
		panic("kernel: Body on " + e.kind.String())
	}
	return e.body
}

func (e *Expr) EqLHS() *Expr {
	e.check(ExprEq)
	return e.lhs
}

func (e *Expr) EqRHS() *Expr {
	e.check(ExprEq)
	return e.rhs
}

func (e *Expr) LetType() *Expr {
	e.check(ExprLet)
	return e.ctype
}

func (e *Expr) LetValue() *Expr {
	e.check(ExprLet)
	return e.lval
}

func (e *Expr) MetavarName() *Name {
	e.check(ExprMetavar)
	return e.name
}

func (e *Expr) LocalCtx() LocalContext {
	e.check(ExprMetavar)
	return e.lctx
}

func (e *Expr) check(k ExprKind) {
	if e.kind != k {
		panic(fmt.Sprintf("kernel: %s accessor on %s", k, e.kind))
	}
}

// Hash returns the structural hash.
func (e *Expr) Hash() uint64 { return e.hash }

// IsAbstraction reports whether e is a lambda or a Pi.
func (e *Expr) IsAbstraction() bool {
	return e.kind == ExprLambda || e.kind == ExprPi
}

// HasMetavar reports whether e contains a metavariable node.
func (e *Expr) HasMetavar() bool { return e.hasMeta }

// IsMetavarWithLocalCtx reports whether e is a metavariable carrying a
// non-empty local context.
func (e *Expr) IsMetavarWithLocalCtx() bool {
	return e.kind == ExprMetavar && len(e.lctx) > 0
}

func (e *Expr) String() string {
	switch e.kind {
	case ExprVar:
		return fmt.Sprintf("#%d", e.idx)
	case ExprConst:
		return e.name.String()
	case ExprValue:
		return e.val.ValueName().String()
	case ExprType:
		if e.level.Equal(LevelBottom) {
			return "Type"
		}
		return fmt.Sprintf("Type(%s)", e.level)
	case ExprApp:
		parts := make([]string, len(e.args))
		for i, a := range e.args {
			parts[i] = a.String()
		}
		return "(" + strings.Join(parts, " ") + ")"
	case ExprLambda:
		return fmt.Sprintf("(fun %s : %s, %s)", binderLabel(e.name), e.domain, e.body)
	case ExprPi:
		return fmt.Sprintf("(Pi %s : %s, %s)", binderLabel(e.name), e.domain, e.body)
	case ExprEq:
		return fmt.Sprintf("(%s = %s)", e.lhs, e.rhs)
	case ExprLet:
		return fmt.Sprintf("(let %s := %s in %s)", binderLabel(e.name), e.lval, e.body)
	case ExprMetavar:
		if len(e.lctx) == 0 {
			return "?" + e.name.String()
		}
		return fmt.Sprintf("?%s%s", e.name, e.lctx)
	}
	return "<expr>"
}

func binderLabel(n *Name) string {
	if n.IsAnonymous() {
		return "_"
	}
	return n.String()
}
