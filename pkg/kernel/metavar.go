package kernel

// ReadOnlyMetavarEnv is the view of a metavariable environment needed by the
// substitution primitives: which context a metavariable was created in. The
// substitution code accepts a nil environment and behaves conservatively.
type ReadOnlyMetavarEnv interface {
	ContextOf(m *Name) (*Context, bool)
}

type metavarCell struct {
	assignment *Expr // nil while unassigned
	just       Justification
	ctx        *Context
	mtype      *Expr // nil when no type was inferred yet
}

// menvLayer is a frozen overlay of metavariable records. Layers are shared
// between the live environment and its snapshots; cells in a layer are
// never mutated.
type menvLayer struct {
	cells  map[*Name]*metavarCell
	parent *menvLayer
}

func (l *menvLayer) lookup(m *Name) (*metavarCell, bool) {
	for cur := l; cur != nil; cur = cur.parent {
		if c, ok := cur.cells[m]; ok {
			return c, true
		}
	}
	return nil, false
}

// MetavarEnv maps metavariable names to their assignment, creation context,
// inferred type and assignment justification. The environment is mutable
// and owned by one engine; Snapshot captures the current state with
// structural sharing so case splits can save and restore it cheaply.
type MetavarEnv struct {
	top  map[*Name]*metavarCell
	base *menvLayer
	next int
}

var metaRoot = NameOf("M")

// NewMetavarEnv returns an empty metavariable environment.
func NewMetavarEnv() *MetavarEnv {
	return &MetavarEnv{top: make(map[*Name]*metavarCell)}
}

// MetavarSnapshot is a saved metavariable environment state.
type MetavarSnapshot struct {
	base *menvLayer
	next int
}

// Snapshot freezes the current state. The live environment keeps accepting
// writes; restoring the snapshot discards them.
func (me *MetavarEnv) Snapshot() MetavarSnapshot {
	if len(me.top) > 0 {
		me.base = &menvLayer{cells: me.top, parent: me.base}
		me.top = make(map[*Name]*metavarCell)
	}
	return MetavarSnapshot{base: me.base, next: me.next}
}

// Freeze returns a read-only copy of the current state, sharing structure
// with the live environment.
func (me *MetavarEnv) Freeze() *MetavarEnv {
	s := me.Snapshot()
	return &MetavarEnv{top: make(map[*Name]*metavarCell), base: s.base, next: s.next}
}

// Restore rewinds the environment to a snapshot. The same snapshot may be
// restored any number of times.
func (me *MetavarEnv) Restore(s MetavarSnapshot) {
	me.top = make(map[*Name]*metavarCell)
	me.base = s.base
	me.next = s.next
}

func (me *MetavarEnv) lookup(m *Name) (*metavarCell, bool) {
	if me == nil {
		return nil, false
	}
	if c, ok := me.top[m]; ok {
		return c, true
	}
	return me.base.lookup(m)
}

// MkMetavar creates a fresh metavariable in the given creation context and
// returns its node (empty local context).
func (me *MetavarEnv) MkMetavar(ctx *Context) *Expr {
	n := metaRoot.Num(me.next)
	me.next++
	me.top[n] = &metavarCell{ctx: ctx}
	return MkMetavar(n, nil)
}

// MkMetavarWithType creates a fresh metavariable with a declared type.
func (me *MetavarEnv) MkMetavarWithType(ctx *Context, ty *Expr) *Expr {
	m := me.MkMetavar(ctx)
	me.SetType(m.MetavarName(), ty)
	return m
}

// Contains reports whether m was created in this environment.
func (me *MetavarEnv) Contains(m *Name) bool {
	_, ok := me.lookup(m)
	return ok
}

// IsAssigned reports whether m has an assignment.
func (me *MetavarEnv) IsAssigned(m *Name) bool {
	c, ok := me.lookup(m)
	return ok && c.assignment != nil
}

// Assign records m := v with justification j. Assigning twice or creating a
// cycle through the current substitution is a programming error.
func (me *MetavarEnv) Assign(m *Name, v *Expr, j Justification) {
	c, ok := me.lookup(m)
	if !ok {
		panic("kernel: assigning unknown metavariable " + m.String())
	}
	if c.assignment != nil {
		panic("kernel: metavariable " + m.String() + " already assigned")
	}
	me.top[m] = &metavarCell{assignment: v, just: j, ctx: c.ctx, mtype: c.mtype}
}

// GetSubst returns the assignment of m, or nil.
func (me *MetavarEnv) GetSubst(m *Name) *Expr {
	if c, ok := me.lookup(m); ok {
		return c.assignment
	}
	return nil
}

// GetJustification returns the justification recorded with m's assignment.
func (me *MetavarEnv) GetJustification(m *Name) Justification {
	if c, ok := me.lookup(m); ok {
		return c.just
	}
	return nil
}

// ContextOf returns the context m was created in.
func (me *MetavarEnv) ContextOf(m *Name) (*Context, bool) {
	c, ok := me.lookup(m)
	if !ok {
		return nil, false
	}
	return c.ctx, true
}

// HasType reports whether a type was recorded for m.
func (me *MetavarEnv) HasType(m *Name) bool {
	c, ok := me.lookup(m)
	return ok && c.mtype != nil
}

// GetType returns the recorded type of m, or nil.
func (me *MetavarEnv) GetType(m *Name) *Expr {
	if c, ok := me.lookup(m); ok {
		return c.mtype
	}
	return nil
}

// SetType records the inferred type of m.
func (me *MetavarEnv) SetType(m *Name, ty *Expr) {
	c, ok := me.lookup(m)
	if !ok {
		panic("kernel: typing unknown metavariable " + m.String())
	}
	me.top[m] = &metavarCell{assignment: c.assignment, just: c.just, ctx: c.ctx, mtype: ty}
}

// FindUnassigned returns the oldest unassigned metavariable, or nil.
func (me *MetavarEnv) FindUnassigned() *Name {
	for i := 0; i < me.next; i++ {
		n := metaRoot.Num(i)
		if c, ok := me.lookup(n); ok && c.assignment == nil {
			return n
		}
	}
	return nil
}

// ForEachAssignment calls f for every assigned metavariable in creation
// order.
func (me *MetavarEnv) ForEachAssignment(f func(m *Name, v *Expr)) {
	for i := 0; i < me.next; i++ {
		n := metaRoot.Num(i)
		if c, ok := me.lookup(n); ok && c.assignment != nil {
			f(n, c.assignment)
		}
	}
}

// ApplyLocalContext applies a metavariable local context to an assignment:
// entries run from the innermost (last) to the outermost (head).
func ApplyLocalContext(v *Expr, lctx LocalContext) *Expr {
	for i := len(lctx) - 1; i >= 0; i-- {
		e := lctx[i]
		if e.isLift {
			v = LiftFreeVars(v, e.s, e.n)
		} else {
			v = Instantiate(v, e.s, e.v)
		}
	}
	return v
}

// InstantiateMetavars replaces every assigned metavariable in e by its
// assignment with the local context applied, recursively.
func (me *MetavarEnv) InstantiateMetavars(e *Expr) *Expr {
	r, _ := me.InstantiateMetavarsJst(e)
	return r
}

// InstantiateMetavarsJst is InstantiateMetavars, also returning the
// justifications of every assignment used.
func (me *MetavarEnv) InstantiateMetavarsJst(e *Expr) (*Expr, []Justification) {
	if me == nil || !e.hasMeta {
		return e, nil
	}
	var used []Justification
	var walk func(e *Expr, depth int) *Expr
	walk = func(e *Expr, depth int) *Expr {
		if !e.hasMeta {
			return e
		}
		if e.kind == ExprMetavar {
			c, ok := me.lookup(e.name)
			if !ok || c.assignment == nil {
				lctx := e.lctx
				out := make(LocalContext, len(lctx))
				changed := false
				for i, le := range lctx {
					if !le.isLift {
						nv := walk(le.v, depth)
						changed = changed || nv != le.v
						out[i] = MkInstEntry(le.s, nv)
					} else {
						out[i] = le
					}
				}
				if !changed {
					return e
				}
				return MkMetavar(e.name, out)
			}
			if c.just != nil {
				used = append(used, c.just)
			}
			v := walk(c.assignment, depth)
			lctx := make(LocalContext, len(e.lctx))
			for i, le := range e.lctx {
				if !le.isLift {
					lctx[i] = MkInstEntry(le.s, walk(le.v, depth))
				} else {
					lctx[i] = le
				}
			}
			return ApplyLocalContext(v, lctx)
		}
		return mapChildren(e, depth, walk)
	}
	return walk(e, 0), used
}

// HasAssignedMetavar reports whether e mentions a metavariable that is
// assigned in this environment.
func (me *MetavarEnv) HasAssignedMetavar(e *Expr) bool {
	if me == nil || !e.hasMeta {
		return false
	}
	found := false
	var walk func(e *Expr)
	walk = func(e *Expr) {
		if found || !e.hasMeta {
			return
		}
		if e.kind == ExprMetavar {
			if c, ok := me.lookup(e.name); ok && c.assignment != nil {
				found = true
				return
			}
			for _, le := range e.lctx {
				if !le.isLift {
					walk(le.v)
				}
			}
			return
		}
		eachChild(e, walk)
	}
	walk(e)
	return found
}

// MentionsMetavar reports whether e mentions metavariable m, looking
// through the current substitution.
func (me *MetavarEnv) MentionsMetavar(e *Expr, m *Name) bool {
	if !e.hasMeta {
		return false
	}
	found := false
	seen := map[*Name]bool{}
	var walk func(e *Expr)
	walk = func(e *Expr) {
		if found || !e.hasMeta {
			return
		}
		if e.kind == ExprMetavar {
			if e.name == m {
				found = true
				return
			}
			for _, le := range e.lctx {
				if !le.isLift {
					walk(le.v)
				}
			}
			if me != nil && !seen[e.name] {
				seen[e.name] = true
				if c, ok := me.lookup(e.name); ok && c.assignment != nil {
					walk(c.assignment)
				}
			}
			return
		}
		eachChild(e, walk)
	}
	walk(e)
	return found
}

func eachChild(e *Expr, f func(*Expr)) {
	switch e.kind {
	case ExprApp:
		for _, a := range e.args {
			f(a)
		}
	case ExprLambda, ExprPi:
		f(e.domain)
		f(e.body)
	case ExprEq:
		f(e.lhs)
		f(e.rhs)
	case ExprLet:
		if e.ctype != nil {
			f(e.ctype)
		}
		f(e.lval)
		f(e.body)
	}
}
