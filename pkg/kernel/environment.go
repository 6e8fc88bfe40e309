package kernel

import (
	"sync"

	"github.com/pkg/errors"
)

// ObjectKind discriminates environment declarations.
type ObjectKind int

const (
	ObjVar ObjectKind = iota
	ObjAxiom
	ObjDefinition
	ObjTheorem
	ObjBuiltin
	ObjUvarCnstr
)

func (k ObjectKind) String() string {
	switch k {
	case ObjVar:
		return "variable"
	case ObjAxiom:
		return "axiom"
	case ObjDefinition:
		return "definition"
	case ObjTheorem:
		return "theorem"
	case ObjBuiltin:
		return "builtin"
	case ObjUvarCnstr:
		return "universe"
	}
	return "object"
}

// Object is one environment declaration.
type Object struct {
	Kind   ObjectKind
	Name   *Name
	Type   *Expr
	Value  *Expr // definition/theorem body, builtin value
	Opaque bool
	Weight int    // definition unfolding weight
	Level  *Level // ObjUvarCnstr bound
}

// IsDefinition reports whether the object can be unfolded by the
// normalizer.
func (o Object) IsDefinition() bool {
	return o.Kind == ObjDefinition || o.Kind == ObjTheorem
}

// Environment is an append-only store of declarations and universe
// constraints. Environments form a tree: a child shares its parent
// read-only, and a parent with live children rejects writes. The root's
// lock serializes access across the tree.
type Environment struct {
	parent *Environment
	mu     *sync.RWMutex // shared with every environment in the tree

	objects  []Object
	byName   map[*Name]int
	children int

	uc    *UniverseConstraints
	uvars []*Level
}

// NewEnvironment returns a fresh root environment with the builtin
// universes (bot, M >= 1, U >= M+1) and boolean values declared.
func NewEnvironment() *Environment {
	env := &Environment{
		mu:     &sync.RWMutex{},
		byName: make(map[*Name]int),
		uc:     NewUniverseConstraints(),
	}
	env.uc.AddVar(LevelBottom.UVarName())
	env.uvars = append(env.uvars, LevelBottom)
	mustDecl := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	mustDecl(envAddUvarLocked(env, LevelM.UVarName(), LevelBottom.Add(1)))
	mustDecl(envAddUvarLocked(env, LevelU.UVarName(), LevelM.Add(1)))
	env.appendObject(Object{Kind: ObjBuiltin, Name: Bool.Value().ValueName(), Type: TypeExpr, Value: Bool})
	env.appendObject(Object{Kind: ObjBuiltin, Name: True.Value().ValueName(), Type: Bool, Value: True})
	env.appendObject(Object{Kind: ObjBuiltin, Name: False.Value().ValueName(), Type: Bool, Value: False})
	return env
}

// MkChild creates a child environment. The parent becomes read-only until
// the child is released.
func (env *Environment) MkChild() *Environment {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.children++
	return &Environment{
		parent: env,
		mu:     env.mu,
		byName: make(map[*Name]int),
		uc:     env.uc.clone(),
		uvars:  append([]*Level(nil), env.uvars...),
	}
}

// Release detaches a child environment, making its parent writable again
// once every child is released.
func (env *Environment) Release() {
	if env.parent == nil {
		return
	}
	env.mu.Lock()
	defer env.mu.Unlock()
	env.parent.children--
}

func (uc *UniverseConstraints) clone() *UniverseConstraints {
	out := NewUniverseConstraints()
	for n := range uc.vars {
		out.vars[n] = true
	}
	for u, row := range uc.edges {
		dst := make(map[*Name]int, len(row))
		for v, k := range row {
			dst[v] = k
		}
		out.edges[u] = dst
	}
	return out
}

func (env *Environment) appendObject(o Object) {
	env.byName[o.Name] = len(env.objects)
	env.objects = append(env.objects, o)
}

func (env *Environment) lookupLocked(n *Name) (Object, bool) {
	for cur := env; cur != nil; cur = cur.parent {
		if i, ok := cur.byName[n]; ok {
			return cur.objects[i], true
		}
	}
	return Object{}, false
}

// LookupObject returns the declaration of n.
func (env *Environment) LookupObject(n *Name) (Object, error) {
	env.mu.RLock()
	defer env.mu.RUnlock()
	if o, ok := env.lookupLocked(n); ok {
		return o, nil
	}
	return Object{}, errors.WithStack(&UnknownObjectError{Name: n})
}

// FindObject is LookupObject without the error, for probing.
func (env *Environment) FindObject(n *Name) (Object, bool) {
	env.mu.RLock()
	defer env.mu.RUnlock()
	return env.lookupLocked(n)
}

// Objects returns every declaration visible from env in insertion order,
// oldest first.
func (env *Environment) Objects() []Object {
	env.mu.RLock()
	defer env.mu.RUnlock()
	var chain []*Environment
	for cur := env; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	var out []Object
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i].objects...)
	}
	return out
}

func (env *Environment) checkWritable() error {
	if env.children > 0 {
		return errors.WithStack(&ReadOnlyEnvironmentError{})
	}
	return nil
}

func (env *Environment) checkUndeclared(n *Name) error {
	if _, ok := env.lookupLocked(n); ok {
		return errors.WithStack(&AlreadyDeclaredError{Name: n})
	}
	return nil
}

// AddVar declares a variable (an opaque constant) of the given type.
func (env *Environment) AddVar(n *Name, ty *Expr) error {
	env.mu.Lock()
	defer env.mu.Unlock()
	if err := env.checkWritable(); err != nil {
		return err
	}
	if err := env.checkUndeclared(n); err != nil {
		return err
	}
	env.appendObject(Object{Kind: ObjVar, Name: n, Type: ty})
	return nil
}

// AddAxiom declares an axiom of the given type.
func (env *Environment) AddAxiom(n *Name, ty *Expr) error {
	env.mu.Lock()
	defer env.mu.Unlock()
	if err := env.checkWritable(); err != nil {
		return err
	}
	if err := env.checkUndeclared(n); err != nil {
		return err
	}
	env.appendObject(Object{Kind: ObjAxiom, Name: n, Type: ty})
	return nil
}

// checkDeclaration verifies that value inhabits ty, or infers ty when nil.
// Runs before the write lock is taken: declaration bodies are metavariable
// free, so checking needs only read access.
func (env *Environment) checkDeclaration(n *Name, ty, value *Expr) (*Expr, error) {
	vty, err := InferType(env, value, EmptyContext)
	if err != nil {
		return nil, errors.Wrapf(err, "checking %s", n)
	}
	if ty == nil {
		return vty, nil
	}
	ok, err := IsConvertible(env, EmptyContext, vty, ty)
	if err != nil {
		return nil, errors.Wrapf(err, "checking %s", n)
	}
	if !ok {
		return nil, errors.WithStack(&DefTypeMismatchError{Name: n, DeclaredType: ty, Value: value, ValueType: vty})
	}
	return ty, nil
}

// AddDefinition declares a definition with a declared type, checking that
// the body inhabits it. A nil type is inferred from the body.
func (env *Environment) AddDefinition(n *Name, ty, value *Expr, opaque bool) error {
	ty, err := env.checkDeclaration(n, ty, value)
	if err != nil {
		return err
	}
	env.mu.Lock()
	defer env.mu.Unlock()
	if err := env.checkWritable(); err != nil {
		return err
	}
	if err := env.checkUndeclared(n); err != nil {
		return err
	}
	env.appendObject(Object{
		Kind: ObjDefinition, Name: n, Type: ty, Value: value,
		Opaque: opaque, Weight: env.computeWeightLocked(value),
	})
	return nil
}

// AddTheorem declares a theorem: an opaque definition whose body proves the
// declared type.
func (env *Environment) AddTheorem(n *Name, ty, value *Expr) error {
	if _, err := env.checkDeclaration(n, ty, value); err != nil {
		return err
	}
	env.mu.Lock()
	defer env.mu.Unlock()
	if err := env.checkWritable(); err != nil {
		return err
	}
	if err := env.checkUndeclared(n); err != nil {
		return err
	}
	env.appendObject(Object{Kind: ObjTheorem, Name: n, Type: ty, Value: value, Opaque: true, Weight: 0})
	return nil
}

// AddBuiltin declares a semantic value under its own name.
func (env *Environment) AddBuiltin(v *Expr) error {
	val := v.Value()
	env.mu.Lock()
	defer env.mu.Unlock()
	if err := env.checkWritable(); err != nil {
		return err
	}
	if err := env.checkUndeclared(val.ValueName()); err != nil {
		return err
	}
	env.appendObject(Object{Kind: ObjBuiltin, Name: val.ValueName(), Type: val.ValueType(), Value: v})
	return nil
}

// SetOpaque flips the opaque flag of a definition.
func (env *Environment) SetOpaque(n *Name, opaque bool) error {
	env.mu.Lock()
	defer env.mu.Unlock()
	if err := env.checkWritable(); err != nil {
		return err
	}
	i, ok := env.byName[n]
	if !ok {
		return errors.WithStack(&UnknownObjectError{Name: n})
	}
	env.objects[i].Opaque = opaque
	return nil
}

// computeWeightLocked returns 1 + the maximum weight of the definitions
// referenced by value.
func (env *Environment) computeWeightLocked(value *Expr) int {
	w := 0
	var walk func(e *Expr)
	walk = func(e *Expr) {
		if e.kind == ExprConst {
			if o, ok := env.lookupLocked(e.name); ok && o.IsDefinition() && o.Weight > w {
				w = o.Weight
			}
			return
		}
		eachChild(e, walk)
	}
	walk(value)
	return w + 1
}

// AddUvarCnstr declares (or further constrains) universe variable n with
// n >= l, returning n's level.
func (env *Environment) AddUvarCnstr(n *Name, l *Level) (*Level, error) {
	env.mu.Lock()
	defer env.mu.Unlock()
	if err := env.checkWritable(); err != nil {
		return nil, err
	}
	if err := envAddUvarLocked(env, n, l); err != nil {
		return nil, err
	}
	return UVar(n), nil
}

func envAddUvarLocked(env *Environment, n *Name, l *Level) error {
	if !env.uc.HasVar(n) {
		env.uc.AddVar(n)
		env.uvars = append(env.uvars, UVar(n))
	}
	env.appendObject(Object{Kind: ObjUvarCnstr, Name: n, Level: l})
	return env.addLevelConstraints(n, l, 0)
}

func (env *Environment) addLevelConstraints(n *Name, l *Level, k int) error {
	switch l.Kind() {
	case LevelUVar:
		if !env.uc.HasVar(l.UVarName()) {
			return errors.WithStack(&UnknownUniverseError{Name: l.UVarName()})
		}
		return env.uc.AddConstraint(n, l.UVarName(), k)
	case LevelLift:
		k2, ok := safeAdd(k, l.LiftOffset())
		if !ok {
			return errors.Errorf("universe overflow constraining %s", n)
		}
		return env.addLevelConstraints(n, l.LiftOf(), k2)
	case LevelMax:
		for _, c := range l.MaxLevels() {
			if err := env.addLevelConstraints(n, c, k); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

// GetUvar returns the level of a declared universe variable.
func (env *Environment) GetUvar(n *Name) (*Level, error) {
	env.mu.RLock()
	defer env.mu.RUnlock()
	if env.uc.HasVar(n) {
		return UVar(n), nil
	}
	return nil, errors.WithStack(&UnknownUniverseError{Name: n})
}

// IsGe reports whether l1 >= l2 is implied by the declared constraints.
func (env *Environment) IsGe(l1, l2 *Level) bool {
	env.mu.RLock()
	defer env.mu.RUnlock()
	ok, err := env.isGeLocked(l1, l2, 0)
	return err == nil && ok
}

// IsGeK reports whether l1 >= l2 + k is implied, failing on offset
// overflow.
func (env *Environment) IsGeK(l1, l2 *Level, k int) (bool, error) {
	env.mu.RLock()
	defer env.mu.RUnlock()
	return env.isGeLocked(l1, l2, k)
}

func (env *Environment) isGeLocked(l1, l2 *Level, k int) (bool, error) {
	if l1.Equal(l2) {
		return k <= 0, nil
	}
	switch l2.Kind() {
	case LevelUVar:
		switch l1.Kind() {
		case LevelUVar:
			return env.uc.IsImplied(l1.UVarName(), l2.UVarName(), k), nil
		case LevelLift:
			k2, ok := safeSub(k, l1.LiftOffset())
			if !ok {
				return false, errors.Errorf("universe overflow comparing %s and %s", l1, l2)
			}
			return env.isGeLocked(l1.LiftOf(), l2, k2)
		case LevelMax:
			for _, c := range l1.MaxLevels() {
				ok, err := env.isGeLocked(c, l2, k)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		}
	case LevelLift:
		k2, ok := safeAdd(k, l2.LiftOffset())
		if !ok {
			return false, errors.Errorf("universe overflow comparing %s and %s", l1, l2)
		}
		return env.isGeLocked(l1, l2.LiftOf(), k2)
	case LevelMax:
		for _, c := range l2.MaxLevels() {
			ok, err := env.isGeLocked(l1, c, k)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
	return false, nil
}
