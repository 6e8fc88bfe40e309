package kernel

import (
	"math"

	"github.com/pkg/errors"
)

// safeAdd adds offsets, reporting overflow instead of wrapping.
func safeAdd(a, b int) (int, bool) {
	if b > 0 && a > math.MaxInt-b {
		return 0, false
	}
	if b < 0 && a < math.MinInt-b {
		return 0, false
	}
	return a + b, true
}

func safeSub(a, b int) (int, bool) {
	if b == math.MinInt {
		if a >= 0 {
			return 0, false
		}
		return a - b, true
	}
	return safeAdd(a, -b)
}

// UniverseConstraints is a directed graph over universe variables. An edge
// u -> v with weight k records the constraint u >= v + k. The transitive
// closure is maintained on insertion, so implication queries are lookups.
type UniverseConstraints struct {
	vars  map[*Name]bool
	edges map[*Name]map[*Name]int // longest known path weight
}

// NewUniverseConstraints returns an empty constraint store.
func NewUniverseConstraints() *UniverseConstraints {
	return &UniverseConstraints{
		vars:  make(map[*Name]bool),
		edges: make(map[*Name]map[*Name]int),
	}
}

// AddVar declares a universe variable.
func (uc *UniverseConstraints) AddVar(n *Name) {
	uc.vars[n] = true
}

// HasVar reports whether n was declared.
func (uc *UniverseConstraints) HasVar(n *Name) bool {
	return uc.vars[n]
}

func (uc *UniverseConstraints) weight(u, v *Name) (int, bool) {
	row, ok := uc.edges[u]
	if !ok {
		return 0, false
	}
	k, ok := row[v]
	return k, ok
}

func (uc *UniverseConstraints) relax(u, v *Name, k int) error {
	if u == v {
		if k > 0 {
			return errors.Errorf("universe inconsistency: %s >= %s + %d", u, v, k)
		}
		return nil
	}
	row := uc.edges[u]
	if row == nil {
		row = make(map[*Name]int)
		uc.edges[u] = row
	}
	if old, ok := row[v]; !ok || k > old {
		row[v] = k
	}
	return nil
}

// AddConstraint inserts u >= v + k and updates the closure. It fails when the
// new edge is inconsistent with the existing constraints or when the closure
// arithmetic overflows.
func (uc *UniverseConstraints) AddConstraint(u, v *Name, k int) error {
	if !uc.IsConsistent(u, v, k) {
		return errors.Errorf("universe inconsistency: %s >= %s + %d", u, v, k)
	}
	if uc.Overflows(u, v, k) {
		return errors.Errorf("universe overflow: %s >= %s + %d", u, v, k)
	}
	uc.AddVar(u)
	uc.AddVar(v)

	// Sources reaching u, including u itself; targets reachable from v,
	// including v itself.
	type hop struct {
		n *Name
		k int
	}
	srcs := []hop{{u, 0}}
	for a, row := range uc.edges {
		if w, ok := row[u]; ok {
			srcs = append(srcs, hop{a, w})
		}
	}
	dsts := []hop{{v, 0}}
	if row, ok := uc.edges[v]; ok {
		for b, w := range row {
			dsts = append(dsts, hop{b, w})
		}
	}
	for _, s := range srcs {
		for _, d := range dsts {
			w1, ok1 := safeAdd(s.k, k)
			if !ok1 {
				return errors.Errorf("universe overflow: %s >= %s + %d", u, v, k)
			}
			w, ok2 := safeAdd(w1, d.k)
			if !ok2 {
				return errors.Errorf("universe overflow: %s >= %s + %d", u, v, k)
			}
			if err := uc.relax(s.n, d.n, w); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsImplied reports whether u >= v + k follows from the stored constraints.
// Every variable trivially satisfies u >= u + k for k <= 0.
func (uc *UniverseConstraints) IsImplied(u, v *Name, k int) bool {
	if u == v {
		return k <= 0
	}
	w, ok := uc.weight(u, v)
	return ok && w >= k
}

// IsConsistent reports whether adding u >= v + k would keep the store free of
// positive cycles.
func (uc *UniverseConstraints) IsConsistent(u, v *Name, k int) bool {
	if u == v {
		return k <= 0
	}
	if w, ok := uc.weight(v, u); ok {
		sum, okAdd := safeAdd(w, k)
		if !okAdd || sum > 0 {
			return false
		}
	}
	return true
}

// Overflows reports whether inserting u >= v + k would overflow the closure
// offset arithmetic.
func (uc *UniverseConstraints) Overflows(u, v *Name, k int) bool {
	srcs := []int{0}
	for _, row := range uc.edges {
		if w, ok := row[u]; ok {
			srcs = append(srcs, w)
		}
	}
	dsts := []int{0}
	if row, ok := uc.edges[v]; ok {
		for _, w := range row {
			dsts = append(dsts, w)
		}
	}
	for _, s := range srcs {
		for _, d := range dsts {
			w1, ok := safeAdd(s, k)
			if !ok {
				return true
			}
			if _, ok := safeAdd(w1, d); !ok {
				return true
			}
		}
	}
	return false
}
