package kernel

import (
	"fmt"
	"strings"
)

// LevelKind discriminates universe level expressions.
type LevelKind int

const (
	LevelUVar LevelKind = iota
	LevelLift
	LevelMax
)

// Level is a universe level expression: a universe variable, a variable
// lifted by a non-negative offset, or the maximum of two or more levels.
//
// Levels are kept in normal form: a lift always wraps a variable, and a max
// is flattened with at most one entry per base variable (keeping the greatest
// offset).
type Level struct {
	kind LevelKind

	name *Name // LevelUVar
	of   *Level
	k    int      // LevelLift offset, k >= 0
	lvls []*Level // LevelMax children, len >= 2
}

// LevelBottom is the bottom universe variable.
var LevelBottom = UVar(NameOf("bot"))

// UVar returns the level naming the universe variable n.
func UVar(n *Name) *Level {
	return &Level{kind: LevelUVar, name: n}
}

// Kind returns the level's kind.
func (l *Level) Kind() LevelKind { return l.kind }

// UVarName returns the variable name of a LevelUVar.
func (l *Level) UVarName() *Name {
	if l.kind != LevelUVar {
		panic("kernel: UVarName on non-uvar level")
	}
	return l.name
}

// LiftOf returns the lifted base level of a LevelLift.
func (l *Level) LiftOf() *Level {
	if l.kind != LevelLift {
		panic("kernel: LiftOf on non-lift level")
	}
	return l.of
}

// LiftOffset returns the offset of a LevelLift.
func (l *Level) LiftOffset() int {
	if l.kind != LevelLift {
		panic("kernel: LiftOffset on non-lift level")
	}
	return l.k
}

// MaxLevels returns the children of a LevelMax.
func (l *Level) MaxLevels() []*Level {
	if l.kind != LevelMax {
		panic("kernel: MaxLevels on non-max level")
	}
	return l.lvls
}

func (l *Level) base() *Level {
	if l.kind == LevelLift {
		return l.of
	}
	return l
}

func (l *Level) offset() int {
	if l.kind == LevelLift {
		return l.k
	}
	return 0
}

// Add lifts the level by k, normalizing so lifts only wrap variables.
func (l *Level) Add(k int) *Level {
	if k < 0 {
		panic("kernel: negative level offset")
	}
	if k == 0 {
		return l
	}
	switch l.kind {
	case LevelUVar:
		return &Level{kind: LevelLift, of: l, k: k}
	case LevelLift:
		return &Level{kind: LevelLift, of: l.of, k: l.k + k}
	case LevelMax:
		lifted := make([]*Level, len(l.lvls))
		for i, c := range l.lvls {
			lifted[i] = c.Add(k)
		}
		return &Level{kind: LevelMax, lvls: lifted}
	}
	panic("unreachable")
}

// MaxLevel returns the normalized maximum of the given levels: flattened,
// with one entry per base variable keeping the greatest offset. A singleton
// result collapses to the level itself.
func MaxLevel(ls ...*Level) *Level {
	var flat []*Level
	push := func(l *Level) {
		for i, existing := range flat {
			if existing.base().Equal(l.base()) {
				if existing.offset() < l.offset() {
					flat[i] = l
				}
				return
			}
		}
		flat = append(flat, l)
	}
	for _, l := range ls {
		if l.kind == LevelMax {
			for _, c := range l.lvls {
				push(c)
			}
		} else {
			push(l)
		}
	}
	if len(flat) == 0 {
		return LevelBottom
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return &Level{kind: LevelMax, lvls: flat}
}

// Equal is structural equality of normalized levels.
func (l *Level) Equal(other *Level) bool {
	if l == other {
		return true
	}
	if l == nil || other == nil || l.kind != other.kind {
		return false
	}
	switch l.kind {
	case LevelUVar:
		return l.name.Equal(other.name)
	case LevelLift:
		return l.k == other.k && l.of.Equal(other.of)
	case LevelMax:
		if len(l.lvls) != len(other.lvls) {
			return false
		}
		for i := range l.lvls {
			if !l.lvls[i].Equal(other.lvls[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Hash returns a structural hash of the level.
func (l *Level) Hash() uint64 {
	switch l.kind {
	case LevelUVar:
		return mixHash(3, l.name.Hash())
	case LevelLift:
		return mixHash(mixHash(5, l.of.Hash()), uint64(l.k))
	case LevelMax:
		h := uint64(7)
		for _, c := range l.lvls {
			h = mixHash(h, c.Hash())
		}
		return h
	}
	return 0
}

func (l *Level) String() string {
	switch l.kind {
	case LevelUVar:
		return l.name.String()
	case LevelLift:
		return fmt.Sprintf("%s+%d", l.of, l.k)
	case LevelMax:
		parts := make([]string, len(l.lvls))
		for i, c := range l.lvls {
			parts[i] = c.String()
		}
		return "(max " + strings.Join(parts, " ") + ")"
	}
	return "?"
}
