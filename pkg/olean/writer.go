// Package olean persists environments as a self-describing binary stream:
// the header "oleanfile" with a version pair, a sequence of tagged
// declaration records, and an EndFile terminator.
package olean

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/kanon-lang/kanon/pkg/kernel"
)

const (
	header       = "oleanfile"
	versionMajor = 1
	versionMinor = 0
)

// Record tags.
const (
	recEndFile byte = iota
	recUvar
	recVar
	recAxiom
	recDefinition
	recTheorem
	recBuiltin
)

// Name tags.
const (
	nameAnon byte = iota
	nameStr
	nameNum
)

// Level tags.
const (
	levelUvar byte = iota
	levelLift
	levelMax
)

// Expression tags.
const (
	exprVar byte = iota
	exprConst
	exprValue
	exprType
	exprApp
	exprLambda
	exprPi
	exprEq
	exprLet
	exprMetavar
)

type writer struct {
	w   *bufio.Writer
	err error
}

func (w *writer) byte(b byte) {
	if w.err == nil {
		w.err = w.w.WriteByte(b)
	}
}

func (w *writer) uvarint(v uint64) {
	if w.err != nil {
		return
	}
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, w.err = w.w.Write(buf[:n])
}

func (w *writer) int(v int) {
	w.uvarint(uint64(int64(v))<<1 ^ uint64(int64(v)>>63))
}

func (w *writer) string(s string) {
	w.uvarint(uint64(len(s)))
	if w.err == nil {
		_, w.err = w.w.WriteString(s)
	}
}

func (w *writer) bool(b bool) {
	if b {
		w.byte(1)
	} else {
		w.byte(0)
	}
}

func (w *writer) name(n *kernel.Name) {
	if n.IsAnonymous() {
		w.byte(nameAnon)
		return
	}
	// Emit from the root down so the reader can rebuild by extension.
	var parts []*kernel.Name
	for cur := n; !cur.IsAnonymous(); cur = cur.Parent() {
		parts = append(parts, cur)
	}
	for i := len(parts) - 1; i >= 0; i-- {
		p := parts[i]
		if p.IsNumPart() {
			w.byte(nameNum)
			w.int(p.NumPart())
		} else {
			w.byte(nameStr)
			w.string(p.StrPart())
		}
	}
	w.byte(nameAnon)
}

func (w *writer) level(l *kernel.Level) {
	switch l.Kind() {
	case kernel.LevelUVar:
		w.byte(levelUvar)
		w.name(l.UVarName())
	case kernel.LevelLift:
		w.byte(levelLift)
		w.level(l.LiftOf())
		w.int(l.LiftOffset())
	case kernel.LevelMax:
		w.byte(levelMax)
		children := l.MaxLevels()
		w.uvarint(uint64(len(children)))
		for _, c := range children {
			w.level(c)
		}
	}
}

func (w *writer) expr(e *kernel.Expr) {
	switch e.Kind() {
	case kernel.ExprVar:
		w.byte(exprVar)
		w.int(e.VarIdx())
	case kernel.ExprConst:
		w.byte(exprConst)
		w.name(e.ConstName())
		levels := e.ConstLevels()
		w.uvarint(uint64(len(levels)))
		for _, l := range levels {
			w.level(l)
		}
	case kernel.ExprValue:
		w.byte(exprValue)
		w.name(e.Value().ValueName())
	case kernel.ExprType:
		w.byte(exprType)
		w.level(e.TypeLevel())
	case kernel.ExprApp:
		w.byte(exprApp)
		w.uvarint(uint64(e.NumArgs()))
		for _, a := range e.Args() {
			w.expr(a)
		}
	case kernel.ExprLambda, kernel.ExprPi:
		if e.Kind() == kernel.ExprLambda {
			w.byte(exprLambda)
		} else {
			w.byte(exprPi)
		}
		w.name(e.BinderName())
		w.expr(e.Domain())
		w.expr(e.Body())
	case kernel.ExprEq:
		w.byte(exprEq)
		w.expr(e.EqLHS())
		w.expr(e.EqRHS())
	case kernel.ExprLet:
		w.byte(exprLet)
		w.name(e.BinderName())
		w.bool(e.LetType() != nil)
		if e.LetType() != nil {
			w.expr(e.LetType())
		}
		w.expr(e.LetValue())
		w.expr(e.Body())
	case kernel.ExprMetavar:
		w.byte(exprMetavar)
		w.name(e.MetavarName())
		lctx := e.LocalCtx()
		w.uvarint(uint64(len(lctx)))
		for _, le := range lctx {
			w.bool(le.IsLift())
			if le.IsLift() {
				w.int(le.LiftStart())
				w.int(le.LiftAmount())
			} else {
				w.int(le.InstIndex())
				w.expr(le.InstValue())
			}
		}
	}
}

// The prelude declared by kernel.NewEnvironment is never serialized; the
// reader starts from a fresh environment that already contains it.
var (
	preludeBuiltins = map[string]bool{"Bool": true, "true": true, "false": true}
	preludeUvars    = map[string]bool{"bot": true, "M": true, "U": true}
)

func isPrelude(obj kernel.Object) bool {
	switch obj.Kind {
	case kernel.ObjBuiltin:
		return preludeBuiltins[obj.Name.String()]
	case kernel.ObjUvarCnstr:
		return preludeUvars[obj.Name.String()]
	}
	return false
}

// Write serializes env's declarations to out.
func Write(env *kernel.Environment, out io.Writer) error {
	bw := bufio.NewWriter(out)
	w := &writer{w: bw}
	if _, err := bw.WriteString(header); err != nil {
		return errors.Wrap(err, "writing olean header")
	}
	w.uvarint(versionMajor)
	w.uvarint(versionMinor)
	for _, obj := range env.Objects() {
		if isPrelude(obj) {
			continue
		}
		switch obj.Kind {
		case kernel.ObjUvarCnstr:
			w.byte(recUvar)
			w.name(obj.Name)
			w.level(obj.Level)
		case kernel.ObjVar:
			w.byte(recVar)
			w.name(obj.Name)
			w.expr(obj.Type)
		case kernel.ObjAxiom:
			w.byte(recAxiom)
			w.name(obj.Name)
			w.expr(obj.Type)
		case kernel.ObjDefinition:
			w.byte(recDefinition)
			w.name(obj.Name)
			w.expr(obj.Type)
			w.expr(obj.Value)
			w.bool(obj.Opaque)
		case kernel.ObjTheorem:
			w.byte(recTheorem)
			w.name(obj.Name)
			w.expr(obj.Type)
			w.expr(obj.Value)
		case kernel.ObjBuiltin:
			w.byte(recBuiltin)
			w.name(obj.Name)
		}
	}
	w.byte(recEndFile)
	if w.err != nil {
		return errors.Wrap(w.err, "writing olean records")
	}
	return errors.Wrap(bw.Flush(), "flushing olean stream")
}
