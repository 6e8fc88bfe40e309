package olean

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/kanon-lang/kanon/pkg/kernel"
)

type reader struct {
	r *bufio.Reader
}

func (r *reader) byte() (byte, error) {
	return r.r.ReadByte()
}

func (r *reader) uvarint() (uint64, error) {
	return binary.ReadUvarint(r.r)
}

func (r *reader) int() (int, error) {
	v, err := r.uvarint()
	if err != nil {
		return 0, err
	}
	return int(int64(v>>1) ^ -int64(v&1)), nil
}

func (r *reader) string() (string, error) {
	n, err := r.uvarint()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (r *reader) bool() (bool, error) {
	b, err := r.byte()
	return b != 0, err
}

func (r *reader) name() (*kernel.Name, error) {
	n := kernel.Anonymous
	for {
		tag, err := r.byte()
		if err != nil {
			return nil, err
		}
		switch tag {
		case nameAnon:
			return n, nil
		case nameStr:
			s, err := r.string()
			if err != nil {
				return nil, err
			}
			n = n.Str(s)
		case nameNum:
			i, err := r.int()
			if err != nil {
				return nil, err
			}
			n = n.Num(i)
		default:
			return nil, errors.Errorf("bad name tag %d", tag)
		}
	}
}

func (r *reader) level() (*kernel.Level, error) {
	tag, err := r.byte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case levelUvar:
		n, err := r.name()
		if err != nil {
			return nil, err
		}
		return kernel.UVar(n), nil
	case levelLift:
		base, err := r.level()
		if err != nil {
			return nil, err
		}
		k, err := r.int()
		if err != nil {
			return nil, err
		}
		return base.Add(k), nil
	case levelMax:
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		children := make([]*kernel.Level, n)
		for i := range children {
			if children[i], err = r.level(); err != nil {
				return nil, err
			}
		}
		return kernel.MaxLevel(children...), nil
	}
	return nil, errors.Errorf("bad level tag %d", tag)
}

// builtinRegistry resolves serialized semantic values by name.
var builtinRegistry = map[string]*kernel.Expr{
	"Bool":  kernel.Bool,
	"true":  kernel.True,
	"false": kernel.False,
}

func (r *reader) expr() (*kernel.Expr, error) {
	tag, err := r.byte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case exprVar:
		i, err := r.int()
		if err != nil {
			return nil, err
		}
		return kernel.MkVar(i), nil
	case exprConst:
		n, err := r.name()
		if err != nil {
			return nil, err
		}
		count, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		if count == 0 {
			return kernel.MkConst(n), nil
		}
		levels := make([]*kernel.Level, count)
		for i := range levels {
			if levels[i], err = r.level(); err != nil {
				return nil, err
			}
		}
		return kernel.MkConstLevels(n, levels), nil
	case exprValue:
		n, err := r.name()
		if err != nil {
			return nil, err
		}
		v, ok := builtinRegistry[n.String()]
		if !ok {
			return nil, errors.Errorf("unknown builtin value %s", n)
		}
		return v, nil
	case exprType:
		l, err := r.level()
		if err != nil {
			return nil, err
		}
		return kernel.MkType(l), nil
	case exprApp:
		count, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		args := make([]*kernel.Expr, count)
		for i := range args {
			if args[i], err = r.expr(); err != nil {
				return nil, err
			}
		}
		return kernel.MkApp(args...), nil
	case exprLambda, exprPi:
		n, err := r.name()
		if err != nil {
			return nil, err
		}
		domain, err := r.expr()
		if err != nil {
			return nil, err
		}
		body, err := r.expr()
		if err != nil {
			return nil, err
		}
		if tag == exprLambda {
			return kernel.MkLambda(n, domain, body), nil
		}
		return kernel.MkPi(n, domain, body), nil
	case exprEq:
		lhs, err := r.expr()
		if err != nil {
			return nil, err
		}
		rhs, err := r.expr()
		if err != nil {
			return nil, err
		}
		return kernel.MkEq(lhs, rhs), nil
	case exprLet:
		n, err := r.name()
		if err != nil {
			return nil, err
		}
		hasType, err := r.bool()
		if err != nil {
			return nil, err
		}
		var ty *kernel.Expr
		if hasType {
			if ty, err = r.expr(); err != nil {
				return nil, err
			}
		}
		value, err := r.expr()
		if err != nil {
			return nil, err
		}
		body, err := r.expr()
		if err != nil {
			return nil, err
		}
		return kernel.MkLet(n, ty, value, body), nil
	case exprMetavar:
		n, err := r.name()
		if err != nil {
			return nil, err
		}
		count, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		lctx := make(kernel.LocalContext, 0, count)
		for i := uint64(0); i < count; i++ {
			isLift, err := r.bool()
			if err != nil {
				return nil, err
			}
			if isLift {
				s, err := r.int()
				if err != nil {
					return nil, err
				}
				amount, err := r.int()
				if err != nil {
					return nil, err
				}
				lctx = append(lctx, kernel.MkLiftEntry(s, amount))
			} else {
				i2, err := r.int()
				if err != nil {
					return nil, err
				}
				v, err := r.expr()
				if err != nil {
					return nil, err
				}
				lctx = append(lctx, kernel.MkInstEntry(i2, v))
			}
		}
		return kernel.MkMetavar(n, lctx), nil
	}
	return nil, errors.Errorf("bad expression tag %d", tag)
}

// Read deserializes an environment written by Write, replaying every
// declaration (definitions are re-checked on the way in).
func Read(in io.Reader) (*kernel.Environment, error) {
	br := bufio.NewReader(in)
	head := make([]byte, len(header))
	if _, err := io.ReadFull(br, head); err != nil {
		return nil, errors.Wrap(err, "reading olean header")
	}
	if string(head) != header {
		return nil, errors.Errorf("bad olean header %q", head)
	}
	r := &reader{r: br}
	major, err := r.uvarint()
	if err != nil {
		return nil, errors.Wrap(err, "reading olean version")
	}
	if major != versionMajor {
		return nil, errors.Errorf("unsupported olean version %d", major)
	}
	if _, err := r.uvarint(); err != nil {
		return nil, errors.Wrap(err, "reading olean version")
	}

	env := kernel.NewEnvironment()
	for {
		tag, err := r.byte()
		if err != nil {
			return nil, errors.Wrap(err, "reading olean record")
		}
		if tag == recEndFile {
			return env, nil
		}
		n, err := r.name()
		if err != nil {
			return nil, errors.Wrap(err, "reading record name")
		}
		switch tag {
		case recUvar:
			l, err := r.level()
			if err != nil {
				return nil, errors.Wrapf(err, "universe %s", n)
			}
			if _, err := env.AddUvarCnstr(n, l); err != nil {
				return nil, err
			}
		case recVar:
			ty, err := r.expr()
			if err != nil {
				return nil, errors.Wrapf(err, "variable %s", n)
			}
			if err := env.AddVar(n, ty); err != nil {
				return nil, err
			}
		case recAxiom:
			ty, err := r.expr()
			if err != nil {
				return nil, errors.Wrapf(err, "axiom %s", n)
			}
			if err := env.AddAxiom(n, ty); err != nil {
				return nil, err
			}
		case recDefinition:
			ty, err := r.expr()
			if err != nil {
				return nil, errors.Wrapf(err, "definition %s", n)
			}
			value, err := r.expr()
			if err != nil {
				return nil, errors.Wrapf(err, "definition %s", n)
			}
			opaque, err := r.bool()
			if err != nil {
				return nil, errors.Wrapf(err, "definition %s", n)
			}
			if err := env.AddDefinition(n, ty, value, opaque); err != nil {
				return nil, err
			}
		case recTheorem:
			ty, err := r.expr()
			if err != nil {
				return nil, errors.Wrapf(err, "theorem %s", n)
			}
			value, err := r.expr()
			if err != nil {
				return nil, errors.Wrapf(err, "theorem %s", n)
			}
			if err := env.AddTheorem(n, ty, value); err != nil {
				return nil, err
			}
		case recBuiltin:
			v, ok := builtinRegistry[n.String()]
			if !ok {
				return nil, errors.Errorf("unknown builtin %s", n)
			}
			if err := env.AddBuiltin(v); err != nil {
				return nil, err
			}
		default:
			return nil, errors.Errorf("bad record tag %d", tag)
		}
	}
}
