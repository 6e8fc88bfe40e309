package kernel

import (
	"strings"

	"github.com/pkg/errors"
)

// ContextEntry is one binder or let binding in scope. A domain-only entry
// comes from a Pi or lambda; an entry with a body is a let binding.
type ContextEntry struct {
	Name   *Name
	Domain *Expr // may be nil for a let without annotation
	Body   *Expr // nil for plain binders
}

// Context is the ordered sequence of binders and let bindings enclosing a
// subterm, indexed from the rightmost entry (innermost binder) at 0.
// Contexts are persistent: Extend shares the tail.
type Context struct {
	entry ContextEntry
	tail  *Context
	size  int
}

// EmptyContext is the context of a closed top-level term.
var EmptyContext *Context

// Size returns the number of entries in scope.
func (c *Context) Size() int {
	if c == nil {
		return 0
	}
	return c.size
}

// Empty reports whether the context has no entries.
func (c *Context) Empty() bool { return c.Size() == 0 }

// Extend adds a binder with the given name and domain.
func (c *Context) Extend(n *Name, domain *Expr) *Context {
	return &Context{entry: ContextEntry{Name: n, Domain: domain}, tail: c, size: c.Size() + 1}
}

// ExtendLet adds a let binding. domain may be nil.
func (c *Context) ExtendLet(n *Name, domain, body *Expr) *Context {
	return &Context{entry: ContextEntry{Name: n, Domain: domain, Body: body}, tail: c, size: c.Size() + 1}
}

// Lookup resolves de Bruijn index i to its entry and the context the
// entry's domain and body live in.
func (c *Context) Lookup(i int) (ContextEntry, *Context, error) {
	cur := c
	for cur != nil {
		if i == 0 {
			return cur.entry, cur.tail, nil
		}
		i--
		cur = cur.tail
	}
	return ContextEntry{}, nil, errors.Errorf("unknown variable #%d", i)
}

// HasBody reports whether index i resolves to a let binding.
func (c *Context) HasBody(i int) bool {
	e, _, err := c.Lookup(i)
	return err == nil && e.Body != nil
}

// Remove drops the entries with indices [s, s+n).
func (c *Context) Remove(s, n int) *Context {
	if n == 0 || c == nil {
		return c
	}
	var kept []ContextEntry
	cur := c
	for i := 0; i < s && cur != nil; i++ {
		kept = append(kept, cur.entry)
		cur = cur.tail
	}
	for i := 0; i < n && cur != nil; i++ {
		cur = cur.tail
	}
	out := cur
	for i := len(kept) - 1; i >= 0; i-- {
		e := kept[i]
		out = &Context{entry: e, tail: out, size: out.Size() + 1}
	}
	return out
}

// Entries returns the entries ordered from index 0 outward.
func (c *Context) Entries() []ContextEntry {
	out := make([]ContextEntry, 0, c.Size())
	for cur := c; cur != nil; cur = cur.tail {
		out = append(out, cur.entry)
	}
	return out
}

func (c *Context) String() string {
	var parts []string
	for cur := c; cur != nil; cur = cur.tail {
		s := binderLabel(cur.entry.Name)
		if cur.entry.Domain != nil {
			s += " : " + cur.entry.Domain.String()
		}
		if cur.entry.Body != nil {
			s += " := " + cur.entry.Body.String()
		}
		parts = append(parts, s)
	}
	return "[" + strings.Join(parts, "; ") + "]"
}
