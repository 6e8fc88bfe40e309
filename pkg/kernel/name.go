package kernel

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Name is a hierarchical identifier: anonymous, or a string/integer child of
// another name. Names identify constants, universe variables, metavariables
// and binder hints.
//
// Names are interned, so two structurally equal names are the same pointer
// and *Name can be used directly as a map key.
type Name struct {
	parent *Name
	str    string
	num    int
	isNum  bool
}

// Anonymous is the root of the name hierarchy.
var Anonymous = &Name{}

type nameKey struct {
	parent *Name
	str    string
	num    int
	isNum  bool
}

var (
	nameMu    sync.Mutex
	nameTable = map[nameKey]*Name{}
)

func internName(parent *Name, str string, num int, isNum bool) *Name {
	key := nameKey{parent: parent, str: str, num: num, isNum: isNum}
	nameMu.Lock()
	defer nameMu.Unlock()
	if n, ok := nameTable[key]; ok {
		return n
	}
	n := &Name{parent: parent, str: str, num: num, isNum: isNum}
	nameTable[key] = n
	return n
}

// NameOf builds a name from string parts, rooted at Anonymous.
func NameOf(parts ...string) *Name {
	n := Anonymous
	for _, p := range parts {
		n = n.Str(p)
	}
	return n
}

// Str returns the string child of n.
func (n *Name) Str(s string) *Name {
	return internName(n, s, 0, false)
}

// Num returns the integer child of n.
func (n *Name) Num(i int) *Name {
	return internName(n, "", i, true)
}

// IsAnonymous reports whether n is the anonymous name.
func (n *Name) IsAnonymous() bool {
	return n == Anonymous || n == nil
}

// Parent returns the parent name, or Anonymous for the root.
func (n *Name) Parent() *Name {
	if n.parent == nil {
		return Anonymous
	}
	return n.parent
}

// IsNumPart reports whether the last component is an integer.
func (n *Name) IsNumPart() bool { return n.isNum }

// StrPart returns the last string component.
func (n *Name) StrPart() string { return n.str }

// NumPart returns the last integer component.
func (n *Name) NumPart() int { return n.num }

// Equal is structural equality. Interning makes it pointer equality.
func (n *Name) Equal(other *Name) bool {
	if n == nil || other == nil {
		return n == other || (n.IsAnonymous() && other.IsAnonymous())
	}
	return n == other
}

// Hash returns a structural hash of the name.
func (n *Name) Hash() uint64 {
	if n.IsAnonymous() {
		return 14695981039346656037
	}
	h := n.Parent().Hash()
	if n.isNum {
		h = mixHash(h, uint64(n.num))
	} else {
		for i := 0; i < len(n.str); i++ {
			h = mixHash(h, uint64(n.str[i]))
		}
	}
	return h
}

func mixHash(h, v uint64) uint64 {
	h ^= v
	h *= 1099511628211
	return h
}

func (n *Name) String() string {
	if n.IsAnonymous() {
		return "[anonymous]"
	}
	var parts []string
	for cur := n; cur != nil && !cur.IsAnonymous(); cur = cur.parent {
		if cur.isNum {
			parts = append(parts, strconv.Itoa(cur.num))
		} else {
			parts = append(parts, cur.str)
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

var _ fmt.Stringer = (*Name)(nil)
