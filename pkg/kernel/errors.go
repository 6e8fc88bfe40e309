package kernel

import (
	"fmt"
)

// AlreadyDeclaredError reports a redeclaration of a name.
type AlreadyDeclaredError struct {
	Name *Name
}

func (e *AlreadyDeclaredError) Error() string {
	return fmt.Sprintf("object %s already declared", e.Name)
}

// UnknownObjectError reports a lookup of an undeclared name.
type UnknownObjectError struct {
	Name *Name
}

func (e *UnknownObjectError) Error() string {
	return fmt.Sprintf("unknown object %s", e.Name)
}

// UnknownUniverseError reports a lookup of an undeclared universe variable.
type UnknownUniverseError struct {
	Name *Name
}

func (e *UnknownUniverseError) Error() string {
	return fmt.Sprintf("unknown universe variable %s", e.Name)
}

// ReadOnlyEnvironmentError reports a write to an environment that has live
// children.
type ReadOnlyEnvironmentError struct{}

func (e *ReadOnlyEnvironmentError) Error() string {
	return "environment cannot be updated because it has children"
}

// DefTypeMismatchError reports that a declared type does not accept the
// given definition body.
type DefTypeMismatchError struct {
	Name         *Name
	DeclaredType *Expr
	Value        *Expr
	ValueType    *Expr
}

func (e *DefTypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch in definition %s: declared %s, body has type %s",
		e.Name, e.DeclaredType, e.ValueType)
}

// DeepRecursionError reports exhaustion of a cooperative recursion budget.
type DeepRecursionError struct {
	Op string
}

func (e *DeepRecursionError) Error() string {
	return e.Op + " maximum recursion depth exceeded"
}

// InterruptedError reports that the interrupt flag was observed.
type InterruptedError struct {
	Op string
}

func (e *InterruptedError) Error() string {
	return e.Op + " interrupted"
}
