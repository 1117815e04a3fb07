package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the interface implemented by all peakrules errors.
type Error interface {
	error
	Kind() string // e.g., "Name", "Fold", "Dispatch", "Runtime", "Compile"
	// Message returns the specific error message without the kind prefix.
	Message() string
	Unwrap() error
}

// Sentinels for operator failures. Concrete errors wrap one of these so that
// callers can test with errors.Is regardless of where the failure surfaced.
var (
	ErrZeroDivision   = stderrors.New("division by zero")
	ErrTypeMismatch   = stderrors.New("unsupported operand type")
	ErrIndex          = stderrors.New("index out of range")
	ErrKey            = stderrors.New("key not found")
	ErrAttribute      = stderrors.New("no such attribute")
	ErrNotCallable    = stderrors.New("value is not callable")
	ErrValue          = stderrors.New("invalid value")
	ErrScopeUnderflow = stderrors.New("cannot pop a base scope")
)

// --- Concrete Error Types ---

// UnresolvedNameError is returned when a name is bound in none of the scopes
// of a binding stack.
type UnresolvedNameError struct {
	Name string
}

func (e *UnresolvedNameError) Error() string {
	return fmt.Sprintf("Name Error: unresolved name %q", e.Name)
}
func (e *UnresolvedNameError) Kind() string    { return "Name" }
func (e *UnresolvedNameError) Message() string { return fmt.Sprintf("unresolved name %q", e.Name) }
func (e *UnresolvedNameError) Unwrap() error   { return nil }

// BindError reports an identifier that cannot be stored in a scope.
type BindError struct {
	Name string
	Msg  string
}

func (e *BindError) Error() string {
	return fmt.Sprintf("Bind Error: %q: %s", e.Name, e.Msg)
}
func (e *BindError) Kind() string    { return "Bind" }
func (e *BindError) Message() string { return e.Msg }
func (e *BindError) Unwrap() error   { return nil }

// RuntimeError represents a failure of an operator, either while the VM runs
// or while a constant expression is folded.
type RuntimeError struct {
	Msg   string
	Cause error // Underlying sentinel, if any
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("Runtime Error: %s", e.Msg)
}
func (e *RuntimeError) Kind() string    { return "Runtime" }
func (e *RuntimeError) Message() string { return e.Msg }
func (e *RuntimeError) Unwrap() error   { return e.Cause }

// NewRuntimeError builds a RuntimeError wrapping cause.
func NewRuntimeError(cause error, format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// FoldError is returned by node constructors when evaluating an operation on
// constant operands fails.
type FoldError struct {
	Op    string
	Cause error
}

func (e *FoldError) Error() string {
	return fmt.Sprintf("Fold Error: %s: %v", e.Op, e.Cause)
}
func (e *FoldError) Kind() string    { return "Fold" }
func (e *FoldError) Message() string { return fmt.Sprintf("%s: %v", e.Op, e.Cause) }
func (e *FoldError) Unwrap() error   { return e.Cause }

// InvalidActionError is raised by a generated dispatch loop that reaches a
// pair whose action id is neither 0 nor registered. It indicates a malformed
// dispatch tree.
type InvalidActionError struct {
	Action   interface{}
	Argument interface{}
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("Dispatch Error: invalid action (%v, %v)", e.Action, e.Argument)
}
func (e *InvalidActionError) Kind() string { return "Dispatch" }
func (e *InvalidActionError) Message() string {
	return fmt.Sprintf("invalid action (%v, %v)", e.Action, e.Argument)
}
func (e *InvalidActionError) Unwrap() error { return nil }

// CompileError represents an inconsistency found while emitting code, such as
// an unbalanced stack or a label that was never placed.
type CompileError struct {
	Msg   string
	Cause error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("Compile Error: %s", e.Msg)
}
func (e *CompileError) Kind() string    { return "Compile" }
func (e *CompileError) Message() string { return e.Msg }
func (e *CompileError) Unwrap() error   { return e.Cause }

// NewCompileError formats a CompileError.
func NewCompileError(format string, args ...interface{}) *CompileError {
	return &CompileError{Msg: fmt.Sprintf(format, args...)}
}

// Is and As re-export the standard helpers so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }
