// Package xerrors wraps errors with caller information so the log package
// can emit error chains and stack traces without every call site passing
// them explicitly.
//
// Wrap and Wrapf record the single program counter of the wrapping call.
// New, Newf, and WithStack capture a full stack. EnsureTrace is the cheap
// entry point for errors of unknown origin: it only captures a stack when
// the chain doesn't already carry one.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// stacked carries a full captured stack alongside the wrapped error.
type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }
func (s *stacked) IsXerrorsWrapper()   {}

// annotated carries a message prefix and the PC of the wrapping call site.
type annotated struct {
	err error
	msg string
	pc  uintptr
}

func (a *annotated) Error() string     { return a.msg + ": " + a.err.Error() }
func (a *annotated) Unwrap() error     { return a.err }
func (a *annotated) PC() uintptr       { return a.pc }
func (a *annotated) IsXerrorsWrapper() {}

func callers(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	// skip runtime.Callers and callers itself on top of the requested frames
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func caller(skip int) uintptr {
	var pcs [1]uintptr
	if n := runtime.Callers(2+skip, pcs[:]); n == 0 {
		return 0
	}
	return pcs[0]
}

// New returns a new error with a captured stack.
func New(msg string) error {
	return &stacked{err: errors.New(msg), pcs: callers(1)}
}

// Newf returns a new formatted error with a captured stack.
func Newf(format string, args ...any) error {
	return &stacked{err: fmt.Errorf(format, args...), pcs: callers(1)}
}

// Wrap annotates err with msg and the wrapping call site. Returns nil for nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: msg, pc: caller(1)}
}

// Wrapf annotates err with a formatted message and the wrapping call site.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: fmt.Sprintf(format, args...), pc: caller(1)}
}

// WithStack attaches a full stack to err without changing its message.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: callers(1)}
}

// EnsureTrace attaches a stack only if the chain doesn't already have one.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	type hasStack interface{ StackPCs() []uintptr }
	var hs hasStack
	if errors.As(err, &hs) && hs != nil && len(hs.StackPCs()) > 0 {
		return err
	}
	return &stacked{err: err, pcs: callers(1)}
}
