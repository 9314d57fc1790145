// Package errors provides errors that carry the call stack where they were
// created, and variants that also push the error to the configured reporters.
package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"runtime"
	"strings"
)

type withStack struct {
	msg   string
	cause error
	stack *stack
}

func (e *withStack) Error() string {
	if e.cause == nil {
		return e.msg
	}
	if e.msg == "" {
		return e.cause.Error()
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *withStack) Unwrap() error { return e.cause }

// Format prints the stack with %+v.
func (e *withStack) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = io.WriteString(s, e.Error())
			for _, f := range e.stack.fullStack() {
				_, _ = io.WriteString(s, "\n\t"+f)
			}
			return
		}
		fallthrough
	case 's':
		_, _ = io.WriteString(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// New returns an error with the given message and the current stack.
func New(msg string) error {
	return &withStack{msg: msg, stack: callers()}
}

// Errorf formats an error with the current stack. %w is honoured.
func Errorf(format string, args ...interface{}) error {
	return formatted(fmt.Errorf(format, args...), callers())
}

// formatted keeps a %w result as the cause so its text is printed once.
func formatted(err error, st *stack) *withStack {
	if stderrors.Unwrap(err) != nil {
		return &withStack{cause: err, stack: st}
	}
	return &withStack{msg: err.Error(), stack: st}
}

// Wrap annotates err with a message. A nil err returns nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &withStack{msg: msg, cause: err, stack: callers()}
}

// Wrapf is Wrap with a format.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &withStack{msg: fmt.Sprintf(format, args...), cause: err, stack: callers()}
}

// WithStack records the stack on err without changing its message.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	var ws *withStack
	if As(err, &ws) {
		return err
	}
	return &withStack{cause: err, stack: callers()}
}

func NewWithReport(msg string) error {
	err := &withStack{msg: msg, stack: callers()}
	report(err)
	return err
}

func ErrorfAndReport(format string, args ...interface{}) error {
	err := formatted(fmt.Errorf(format, args...), callers())
	report(err)
	return err
}

func WrapAndReport(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := &withStack{msg: msg, cause: err, stack: callers()}
	report(wrapped)
	return wrapped
}

func WrapfAndReport(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	wrapped := &withStack{msg: fmt.Sprintf(format, args...), cause: err, stack: callers()}
	report(wrapped)
	return wrapped
}

func WithStackAndReport(err error) error {
	if err == nil {
		return nil
	}
	wrapped := WithStack(err)
	report(wrapped)
	return wrapped
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// Cause returns the innermost error of the chain.
func Cause(err error) error {
	for err != nil {
		next := stderrors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
	return nil
}

const maxStackDepth = 32

type stack []uintptr

func callers() *stack {
	var pcs [maxStackDepth]uintptr
	n := runtime.Callers(3, pcs[:])
	var st stack = pcs[0:n]
	return &st
}

// fullStack renders "function file:line" entries, innermost first.
func (s *stack) fullStack() []string {
	if s == nil {
		return nil
	}
	frames := runtime.CallersFrames(*s)
	var out []string
	for {
		f, more := frames.Next()
		if f.Function != "" && !strings.HasPrefix(f.Function, "runtime.") {
			out = append(out, fmt.Sprintf("%s %s:%d", f.Function, f.File, f.Line))
		}
		if !more {
			break
		}
	}
	return out
}
