package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Kind classifies a failure by the scope that has to absorb it.
type Kind string

const (
	// KindExecutor is any fault raised inside a tool executor.
	KindExecutor Kind = "ExecutorFailure"
	// KindUnknownTool is a tool name that the registry does not know.
	KindUnknownTool Kind = "UnknownTool"
	// KindBatch is a batch request whose call list is malformed.
	KindBatch Kind = "BatchAggregationFailure"
	// KindTopLevel means no request could be produced at all.
	KindTopLevel Kind = "TopLevelFailure"
)

// Error carries a kind, a message, an optional cause and the source
// location where it was created.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
	file string
	line int
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Format prints the plain message for %v and %s. %+v prefixes the
// [file:line] where the error was created.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "[%s:%d] %s", e.file, e.line, e.Msg)
			if e.Err != nil {
				fmt.Fprintf(s, ": %+v", e.Err)
			}
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

func caller(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "???", 0
	}
	return filepath.Base(file), line
}

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	file, line := caller(1)
	return &Error{Kind: KindExecutor, Msg: fmt.Sprintf(format, a...), file: file, line: line}
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil. The kind of err is kept
// when it already has one.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	file, line := caller(1)
	kind := KindExecutor
	var inner *Error
	if stderrors.As(err, &inner) {
		kind = inner.Kind
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, a...), Err: err, file: file, line: line}
}

// E creates an error of the given kind.
func E(kind Kind, format string, a ...interface{}) error {
	file, line := caller(1)
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, a...), file: file, line: line}
}

// WrapKind wraps err with a message and forces the kind.
func WrapKind(kind Kind, err error, format string, a ...interface{}) error {
	file, line := caller(1)
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, a...), Err: err, file: file, line: line}
}

// KindOf reports the kind of the outermost *Error in err's chain.
// Errors that never went through this package are executor failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindExecutor
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
