package domain

import (
	"errors"
	"fmt"
)

// ErrorKind separates caller-correctable failures from infrastructure ones.
type ErrorKind int

const (
	KindApplication ErrorKind = iota + 1
	KindSystem
)

func (k ErrorKind) String() string {
	switch k {
	case KindApplication:
		return "application"
	case KindSystem:
		return "system"
	}
	return "unknown"
}

// Error codes for application errors.
const (
	CodeInvalidFrequency = "invalid_frequency"
	CodeNoHistory        = "no_history"
	CodeNoMatchingFiles  = "no_matching_files"
	CodeEmptyPartition   = "empty_partition"
	CodeUnknownSource    = "unknown_source"
	CodeProcessNotFound  = "process_not_found"
	CodeInvalidConfig    = "invalid_config"
)

// Error is a classified failure. ExecutionID is 0 when no record was opened.
type Error struct {
	Kind        ErrorKind
	Code        string
	ExecutionID int64
	Msg         string
	Err         error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.ExecutionID != 0 {
		msg = fmt.Sprintf("%s (execution %d)", msg, e.ExecutionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Application returns a caller-correctable error.
func Application(code, format string, args ...any) *Error {
	return &Error{Kind: KindApplication, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// System wraps an infrastructure failure.
func System(err error, format string, args ...any) *Error {
	return &Error{Kind: KindSystem, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WithExecutionID stamps id onto err. Unclassified errors become system
// errors. An id already set is kept.
func WithExecutionID(err error, id int64) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		if de.ExecutionID != 0 {
			return err
		}
		cp := *de
		cp.ExecutionID = id
		return &cp
	}
	return &Error{Kind: KindSystem, ExecutionID: id, Msg: "unclassified", Err: err}
}

func kindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

func IsApplication(err error) bool { return kindOf(err) == KindApplication }

// IsSystem reports true for system errors and for any unclassified error.
func IsSystem(err error) bool {
	return err != nil && kindOf(err) != KindApplication
}

// CodeOf returns the application code of err, or "".
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func ExecutionIDOf(err error) int64 {
	var de *Error
	if errors.As(err, &de) {
		return de.ExecutionID
	}
	return 0
}
