package sealedsurvey

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Error annotates an internal failure, typically of the database, with a
// message and the frame where it was caught. The wrapped error stays
// reachable for xerrors.Is and xerrors.As, so the taxonomy still applies.
type Error struct {
	err   error
	msg   string
	frame xerrors.Frame
}

// ErrorOrNil wraps err with msg and the frame of the caller. It returns nil
// if err is nil, so it can wrap the result of a transaction directly.
func ErrorOrNil(err error, msg string) error {
	return ErrorOrNilSkip(err, msg, 1)
}

// ErrorOrNilSkip is like ErrorOrNil but records the frame skip calls up.
func ErrorOrNilSkip(err error, msg string, skip int) error {
	if err == nil {
		return nil
	}
	return &Error{
		err:   err,
		msg:   msg,
		frame: xerrors.Caller(skip),
	}
}

// WrapError only adds the frame of the caller.
func WrapError(err error) error {
	return ErrorOrNilSkip(err, "", 2)
}

func (e *Error) Error() string {
	if e.msg == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.msg, e.err)
}

// Unwrap returns the annotated error.
func (e *Error) Unwrap() error {
	return e.err
}

// Format prints the frame too with "%+v".
func (e *Error) Format(f fmt.State, c rune) {
	xerrors.FormatError(e, f, c)
}

// FormatError implements xerrors.Formatter.
func (e *Error) FormatError(p xerrors.Printer) error {
	p.Print(e.Error())
	if p.Detail() {
		e.frame.Format(p)
		p.Printf("%+v", e.err)
	}
	return nil
}
