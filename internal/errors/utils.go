package errors

import (
	"errors"
	"strings"
)

// Wrap wraps an error with additional context, creating a PagepackError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *PagepackError {
	if err == nil {
		return nil
	}

	var pe *PagepackError
	if errors.As(err, &pe) {
		return &PagepackError{
			Type:    errType,
			Code:    code,
			Message: message,
			Path:    pe.Path,
			Cause:   err,
			Context: pe.Context,
		}
	}

	return &PagepackError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WrapBuild wraps an error as a build error for the given path
func WrapBuild(err error, code, message, path string) *PagepackError {
	pe := Wrap(err, ErrorTypeBuild, code, message)
	if pe != nil && path != "" {
		pe.Path = path
	}
	return pe
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *PagepackError {
	return Wrap(err, ErrorTypeIO, code, message)
}

// Join is errors.Join, re-exported because this package shadows the standard one.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// As is errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// New is errors.New.
func New(text string) error {
	return errors.New(text)
}

// FormatCauseChain renders err and every error it wraps, one level per line:
//
//	Error: <outermost message>
//
//	Caused by:
//	- <cause>
//	- <cause of cause>
//
// A PagepackError contributes only its own message at each level so the
// chain does not repeat text. Joined errors are expanded in order.
func FormatCauseChain(err error) string {
	if err == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(ownMessage(err))

	causes := collectCauses(err)
	if len(causes) > 0 {
		b.WriteString("\n\nCaused by:")
		for _, c := range causes {
			b.WriteString("\n- ")
			b.WriteString(c)
		}
	}

	return b.String()
}

func ownMessage(err error) string {
	if pe, ok := err.(*PagepackError); ok {
		msg := pe.Message
		if pe.Code != "" {
			msg = "[" + pe.Code + "] " + msg
		}
		if pe.Path != "" {
			msg += " (" + pe.Path + ")"
		}
		return msg
	}

	if _, ok := err.(interface{ Unwrap() []error }); ok {
		return "multiple errors"
	}

	// Strip the wrapped error's text when the wrapper used fmt.Errorf("...: %w").
	msg := err.Error()
	if inner := errors.Unwrap(err); inner != nil {
		msg = strings.TrimSuffix(msg, ": "+inner.Error())
	}
	return msg
}

func collectCauses(err error) []string {
	var out []string
	queue := directCauses(err)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		out = append(out, ownMessage(next))
		queue = append(directCauses(next), queue...)
	}
	return out
}

func directCauses(err error) []error {
	switch e := err.(type) {
	case interface{ Unwrap() []error }:
		return e.Unwrap()
	case interface{ Unwrap() error }:
		if inner := e.Unwrap(); inner != nil {
			return []error{inner}
		}
	}
	return nil
}
