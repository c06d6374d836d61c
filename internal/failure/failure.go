// Package failure defines the error kinds raised while preparing a dataset and
// the scope each of them has on a run.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline error.
type Kind int

const (
	// Unknown is returned by KindOf for errors that carry no kind.
	Unknown Kind = iota
	// MalformedSeries marks a series whose instances disagree on geometry.
	MalformedSeries
	// AmbiguousMapping marks contradictory lookup table rows.
	AmbiguousMapping
	// NoReferenceSeries marks a study without a series for the reference label.
	NoReferenceSeries
	// Resampling marks degenerate source or reference geometry.
	Resampling
	// UnreadableInput marks a missing or unreadable input root.
	UnreadableInput
)

// String returns the name used in logs and in the metadata table.
func (k Kind) String() string {
	switch k {
	case MalformedSeries:
		return "MalformedSeriesError"
	case AmbiguousMapping:
		return "AmbiguousMappingError"
	case NoReferenceSeries:
		return "NoReferenceSeriesError"
	case Resampling:
		return "ResamplingError"
	case UnreadableInput:
		return "UnreadableInputError"
	default:
		return "Error"
	}
}

// Fatal reports whether an error of this kind aborts the run.
func (k Kind) Fatal() bool {
	return k == AmbiguousMapping || k == UnreadableInput
}

// Error is an error tagged with a Kind and the subject it applies to
// (a series UID, a study UID, a path).
type Error struct {
	Kind    Kind
	Subject string
	Err     error
}

func (e *Error) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Subject, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an Error of kind k for subject, with a formatted message.
func New(k Kind, subject, format string, args ...any) *Error {
	return &Error{Kind: k, Subject: subject, Err: fmt.Errorf(format, args...)}
}

// Wrap tags err with kind k. A nil err returns nil.
func Wrap(k Kind, subject string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Subject: subject, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Message returns the innermost message of err without the kind prefix.
func Message(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Err != nil {
		return fe.Err.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
