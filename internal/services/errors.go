package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoActiveExamination is returned by every operation that needs an
	// examination while none is in progress.
	ErrNoActiveExamination = errors.New("no active examination")

	// ErrInvalidTransition is returned when an event is not legal in the
	// current lifecycle state.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrOperationInFlight is returned when an analysis or save is already
	// running.
	ErrOperationInFlight = errors.New("another operation is in flight")

	// ErrSuperseded is returned by an analysis or save whose examination
	// was replaced or discarded before the step completed.
	ErrSuperseded = errors.New("examination superseded")

	ErrUnknownSite        = errors.New("site is not part of the protocol")
	ErrNoSiteSelected     = errors.New("no site selected")
	ErrImageNotFound      = errors.New("image not found")
	ErrAcquisitionMethod  = errors.New("operation not allowed for the acquisition method")
	ErrAnalysisFailed     = errors.New("risk analysis failed")
	ErrProtocolIncomplete = errors.New("capture protocol incomplete")
	ErrPersistence        = errors.New("persistence failed")

	// ErrExportUnavailable is returned by Export when no exporter is wired.
	ErrExportUnavailable = errors.New("export is not configured")
)

// FieldError names one rejected input field.
type FieldError struct {
	Field  string
	Reason string
}

// ValidationError lists every rejected input field.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s %s", f.Field, f.Reason))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Details returns one human readable line per rejected field.
func (e *ValidationError) Details() []string {
	out := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		out = append(out, f.Field+" "+f.Reason)
	}
	return out
}

func (e *ValidationError) add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

func (e *ValidationError) empty() bool { return len(e.Fields) == 0 }
