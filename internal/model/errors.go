package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/agrisol/cropdoctor/internal/errors"
)

var (
	// ErrUnknownCrop is returned by Snapshot.Lookup for crops that are not configured
	ErrUnknownCrop = errors.NewStd("unsupported crop type")
	// ErrModelUnavailable is returned by Snapshot.Lookup when no candidate could be loaded
	ErrModelUnavailable = errors.NewStd("model unavailable")
	// ErrUnsupportedFormat marks candidates whose file extension has no registered backend
	ErrUnsupportedFormat = errors.NewStd("unsupported model format")
	// ErrModelNotFound marks candidates whose file does not exist
	ErrModelNotFound = errors.NewStd("model file not found")
)

// Attempt records one tried candidate
type Attempt struct {
	Path     string        `json:"path"`
	Rank     int           `json:"rank"`
	Backend  string        `json:"backend,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"-"`
	// DurationMs mirrors Duration for JSON consumers
	DurationMs int64 `json:"duration_ms"`

	err error
}

// Err returns the underlying failure, nil for the successful attempt
func (a Attempt) Err() error {
	return a.err
}

// LoadError reports that every candidate of a crop failed.
type LoadError struct {
	Crop     string    `json:"crop"`
	Attempts []Attempt `json:"attempts"`
}

func (e *LoadError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("no model candidates configured for crop %s", e.Crop)
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("no loadable model for crop %s after %d attempts, last error: %s: %s",
		e.Crop, len(e.Attempts), last.Path, last.Error)
}

// Unwrap exposes the last attempt's error
func (e *LoadError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].err
}

// ErrorCategory implements errors.CategorizedError
func (e *LoadError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryModelLoad
}

// Summary lists every attempt on one line each
func (e *LoadError) Summary() string {
	var b strings.Builder
	for i, a := range e.Attempts {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s (%s): %s", a.Path, Candidate{Rank: a.Rank}.Label(), a.Error)
	}
	return b.String()
}
