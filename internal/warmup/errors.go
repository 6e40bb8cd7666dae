package warmup

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across stores and queues.
var (
	ErrNotFound     = errors.New("not found")
	ErrEmptyContent = errors.New("empty content")
	ErrQueueClosed  = errors.New("queue closed")
)

// FailureReason classifies why a candidate reference could not be resolved.
type FailureReason string

// Resolution failure reasons.
const (
	ReasonNoPath       FailureReason = "no-path"
	ReasonEmptyContent FailureReason = "empty-content"
)

// ResolutionFailure reports that one candidate could not be turned into content.
type ResolutionFailure struct {
	Reason FailureReason
	URL    string
	Path   string
	Err    error
}

func (f *ResolutionFailure) Error() string {
	msg := fmt.Sprintf("resolve %s: %s", f.URL, f.Reason)
	if f.Path != "" {
		msg += " (path " + f.Path + ")"
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *ResolutionFailure) Unwrap() error {
	return f.Err
}

// PersistenceFailure reports that the worker could not persist one resource.
type PersistenceFailure struct {
	URL string
	Op  string
	Err error
}

func (f *PersistenceFailure) Error() string {
	return fmt.Sprintf("persist %s: %s: %v", f.URL, f.Op, f.Err)
}

func (f *PersistenceFailure) Unwrap() error {
	return f.Err
}

// StoreLifecycleFailure reports a failed lifecycle call against a single table.
type StoreLifecycleFailure struct {
	Table string
	Op    string
	Err   error
}

func (f *StoreLifecycleFailure) Error() string {
	return fmt.Sprintf("table %s: %s: %v", f.Table, f.Op, f.Err)
}

func (f *StoreLifecycleFailure) Unwrap() error {
	return f.Err
}
