package council

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies per-model and run-level failures. Per-model kinds
// appear inside StageResult entries; run-level kinds terminate the
// deliberation and surface in the result envelope.
type ErrorKind string

const (
	// Per-model failures. The deliberation continues without the model.
	ErrKindTimeout   ErrorKind = "ModelTimeout"
	ErrKindUpstream  ErrorKind = "UpstreamError"
	ErrKindMalformed ErrorKind = "MalformedResponse"
	ErrKindCancelled ErrorKind = "Cancelled"

	// Run-level failures. The deliberation stops.
	ErrKindInsufficientResponders ErrorKind = "InsufficientResponders"
	ErrKindSynthesisFailed        ErrorKind = "SynthesisFailed"
	ErrKindTranscriptWrite        ErrorKind = "TranscriptWriteError"
	ErrKindConfigInvalid          ErrorKind = "ConfigInvalid"
)

// RunError is a run-level failure carrying its classification.
type RunError struct {
	Kind ErrorKind
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// runErrorf builds a RunError from a format string.
func runErrorf(kind ErrorKind, format string, args ...any) *RunError {
	return &RunError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func configErrorf(format string, args ...any) *RunError {
	return runErrorf(ErrKindConfigInvalid, format, args...)
}

// KindOf extracts the run-level classification from an error, defaulting
// to SynthesisFailed-adjacent UpstreamError for unclassified failures.
func KindOf(err error) ErrorKind {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.Canceled) {
		return ErrKindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	return ErrKindUpstream
}

// kinder is the duck-typed classification hook the gateway layer exposes.
// The engine never imports the llm package; it reads the call kind through
// this method when present.
type kinder interface {
	CallKind() string
}

// classifyCallErr maps a gateway call failure to a per-model ErrorKind.
func classifyCallErr(err error) ErrorKind {
	if errors.Is(err, context.Canceled) {
		return ErrKindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	var k kinder
	if errors.As(err, &k) {
		switch k.CallKind() {
		case "timeout":
			return ErrKindTimeout
		case "malformed_response":
			return ErrKindMalformed
		}
	}
	return ErrKindUpstream
}

// parseError marks a reviewer reply that failed JSON contract validation
// after the retry.
type parseError struct {
	reviewer string
	reason   string
}

func (e *parseError) Error() string {
	return fmt.Sprintf("reviewer %s: unparseable ranking: %s", e.reviewer, e.reason)
}

// CallKind routes parse failures through the same classification path as
// gateway errors.
func (e *parseError) CallKind() string { return "malformed_response" }
