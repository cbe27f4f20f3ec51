package triage

import (
	"errors"
	"fmt"
)

// Collaborator failure sentinels. Retrieval failures are non-fatal and degrade
// to a zero-context prompt; LLM failures are fatal after the retry budget.
var (
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrRetrievalTimeout     = errors.New("retrieval timeout")
	ErrLLMUnavailable       = errors.New("llm unavailable")
	ErrLLMTimeout           = errors.New("llm timeout")
	ErrCaseNotFound         = errors.New("case not found")
	ErrVersionConflict      = errors.New("version out of sequence")
)

// ReasonCode is the stable, documented code attached to a failed orchestration.
type ReasonCode string

const (
	ReasonLLMUnavailable ReasonCode = "llm_unavailable"
	ReasonLLMTimeout     ReasonCode = "llm_timeout"
)

// Remediation returns the suggested operator action for a reason code.
func (c ReasonCode) Remediation() string {
	switch c {
	case ReasonLLMTimeout:
		return "retry; if timeouts persist, raise the LLM timeout or reduce context size"
	case ReasonLLMUnavailable:
		return "check model availability and the LLM endpoint configuration, then retry"
	default:
		return "retry"
	}
}

// FailedError is the typed terminal failure surfaced by the orchestrator.
// Nothing from the core leaks as a panic or untyped error to the HTTP layer.
type FailedError struct {
	Reason ReasonCode
	Err    error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("triage failed (%s): %v", e.Reason, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// AsFailed extracts a FailedError from an error chain.
func AsFailed(err error) (*FailedError, bool) {
	var fe *FailedError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
