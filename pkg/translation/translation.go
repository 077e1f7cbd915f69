// Package translation defines the contract between the ingress service and the
// source-specific translators that turn notifications into commit records.
package translation

import (
	"github.com/illmade-knight/go-commitflow/pkg/types"
)

// Translator converts inbound notifications from one source system into commits.
//
// CanProcess must be cheap and side-effect free: the Registry calls it on every
// translator for every delivery. Execute never fails outright; problems are
// reported through a Failure Result.
type Translator interface {
	CanProcess(msg types.InboundMessage) bool
	Execute(msg types.InboundMessage) Result
}

// Outcome tags a Result.
type Outcome int

const (
	// Recognized means commits were extracted from the message.
	Recognized Outcome = iota + 1
	// Failure means the message was claimed but could not be translated.
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Recognized:
		return "recognized"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Content is the response payload to send back to the source system.
type Content struct {
	Body      []byte
	MediaType string
}

// Result is the outcome of Translator.Execute. Commits is set only for
// Recognized results and Reason only for Failure; Content is always set.
type Result struct {
	Outcome Outcome
	Commits []types.CommitMessage
	Reason  string
	Content Content
}

// SuccessWithContent builds a Recognized result.
func SuccessWithContent(commits []types.CommitMessage, content Content) Result {
	return Result{Outcome: Recognized, Commits: commits, Content: content}
}

// FailureWithContent builds a Failure result.
func FailureWithContent(reason string, content Content) Result {
	return Result{Outcome: Failure, Reason: reason, Content: content}
}

// IsRecognized reports whether r carries commits.
func (r Result) IsRecognized() bool {
	return r.Outcome == Recognized
}

// IsFailure reports whether r is a Failure.
func (r Result) IsFailure() bool {
	return r.Outcome == Failure
}
