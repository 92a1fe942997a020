// Package metrics exposes publish and store observability hooks.
package metrics

import "time"

// Outcome labels a finished publish run.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomeConflict Outcome = "conflict"
	OutcomeInvalid  Outcome = "invalid"
)

// FileResult labels what happened to one output file.
type FileResult string

const (
	FileUploaded FileResult = "uploaded"
	FileSkipped  FileResult = "skipped"
	FileDeleted  FileResult = "deleted"
)

// Recorder receives publish and store metrics. NoopRecorder is the default.
type Recorder interface {
	ObservePublishDuration(d time.Duration)
	IncPublishOutcome(outcome Outcome)
	AddFileResult(result FileResult, n int)
	SetPagesInFlight(n int)
	IncStoreRetry(op string)
	IncStoreRetryExhausted(op string)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) ObservePublishDuration(time.Duration) {}
func (NoopRecorder) IncPublishOutcome(Outcome)            {}
func (NoopRecorder) AddFileResult(FileResult, int)        {}
func (NoopRecorder) SetPagesInFlight(int)                 {}
func (NoopRecorder) IncStoreRetry(string)                 {}
func (NoopRecorder) IncStoreRetryExhausted(string)        {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
