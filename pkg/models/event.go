package models

import "time"

// Pipeline stages in emission order, with their fixed progress checkpoints.
// DONE and ERROR are the terminal stages.
const (
	StageParsing      = "PARSING"
	StageGraphBuilt   = "GRAPH_BUILT"
	StageCyclesDone   = "CYCLES_DONE"
	StageSmurfingDone = "SMURFING_DONE"
	StageShellsDone   = "SHELLS_DONE"
	StageScoringDone  = "SCORING_DONE"
	StageDone         = "DONE"
	StageError        = "ERROR"
)

// Event types on the wire. Stage events are "progress"; the stream always
// ends with exactly one "done" or "error".
const (
	EventTypeProgress = "progress"
	EventTypeDone     = "done"
	EventTypeError    = "error"
)

// ProgressEvent is one immutable entry in a job's event history. Appended
// only by the analysis driver; replayed in insertion order to every
// subscriber.
type ProgressEvent struct {
	Type      string    `json:"type"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Progress  int       `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
}

// EventTypeFor maps a stage name to its wire event type.
func EventTypeFor(stage string) string {
	switch stage {
	case StageDone:
		return EventTypeDone
	case StageError:
		return EventTypeError
	default:
		return EventTypeProgress
	}
}
