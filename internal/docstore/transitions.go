package docstore

import (
	"errors"
	"fmt"
)

// ErrStaleTransition marks a status change that would regress visible
// progress, such as a late callback carrying an earlier stage outcome.
// Callers log and drop these instead of failing the request.
var ErrStaleTransition = errors.New("stale status transition")

// EventKind enumerates coordinator-visible lifecycle events.
type EventKind string

const (
	// EventStageStarted fires when the next stage accepted a dispatch.
	EventStageStarted EventKind = "stage_started"
	// EventStageCompleted fires when a stage reports successful completion.
	EventStageCompleted EventKind = "stage_completed"
	// EventStageFailed fires when a stage reports a failure after accepting work.
	EventStageFailed EventKind = "stage_failed"
	// EventStageRolledBack fires when a stage's local work failed before it
	// could hand off; the document returns to the last known-good status.
	EventStageRolledBack EventKind = "stage_rolled_back"
	// EventResubmitted fires when a failed document is pushed back for reprocessing.
	EventResubmitted EventKind = "resubmitted"
)

// Event is one input to the coarse status state machine.
type Event struct {
	Kind  EventKind
	Stage Stage
}

// Transition computes the coarse status resulting from applying an event.
// It is the single mutation rule for document status: both the single-document
// and bulk paths, and the internal patch endpoint, funnel through it (directly
// or via Advance), so no scattered call site can invent a status change.
func Transition(current Status, ev Event) (Status, error) {
	var target Status
	switch ev.Kind {
	case EventStageStarted:
		target = ev.Stage.ProcessingStatus()
	case EventStageCompleted:
		target = ev.Stage.DoneStatus()
	case EventStageFailed:
		target = StatusFailed
	case EventStageRolledBack:
		target = ev.Stage.RollbackStatus()
	case EventResubmitted:
		target = StatusUploaded
	default:
		return current, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return Advance(current, target)
}

// Advance validates a requested coarse status change and returns the status
// to persist. The rules:
//
//   - A no-op change is always allowed (idempotent replays).
//   - From failed, any other status wins: a later successful callback or a
//     resubmission reflects newer ground truth than the recorded failure.
//   - failed is reachable only from a processing status; a document that
//     never left uploaded keeps its coarse status when a dispatch fails
//     (the fine-grained record carries the failure).
//   - Forward motion is allowed; moving backward is allowed only onto the
//     rollback target of the current processing status.
//
// Anything else is a stale transition: the caller saw older state than the
// store and the requested change is dropped.
func Advance(current, target Status) (Status, error) {
	if target == current {
		return current, nil
	}
	if current == StatusFailed {
		return target, nil
	}
	if target == StatusFailed {
		if IsProcessing(current) {
			return target, nil
		}
		return current, fmt.Errorf("%w: %s -> %s", ErrStaleTransition, current, target)
	}
	currentRank, ok := statusRank[current]
	if !ok {
		return current, fmt.Errorf("unknown status %q", current)
	}
	targetRank, ok := statusRank[target]
	if !ok {
		return current, fmt.Errorf("unknown status %q", target)
	}
	if targetRank > currentRank {
		return target, nil
	}
	if stage, processing := processingStatuses[current]; processing && target == stage.RollbackStatus() {
		return target, nil
	}
	return current, fmt.Errorf("%w: %s -> %s", ErrStaleTransition, current, target)
}
