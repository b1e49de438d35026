package docstore

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		name    string
		current Status
		event   Event
		want    Status
		stale   bool
	}{
		{
			name:    "dispatch accepted moves to processing",
			current: StatusUploaded,
			event:   Event{Kind: EventStageStarted, Stage: StageParsing},
			want:    StatusParsing,
		},
		{
			name:    "stage completion moves to done",
			current: StatusParsing,
			event:   Event{Kind: EventStageCompleted, Stage: StageParsing},
			want:    StatusParsed,
		},
		{
			name:    "reported failure while processing marks failed",
			current: StatusStructuring,
			event:   Event{Kind: EventStageFailed, Stage: StageStructuring},
			want:    StatusFailed,
		},
		{
			name:    "local failure rolls back to last known good",
			current: StatusParsing,
			event:   Event{Kind: EventStageRolledBack, Stage: StageParsing},
			want:    StatusUploaded,
		},
		{
			name:    "structuring rollback lands on parsed",
			current: StatusStructuring,
			event:   Event{Kind: EventStageRolledBack, Stage: StageStructuring},
			want:    StatusParsed,
		},
		{
			name:    "resubmission returns a failed document to uploaded",
			current: StatusFailed,
			event:   Event{Kind: EventResubmitted},
			want:    StatusUploaded,
		},
		{
			name:    "late completion for an earlier stage is stale",
			current: StatusStructuring,
			event:   Event{Kind: EventStageCompleted, Stage: StageParsing},
			want:    StatusStructuring,
			stale:   true,
		},
		{
			name:    "replayed completion is a no-op",
			current: StatusParsed,
			event:   Event{Kind: EventStageCompleted, Stage: StageParsing},
			want:    StatusParsed,
		},
		{
			name:    "failure report on a settled document is stale",
			current: StatusParsed,
			event:   Event{Kind: EventStageFailed, Stage: StageParsing},
			want:    StatusParsed,
			stale:   true,
		},
		{
			name:    "success callback overrides recorded failure",
			current: StatusFailed,
			event:   Event{Kind: EventStageCompleted, Stage: StagePrediction},
			want:    StatusPredicted,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Transition(tc.current, tc.event)
			if tc.stale {
				if !errors.Is(err, ErrStaleTransition) {
					t.Fatalf("Transition(%s, %v) error = %v, want ErrStaleTransition", tc.current, tc.event, err)
				}
			} else if err != nil {
				t.Fatalf("Transition(%s, %v) error = %v", tc.current, tc.event, err)
			}
			if got != tc.want {
				t.Fatalf("Transition(%s, %v) = %s, want %s", tc.current, tc.event, got, tc.want)
			}
		})
	}
}

func TestAdvanceBackwardOnlyOntoRollbackTarget(t *testing.T) {
	if _, err := Advance(StatusPredicting, StatusUploaded); !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("expected stale transition for predicting -> uploaded, got %v", err)
	}
	got, err := Advance(StatusPredicting, StatusStructured)
	if err != nil {
		t.Fatalf("Advance(predicting, structured): %v", err)
	}
	if got != StatusStructured {
		t.Fatalf("Advance(predicting, structured) = %s", got)
	}
}

func TestAdvanceRejectsUnknownStatus(t *testing.T) {
	if _, err := Advance(StatusUploaded, Status("archived")); err == nil {
		t.Fatal("expected error for unknown target status")
	}
}

func TestNextStage(t *testing.T) {
	next, ok := NextStage(StageIngestion)
	if !ok || next != StageParsing {
		t.Fatalf("NextStage(ingestion) = %s, %v", next, ok)
	}
	next, ok = NextStage(StageStructuring)
	if !ok || next != StagePrediction {
		t.Fatalf("NextStage(structuring) = %s, %v", next, ok)
	}
	if _, ok := NextStage(StagePrediction); ok {
		t.Fatal("prediction should have no successor")
	}
}

func TestParseStatus(t *testing.T) {
	status, ok := ParseStatus("  Parsed ")
	if !ok || status != StatusParsed {
		t.Fatalf("ParseStatus = %s, %v", status, ok)
	}
	if _, ok := ParseStatus("bogus"); ok {
		t.Fatal("expected unknown status to fail parsing")
	}
	status, ok = ParseStatus("failed")
	if !ok || status != StatusFailed {
		t.Fatalf("ParseStatus(failed) = %s, %v", status, ok)
	}
}

func TestStageStatusMapping(t *testing.T) {
	if got := StageParsing.ProcessingStatus(); got != StatusParsing {
		t.Fatalf("parsing processing status = %s", got)
	}
	if got := StagePrediction.DoneStatus(); got != StatusPredicted {
		t.Fatalf("prediction done status = %s", got)
	}
	if got := StageStructuring.RollbackStatus(); got != StatusParsed {
		t.Fatalf("structuring rollback status = %s", got)
	}
}
