package docstore

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the coarse pipeline-wide lifecycle of a document.
type Status string

const (
	StatusUploaded    Status = "uploaded"
	StatusParsing     Status = "parsing"
	StatusParsed      Status = "parsed"
	StatusStructuring Status = "structuring"
	StatusStructured  Status = "structured"
	StatusPredicting  Status = "predicting"
	StatusPredicted   Status = "predicted"
	StatusFailed      Status = "failed"
)

// Stage names one independently deployed processing step.
type Stage string

const (
	StageIngestion   Stage = "ingestion"
	StageParsing     Stage = "parsing"
	StageStructuring Stage = "structuring"
	StagePrediction  Stage = "prediction"
)

// StageState is the fine-grained outcome a stage records for one document.
type StageState string

const (
	StateProcessing StageState = "processing"
	StateCompleted  StageState = "completed"
	StateFailed     StageState = "failed"
)

var allStatuses = []Status{
	StatusUploaded,
	StatusParsing,
	StatusParsed,
	StatusStructuring,
	StatusStructured,
	StatusPredicting,
	StatusPredicted,
	StatusFailed,
}

var statusRank = map[Status]int{
	StatusUploaded:    0,
	StatusParsing:     1,
	StatusParsed:      2,
	StatusStructuring: 3,
	StatusStructured:  4,
	StatusPredicting:  5,
	StatusPredicted:   6,
}

var stageOrder = []Stage{StageIngestion, StageParsing, StageStructuring, StagePrediction}

var processingStatuses = map[Status]Stage{
	StatusParsing:     StageParsing,
	StatusStructuring: StageStructuring,
	StatusPredicting:  StagePrediction,
}

// Per-stage status mapping: the coarse status while a stage works, the status
// once it reports completion, and the last known-good status to roll back to
// when its local work fails.
var stageStatuses = map[Stage]struct {
	processing Status
	done       Status
	rollback   Status
}{
	StageIngestion:   {processing: StatusUploaded, done: StatusUploaded, rollback: StatusUploaded},
	StageParsing:     {processing: StatusParsing, done: StatusParsed, rollback: StatusUploaded},
	StageStructuring: {processing: StatusStructuring, done: StatusStructured, rollback: StatusParsed},
	StagePrediction:  {processing: StatusPredicting, done: StatusPredicted, rollback: StatusStructured},
}

// AllStatuses returns the ordered list of known coarse statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// StageOrder returns the pipeline stages in processing order.
func StageOrder() []Stage {
	cp := make([]Stage, len(stageOrder))
	copy(cp, stageOrder)
	return cp
}

// NextStage returns the stage dispatched after the given one.
func NextStage(stage Stage) (Stage, bool) {
	for i, s := range stageOrder {
		if s == stage && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	if _, ok := statusRank[normalized]; ok {
		return normalized, true
	}
	if normalized == StatusFailed {
		return normalized, true
	}
	return "", false
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := stageStatuses[normalized]; ok {
		return normalized, true
	}
	return "", false
}

// ParseStageState converts a string into a known StageState.
func ParseStageState(value string) (StageState, bool) {
	switch StageState(strings.ToLower(strings.TrimSpace(value))) {
	case StateProcessing:
		return StateProcessing, true
	case StateCompleted:
		return StateCompleted, true
	case StateFailed:
		return StateFailed, true
	default:
		return "", false
	}
}

// ProcessingStage returns the coarse status representing in-flight work at a stage.
func (s Stage) ProcessingStatus() Status { return stageStatuses[s].processing }

// DoneStatus returns the coarse status once the stage reports completion.
func (s Stage) DoneStatus() Status { return stageStatuses[s].done }

// RollbackStatus returns the last known-good coarse status for the stage.
func (s Stage) RollbackStatus() Status { return stageStatuses[s].rollback }

// IsProcessing reports whether a coarse status reflects in-flight stage work.
func IsProcessing(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// Document is the ingestion-owned record for one uploaded clinical document.
type Document struct {
	ID               string
	OriginalFilename string
	StoredPath       string
	SizeBytes        int64
	ContentType      string
	Status           Status
	UploaderID       string
	ClinicName       string
	PatientID        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewDocument builds a document record with a fresh identifier in the initial
// uploaded state. The caller fills storage details before persisting.
func NewDocument(originalFilename string) *Document {
	return &Document{
		ID:               uuid.NewString(),
		OriginalFilename: originalFilename,
		Status:           StatusUploaded,
	}
}

// ProcessingStatus is one stage's recorded outcome for one document.
// Rows are append-mostly: retries and re-runs insert new rows while the
// latest row per (document, stage) stays authoritative for display.
type ProcessingStatus struct {
	ID           int64
	DocumentID   string
	Stage        Stage
	State        StageState
	ErrorMessage string
	Latest       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
