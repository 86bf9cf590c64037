package models

import "time"

// Stage names a pipeline stage in outcomes.
type Stage string

const (
	StageForaging       Stage = "foraging"
	StagePreprocessing  Stage = "preprocessing"
	StageIdentification Stage = "identification"
	StageSelection      Stage = "selection"
	StageAssembly       Stage = "assembly"
	StageValidation     Stage = "validation"
	StageStorage        Stage = "storage"
)

// OutcomeKind is the categorical result of a pipeline run.
type OutcomeKind string

const (
	OutcomeSkipped      OutcomeKind = "skipped"
	OutcomeNoCandidates OutcomeKind = "no_candidates"
	OutcomeNoneViable   OutcomeKind = "none_viable"
	OutcomeRejected     OutcomeKind = "rejected"
	OutcomeSuccess      OutcomeKind = "success"
)

// Outcome is produced by every pipeline run, successful or not.
type Outcome struct {
	Stage   Stage       `json:"stage"`
	Outcome OutcomeKind `json:"outcome"`
	Detail  string      `json:"detail"`
}

// OutcomeLogEntry is a persisted outcome with provenance.
type OutcomeLogEntry struct {
	ID        string      `json:"id" db:"id"`
	Timestamp time.Time   `json:"timestamp" db:"timestamp"`
	SessionID string      `json:"session_id,omitempty" db:"session_id"`
	SourceURL string      `json:"source_url,omitempty" db:"source_url"`
	Stage     Stage       `json:"stage" db:"stage"`
	Outcome   OutcomeKind `json:"outcome" db:"outcome"`
	Detail    string      `json:"detail" db:"detail"`
	RecordID  string      `json:"record_id,omitempty" db:"record_id"`
}
