package document

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Stage is the fine-grained pipeline position of a document.
type Stage uint8

const (
	StageUploaded Stage = iota
	StageSplitting
	StageSplitCompleted
	StageExtracting
	StageExtracted
	StageEntityRecognizing
	StageEntityPendingConfirm
	StageEntityConfirmed
	StageRefining
	StageRefined
	StageFailed

	stageCount
)

var stageNames = [stageCount]string{
	StageUploaded:             "uploaded",
	StageSplitting:            "splitting",
	StageSplitCompleted:       "split_completed",
	StageExtracting:           "extracting",
	StageExtracted:            "extracted",
	StageEntityRecognizing:    "entity_recognizing",
	StageEntityPendingConfirm: "entity_pending_confirm",
	StageEntityConfirmed:      "entity_confirmed",
	StageRefining:             "refining",
	StageRefined:              "refined",
	StageFailed:               "failed",
}

var stageProgress = [stageCount]int{
	StageUploaded:             10,
	StageSplitting:            15,
	StageSplitCompleted:       20,
	StageExtracting:           30,
	StageExtracted:            50,
	StageEntityRecognizing:    55,
	StageEntityPendingConfirm: 60,
	StageEntityConfirmed:      65,
	StageRefining:             70,
	StageRefined:              100,
	StageFailed:               0,
}

var busyStages = [stageCount]bool{
	StageSplitting:         true,
	StageExtracting:        true,
	StageEntityRecognizing: true,
	StageRefining:          true,
}

var titleCaser = cases.Title(language.Und)

// Stages returns every stage in pipeline order.
func Stages() []Stage {
	out := make([]Stage, 0, stageCount)
	for s := Stage(0); s < stageCount; s++ {
		out = append(out, s)
	}
	return out
}

// ParseStage converts a persisted stage name into a Stage.
func ParseStage(value string) (Stage, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for s := Stage(0); s < stageCount; s++ {
		if stageNames[s] == normalized {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", value)
}

func (s Stage) valid() bool {
	return s < stageCount
}

func (s Stage) String() string {
	if !s.valid() {
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
	return stageNames[s]
}

// Label returns a human-friendly stage name for display.
func (s Stage) Label() string {
	if !s.valid() {
		return s.String()
	}
	return titleCaser.String(strings.ReplaceAll(stageNames[s], "_", " "))
}

// Busy reports whether the stage is exclusive: no new operation may start
// while a record sits in it.
func (s Stage) Busy() bool {
	return s.valid() && busyStages[s]
}

// Terminal reports whether the stage has no automatic successor.
func (s Stage) Terminal() bool {
	return s == StageRefined || s == StageFailed
}

// Progress returns the table-derived progress percentage for the stage.
func (s Stage) Progress() int {
	if !s.valid() {
		return 0
	}
	return stageProgress[s]
}

// entityStarted reports whether the entity stage has begun or been passed.
// The entity flag is frozen from here on except for designed degradations.
func (s Stage) entityStarted() bool {
	switch s {
	case StageEntityRecognizing, StageEntityPendingConfirm, StageEntityConfirmed, StageRefining, StageRefined:
		return true
	default:
		return false
	}
}

// CoarseStatus is the observer-facing summary derived from a Stage.
type CoarseStatus string

const (
	StatusPending    CoarseStatus = "pending"
	StatusProcessing CoarseStatus = "processing"
	StatusCompleted  CoarseStatus = "completed"
	StatusFailed     CoarseStatus = "failed"
)

// CoarseStatus derives the summary status for the stage.
func (s Stage) CoarseStatus() CoarseStatus {
	switch s {
	case StageUploaded:
		return StatusPending
	case StageRefined:
		return StatusCompleted
	case StageFailed:
		return StatusFailed
	default:
		return StatusProcessing
	}
}

// ParseCoarseStatus validates a persisted coarse status.
func ParseCoarseStatus(value string) (CoarseStatus, error) {
	switch status := CoarseStatus(strings.ToLower(strings.TrimSpace(value))); status {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("unknown status %q", value)
	}
}
