package document

import (
	"fmt"

	"docflow/internal/services"
)

// edges lists the legal successors of every stage. Every non-terminal stage
// may also fall to StageFailed; that edge is added by CanTransition.
var edges = [stageCount][]Stage{
	StageUploaded:             {StageSplitting, StageExtracting},
	StageSplitting:            {StageSplitCompleted},
	StageSplitCompleted:       {StageExtracting},
	StageExtracting:           {StageExtracted},
	StageExtracted:            {StageEntityRecognizing, StageRefining},
	StageEntityRecognizing:    {StageEntityPendingConfirm, StageEntityConfirmed, StageExtracted},
	StageEntityPendingConfirm: {StageEntityConfirmed, StageEntityRecognizing, StageExtracted},
	StageEntityConfirmed:      {StageRefining},
	StageRefining:             {StageRefined},
	StageRefined:              nil,
	StageFailed:               {StageUploaded},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Stage) bool {
	if !from.valid() || !to.valid() {
		return false
	}
	if to == StageFailed {
		return !from.Terminal()
	}
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Successors returns the legal next stages of s, including StageFailed for
// non-terminal stages.
func Successors(s Stage) []Stage {
	if !s.valid() {
		return nil
	}
	out := append([]Stage(nil), edges[s]...)
	if !s.Terminal() {
		out = append(out, StageFailed)
	}
	return out
}

// validateTransition checks a proposed record mutation against the stage
// edges and the entity flag rules.
func validateTransition(before, after *Record) error {
	if after.ID != before.ID || after.CreatedAt != before.CreatedAt {
		return services.Wrap(services.ErrValidation, before.Stage.String(), "try advance", "identity fields are immutable", nil)
	}
	if !after.Stage.valid() {
		return services.Wrap(services.ErrValidation, before.Stage.String(), "try advance", fmt.Sprintf("invalid stage %d", uint8(after.Stage)), nil)
	}
	if after.Stage != before.Stage && !CanTransition(before.Stage, after.Stage) {
		return services.Wrap(services.ErrValidation, before.Stage.String(), "try advance",
			fmt.Sprintf("illegal transition %s -> %s", before.Stage, after.Stage), nil)
	}
	if after.EntityRecognitionConfirmed && !before.EntityRecognitionConfirmed && after.Stage != StageEntityConfirmed {
		return services.Wrap(services.ErrValidation, before.Stage.String(), "try advance",
			"entity confirmation only completes at entity_confirmed", nil)
	}
	if after.EntityRecognitionEnabled != before.EntityRecognitionEnabled {
		degraded := after.Stage == StageExtracted && !after.EntityRecognitionEnabled
		if before.Stage.entityStarted() && !degraded {
			return services.Wrap(services.ErrValidation, before.Stage.String(), "try advance",
				"entity recognition setting is frozen once the entity stage has started", nil)
		}
	}
	if before.Stage == StageExtracted && after.Stage == StageEntityRecognizing && !after.EntityRecognitionEnabled {
		return services.Wrap(services.ErrValidation, before.Stage.String(), "try advance",
			"entity recognition is disabled for this document", nil)
	}
	if after.Stage == StageRefining && after.Stage != before.Stage &&
		after.EntityRecognitionEnabled && !after.EntityRecognitionConfirmed {
		return services.Wrap(services.ErrConfirmationRequired, before.Stage.String(), "try advance",
			"entities must be confirmed before refinement", nil)
	}
	if after.Progress != nil && (*after.Progress < 0 || *after.Progress > 100) {
		return services.Wrap(services.ErrValidation, before.Stage.String(), "try advance",
			fmt.Sprintf("progress %d out of range", *after.Progress), nil)
	}
	return nil
}

// Action is a caller-initiated operation on a document.
type Action string

const (
	ActionSplit             Action = "split"
	ActionExtract           Action = "extract"
	ActionRecognizeEntities Action = "recognize_entities"
	ActionConfirmEntities   Action = "confirm_entities"
	ActionAdjustEntities    Action = "adjust_entities"
	ActionSkipEntities      Action = "skip_entities"
	ActionRefine            Action = "refine"
	ActionRetry             Action = "retry"
)

// AvailableActions lists the operations that would pass precondition checks
// for the record in its current state. Busy and refined records expose none.
func AvailableActions(r *Record) []Action {
	if r == nil {
		return nil
	}
	switch r.Stage {
	case StageUploaded:
		return []Action{ActionSplit, ActionExtract}
	case StageSplitCompleted:
		return []Action{ActionExtract}
	case StageExtracted:
		if r.EntityRecognitionEnabled {
			return []Action{ActionRecognizeEntities}
		}
		return []Action{ActionRecognizeEntities, ActionRefine}
	case StageEntityPendingConfirm:
		return []Action{ActionConfirmEntities, ActionAdjustEntities, ActionSkipEntities}
	case StageEntityConfirmed:
		return []Action{ActionRefine}
	case StageFailed:
		return []Action{ActionRetry}
	default:
		return nil
	}
}

// Allows reports whether action is currently available for r.
func Allows(r *Record, action Action) bool {
	for _, candidate := range AvailableActions(r) {
		if candidate == action {
			return true
		}
	}
	return false
}
