package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Slot names a stage payload. Each stage writes only its own slot.
type Slot string

const (
	SlotSplit      Slot = "split"
	SlotExtraction Slot = "extraction"
	SlotEntity     Slot = "entity"
	SlotRefinement Slot = "refinement"
)

// ParseSlot validates a persisted slot name.
func ParseSlot(value string) (Slot, error) {
	switch slot := Slot(value); slot {
	case SlotSplit, SlotExtraction, SlotEntity, SlotRefinement:
		return slot, nil
	default:
		return "", fmt.Errorf("unknown payload slot %q", value)
	}
}

// StageError is the structured failure stored on a record.
type StageError struct {
	Kind        string    `json:"kind"`
	Stage       string    `json:"stage,omitempty"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
	At          time.Time `json:"at"`
}

// Record is the persisted state of one document.
type Record struct {
	ID           string
	Name         string
	SourcePath   string
	Stage        Stage
	CoarseStatus CoarseStatus
	Version      int64

	EntityRecognitionEnabled   bool
	EntityRecognitionConfirmed bool
	EntityMode                 string

	Payloads  map[Slot]json.RawMessage
	LastError *StageError
	Progress  *int

	Holder      string
	HeartbeatAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveProgress returns the explicit progress value when set, otherwise
// the stage-derived percentage.
func (r *Record) EffectiveProgress() int {
	if r == nil {
		return 0
	}
	if r.Progress != nil {
		return *r.Progress
	}
	return r.Stage.Progress()
}

// Payload returns the raw payload stored in slot, or nil.
func (r *Record) Payload(slot Slot) json.RawMessage {
	if r == nil || r.Payloads == nil {
		return nil
	}
	return r.Payloads[slot]
}

// DecodePayload unmarshals slot into target. It reports false when the slot
// is empty.
func (r *Record) DecodePayload(slot Slot, target any) (bool, error) {
	raw := r.Payload(slot)
	if len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return true, fmt.Errorf("decode %s payload: %w", slot, err)
	}
	return true, nil
}

// SetPayload marshals value into slot.
func (r *Record) SetPayload(slot Slot, value any) error {
	var raw json.RawMessage
	switch v := value.(type) {
	case json.RawMessage:
		raw = append(json.RawMessage(nil), v...)
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", slot, err)
		}
		raw = encoded
	}
	if !json.Valid(raw) {
		return fmt.Errorf("encode %s payload: invalid json", slot)
	}
	if r.Payloads == nil {
		r.Payloads = make(map[Slot]json.RawMessage)
	}
	r.Payloads[slot] = raw
	return nil
}

// SetProgress records an explicit progress percentage.
func (r *Record) SetProgress(percent int) {
	r.Progress = &percent
}

// Fail moves the record to StageFailed with the supplied error details.
func (r *Record) Fail(kind, message string, recoverable bool) {
	r.LastError = &StageError{
		Kind:        kind,
		Stage:       r.Stage.String(),
		Message:     message,
		Recoverable: recoverable,
		At:          time.Now().UTC(),
	}
	r.Stage = StageFailed
	r.Progress = nil
}

// Clone returns a deep copy that can be mutated without affecting r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Payloads != nil {
		cp.Payloads = make(map[Slot]json.RawMessage, len(r.Payloads))
		for slot, raw := range r.Payloads {
			cp.Payloads[slot] = append(json.RawMessage(nil), raw...)
		}
	}
	if r.LastError != nil {
		errCopy := *r.LastError
		cp.LastError = &errCopy
	}
	if r.Progress != nil {
		progress := *r.Progress
		cp.Progress = &progress
	}
	if r.HeartbeatAt != nil {
		hb := *r.HeartbeatAt
		cp.HeartbeatAt = &hb
	}
	return &cp
}

// changedSlots returns the slots whose payload differs between before and after.
func changedSlots(before, after *Record) []Slot {
	var out []Slot
	for _, slot := range []Slot{SlotSplit, SlotExtraction, SlotEntity, SlotRefinement} {
		next, ok := after.Payloads[slot]
		if !ok {
			continue
		}
		if prev, had := before.Payloads[slot]; had && bytes.Equal(prev, next) {
			continue
		}
		out = append(out, slot)
	}
	return out
}
