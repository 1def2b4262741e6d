package entities

import (
	"fmt"
	"strings"
)

// Mode selects the entity lookup strategy.
type Mode string

const (
	ModeFast         Mode = "fast"
	ModeDeep         Mode = "deep"
	ModeManualAdjust Mode = "manual_adjust"
)

// ParseMode validates a mode name. An empty value yields fallback.
func ParseMode(value string, fallback Mode) (Mode, error) {
	switch mode := Mode(strings.ToLower(strings.TrimSpace(value))); mode {
	case "":
		return fallback, nil
	case ModeFast, ModeDeep, ModeManualAdjust:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown entity mode %q (want fast, deep, or manual_adjust)", value)
	}
}
