package stage

import (
	"fmt"

	"docflow/internal/document"
	"docflow/internal/services"
)

// RequireStage returns a validation error unless rec is in one of allowed.
func RequireStage(rec *document.Record, stageName string, allowed ...document.Stage) error {
	for _, candidate := range allowed {
		if rec.Stage == candidate {
			return nil
		}
	}
	return services.Wrap(services.ErrValidation, stageName, "precondition",
		fmt.Sprintf("document is %s; %s requires %s", rec.Stage, stageName, stageList(allowed)), nil)
}

func stageList(stages []document.Stage) string {
	switch len(stages) {
	case 0:
		return "no stage"
	case 1:
		return stages[0].String()
	}
	out := ""
	for i, s := range stages {
		if i > 0 {
			if i == len(stages)-1 {
				out += " or "
			} else {
				out += ", "
			}
		}
		out += s.String()
	}
	return out
}
