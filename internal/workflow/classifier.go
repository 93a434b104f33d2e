package workflow

import (
	"strings"

	"tracehub/internal/domain"
)

// rule maps keywords to a stage; rules are checked in slice order.
type rule struct {
	keywords []string
	stage    domain.WorkflowStage
}

// Transit is checked before completion/declaration so that "completion_transit"
// resolves to the transit stage.
var rules = []rule{
	{keywords: []string{"manifest", "transmission"}, stage: domain.StageManifestNotification},
	{keywords: []string{"transit"}, stage: domain.StageTransit},
	{keywords: []string{"completion", "declaration"}, stage: domain.StageFreePractice},
}

// Classify maps an operation type to its workflow stage.
// Params: free-form operation type, matched case-insensitively by keyword.
// Returns: first matching stage in priority order, or StageGeneral.
func Classify(operationType string) domain.WorkflowStage {
	lowered := strings.ToLower(operationType)
	for _, candidate := range rules {
		for _, keyword := range candidate.keywords {
			if strings.Contains(lowered, keyword) {
				return candidate.stage
			}
		}
	}
	return domain.StageGeneral
}

// Stages returns every stage in display order.
// Params: none.
// Returns: stage list.
func Stages() []domain.WorkflowStage {
	return []domain.WorkflowStage{
		domain.StageManifestNotification,
		domain.StageFreePractice,
		domain.StageTransit,
		domain.StageGeneral,
	}
}

// Describe returns a readable stage label.
// Params: stage id.
// Returns: label, or the raw id for unknown stages.
func Describe(stage domain.WorkflowStage) string {
	switch stage {
	case domain.StageManifestNotification:
		return "manifest notification"
	case domain.StageFreePractice:
		return "free-practice completion"
	case domain.StageTransit:
		return "transit completion"
	case domain.StageGeneral:
		return "general workflow"
	default:
		return string(stage)
	}
}

// IsFinalization reports whether the stage closes a workflow.
// Params: stage id.
// Returns: true for free-practice and transit completion.
func IsFinalization(stage domain.WorkflowStage) bool {
	return stage == domain.StageFreePractice || stage == domain.StageTransit
}

// Valid reports whether the id is a known stage.
// Params: stage id.
// Returns: true for known stages.
func Valid(stage domain.WorkflowStage) bool {
	for _, known := range Stages() {
		if known == stage {
			return true
		}
	}
	return false
}
