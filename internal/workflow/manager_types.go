package workflow

import (
	"docflow/internal/document"
	"docflow/internal/entities"
	"docflow/internal/stage"
)

// StageSet bundles the concrete stage handlers the manager orchestrates.
// Splitter may be nil when page splitting is not offered.
type StageSet struct {
	Splitter  stage.Handler
	Extractor stage.Handler
	Entities  *entities.Recognizer
	Refiner   stage.Handler
}

// CreateRequest registers a new document.
type CreateRequest struct {
	Name       string
	SourcePath string
	// EntityRecognition overrides workflow.entity_recognition_default.
	EntityRecognition *bool
}

// EntityRequest selects the recognition mode for RecognizeEntities. Names is
// the curated list used by manual adjustment.
type EntityRequest struct {
	Mode  string
	Names []string
}

// plannedStep is the next automatic operation for an idle document.
type plannedStep struct {
	action  document.Action
	handler stage.Handler
}
