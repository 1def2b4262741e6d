package stage

import (
	"context"

	"docflow/internal/document"
)

// Commit is the closing mutation an executor applies when its adapter work
// succeeds: it writes the stage's payload slot and moves the record to the
// post-condition stage.
type Commit func(*document.Record) error

// Reporter records mid-stage progress for the running document.
type Reporter interface {
	Progress(ctx context.Context, percent int)
}

// Handler describes the contract the stage template needs from each
// executor.
type Handler interface {
	// Name is the stage label used in logs and error details.
	Name() string
	// Prepare checks preconditions against the current record. It must not
	// contact any adapter.
	Prepare(ctx context.Context, rec *document.Record) error
	// Claim mutates an idle record into the executor's busy stage.
	Claim(rec *document.Record) error
	// Execute performs the adapter work for a claimed record.
	Execute(ctx context.Context, rec *document.Record, progress Reporter) (Commit, error)
	HealthCheck(ctx context.Context) Health
}

// Degrader is implemented by handlers that turn some failures into a
// non-terminal rollback instead of the failed stage. Degrade reports
// whether it handled err.
type Degrader interface {
	Degrade(rec *document.Record, err error) bool
}
