// Package migrate interprets ordered migration steps attached to a
// collection edit, rewriting dependent collections so that relations
// stay consistent across renames.
package migrate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/quarrydb/quarry/internal/core/schema"
)

// Step kinds understood by the applier. The set is open for extension;
// unknown kinds are rejected, never ignored.
const (
	StepRenameCollection = "rename-collection"
)

// ErrUnsupportedStep indicates a step kind the applier does not implement
var ErrUnsupportedStep = errors.New("unsupported migration step")

// Step is a declarative migration operation. Fields beyond Type are
// interpreted per kind.
type Step struct {
	Type       string `json:"type"`
	Collection string `json:"collection,omitempty"`
	To         string `json:"to,omitempty"`
}

// StepError reports which step of an edit failed and why. Remaining
// steps are not attempted; already-applied steps are not rolled back, so
// callers must treat the edit as partially applied and retry.
type StepError struct {
	Index int
	Step  Step
	Err   error
}

// Error implements the error interface
func (e *StepError) Error() string {
	return fmt.Sprintf("migration step %d (%s) failed: %v", e.Index, e.Step.Type, e.Err)
}

// Unwrap returns the underlying cause
func (e *StepError) Unwrap() error {
	return e.Err
}

// Definitions is the persistence surface the applier rewrites through.
// The collection registry implements it with its write lock already
// held, serializing migrations against concurrent dispatches.
type Definitions interface {
	All(ctx context.Context) ([]*schema.CollectionDefinition, error)
	Save(ctx context.Context, def *schema.CollectionDefinition) error
}

// Applier executes migration steps strictly in declared order
type Applier struct {
	defs   Definitions
	logger *zap.Logger
}

// NewApplier creates a migration applier over the given definitions
func NewApplier(defs Definitions, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{defs: defs, logger: logger}
}

// Apply runs the steps in order, aborting on the first failure. Every
// step is written to be idempotent: re-applying a completed step is a
// no-op, which is the recovery path after partial failure.
func (a *Applier) Apply(ctx context.Context, steps []Step) error {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Index: i, Step: step, Err: err}
		}

		var err error
		switch step.Type {
		case StepRenameCollection:
			err = a.applyRename(ctx, step)
		default:
			err = fmt.Errorf("%w: %q", ErrUnsupportedStep, step.Type)
		}

		if err != nil {
			return &StepError{Index: i, Step: step, Err: err}
		}

		a.logger.Info("applied migration step",
			zap.Int("index", i),
			zap.String("type", step.Type),
			zap.String("collection", step.Collection),
		)
	}
	return nil
}

// applyRename rewrites every relation field referencing the old
// collection name. Definitions are only persisted when a field actually
// changed, so re-running the step after a partial failure converges
// without extra writes.
func (a *Applier) applyRename(ctx context.Context, step Step) error {
	if step.Collection == "" || step.To == "" {
		return fmt.Errorf("rename-collection requires collection and to")
	}

	defs, err := a.defs.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to list definitions: %w", err)
	}

	for _, def := range defs {
		changed := false
		for _, field := range def.Schema {
			if field.Relation == step.Collection {
				field.Relation = step.To
				changed = true
			}
		}
		if !changed {
			continue
		}
		if err := a.defs.Save(ctx, def); err != nil {
			return fmt.Errorf("failed to persist %s: %w", def.Name, err)
		}
	}

	return nil
}
