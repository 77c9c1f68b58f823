// Package notify delivers run progress to watchers. The indexer, scheduler
// and research agent all report through one Emitter; sinks decide whether a
// notification becomes a task-log row, a Kafka event, or both.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

// Event is one progress notification for a background run.
type Event struct {
	RunID         uuid.UUID              `json:"run_id"`
	TaskName      string                 `json:"task_name"`
	Source        string                 `json:"source,omitempty"`
	SearchSpaceID uint                   `json:"search_space_id"`
	Status        models.TaskStatus      `json:"status"`
	Message       string                 `json:"message"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	At            time.Time              `json:"at"`
}

// Emitter delivers one event. Implementations are called from the run
// goroutine and must not block longer than their own I/O requires.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// Func adapts a plain function to an Emitter.
type Func func(ctx context.Context, ev Event) error

// Emit implements Emitter.
func (f Func) Emit(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Nop discards every event.
var Nop Emitter = Func(func(context.Context, Event) error { return nil })

// Multi fans one event out to every sink. All sinks see the event even when
// an earlier one fails; failures are collected.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(ctx context.Context, ev Event) error {
	var result *multierror.Error
	for _, sink := range m {
		if err := sink.Emit(ctx, ev); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
