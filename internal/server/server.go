// Package server bundles the dependencies the HTTP handlers share. Handlers
// take the Server by value, so tests can hand them stub agents and
// schedulers without standing up the whole app.
package server

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/MODSetter/SurfSense-sub000/internal/config"
	"github.com/MODSetter/SurfSense-sub000/pkg/research"
	"github.com/MODSetter/SurfSense-sub000/pkg/scheduler"
)

// ResearchAgent runs one research turn, streaming typed events to the
// caller-owned channel. *research.Agent satisfies it.
type ResearchAgent interface {
	Run(ctx context.Context, req research.Request, events chan<- research.Event) (*research.Outcome, error)
}

// RunScheduler enqueues on-demand indexing runs. *scheduler.Scheduler
// satisfies it.
type RunScheduler interface {
	Trigger(ctx context.Context, params scheduler.TriggerParams) (*scheduler.TriggerResult, error)
}

// Server contains the server configuration.
type Server struct {
	// Config is the loaded service configuration.
	Config *config.Config

	// DB is the database for the server.
	DB *gorm.DB

	// Agent answers chat requests.
	Agent ResearchAgent

	// Scheduler queues indexing runs.
	Scheduler RunScheduler

	// Logger is the logger for the server.
	Logger hclog.Logger
}
