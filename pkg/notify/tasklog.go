package notify

import (
	"context"
	"strings"

	"github.com/forPelevin/gomoji"
	"gorm.io/gorm"

	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

// TaskLogSink appends events to the task_logs table. Messages lose their
// emoji on the way in; the decorated form is for live streams, the table is
// what operators grep.
type TaskLogSink struct {
	db *gorm.DB
}

// NewTaskLogSink builds the sink.
func NewTaskLogSink(db *gorm.DB) *TaskLogSink {
	return &TaskLogSink{db: db}
}

// Emit implements Emitter.
func (s *TaskLogSink) Emit(ctx context.Context, ev Event) error {
	row := &models.TaskLog{
		RunID:         ev.RunID,
		TaskName:      ev.TaskName,
		Source:        ev.Source,
		SearchSpaceID: ev.SearchSpaceID,
		Status:        ev.Status,
		Message:       CleanMessage(ev.Message),
	}
	if len(ev.Metadata) > 0 {
		row.Metadata = models.JSONFrom(ev.Metadata)
	}
	return models.AppendTaskLog(s.db.WithContext(ctx), row)
}

// CleanMessage strips emoji and collapses the whitespace they leave behind.
func CleanMessage(msg string) string {
	cleaned := gomoji.RemoveEmojis(msg)
	return strings.Join(strings.Fields(cleaned), " ")
}
