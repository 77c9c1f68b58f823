package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskStatus is the state carried by one task-log row.
type TaskStatus string

const (
	TaskStatusStarted  TaskStatus = "started"
	TaskStatusProgress TaskStatus = "progress"
	TaskStatusSuccess  TaskStatus = "success"
	TaskStatusFailure  TaskStatus = "failure"
)

// IsTerminal reports whether the status ends a run.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailure
}

// TaskLog is the append-only progress record of background runs. Rows for one
// run share a RunID; a run has exactly one started row, any number of
// progress rows, and exactly one terminal row. The log is the source of truth
// for UI progress, not worker memory.
type TaskLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	RunID         uuid.UUID  `gorm:"type:uuid;not null;index:idx_task_logs_run" json:"runId"`
	TaskName      string     `gorm:"type:varchar(200);not null;index:idx_task_logs_name" json:"taskName"`
	Source        string     `gorm:"type:varchar(100)" json:"source"`
	SearchSpaceID uint       `gorm:"index:idx_task_logs_space" json:"searchSpaceId"`
	Status        TaskStatus `gorm:"type:varchar(20);not null" json:"status"`
	Message       string     `gorm:"type:text" json:"message"`
	Metadata      JSON       `gorm:"type:jsonb" json:"metadata,omitempty"`
}

// TableName specifies the table name.
func (TaskLog) TableName() string {
	return "task_logs"
}

// AppendTaskLog writes one row. Terminal rows are rejected when the run
// already has one, keeping the one-terminal-row invariant under bugs in
// callers.
func AppendTaskLog(db *gorm.DB, row *TaskLog) error {
	if row.RunID == uuid.Nil {
		return fmt.Errorf("task log row requires a run id")
	}
	if row.Status.IsTerminal() {
		terminal, err := GetTerminalTaskLog(db, row.RunID)
		if err != nil && err != gorm.ErrRecordNotFound {
			return err
		}
		if terminal != nil {
			return fmt.Errorf("run %s already has terminal status %s", row.RunID, terminal.Status)
		}
	}
	return db.Create(row).Error
}

// GetTaskLogsByRun retrieves a run's rows in append order.
func GetTaskLogsByRun(db *gorm.DB, runID uuid.UUID) ([]TaskLog, error) {
	var rows []TaskLog
	err := db.Where("run_id = ?", runID).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// GetTerminalTaskLog returns the run's terminal row, or ErrRecordNotFound
// while the run is still live.
func GetTerminalTaskLog(db *gorm.DB, runID uuid.UUID) (*TaskLog, error) {
	var row TaskLog
	err := db.Where("run_id = ? AND status IN ?", runID,
		[]TaskStatus{TaskStatusSuccess, TaskStatusFailure}).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetLatestTaskRun returns the most recent row for a task name in a space,
// which carries the newest run's id.
func GetLatestTaskRun(db *gorm.DB, searchSpaceID uint, taskName string) (*TaskLog, error) {
	var row TaskLog
	err := db.Where("search_space_id = ? AND task_name = ?", searchSpaceID, taskName).
		Order("id DESC").
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}
