package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestTaskLogAppendOnly(t *testing.T) {
	db := setupTestDB(t)
	sp := createTestSpace(t, db)
	runID := uuid.New()

	rows := []*TaskLog{
		{RunID: runID, TaskName: "slack_connector_indexing", Source: "connector_indexer",
			SearchSpaceID: sp.ID, Status: TaskStatusStarted, Message: "starting"},
		{RunID: runID, TaskName: "slack_connector_indexing", Source: "connector_indexer",
			SearchSpaceID: sp.ID, Status: TaskStatusProgress, Message: "50 items"},
		{RunID: runID, TaskName: "slack_connector_indexing", Source: "connector_indexer",
			SearchSpaceID: sp.ID, Status: TaskStatusSuccess, Message: "done",
			Metadata: JSONFrom(map[string]int{"inserted": 50})},
	}
	for _, row := range rows {
		require.NoError(t, AppendTaskLog(db, row))
	}

	got, err := GetTaskLogsByRun(db, runID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, TaskStatusStarted, got[0].Status)
	assert.Equal(t, TaskStatusProgress, got[1].Status)
	assert.Equal(t, TaskStatusSuccess, got[2].Status)
}

func TestTaskLogSingleTerminalRow(t *testing.T) {
	db := setupTestDB(t)
	sp := createTestSpace(t, db)
	runID := uuid.New()

	require.NoError(t, AppendTaskLog(db, &TaskLog{
		RunID: runID, TaskName: "notion_connector_indexing",
		SearchSpaceID: sp.ID, Status: TaskStatusStarted,
	}))
	require.NoError(t, AppendTaskLog(db, &TaskLog{
		RunID: runID, TaskName: "notion_connector_indexing",
		SearchSpaceID: sp.ID, Status: TaskStatusFailure, Message: "credentials expired",
	}))

	err := AppendTaskLog(db, &TaskLog{
		RunID: runID, TaskName: "notion_connector_indexing",
		SearchSpaceID: sp.ID, Status: TaskStatusSuccess,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has terminal status")

	terminal, err := GetTerminalTaskLog(db, runID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusFailure, terminal.Status)
}

func TestTaskLogTerminalLookupWhileLive(t *testing.T) {
	db := setupTestDB(t)
	sp := createTestSpace(t, db)
	runID := uuid.New()

	require.NoError(t, AppendTaskLog(db, &TaskLog{
		RunID: runID, TaskName: "github_connector_indexing",
		SearchSpaceID: sp.ID, Status: TaskStatusStarted,
	}))

	_, err := GetTerminalTaskLog(db, runID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestTaskLogRequiresRunID(t *testing.T) {
	db := setupTestDB(t)

	err := AppendTaskLog(db, &TaskLog{TaskName: "x", Status: TaskStatusStarted})
	require.Error(t, err)
}
