package database

import (
	"context"
	"testing"
	"time"

	"meetdesk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollowUpQueue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	task := &models.FollowUpTask{
		TaskType:  models.TaskCounterIncrement,
		MeetingID: "m-1",
		Payload:   `{"user_id":"u-1"}`,
	}
	require.NoError(t, db.CreateFollowUpTask(ctx, task))
	assert.NotZero(t, task.ID)
	assert.Equal(t, models.TaskStatusPending, task.Status)

	tasks, err := db.GetPendingFollowUpTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "m-1", tasks[0].MeetingID)
	assert.Nil(t, tasks[0].LastError)

	// A retry scheduled in the future is not picked up yet.
	next := time.Now().Add(time.Hour)
	require.NoError(t, db.UpdateFollowUpTaskStatus(ctx, task.ID, models.TaskStatusRetry, "boom", &next))
	tasks, err = db.GetPendingFollowUpTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	past := time.Now().Add(-time.Second)
	require.NoError(t, db.UpdateFollowUpTaskStatus(ctx, task.ID, models.TaskStatusRetry, "boom", &past))
	tasks, err = db.GetPendingFollowUpTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 2, tasks[0].RetryCount)
	require.NotNil(t, tasks[0].LastError)
	assert.Equal(t, "boom", *tasks[0].LastError)

	require.NoError(t, db.UpdateFollowUpTaskStatus(ctx, task.ID, models.TaskStatusFailed, "gave up", nil))
	tasks, err = db.GetPendingFollowUpTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	failed, err := db.GetFailedFollowUpTasks(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.NotNil(t, failed[0].ProcessedAt)
}
