package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"meetdesk/internal/domain"
	"meetdesk/internal/metrics"
	"meetdesk/internal/models"
	"meetdesk/internal/retry"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Store is the persistence the worker needs.
type Store interface {
	domain.FollowUpStore
	domain.CounterRepository
	GetMeeting(ctx context.Context, id string) (*models.Meeting, error)
}

// MeetingSheet mirrors meetings to an external spreadsheet.
type MeetingSheet interface {
	UpsertMeeting(ctx context.Context, meeting *models.Meeting) error
}

type counterPayload struct {
	UserID         string `json:"user_id"`
	MeetingVersion int64  `json:"meeting_version"`
	Year           int    `json:"year"`
	Month          int    `json:"month"`
}

type Options struct {
	Retry        retry.Config
	PollInterval time.Duration
	BatchSize    int
}

// FollowUpWorker executes post-commit tasks persisted in the follow-up queue.
// Tasks are announced through a Redis list or an in-memory channel and
// recovered by polling the database, so a lost announcement only delays them.
type FollowUpWorker struct {
	store         Store
	sheets        MeetingSheet
	redis         *redis.Client
	retryPolicy   retry.Config
	queue         chan models.FollowUpTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

var _ domain.FollowUpQueue = (*FollowUpWorker)(nil)

func NewFollowUpWorker(store Store, sheets MeetingSheet, redisClient *redis.Client, opts Options, logger *zerolog.Logger) *FollowUpWorker {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry.MaxAttempts = 5
	}
	if opts.Retry.InitialDelay == 0 {
		opts.Retry.InitialDelay = 2 * time.Second
	}
	if opts.Retry.MaxDelay == 0 {
		opts.Retry.MaxDelay = time.Minute
	}
	if opts.Retry.BackoffFactor == 0 {
		opts.Retry.BackoffFactor = 2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &FollowUpWorker{
		store:         store,
		sheets:        sheets,
		redis:         redisClient,
		retryPolicy:   opts.Retry,
		queue:         make(chan models.FollowUpTask, 128),
		redisQueueKey: "followups:queue",
		deadLetterKey: "followups:deadletter",
		pollInterval:  opts.PollInterval,
		batchSize:     opts.BatchSize,
		logger:        logger,
	}
}

// EnqueueCounterIncrement schedules a retry of the counter increment for the
// cancellation that left meetingID at meetingVersion.
func (w *FollowUpWorker) EnqueueCounterIncrement(
	ctx context.Context,
	meetingID string,
	meetingVersion int64,
	userID string,
	year, month int,
) error {
	if meetingID == "" || userID == "" {
		return errors.New("meeting id and user id are required")
	}
	payload, err := json.Marshal(counterPayload{UserID: userID, MeetingVersion: meetingVersion, Year: year, Month: month})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return w.enqueue(ctx, models.TaskCounterIncrement, meetingID, string(payload))
}

// EnqueueMeetingSync schedules a spreadsheet upsert of the meeting. It is a
// no-op when no sheet is configured.
func (w *FollowUpWorker) EnqueueMeetingSync(ctx context.Context, meeting *models.Meeting) error {
	if w.sheets == nil {
		return nil
	}
	if meeting == nil || meeting.ID == "" {
		return errors.New("meeting id is required")
	}
	return w.enqueue(ctx, models.TaskSheetsUpsert, meeting.ID, "{}")
}

func (w *FollowUpWorker) enqueue(ctx context.Context, taskType, meetingID, payload string) error {
	task := models.FollowUpTask{
		TaskType:  taskType,
		MeetingID: meetingID,
		Payload:   payload,
		Status:    models.TaskStatusPending,
	}
	if err := w.store.CreateFollowUpTask(ctx, &task); err != nil {
		return fmt.Errorf("persist follow-up task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, falling back to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("memory queue full, task left to polling")
	}
	return nil
}

// Start runs the worker loop until ctx is done.
func (w *FollowUpWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("follow-up worker started")
	defer w.logger.Info().Msg("follow-up worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		if n := w.ProcessPending(ctx); n == 0 {
			w.sleep(ctx)
		}
	}
}

// ProcessPending handles one batch of due tasks from the database and
// returns how many were processed.
func (w *FollowUpWorker) ProcessPending(ctx context.Context) int {
	tasks, err := w.store.GetPendingFollowUpTasks(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to fetch pending follow-up tasks")
		return 0
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks)
}

func (w *FollowUpWorker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *FollowUpWorker) tryLocalQueue() (models.FollowUpTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.FollowUpTask{}, false
	}
}

func (w *FollowUpWorker) tryRedis(ctx context.Context) (models.FollowUpTask, bool) {
	if w.redis == nil {
		return models.FollowUpTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Warn().Err(err).Msg("redis BRPOP failed")
		}
		return models.FollowUpTask{}, false
	}
	if len(res) != 2 {
		return models.FollowUpTask{}, false
	}
	var task models.FollowUpTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Warn().Err(err).Msg("failed to decode redis task")
		return models.FollowUpTask{}, false
	}
	return task, true
}

func (w *FollowUpWorker) processTask(ctx context.Context, task *models.FollowUpTask) {
	if err := w.handleTask(ctx, task); err != nil {
		var perm *permanentTaskError
		if errors.As(err, &perm) {
			w.failTask(ctx, task, err)
			return
		}
		w.retryOrFail(ctx, task, err)
		return
	}

	metrics.IncFollowUp(task.TaskType, "completed")
	if err := w.store.UpdateFollowUpTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("failed to mark task completed")
	}
}

type permanentTaskError struct{ err error }

func (e *permanentTaskError) Error() string { return e.err.Error() }
func (e *permanentTaskError) Unwrap() error { return e.err }

func (w *FollowUpWorker) handleTask(ctx context.Context, task *models.FollowUpTask) error {
	switch task.TaskType {
	case models.TaskCounterIncrement:
		var payload counterPayload
		if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
			return &permanentTaskError{fmt.Errorf("decode payload: %w", err)}
		}
		if payload.UserID == "" || task.MeetingID == "" {
			return &permanentTaskError{errors.New("user id or meeting id missing")}
		}
		applied, count, err := w.store.IncrementCancellationCount(
			ctx, payload.UserID, payload.Year, payload.Month, task.MeetingID, payload.MeetingVersion,
		)
		if err != nil {
			return err
		}
		w.logger.Info().
			Str("meeting_id", task.MeetingID).
			Int64("meeting_version", payload.MeetingVersion).
			Bool("applied", applied).
			Int("count", count).
			Msg("cancellation counter increment replayed")
		return nil

	case models.TaskSheetsUpsert:
		if w.sheets == nil {
			return &permanentTaskError{errors.New("meeting sheet is not configured")}
		}
		meeting, err := w.store.GetMeeting(ctx, task.MeetingID)
		if errors.Is(err, domain.ErrNotFound) {
			return &permanentTaskError{err}
		}
		if err != nil {
			return err
		}
		return w.sheets.UpsertMeeting(ctx, meeting)

	default:
		return &permanentTaskError{fmt.Errorf("unknown task type: %s", task.TaskType)}
	}
}

func (w *FollowUpWorker) retryOrFail(ctx context.Context, task *models.FollowUpTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxAttempts {
		w.failTask(ctx, task, cause)
		return
	}

	metrics.IncFollowUp(task.TaskType, "retry")
	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", nextTime).Msg("follow-up task failed, will retry")
	if err := w.store.UpdateFollowUpTaskStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("failed to mark task for retry")
	}
}

func (w *FollowUpWorker) failTask(ctx context.Context, task *models.FollowUpTask, cause error) {
	metrics.IncFollowUp(task.TaskType, "failed")
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("type", task.TaskType).Msg("follow-up task failed permanently")
	if err := w.store.UpdateFollowUpTaskStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("failed to mark task failed")
	}
	if w.redis != nil {
		if err := w.pushRedis(ctx, w.deadLetterKey, *task); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("dead letter push failed")
		}
	}
}

func (w *FollowUpWorker) pushRedis(ctx context.Context, key string, task models.FollowUpTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
