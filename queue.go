/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package eventledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blnkfinance/eventledger/config"
	"github.com/blnkfinance/eventledger/internal/apierror"
	redis_db "github.com/blnkfinance/eventledger/internal/redis-db"
	"github.com/blnkfinance/eventledger/model"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const (
	TaskReplayAccount       = "ledger:replay_account"
	TaskIndexEvent          = "ledger:index_event"
	TaskRetryFailedEvents   = "ledger:retry_failed_events"
	TaskCheckStaleFailures  = "ledger:check_stale_failures"
	TaskValidateConsistency = "ledger:validate_consistency"
)

// Queue represents a queue for handling ledger background tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	conf      config.QueueConfig
}

// ReplayPayload is the body of a replay task.
type ReplayPayload struct {
	AccountID string    `json:"account_id"`
	Since     time.Time `json:"since"`
}

// IndexPayload is the body of an index task.
type IndexPayload struct {
	EventID int64 `json:"event_id"`
}

// RedisClientOpt builds the asynq connection options from the Redis config.
func RedisClientOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("error parsing Redis URL: %w", err)
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Username:  redisOption.Username,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := RedisClientOpt(conf)
	if err != nil {
		return nil, err
	}
	return NewQueueWithOpt(opt, conf.Queue), nil
}

func NewQueueWithOpt(opt asynq.RedisConnOpt, conf config.QueueConfig) *Queue {
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		conf:      conf,
	}
}

func replayTaskID(accountID string, since time.Time) string {
	return fmt.Sprintf("replay:%s:%d", accountID, since.UnixNano())
}

// EnqueueReplay schedules a replay of the account. It reports false when an
// identical replay is already queued.
func (q *Queue) EnqueueReplay(ctx context.Context, accountID string, since time.Time) (bool, error) {
	payload, err := json.Marshal(ReplayPayload{AccountID: accountID, Since: since})
	if err != nil {
		return false, err
	}
	task := asynq.NewTask(TaskReplayAccount, payload,
		asynq.TaskID(replayTaskID(accountID, since)),
		asynq.Queue(q.conf.ReplayQueue),
		asynq.MaxRetry(3),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logrus.WithField("account_id", accountID).Info("replay already queued")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	logrus.WithFields(logrus.Fields{"account_id": accountID, "task_id": info.ID}).Info("replay enqueued")
	return true, nil
}

// EnqueueIndex schedules the event for search indexing.
func (q *Queue) EnqueueIndex(ctx context.Context, event model.Event) error {
	payload, err := json.Marshal(IndexPayload{EventID: event.ID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskIndexEvent, payload, asynq.Queue(q.conf.IndexQueue), asynq.MaxRetry(5))
	_, err = q.Client.EnqueueContext(ctx, task)
	return err
}

func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		return err
	}
	return q.Client.Close()
}

var errQueueDisabled = apierror.NewAPIError(apierror.ErrBadRequest, "task queue is not configured", nil)

// EnqueueReplay schedules an async replay of an existing account.
func (l *Ledger) EnqueueReplay(ctx context.Context, accountID string, since time.Time) (bool, error) {
	if l.queue == nil {
		return false, errQueueDisabled
	}
	if _, err := l.datasource.GetAccountByID(ctx, accountID); err != nil {
		return false, err
	}
	return l.queue.EnqueueReplay(ctx, accountID, since)
}

// PeriodicTask is one scheduler entry.
type PeriodicTask struct {
	Cronspec string
	Task     *asynq.Task
	Opts     []asynq.Option
}

// PeriodicTasks lists the maintenance sweeps run by the scheduler.
func PeriodicTasks(conf *config.Configuration) []PeriodicTask {
	queue := asynq.Queue(conf.Queue.MaintenanceQueue)
	return []PeriodicTask{
		{Cronspec: conf.Retry.SweepSchedule, Task: asynq.NewTask(TaskRetryFailedEvents, nil), Opts: []asynq.Option{queue, asynq.MaxRetry(0)}},
		{Cronspec: conf.Retry.StaleCheckSchedule, Task: asynq.NewTask(TaskCheckStaleFailures, nil), Opts: []asynq.Option{queue, asynq.MaxRetry(0)}},
		{Cronspec: conf.Consistency.Schedule, Task: asynq.NewTask(TaskValidateConsistency, nil), Opts: []asynq.Option{queue, asynq.MaxRetry(0)}},
	}
}

// RegisterTaskHandlers binds the worker handlers for every ledger task type.
func (l *Ledger) RegisterTaskHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskReplayAccount, l.processReplayTask)
	mux.HandleFunc(TaskIndexEvent, l.processIndexTask)
	mux.HandleFunc(TaskRetryFailedEvents, func(ctx context.Context, _ *asynq.Task) error {
		_, err := l.RetryFailedEvents(ctx)
		return err
	})
	mux.HandleFunc(TaskCheckStaleFailures, func(ctx context.Context, _ *asynq.Task) error {
		_, err := l.CheckStaleFailures(ctx)
		return err
	})
	mux.HandleFunc(TaskValidateConsistency, func(ctx context.Context, _ *asynq.Task) error {
		_, err := l.ValidateConsistency(ctx)
		return err
	})
}

func (l *Ledger) processReplayTask(ctx context.Context, t *asynq.Task) error {
	var payload ReplayPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	result, err := l.Replay(ctx, payload.AccountID, payload.Since)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"account_id": payload.AccountID,
		"processed":  result.Processed,
	}).Info(" [*] Replay task completed")
	return nil
}

func (l *Ledger) processIndexTask(ctx context.Context, t *asynq.Task) error {
	var payload IndexPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if l.search == nil {
		return nil
	}
	event, err := l.datasource.GetEvent(ctx, payload.EventID)
	if err != nil {
		return err
	}
	return l.IndexEvent(ctx, *event)
}
