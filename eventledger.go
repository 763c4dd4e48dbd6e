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

// Package eventledger is an event-sourced account ledger. Commands append
// immutable events and update the account row in one transaction, then
// dispatch the events to a Redis read model after commit.
package eventledger

import (
	"context"
	"embed"
	"time"

	"github.com/blnkfinance/eventledger/config"
	"github.com/blnkfinance/eventledger/database"
	"github.com/blnkfinance/eventledger/internal/cache"
	"github.com/blnkfinance/eventledger/internal/projection"
	redis_db "github.com/blnkfinance/eventledger/internal/redis-db"
	"github.com/blnkfinance/eventledger/internal/search"
	"github.com/blnkfinance/eventledger/model"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("eventledger")

//go:embed sql/*.sql
var SQLFiles embed.FS

const defaultLockTTL = 10 * time.Minute

// Ledger is the command, replay and maintenance surface of the ledger.
type Ledger struct {
	datasource  database.IDataSource
	projections projection.Store
	dispatcher  *Dispatcher
	snapshots   *SnapshotManager
	redis       redis.UniversalClient
	queue       *Queue
	search      *search.TypesenseClient
	clock       func() time.Time

	dispatchRetry       config.DispatchRetryConfig
	snapshotThreshold   int
	snapshotCache       cache.Cache
	maxRetries          int
	retryBatchSize      int
	staleThreshold      time.Duration
	consistencyPageSize int
	recovery            config.RecoveryConfig
	lockTTL             time.Duration
}

// Option customizes a Ledger built by New.
type Option func(*Ledger)

// WithRedis enables the sweep locks.
func WithRedis(client redis.UniversalClient) Option {
	return func(l *Ledger) { l.redis = client }
}

// WithQueue enables async replays and event indexing.
func WithQueue(q *Queue) Option {
	return func(l *Ledger) { l.queue = q }
}

func WithSearch(client *search.TypesenseClient) Option {
	return func(l *Ledger) { l.search = client }
}

func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

func WithSnapshotThreshold(threshold int) Option {
	return func(l *Ledger) {
		if threshold > 0 {
			l.snapshotThreshold = threshold
		}
	}
}

func WithSnapshotCache(c cache.Cache) Option {
	return func(l *Ledger) { l.snapshotCache = c }
}

func WithDispatchRetry(retry config.DispatchRetryConfig) Option {
	return func(l *Ledger) { l.dispatchRetry = retry }
}

// WithRetryPolicy sets the failure sweep limits.
func WithRetryPolicy(maxRetries, batchSize int, staleThreshold time.Duration) Option {
	return func(l *Ledger) {
		if maxRetries > 0 {
			l.maxRetries = maxRetries
		}
		if batchSize > 0 {
			l.retryBatchSize = batchSize
		}
		if staleThreshold > 0 {
			l.staleThreshold = staleThreshold
		}
	}
}

func WithConsistencyPageSize(size int) Option {
	return func(l *Ledger) {
		if size > 0 {
			l.consistencyPageSize = size
		}
	}
}

func WithRecovery(recovery config.RecoveryConfig) Option {
	return func(l *Ledger) { l.recovery = recovery }
}

// New assembles a Ledger over the write-side datasource and the read model.
func New(db database.IDataSource, store projection.Store, opts ...Option) *Ledger {
	l := &Ledger{
		datasource:  db,
		projections: store,
		clock:       time.Now,
		dispatchRetry: config.DispatchRetryConfig{
			MaxAttempts:       3,
			InitialIntervalMs: 100,
			Multiplier:        2.0,
			MaxIntervalMs:     1000,
		},
		snapshotThreshold:   config.DEFAULT_SNAPSHOT_THRESHOLD,
		maxRetries:          config.DEFAULT_MAX_RETRIES,
		retryBatchSize:      100,
		staleThreshold:      24 * time.Hour,
		consistencyPageSize: 200,
		recovery: config.RecoveryConfig{
			PendingThresholdSec: 60,
			PollIntervalSec:     30,
			MaxWorkers:          10,
			BatchSize:           500,
		},
		lockTTL: defaultLockTTL,
	}
	for _, opt := range opts {
		opt(l)
	}

	l.snapshots = NewSnapshotManager(db, l.snapshotThreshold, l.snapshotCache)
	l.dispatcher = NewDispatcher(db, l.dispatchRetry)
	l.dispatcher.clock = l.now
	RegisterProjectionHandlers(l.dispatcher, store)

	if l.queue != nil && l.search != nil {
		l.dispatcher.OnProcessed(func(ctx context.Context, event model.Event) {
			if err := l.queue.EnqueueIndex(ctx, event); err != nil {
				logrus.WithError(err).WithField("event_id", event.ID).Warn("failed to enqueue event for indexing")
			}
		})
	}
	return l
}

// NewLedger builds a Ledger from the loaded configuration: the Redis read
// model, the snapshot cache, the task queue and, when configured, search.
func NewLedger(db database.IDataSource) (*Ledger, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	redisClient, err := redis_db.FromConfig(cfg.Redis)
	if err != nil {
		return nil, err
	}
	queue, err := NewQueue(cfg)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithRedis(redisClient.Client()),
		WithQueue(queue),
		WithSnapshotThreshold(cfg.Ledger.SnapshotThreshold),
		WithSnapshotCache(cache.NewRedisCache(redisClient.Client())),
		WithDispatchRetry(cfg.Ledger.DispatchRetry),
		WithRetryPolicy(cfg.Retry.MaxRetries, cfg.Retry.BatchSize, time.Duration(cfg.Retry.StaleThresholdMinutes)*time.Minute),
		WithConsistencyPageSize(cfg.Consistency.PageSize),
		WithRecovery(cfg.Recovery),
	}
	if cfg.TypeSense.Dns != "" {
		opts = append(opts, WithSearch(search.NewTypesenseClient(cfg.TypeSense.ApiKey, []string{cfg.TypeSense.Dns})))
	}

	return New(db, projection.NewRedisStore(redisClient.Client()), opts...), nil
}

// Dispatcher exposes the dispatcher so callers can register extra handlers.
func (l *Ledger) Dispatcher() *Dispatcher {
	return l.dispatcher
}

func (l *Ledger) Snapshots() *SnapshotManager {
	return l.snapshots
}

func (l *Ledger) Queue() *Queue {
	return l.queue
}

func (l *Ledger) now() time.Time {
	return model.NormalizeEventTime(l.clock())
}

// afterCommit dispatches committed events in order and then gives the snapshot
// manager a chance to compact each touched account.
func (l *Ledger) afterCommit(ctx context.Context, events []*model.Event, accountIDs ...string) {
	for _, event := range events {
		if event != nil {
			l.dispatcher.Dispatch(ctx, *event)
		}
	}
	for _, id := range accountIDs {
		if _, err := l.snapshots.MaybeSnapshot(ctx, id); err != nil {
			logrus.WithError(err).WithField("account_id", id).Error("failed to snapshot account")
		}
	}
}

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.WithError(err).Error(msg)
	return err
}
