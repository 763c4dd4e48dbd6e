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

package database

import (
	"context"
	"time"

	"github.com/blnkfinance/eventledger/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	eventStore // Append-only event log
	account    // Command-side account aggregates
	snapshot   // Materialized balances
	failure    // Dispatch failure records

	// WithTx runs fn in one transaction spanning every call made through tx.
	WithTx(ctx context.Context, fn func(tx IDataSource) error) error
}

// eventStore defines methods for the append-only event log.
type eventStore interface {
	// AppendEvent stores a new PENDING event after checking it does not
	// precede the entity's latest event.
	AppendEvent(ctx context.Context, event *model.Event) (*model.Event, error)
	// UpdateEventStatus is idempotent and does not re-check ordering.
	UpdateEventStatus(ctx context.Context, eventID int64, status model.EventStatus) error
	GetEvent(ctx context.Context, eventID int64) (*model.Event, error)
	// GetLatestEvent returns nil when the entity has no events.
	GetLatestEvent(ctx context.Context, entityID string) (*model.Event, error)
	GetEventsByEntity(ctx context.Context, entityID string) ([]model.Event, error)
	// GetEventsByEntitySince returns events dated strictly after since, oldest first.
	GetEventsByEntitySince(ctx context.Context, entityID string, since time.Time) ([]model.Event, error)
	GetEventsByCorrelationID(ctx context.Context, correlationID string) ([]model.Event, error)
	GetEventsByActor(ctx context.Context, actorID string, limit, offset int) ([]model.Event, error)
	// CountEventsAfter counts the entity's events with an id above afterID.
	CountEventsAfter(ctx context.Context, entityID string, afterID int64) (int64, error)
	// CountUnsettledEvents counts events of the entity that are not PROCESSED.
	CountUnsettledEvents(ctx context.Context, entityID string) (int64, error)
	GetStalePendingEvents(ctx context.Context, olderThan time.Duration, limit int) ([]model.Event, error)
}

// account defines methods for handling account aggregates.
type account interface {
	// CreateAccount fails with model.DuplicateAccountError when the id is taken.
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)
	// UpdateAccount persists the account only if its version is unchanged and
	// fails with model.ConcurrencyConflictError otherwise.
	UpdateAccount(ctx context.Context, account *model.Account) error
	GetAccounts(ctx context.Context, limit, offset int) ([]model.Account, error)
}

// snapshot defines methods for handling balance snapshots.
type snapshot interface {
	// GetSnapshot returns nil when the entity has never been snapshotted.
	GetSnapshot(ctx context.Context, entityID string) (*model.Snapshot, error)
	SaveSnapshot(ctx context.Context, snapshot *model.Snapshot) error
}

// failure defines methods for handling dispatch failure records.
type failure interface {
	// RecordFailure opens a record for the event or refreshes its open one.
	RecordFailure(ctx context.Context, record *model.FailureRecord) (*model.FailureRecord, error)
	GetRetryableFailures(ctx context.Context, maxRetries, limit int) ([]model.FailureRecord, error)
	// IncrementFailureRetry moves the record to RETRYING, or EXHAUSTED once maxRetries is reached.
	IncrementFailureRetry(ctx context.Context, id int64, maxRetries int, reason string) (*model.FailureRecord, error)
	MarkFailureResolved(ctx context.Context, id int64) error
	ResolveFailuresForEvent(ctx context.Context, eventID int64) (int64, error)
	GetFailuresByEntityID(ctx context.Context, entityID string) ([]model.FailureRecord, error)
	// FlagStaleFailures flags open records idle since before cutoff and returns
	// the ones flagged by this call.
	FlagStaleFailures(ctx context.Context, cutoff time.Time) ([]model.FailureRecord, error)
}
