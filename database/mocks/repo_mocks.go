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
package mocks

import (
	"context"
	"time"

	"github.com/blnkfinance/eventledger/database"
	"github.com/blnkfinance/eventledger/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// WithTx runs fn against the mock itself so expectations set on m apply inside the transaction.
func (m *MockDataSource) WithTx(ctx context.Context, fn func(tx database.IDataSource) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(m)
}

// Event store methods

func (m *MockDataSource) AppendEvent(ctx context.Context, event *model.Event) (*model.Event, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Event), args.Error(1)
}

func (m *MockDataSource) UpdateEventStatus(ctx context.Context, eventID int64, status model.EventStatus) error {
	args := m.Called(ctx, eventID, status)
	return args.Error(0)
}

func (m *MockDataSource) GetEvent(ctx context.Context, eventID int64) (*model.Event, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Event), args.Error(1)
}

func (m *MockDataSource) GetLatestEvent(ctx context.Context, entityID string) (*model.Event, error) {
	args := m.Called(ctx, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Event), args.Error(1)
}

func (m *MockDataSource) GetEventsByEntity(ctx context.Context, entityID string) ([]model.Event, error) {
	args := m.Called(ctx, entityID)
	return args.Get(0).([]model.Event), args.Error(1)
}

func (m *MockDataSource) GetEventsByEntitySince(ctx context.Context, entityID string, since time.Time) ([]model.Event, error) {
	args := m.Called(ctx, entityID, since)
	return args.Get(0).([]model.Event), args.Error(1)
}

func (m *MockDataSource) GetEventsByCorrelationID(ctx context.Context, correlationID string) ([]model.Event, error) {
	args := m.Called(ctx, correlationID)
	return args.Get(0).([]model.Event), args.Error(1)
}

func (m *MockDataSource) GetEventsByActor(ctx context.Context, actorID string, limit, offset int) ([]model.Event, error) {
	args := m.Called(ctx, actorID, limit, offset)
	return args.Get(0).([]model.Event), args.Error(1)
}

func (m *MockDataSource) CountEventsAfter(ctx context.Context, entityID string, afterID int64) (int64, error) {
	args := m.Called(ctx, entityID, afterID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) CountUnsettledEvents(ctx context.Context, entityID string) (int64, error) {
	args := m.Called(ctx, entityID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) GetStalePendingEvents(ctx context.Context, olderThan time.Duration, limit int) ([]model.Event, error) {
	args := m.Called(ctx, olderThan, limit)
	return args.Get(0).([]model.Event), args.Error(1)
}

// Account methods

func (m *MockDataSource) CreateAccount(ctx context.Context, account *model.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockDataSource) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *MockDataSource) UpdateAccount(ctx context.Context, account *model.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockDataSource) GetAccounts(ctx context.Context, limit, offset int) ([]model.Account, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]model.Account), args.Error(1)
}

// Snapshot methods

func (m *MockDataSource) GetSnapshot(ctx context.Context, entityID string) (*model.Snapshot, error) {
	args := m.Called(ctx, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Snapshot), args.Error(1)
}

func (m *MockDataSource) SaveSnapshot(ctx context.Context, snapshot *model.Snapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

// Failure methods

func (m *MockDataSource) RecordFailure(ctx context.Context, record *model.FailureRecord) (*model.FailureRecord, error) {
	args := m.Called(ctx, record)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FailureRecord), args.Error(1)
}

func (m *MockDataSource) GetRetryableFailures(ctx context.Context, maxRetries, limit int) ([]model.FailureRecord, error) {
	args := m.Called(ctx, maxRetries, limit)
	return args.Get(0).([]model.FailureRecord), args.Error(1)
}

func (m *MockDataSource) IncrementFailureRetry(ctx context.Context, id int64, maxRetries int, reason string) (*model.FailureRecord, error) {
	args := m.Called(ctx, id, maxRetries, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FailureRecord), args.Error(1)
}

func (m *MockDataSource) MarkFailureResolved(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDataSource) ResolveFailuresForEvent(ctx context.Context, eventID int64) (int64, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) GetFailuresByEntityID(ctx context.Context, entityID string) ([]model.FailureRecord, error) {
	args := m.Called(ctx, entityID)
	return args.Get(0).([]model.FailureRecord), args.Error(1)
}

func (m *MockDataSource) FlagStaleFailures(ctx context.Context, cutoff time.Time) ([]model.FailureRecord, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).([]model.FailureRecord), args.Error(1)
}
