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
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/eventledger/config"
	"github.com/blnkfinance/eventledger/database"
	"github.com/blnkfinance/eventledger/internal/apierror"
	"github.com/blnkfinance/eventledger/internal/projection"
	"github.com/blnkfinance/eventledger/model"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory IDataSource with the same contract as the
// Postgres datasource, including transaction rollback.
type memStore struct {
	mu            sync.Mutex
	accounts      map[string]model.Account
	events        []model.Event
	snapshots     map[string]model.Snapshot
	failures      []model.FailureRecord
	nextEventID   int64
	nextFailureID int64
	inTx          bool

	// appendFailAt makes the n-th AppendEvent call (1-based) fail.
	appendFailAt int
	appendCalls  int
	saveSnapshot int
}

type memState struct {
	accounts  map[string]model.Account
	events    []model.Event
	snapshots map[string]model.Snapshot
	failures  []model.FailureRecord
	nextEvent int64
	nextFail  int64
}

func newMemStore() *memStore {
	return &memStore{
		accounts:  make(map[string]model.Account),
		snapshots: make(map[string]model.Snapshot),
	}
}

var _ database.IDataSource = (*memStore)(nil)

func (m *memStore) save() memState {
	s := memState{
		accounts:  make(map[string]model.Account, len(m.accounts)),
		events:    append([]model.Event(nil), m.events...),
		snapshots: make(map[string]model.Snapshot, len(m.snapshots)),
		failures:  append([]model.FailureRecord(nil), m.failures...),
		nextEvent: m.nextEventID,
		nextFail:  m.nextFailureID,
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.snapshots {
		s.snapshots[k] = v
	}
	return s
}

func (m *memStore) restore(s memState) {
	m.accounts = s.accounts
	m.events = s.events
	m.snapshots = s.snapshots
	m.failures = s.failures
	m.nextEventID = s.nextEvent
	m.nextFailureID = s.nextFail
}

func (m *memStore) WithTx(_ context.Context, fn func(tx database.IDataSource) error) error {
	m.mu.Lock()
	if m.inTx {
		m.mu.Unlock()
		return fn(m)
	}
	saved := m.save()
	m.inTx = true
	m.mu.Unlock()

	err := fn(m)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inTx = false
	if err != nil {
		m.restore(saved)
	}
	return err
}

func (m *memStore) AppendEvent(_ context.Context, event *model.Event) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendCalls++
	if m.appendFailAt > 0 && m.appendCalls == m.appendFailAt {
		return nil, fmt.Errorf("injected append failure")
	}
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].EntityID != event.EntityID {
			continue
		}
		if event.EventDate.Before(m.events[i].EventDate) {
			return nil, &model.OutOfOrderEventError{EntityID: event.EntityID, EventDate: event.EventDate, LastEventDate: m.events[i].EventDate}
		}
		break
	}

	m.nextEventID++
	stored := *event
	stored.ID = m.nextEventID
	stored.Status = model.EventPending
	stored.Version = 0
	stored.CreatedAt = time.Now().UTC()
	if stored.Metadata.SchemaVersion == "" {
		stored.Metadata.SchemaVersion = model.CurrentSchemaVersion
	}
	m.events = append(m.events, stored)
	out := stored
	return &out, nil
}

func (m *memStore) UpdateEventStatus(_ context.Context, eventID int64, status model.EventStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == eventID {
			if m.events[i].Status != status {
				m.events[i].Status = status
				m.events[i].Version++
			}
			return nil
		}
	}
	return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Event with ID '%d' not found", eventID), nil)
}

func (m *memStore) GetEvent(_ context.Context, eventID int64) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ID == eventID {
			out := e
			return &out, nil
		}
	}
	return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Event with ID '%d' not found", eventID), nil)
}

func (m *memStore) filterEvents(keep func(model.Event) bool) []model.Event {
	out := []model.Event{}
	for _, e := range m.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EventDate.Equal(out[j].EventDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].EventDate.Before(out[j].EventDate)
	})
	return out
}

func (m *memStore) GetLatestEvent(_ context.Context, entityID string) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.filterEvents(func(e model.Event) bool { return e.EntityID == entityID })
	if len(events) == 0 {
		return nil, nil
	}
	out := events[len(events)-1]
	return &out, nil
}

func (m *memStore) GetEventsByEntity(_ context.Context, entityID string) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterEvents(func(e model.Event) bool { return e.EntityID == entityID }), nil
}

func (m *memStore) GetEventsByEntitySince(_ context.Context, entityID string, since time.Time) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterEvents(func(e model.Event) bool { return e.EntityID == entityID && e.EventDate.After(since) }), nil
}

func (m *memStore) GetEventsByCorrelationID(_ context.Context, correlationID string) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterEvents(func(e model.Event) bool { return e.Metadata.CorrelationID == correlationID }), nil
}

func (m *memStore) GetEventsByActor(_ context.Context, actorID string, limit, offset int) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.filterEvents(func(e model.Event) bool { return e.Metadata.ActorID == actorID })
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	if offset >= len(events) {
		return []model.Event{}, nil
	}
	events = events[offset:]
	if limit < len(events) {
		events = events[:limit]
	}
	return events, nil
}

func (m *memStore) CountEventsAfter(_ context.Context, entityID string, afterID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.events {
		if e.EntityID == entityID && e.ID > afterID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountUnsettledEvents(_ context.Context, entityID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.events {
		if e.EntityID == entityID && e.Status != model.EventProcessed {
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetStalePendingEvents(_ context.Context, olderThan time.Duration, limit int) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	out := []model.Event{}
	for _, e := range m.events {
		if e.Status == model.EventPending && e.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) CreateAccount(_ context.Context, account *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.AccountID]; ok {
		return &model.DuplicateAccountError{AccountID: account.AccountID}
	}
	account.Version = 1
	m.accounts[account.AccountID] = *account
	return nil
}

func (m *memStore) GetAccountByID(_ context.Context, id string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return nil, &model.AccountNotFoundError{AccountID: id}
	}
	return &account, nil
}

func (m *memStore) UpdateAccount(_ context.Context, account *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.accounts[account.AccountID]
	if !ok || stored.Version != account.Version {
		return &model.ConcurrencyConflictError{AccountID: account.AccountID, ExpectedVersion: account.Version}
	}
	account.Version++
	m.accounts[account.AccountID] = *account
	return nil
}

func (m *memStore) GetAccounts(_ context.Context, limit, offset int) ([]model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := []model.Account{}
	for i := offset; i < len(ids) && len(out) < limit; i++ {
		out = append(out, m.accounts[ids[i]])
	}
	return out, nil
}

func (m *memStore) GetSnapshot(_ context.Context, entityID string) (*model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.snapshots[entityID]
	if !ok {
		return nil, nil
	}
	return &snapshot, nil
}

func (m *memStore) SaveSnapshot(_ context.Context, snapshot *model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveSnapshot++
	if existing, ok := m.snapshots[snapshot.EntityID]; ok && existing.LastEventID > snapshot.LastEventID {
		return nil
	}
	m.snapshots[snapshot.EntityID] = *snapshot
	return nil
}

func (m *memStore) RecordFailure(_ context.Context, record *model.FailureRecord) (*model.FailureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.failures {
		f := &m.failures[i]
		if f.EventID == record.EventID && !f.IsTerminal() {
			f.FailureReason = record.FailureReason
			f.FailureTime = record.FailureTime
			out := *f
			return &out, nil
		}
	}
	m.nextFailureID++
	saved := *record
	saved.ID = m.nextFailureID
	saved.Status = model.FailurePending
	m.failures = append(m.failures, saved)
	return &saved, nil
}

func (m *memStore) GetRetryableFailures(_ context.Context, maxRetries, limit int) ([]model.FailureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.FailureRecord{}
	for _, f := range m.failures {
		if !f.IsTerminal() && f.RetryCount < maxRetries && len(out) < limit {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memStore) IncrementFailureRetry(_ context.Context, id int64, maxRetries int, reason string) (*model.FailureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.failures {
		f := &m.failures[i]
		if f.ID != id || f.IsTerminal() {
			continue
		}
		now := time.Now().UTC()
		f.RetryCount++
		f.LastRetryTime = &now
		f.FailureReason = reason
		f.Status = model.FailureRetrying
		if f.RetryCount >= maxRetries {
			f.Status = model.FailureExhausted
		}
		out := *f
		return &out, nil
	}
	return nil, apierror.NewAPIError(apierror.ErrNotFound, "open failure record not found", nil)
}

func (m *memStore) MarkFailureResolved(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.failures {
		f := &m.failures[i]
		if f.ID == id && !f.IsTerminal() {
			now := time.Now().UTC()
			f.Status = model.FailureResolved
			f.ResolvedAt = &now
			return nil
		}
	}
	return apierror.NewAPIError(apierror.ErrNotFound, "open failure record not found", nil)
}

func (m *memStore) ResolveFailuresForEvent(_ context.Context, eventID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.failures {
		f := &m.failures[i]
		if f.EventID == eventID && !f.IsTerminal() {
			now := time.Now().UTC()
			f.Status = model.FailureResolved
			f.ResolvedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetFailuresByEntityID(_ context.Context, entityID string) ([]model.FailureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.FailureRecord{}
	for i := len(m.failures) - 1; i >= 0; i-- {
		if m.failures[i].EntityID == entityID {
			out = append(out, m.failures[i])
		}
	}
	return out, nil
}

func (m *memStore) FlagStaleFailures(_ context.Context, cutoff time.Time) ([]model.FailureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.FailureRecord{}
	for i := range m.failures {
		f := &m.failures[i]
		if f.IsTerminal() || f.FlaggedStaleAt != nil {
			continue
		}
		last := f.FailureTime
		if f.LastRetryTime != nil {
			last = *f.LastRetryTime
		}
		if last.Before(cutoff) {
			now := time.Now().UTC()
			f.FlaggedStaleAt = &now
			out = append(out, *f)
		}
	}
	return out, nil
}

// event returns the stored copy of the event with the given id.
func (m *memStore) event(t *testing.T, id int64) model.Event {
	t.Helper()
	e, err := m.GetEvent(context.Background(), id)
	require.NoError(t, err)
	return *e
}

func (m *memStore) allEvents() []model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Event(nil), m.events...)
}

func (m *memStore) openFailures() []model.FailureRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.FailureRecord{}
	for _, f := range m.failures {
		if !f.IsTerminal() {
			out = append(out, f)
		}
	}
	return out
}

func (m *memStore) setEventStatus(id int64, status model.EventStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].Status = status
		}
	}
}

// age moves the creation time of every stored event back by d.
func (m *memStore) age(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		m.events[i].CreatedAt = m.events[i].CreatedAt.Add(-d)
	}
}

// tickingClock advances one second on every call.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

// fastRetry keeps dispatch retries short in tests.
var fastRetry = config.DispatchRetryConfig{MaxAttempts: 3, InitialIntervalMs: 1, Multiplier: 1.5, MaxIntervalMs: 2}

type testEnv struct {
	ledger *Ledger
	db     *memStore
	views  *projection.RedisStore
	redis  *redis.Client
	mr     *miniredis.Miniredis
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := newMemStore()
	views := projection.NewRedisStore(client)
	opts = append([]Option{
		WithRedis(client),
		WithDispatchRetry(fastRetry),
		WithClock(tickingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))),
	}, opts...)
	return &testEnv{
		ledger: New(db, views, opts...),
		db:     db,
		views:  views,
		redis:  client,
		mr:     mr,
	}
}

func (e *testEnv) createFunded(t *testing.T, accountID string, amount int64) {
	t.Helper()
	ctx := context.Background()
	_, err := e.ledger.CreateAccount(ctx, accountID, "owner_"+accountID, "tester")
	require.NoError(t, err)
	if amount > 0 {
		_, err = e.ledger.Deposit(ctx, accountID, decimal.NewFromInt(amount), "tester")
		require.NoError(t, err)
	}
}
