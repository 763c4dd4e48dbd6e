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
	"testing"
	"time"

	"github.com/blnkfinance/eventledger/internal/projection"
	"github.com/blnkfinance/eventledger/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConsistencyAllConsistent(t *testing.T) {
	env := newTestEnv(t, WithConsistencyPageSize(1))
	env.createFunded(t, "acc_1", 10)
	env.createFunded(t, "acc_2", 20)
	env.createFunded(t, "acc_3", 0)

	report, err := env.ledger.ValidateConsistency(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ConsistencyReport{Checked: 3, Consistent: 3}, report)
}

func TestValidateConsistencyRebuildsMissingView(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createFunded(t, "acc_lost", 0)

	var calls int32
	env.breakDeposits(&calls)
	_, err := env.ledger.Deposit(ctx, "acc_lost", decimal.NewFromInt(80), "x")
	require.NoError(t, err)
	require.NoError(t, env.views.Delete(ctx, "acc_lost"))

	report, err := env.ledger.ValidateConsistency(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rebuilt)

	view, err := env.ledger.GetAccountView(ctx, "acc_lost")
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(decimal.NewFromInt(80)))

	history, err := env.ledger.GetAccountHistory(ctx, "acc_lost")
	require.NoError(t, err)
	assert.Equal(t, history[len(history)-1].ID, view.LastEventID)
	for _, e := range history {
		assert.Equal(t, model.EventProcessed, e.Status)
		applied, err := env.views.IsApplied(ctx, "acc_lost", e.ID)
		require.NoError(t, err)
		assert.True(t, applied)
	}
	assert.Empty(t, env.db.openFailures())
}

func TestValidateConsistencyRebuildsSettledMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createFunded(t, "acc_drift", 100)

	history, err := env.ledger.GetAccountHistory(ctx, "acc_drift")
	require.NoError(t, err)
	ids := []int64{history[0].ID, history[1].ID}
	applied, err := env.views.AppliedEvents(ctx, "acc_drift")
	require.NoError(t, err)
	require.NoError(t, env.views.Rebuild(ctx, model.AccountView{AccountID: "acc_drift", Balance: decimal.NewFromInt(999)}, ids, applied))

	report, err := env.ledger.ValidateConsistency(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rebuilt)

	view, err := env.ledger.GetAccountView(ctx, "acc_drift")
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(decimal.NewFromInt(100)))
}

// racingStore runs before once, ahead of the first Rebuild it sees.
type racingStore struct {
	*projection.RedisStore
	before func()
}

func (s *racingStore) Rebuild(ctx context.Context, view model.AccountView, eventIDs, expected []int64) error {
	if s.before != nil {
		before := s.before
		s.before = nil
		before()
	}
	return s.RedisStore.Rebuild(ctx, view, eventIDs, expected)
}

func TestValidateConsistencyKeepsDepositDispatchedDuringRebuild(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store := &racingStore{RedisStore: env.views}
	env.ledger = New(env.db, store,
		WithRedis(env.redis),
		WithDispatchRetry(fastRetry),
		WithClock(tickingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))),
	)
	env.createFunded(t, "acc_race", 100)

	history, err := env.ledger.GetAccountHistory(ctx, "acc_race")
	require.NoError(t, err)
	applied, err := env.views.AppliedEvents(ctx, "acc_race")
	require.NoError(t, err)
	ids := []int64{history[0].ID, history[1].ID}
	require.NoError(t, env.views.Rebuild(ctx, model.AccountView{AccountID: "acc_race", Balance: decimal.NewFromInt(999)}, ids, applied))

	store.before = func() {
		_, err := env.ledger.Deposit(ctx, "acc_race", decimal.NewFromInt(40), "x")
		require.NoError(t, err)
	}

	report, err := env.ledger.ValidateConsistency(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rebuilt)

	account, err := env.ledger.GetAccount(ctx, "acc_race")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(140)))
	view, err := env.ledger.GetAccountView(ctx, "acc_race")
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(decimal.NewFromInt(140)), "view %s", view.Balance)

	history, err = env.ledger.GetAccountHistory(ctx, "acc_race")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, history[2].ID, view.LastEventID)
	unsettled, err := env.db.CountUnsettledEvents(ctx, "acc_race")
	require.NoError(t, err)
	assert.Zero(t, unsettled)
}

func TestValidateConsistencyDefersUnsettledAccounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createFunded(t, "acc_lag", 0)

	var calls int32
	env.breakDeposits(&calls)
	_, err := env.ledger.Deposit(ctx, "acc_lag", decimal.NewFromInt(15), "x")
	require.NoError(t, err)

	report, err := env.ledger.ValidateConsistency(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deferred)
	assert.Equal(t, 0, report.Rebuilt)

	view, err := env.ledger.GetAccountView(ctx, "acc_lag")
	require.NoError(t, err)
	assert.True(t, view.Balance.IsZero())
	assert.Len(t, env.db.openFailures(), 1)
}

func TestValidateConsistencyRemovesOrphans(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createFunded(t, "acc_real", 5)

	_, err := env.views.Create(ctx, model.AccountView{AccountID: "acc_ghost", Balance: decimal.NewFromInt(1)}, 999)
	require.NoError(t, err)

	report, err := env.ledger.ValidateConsistency(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.OrphansRemoved)
	assert.Equal(t, 1, report.Consistent)

	ghost, err := env.views.Get(ctx, "acc_ghost")
	require.NoError(t, err)
	assert.Nil(t, ghost)
}

func TestValidateConsistencySkipsWhenLocked(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.mr.Set("eventledger:lock:"+jobValidateConsistency, "other-worker"))

	report, err := env.ledger.ValidateConsistency(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
}
