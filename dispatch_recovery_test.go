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

	"github.com/blnkfinance/eventledger/config"
	"github.com/blnkfinance/eventledger/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedUndispatched commits an account and a deposit without dispatching them,
// as if the process died right after the commit.
func seedUndispatched(t *testing.T, db *memStore, accountID string, amount int64) {
	t.Helper()
	ctx := context.Background()
	at := model.NormalizeEventTime(time.Now())
	account := model.NewAccount(accountID, "owner", at)
	account.Balance = decimal.NewFromInt(amount)
	require.NoError(t, db.CreateAccount(ctx, account))

	for _, payload := range []model.Payload{
		model.AccountCreated{OwnerID: "owner", InitialBalance: decimal.Zero},
		model.MoneyDeposited{Amount: decimal.NewFromInt(amount)},
	} {
		_, err := db.AppendEvent(ctx, model.NewEvent(accountID, payload, at, model.Metadata{CorrelationID: model.NewCorrelationID()}))
		require.NoError(t, err)
	}
}

func TestRecoverPendingEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedUndispatched(t, env.db, "acc_crash", 70)
	seedUndispatched(t, env.db, "acc_crash2", 5)
	env.db.age(time.Hour)

	recovered, err := env.ledger.RecoverPendingEvents(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 4, recovered)

	for _, e := range env.db.allEvents() {
		assert.Equal(t, model.EventProcessed, e.Status, "event %d", e.ID)
	}
	view, err := env.ledger.GetAccountView(ctx, "acc_crash")
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(decimal.NewFromInt(70)))

	recovered, err = env.ledger.RecoverPendingEvents(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)
}

func TestRecoverPendingEventsIgnoresFreshEvents(t *testing.T) {
	env := newTestEnv(t)
	seedUndispatched(t, env.db, "acc_fresh", 1)

	// below the minimum, clamped up so in-flight commits are left alone
	recovered, err := env.ledger.RecoverPendingEvents(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)
	for _, e := range env.db.allEvents() {
		assert.Equal(t, model.EventPending, e.Status)
	}
}

func TestPendingEventRecoveryProcessorLifecycle(t *testing.T) {
	env := newTestEnv(t, WithRecovery(config.RecoveryConfig{PendingThresholdSec: 1, PollIntervalSec: 1, MaxWorkers: 2}))
	p := NewPendingEventRecoveryProcessor(env.ledger)

	assert.Equal(t, time.Minute, p.pendingThreshold)
	assert.Equal(t, 100, p.batchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	assert.True(t, p.IsRunning())
	p.Start(ctx)

	p.Stop()
	assert.False(t, p.IsRunning())
	p.Stop()
}
