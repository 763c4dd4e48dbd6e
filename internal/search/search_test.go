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

package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blnkfinance/eventledger/database/mocks"
	"github.com/blnkfinance/eventledger/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/typesense/typesense-go/typesense/api"
)

// TestEventSchemaSortsByEventDate verifies that the default sort field is
// a required int64 field, which Typesense insists on.
func TestEventSchemaSortsByEventDate(t *testing.T) {
	schema := getEventSchema()

	require.NotNil(t, schema.DefaultSortingField)
	assert.Equal(t, "event_date", *schema.DefaultSortingField)

	for _, field := range schema.Fields {
		if field.Name == "event_date" {
			assert.Equal(t, "int64", field.Type)
			assert.Nil(t, field.Optional)
			return
		}
	}
	t.Fatal("event_date missing from schema")
}

func TestEventDocument_Transfer(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	event := model.Event{
		ID:        42,
		EntityID:  "acc2",
		Kind:      model.KindMoneyTransferredIn,
		EventDate: at,
		CreatedAt: at,
		Status:    model.EventProcessed,
		Metadata:  model.Metadata{CorrelationID: "corr_1", CausationID: "41", ActorID: "u1", SchemaVersion: model.SchemaV1_1},
		Payload:   model.MoneyTransferredIn{Amount: decimal.RequireFromString("12.50"), FromAccountID: "acc1"},
	}

	doc := EventDocument(event)
	assert.Equal(t, "42", doc["id"])
	assert.Equal(t, "12.5", doc["amount"])
	assert.Equal(t, "acc1", doc["counterparty_id"])
	assert.Equal(t, "41", doc["causation_id"])
	assert.Equal(t, at.Unix(), doc["event_date"])
}

func TestEventDocument_OmitsEmptyOptionals(t *testing.T) {
	event := model.Event{
		ID:       1,
		EntityID: "acc1",
		Kind:     model.KindAccountCreated,
		Payload:  model.AccountCreated{OwnerID: "owner", InitialBalance: decimal.Zero},
	}

	doc := EventDocument(event)
	_, hasAmount := doc["amount"]
	_, hasCausation := doc["causation_id"]
	assert.False(t, hasAmount)
	assert.False(t, hasCausation)
}

func TestCompareSchemas(t *testing.T) {
	old := &api.CollectionSchema{Fields: []api.Field{{Name: "event_id"}, {Name: "kind"}}}
	fields := compareSchemas(old, getEventSchema())

	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}
	assert.NotContains(t, names, "kind")
	assert.Contains(t, names, "reason")
}

func TestReindex_IndexesEveryEvent(t *testing.T) {
	var upserts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"name":"ledger_events","fields":[]}`))
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/documents"):
			atomic.AddInt32(&upserts, 1)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"1"}`))
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"name":"ledger_events","fields":[]}`))
		default:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"name":"ledger_events","fields":[]}`))
		}
	}))
	defer server.Close()

	ds := new(mocks.MockDataSource)
	ds.On("GetAccounts", mock.Anything, 2, 0).Return([]model.Account{{AccountID: "a1"}, {AccountID: "a2"}}, nil)
	ds.On("GetAccounts", mock.Anything, 2, 2).Return([]model.Account{}, nil)
	ds.On("GetEventsByEntity", mock.Anything, "a1").Return([]model.Event{
		{ID: 1, EntityID: "a1", Kind: model.KindAccountCreated, Payload: model.AccountCreated{OwnerID: "o"}},
		{ID: 2, EntityID: "a1", Kind: model.KindMoneyDeposited, Payload: model.MoneyDeposited{Amount: decimal.NewFromInt(5)}},
	}, nil)
	ds.On("GetEventsByEntity", mock.Anything, "a2").Return([]model.Event{
		{ID: 3, EntityID: "a2", Kind: model.KindAccountCreated, Payload: model.AccountCreated{OwnerID: "o"}},
	}, nil)

	svc := NewReindexService(NewTypesenseClient("key", []string{server.URL}), ds, ReindexConfig{BatchSize: 2})
	progress, err := svc.StartReindex(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "completed", progress.Status)
	assert.Equal(t, int64(3), progress.ProcessedRecords)
	assert.Equal(t, int32(3), atomic.LoadInt32(&upserts))
	ds.AssertExpectations(t)
}
