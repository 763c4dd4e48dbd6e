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

package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/blnkfinance/eventledger"
	model2 "github.com/blnkfinance/eventledger/api/model"
	"github.com/blnkfinance/eventledger/internal/apierror"
	"github.com/blnkfinance/eventledger/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/typesense/typesense-go/typesense/api"
)

func TestTransfer(t *testing.T) {
	router, l := setupRouter(t)
	result := eventledger.TransferResult{
		CorrelationID: "corr_1",
		Debit:         model.Event{ID: 10, EntityID: "acc_a", Kind: model.KindMoneyTransferredOut, Payload: model.MoneyTransferredOut{Amount: decimal.NewFromInt(5), ToAccountID: "acc_b"}},
		Credit:        model.Event{ID: 11, EntityID: "acc_b", Kind: model.KindMoneyTransferredIn, Payload: model.MoneyTransferredIn{Amount: decimal.NewFromInt(5), FromAccountID: "acc_a"}},
		FromBalance:   decimal.NewFromInt(95),
		ToBalance:     decimal.NewFromInt(5),
	}
	l.On("Transfer", mock.Anything, "acc_a", "acc_b", amountOf(5), "carol").Return(result, nil)
	l.On("Transfer", mock.Anything, "acc_a", "acc_b", amountOf(500), "carol").Return(eventledger.TransferResult{}, &model.InsufficientBalanceError{AccountID: "acc_a"})

	tests := []struct {
		name         string
		payload      model2.Transfer
		expectedCode int
	}{
		{name: "Transferred", payload: model2.Transfer{FromAccountID: "acc_a", ToAccountID: "acc_b", Amount: decimal.NewFromInt(5), ActorID: "carol"}, expectedCode: http.StatusCreated},
		{name: "Insufficient", payload: model2.Transfer{FromAccountID: "acc_a", ToAccountID: "acc_b", Amount: decimal.NewFromInt(500), ActorID: "carol"}, expectedCode: http.StatusUnprocessableEntity},
		{name: "Self transfer", payload: model2.Transfer{FromAccountID: "acc_a", ToAccountID: "acc_a", Amount: decimal.NewFromInt(5), ActorID: "carol"}, expectedCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var response map[string]interface{}
			resp := SetUpTestRequest(t, TestRequest{Payload: tt.payload, Response: &response, Method: http.MethodPost, Route: "/transfers", Router: router})
			assert.Equal(t, tt.expectedCode, resp.Code)
			if tt.expectedCode == http.StatusCreated {
				assert.Equal(t, "corr_1", response["correlation_id"])
			}
		})
	}
}

func TestGetEventsByActorPaging(t *testing.T) {
	router, l := setupRouter(t)
	l.On("GetEventsByActor", mock.Anything, "alice", 20, 0).Return([]model.Event{}, nil)
	l.On("GetEventsByActor", mock.Anything, "alice", 5, 10).Return([]model.Event{{ID: 1, Kind: model.KindMoneyDeposited, Payload: model.MoneyDeposited{Amount: decimal.NewFromInt(1)}}}, nil)

	var events []model.Event
	resp := SetUpTestRequest(t, TestRequest{Response: &events, Method: http.MethodGet, Route: "/events/actor/alice", Router: router})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, events)

	resp = SetUpTestRequest(t, TestRequest{Response: &events, Method: http.MethodGet, Route: "/events/actor/alice?limit=5&offset=10", Router: router})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, events, 1)

	var response map[string]interface{}
	resp = SetUpTestRequest(t, TestRequest{Response: &response, Method: http.MethodGet, Route: "/events/actor/alice?limit=-1", Router: router})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetEventsByCorrelationID(t *testing.T) {
	router, l := setupRouter(t)
	l.On("GetEventsByCorrelationID", mock.Anything, "corr_1").Return([]model.Event{
		{ID: 1, Kind: model.KindMoneyTransferredOut, Payload: model.MoneyTransferredOut{Amount: decimal.NewFromInt(1), ToAccountID: "b"}},
		{ID: 2, Kind: model.KindMoneyTransferredIn, Payload: model.MoneyTransferredIn{Amount: decimal.NewFromInt(1), FromAccountID: "a"}},
	}, nil)

	var events []model.Event
	resp := SetUpTestRequest(t, TestRequest{Response: &events, Method: http.MethodGet, Route: "/events/correlation/corr_1", Router: router})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, events, 2)
}

func TestAdminRoutes(t *testing.T) {
	router, l := setupRouter(t)
	l.On("RetryFailedEvents", mock.Anything).Return(eventledger.RetrySweepResult{Attempted: 2, Resolved: 2}, nil)
	l.On("CheckStaleFailures", mock.Anything).Return([]model.FailureRecord{{ID: 1}}, nil)
	l.On("ValidateConsistency", mock.Anything).Return(eventledger.ConsistencyReport{Checked: 4, Consistent: 4}, nil)
	l.On("RecoverPendingEvents", mock.Anything, 60*time.Second).Return(3, nil)
	l.On("RecoverPendingEvents", mock.Anything, 120*time.Second).Return(0, nil)

	var sweep eventledger.RetrySweepResult
	resp := SetUpTestRequest(t, TestRequest{Response: &sweep, Method: http.MethodPost, Route: "/admin/retry-failed", Router: router})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 2, sweep.Resolved)

	var stale map[string]interface{}
	resp = SetUpTestRequest(t, TestRequest{Response: &stale, Method: http.MethodPost, Route: "/admin/check-stale", Router: router})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(1), stale["flagged"])

	var report eventledger.ConsistencyReport
	resp = SetUpTestRequest(t, TestRequest{Response: &report, Method: http.MethodPost, Route: "/admin/validate-consistency", Router: router})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 4, report.Consistent)

	var recovered map[string]interface{}
	resp = SetUpTestRequest(t, TestRequest{Response: &recovered, Method: http.MethodPost, Route: "/admin/recover-pending", Router: router})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(3), recovered["recovered"])

	resp = SetUpTestRequest(t, TestRequest{Response: &recovered, Method: http.MethodPost, Route: "/admin/recover-pending?threshold_sec=120", Router: router})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(0), recovered["recovered"])
}

func TestSearchEvents(t *testing.T) {
	router, l := setupRouter(t)
	l.On("SearchEvents", mock.Anything, mock.AnythingOfType("*api.SearchCollectionParams")).Return(&api.SearchResult{}, nil)

	var result map[string]interface{}
	resp := SetUpTestRequest(t, TestRequest{
		Payload:  map[string]string{"q": "acc_1", "query_by": "entity_id"},
		Response: &result,
		Method:   http.MethodPost,
		Route:    "/search/events",
		Router:   router,
	})
	assert.Equal(t, http.StatusOK, resp.Code)
	l.AssertCalled(t, "SearchEvents", mock.Anything, mock.AnythingOfType("*api.SearchCollectionParams"))
}

func TestStartReindexWithoutSearch(t *testing.T) {
	router, l := setupRouter(t)
	globalReindexManager.service = nil
	l.On("EventReindexer", 0).Return(nil, apierror.NewAPIError(apierror.ErrBadRequest, "search is not configured", nil))

	var response map[string]interface{}
	resp := SetUpTestRequest(t, TestRequest{Response: &response, Method: http.MethodPost, Route: "/search/reindex", Router: router})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
