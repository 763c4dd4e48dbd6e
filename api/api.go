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
	"context"
	"net/http"
	"time"

	"github.com/blnkfinance/eventledger"
	"github.com/blnkfinance/eventledger/api/middleware"
	"github.com/blnkfinance/eventledger/config"
	"github.com/blnkfinance/eventledger/internal/search"
	"github.com/blnkfinance/eventledger/model"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/typesense/typesense-go/typesense/api"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Ledger is the ledger surface served over HTTP. *eventledger.Ledger
// implements it.
type Ledger interface {
	CreateAccount(ctx context.Context, accountID, ownerID, actorID string) (string, error)
	GetAccount(ctx context.Context, accountID string) (*model.Account, error)
	GetAccountView(ctx context.Context, accountID string) (*model.AccountView, error)
	ReconstructBalance(ctx context.Context, accountID string) (decimal.Decimal, error)
	DeactivateAccount(ctx context.Context, accountID string) (*model.Account, error)
	Deposit(ctx context.Context, accountID string, amount decimal.Decimal, actorID string) (decimal.Decimal, error)
	Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, actorID string) (decimal.Decimal, error)
	Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal, actorID string) (eventledger.TransferResult, error)

	GetAccountHistory(ctx context.Context, accountID string) ([]model.Event, error)
	GetEventsByCorrelationID(ctx context.Context, correlationID string) ([]model.Event, error)
	GetEventsByActor(ctx context.Context, actorID string, limit, offset int) ([]model.Event, error)
	GetFailuresByEntityID(ctx context.Context, entityID string) ([]model.FailureRecord, error)

	Replay(ctx context.Context, entityID string, since time.Time) (eventledger.ReplayResult, error)
	ReprocessAccountEvents(ctx context.Context, accountID string) (eventledger.ReplayResult, error)
	EnqueueReplay(ctx context.Context, accountID string, since time.Time) (bool, error)
	RetryFailedEvents(ctx context.Context) (eventledger.RetrySweepResult, error)
	CheckStaleFailures(ctx context.Context) ([]model.FailureRecord, error)
	ValidateConsistency(ctx context.Context) (eventledger.ConsistencyReport, error)
	RecoverPendingEvents(ctx context.Context, threshold time.Duration) (int, error)

	SearchEvents(ctx context.Context, query *api.SearchCollectionParams) (*api.SearchResult, error)
	EventReindexer(batchSize int) (*search.ReindexService, error)
}

var _ Ledger = (*eventledger.Ledger)(nil)

type Api struct {
	ledger Ledger
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/accounts", a.CreateAccount)
	router.GET("/accounts/:id", a.GetAccount)
	router.GET("/accounts/:id/view", a.GetAccountView)
	router.GET("/accounts/:id/balance", a.GetBalance)
	router.POST("/accounts/:id/deactivate", a.DeactivateAccount)
	router.POST("/accounts/:id/deposit", a.Deposit)
	router.POST("/accounts/:id/withdraw", a.Withdraw)
	router.GET("/accounts/:id/events", a.GetAccountHistory)
	router.GET("/accounts/:id/failures", a.GetAccountFailures)
	router.POST("/accounts/:id/replay", a.ReplayAccount)

	router.POST("/transfers", a.Transfer)

	router.GET("/events/correlation/:id", a.GetEventsByCorrelationID)
	router.GET("/events/actor/:id", a.GetEventsByActor)

	router.POST("/admin/retry-failed", a.RetryFailedEvents)
	router.POST("/admin/check-stale", a.CheckStaleFailures)
	router.POST("/admin/validate-consistency", a.ValidateConsistency)
	router.POST("/admin/recover-pending", a.RecoverPendingEvents)

	router.POST("/search/events", a.SearchEvents)
	router.POST("/search/reindex", a.StartReindex)
	router.GET("/search/reindex", a.GetReindexProgress)
	return a.router
}

func NewAPI(l Ledger) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}
	r.Use(middleware.RateLimitMiddleware(conf))
	r.Use(otelgin.Middleware(conf.ProjectName))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{ledger: l, router: r}
}

func (a Api) SearchEvents(c *gin.Context) {
	var query api.SearchCollectionParams
	if err := c.ShouldBindJSON(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := a.ledger.SearchEvents(c.Request.Context(), &query)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
