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

	model2 "github.com/blnkfinance/eventledger/api/model"
	"github.com/gin-gonic/gin"
)

// CreateAccount opens an account with a zero balance.
//
// Responses:
// - 201 Created: the account id.
// - 400 Bad Request: invalid body.
// - 409 Conflict: the account id is taken.
func (a Api) CreateAccount(c *gin.Context) {
	var newAccount model2.CreateAccount
	if err := c.ShouldBindJSON(&newAccount); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := newAccount.ValidateCreateAccount(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	id, err := a.ledger.CreateAccount(c.Request.Context(), newAccount.AccountID, newAccount.OwnerID, newAccount.ActorID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"account_id": id})
}

func (a Api) GetAccount(c *gin.Context) {
	account, err := a.ledger.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// GetAccountView returns the read model, which may lag the account.
func (a Api) GetAccountView(c *gin.Context) {
	view, err := a.ledger.GetAccountView(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetBalance folds the account's history into its canonical balance.
func (a Api) GetBalance(c *gin.Context) {
	id := c.Param("id")
	balance, err := a.ledger.ReconstructBalance(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": id, "balance": balance})
}

func (a Api) DeactivateAccount(c *gin.Context) {
	account, err := a.ledger.DeactivateAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (a Api) bindBalanceChange(c *gin.Context) (model2.BalanceChange, bool) {
	var change model2.BalanceChange
	if err := c.ShouldBindJSON(&change); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return change, false
	}
	if err := change.ValidateBalanceChange(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return change, false
	}
	return change, true
}

// Deposit credits the account.
//
// Responses:
// - 200 OK: the new balance.
// - 404 Not Found: unknown account.
// - 422 Unprocessable Entity: the account is inactive.
func (a Api) Deposit(c *gin.Context) {
	change, ok := a.bindBalanceChange(c)
	if !ok {
		return
	}
	id := c.Param("id")
	balance, err := a.ledger.Deposit(c.Request.Context(), id, change.Amount, change.ActorID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": id, "balance": balance})
}

// Withdraw debits the account. A rejected withdrawal is still recorded in the
// account history and answered with 422.
func (a Api) Withdraw(c *gin.Context) {
	change, ok := a.bindBalanceChange(c)
	if !ok {
		return
	}
	id := c.Param("id")
	balance, err := a.ledger.Withdraw(c.Request.Context(), id, change.Amount, change.ActorID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": id, "balance": balance})
}

func (a Api) GetAccountHistory(c *gin.Context) {
	events, err := a.ledger.GetAccountHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (a Api) GetAccountFailures(c *gin.Context) {
	failures, err := a.ledger.GetFailuresByEntityID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, failures)
}

// ReplayAccount re-dispatches the account's unprocessed events. With
// ?async=true the replay is queued instead and 202 is returned.
func (a Api) ReplayAccount(c *gin.Context) {
	var req model2.Replay
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := req.ValidateReplay(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	since := req.SinceTime()

	if c.Query("async") == "true" {
		queued, err := a.ledger.EnqueueReplay(ctx, id, since)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"account_id": id, "queued": queued})
		return
	}

	if since.IsZero() {
		result, err := a.ledger.ReprocessAccountEvents(ctx, id)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	result, err := a.ledger.Replay(ctx, id, since)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
