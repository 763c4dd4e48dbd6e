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

// Transfer moves money between two accounts in one transaction.
//
// Responses:
// - 201 Created: both legs and the new balances.
// - 400 Bad Request: invalid body or a self transfer.
// - 422 Unprocessable Entity: insufficient balance or an inactive account.
func (a Api) Transfer(c *gin.Context) {
	var transfer model2.Transfer
	if err := c.ShouldBindJSON(&transfer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := transfer.ValidateTransfer(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	result, err := a.ledger.Transfer(c.Request.Context(), transfer.FromAccountID, transfer.ToAccountID, transfer.Amount, transfer.ActorID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}
