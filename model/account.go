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

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountActive   AccountStatus = "ACTIVE"
	AccountInactive AccountStatus = "INACTIVE"
)

// Account is the command-side aggregate. Version is compared and bumped on
// every persisted update.
type Account struct {
	AccountID string          `json:"account_id"`
	OwnerID   string          `json:"owner_id"`
	Balance   decimal.Decimal `json:"balance"`
	Status    AccountStatus   `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Version   int64           `json:"version"`
}

// NewAccount returns an active account with a zero balance.
func NewAccount(accountID, ownerID string, now time.Time) *Account {
	return &Account{
		AccountID: accountID,
		OwnerID:   ownerID,
		Balance:   decimal.Zero,
		Status:    AccountActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ChangeBalance is the only way the balance moves.
func (a *Account) ChangeBalance(delta decimal.Decimal, at time.Time) {
	a.Balance = a.Balance.Add(delta)
	a.UpdatedAt = at
}

// CanDebit reports whether amount can be taken without going negative.
func (a *Account) CanDebit(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}

func (a *Account) IsActive() bool {
	return a.Status == AccountActive
}

// Deactivate flags the account. Accounts are never deleted.
func (a *Account) Deactivate(at time.Time) {
	a.Status = AccountInactive
	a.UpdatedAt = at
}
