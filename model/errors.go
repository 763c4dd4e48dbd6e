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
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type InvalidAmountError struct {
	Amount decimal.Decimal
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %s: amount must be greater than zero", e.Amount.String())
}

type SelfTransferError struct {
	AccountID string
}

func (e *SelfTransferError) Error() string {
	return fmt.Sprintf("cannot transfer from account %s to itself", e.AccountID)
}

type DuplicateAccountError struct {
	AccountID string
}

func (e *DuplicateAccountError) Error() string {
	return fmt.Sprintf("account %s already exists", e.AccountID)
}

type AccountNotFoundError struct {
	AccountID string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account %s not found", e.AccountID)
}

type AccountInactiveError struct {
	AccountID string
}

func (e *AccountInactiveError) Error() string {
	return fmt.Sprintf("account %s is inactive", e.AccountID)
}

type InsufficientBalanceError struct {
	AccountID string
	Balance   decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on account %s: balance %s, requested %s",
		e.AccountID, e.Balance.String(), e.Requested.String())
}

// ConcurrencyConflictError means the account row changed since it was read.
// The whole command must be retried against fresh state.
type ConcurrencyConflictError struct {
	AccountID       string
	ExpectedVersion int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("account %s was modified concurrently (expected version %d)", e.AccountID, e.ExpectedVersion)
}

type OutOfOrderEventError struct {
	EntityID      string
	EventDate     time.Time
	LastEventDate time.Time
}

func (e *OutOfOrderEventError) Error() string {
	return fmt.Sprintf("event for %s dated %s precedes latest stored event dated %s",
		e.EntityID, e.EventDate.Format(time.RFC3339Nano), e.LastEventDate.Format(time.RFC3339Nano))
}

// ReplayError aborts a replay at the first event that could not be dispatched.
type ReplayError struct {
	EntityID string
	EventID  int64
	Err      error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay of %s stopped at event %d: %v", e.EntityID, e.EventID, e.Err)
}

func (e *ReplayError) Unwrap() error {
	return e.Err
}
