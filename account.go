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
	"strconv"

	"github.com/blnkfinance/eventledger/database"
	"github.com/blnkfinance/eventledger/internal/apierror"
	"github.com/blnkfinance/eventledger/model"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// TransferResult describes a committed transfer.
type TransferResult struct {
	CorrelationID string          `json:"correlation_id"`
	Debit         model.Event     `json:"debit"`
	Credit        model.Event     `json:"credit"`
	FromBalance   decimal.Decimal `json:"from_balance"`
	ToBalance     decimal.Decimal `json:"to_balance"`
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &model.InvalidAmountError{Amount: amount}
	}
	return nil
}

// activeAccount loads an account that can take part in a balance change.
func activeAccount(ctx context.Context, tx database.IDataSource, accountID string) (*model.Account, error) {
	account, err := tx.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive() {
		return nil, &model.AccountInactiveError{AccountID: accountID}
	}
	return account, nil
}

// CreateAccount opens an account with a zero balance and records AccountCreated.
// An empty accountID is replaced by a generated one.
func (l *Ledger) CreateAccount(ctx context.Context, accountID, ownerID, actorID string) (string, error) {
	ctx, span := tracer.Start(ctx, "CreateAccount")
	defer span.End()

	if accountID == "" {
		accountID = model.GenerateUUIDWithSuffix("acc")
	}
	span.SetAttributes(attribute.String("account_id", accountID))

	var stored *model.Event
	err := l.datasource.WithTx(ctx, func(tx database.IDataSource) error {
		now := l.now()
		if err := tx.CreateAccount(ctx, model.NewAccount(accountID, ownerID, now)); err != nil {
			return err
		}
		event := model.NewEvent(accountID, model.AccountCreated{OwnerID: ownerID, InitialBalance: decimal.Zero}, now,
			model.Metadata{CorrelationID: model.NewCorrelationID(), ActorID: actorID})
		var err error
		stored, err = tx.AppendEvent(ctx, event)
		return err
	})
	if err != nil {
		return "", logAndRecordError(span, "failed to create account", err)
	}

	l.afterCommit(ctx, []*model.Event{stored}, accountID)
	return accountID, nil
}

// Deposit credits amount to the account and returns the new balance.
func (l *Ledger) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, actorID string) (decimal.Decimal, error) {
	ctx, span := tracer.Start(ctx, "Deposit")
	defer span.End()
	span.SetAttributes(attribute.String("account_id", accountID), attribute.String("amount", amount.String()))

	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}

	var (
		balance decimal.Decimal
		stored  *model.Event
	)
	err := l.datasource.WithTx(ctx, func(tx database.IDataSource) error {
		account, err := activeAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		// stamped after the read: a writer that committed since fails the version check
		now := l.now()
		account.ChangeBalance(amount, now)
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}
		stored, err = tx.AppendEvent(ctx, model.NewEvent(accountID, model.MoneyDeposited{Amount: amount}, now,
			model.Metadata{CorrelationID: model.NewCorrelationID(), ActorID: actorID}))
		balance = account.Balance
		return err
	})
	if err != nil {
		return decimal.Zero, logAndRecordError(span, "failed to deposit", err)
	}

	l.afterCommit(ctx, []*model.Event{stored}, accountID)
	return balance, nil
}

// Withdraw debits amount from the account and returns the new balance. When
// the balance is too low a BalanceChangeFailed event is still committed and
// model.InsufficientBalanceError is returned.
func (l *Ledger) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, actorID string) (decimal.Decimal, error) {
	ctx, span := tracer.Start(ctx, "Withdraw")
	defer span.End()
	span.SetAttributes(attribute.String("account_id", accountID), attribute.String("amount", amount.String()))

	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}

	var (
		balance      decimal.Decimal
		stored       *model.Event
		insufficient error
	)
	err := l.datasource.WithTx(ctx, func(tx database.IDataSource) error {
		account, err := activeAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		now := l.now()
		meta := model.Metadata{CorrelationID: model.NewCorrelationID(), ActorID: actorID}

		if !account.CanDebit(amount) {
			insufficient = &model.InsufficientBalanceError{AccountID: accountID, Balance: account.Balance, Requested: amount}
			stored, err = tx.AppendEvent(ctx, model.NewEvent(accountID, model.BalanceChangeFailed{
				Amount:        amount,
				OperationType: model.OperationWithdraw,
				Reason:        model.ReasonInsufficientBalance,
			}, now, meta))
			return err
		}

		account.ChangeBalance(amount.Neg(), now)
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}
		stored, err = tx.AppendEvent(ctx, model.NewEvent(accountID, model.MoneyWithdrawn{Amount: amount}, now, meta))
		balance = account.Balance
		return err
	})
	if err != nil {
		return decimal.Zero, logAndRecordError(span, "failed to withdraw", err)
	}

	l.afterCommit(ctx, []*model.Event{stored}, accountID)
	if insufficient != nil {
		return decimal.Zero, insufficient
	}
	return balance, nil
}

// Transfer moves amount between two accounts. Both legs share a correlation
// id and the credit leg is caused by the debit leg.
func (l *Ledger) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal, actorID string) (TransferResult, error) {
	ctx, span := tracer.Start(ctx, "Transfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("from_account_id", fromID),
		attribute.String("to_account_id", toID),
		attribute.String("amount", amount.String()),
	)

	if fromID == toID {
		return TransferResult{}, &model.SelfTransferError{AccountID: fromID}
	}
	if err := validateAmount(amount); err != nil {
		return TransferResult{}, err
	}

	result := TransferResult{CorrelationID: model.NewCorrelationID()}
	var (
		committed    []*model.Event
		insufficient error
	)
	err := l.datasource.WithTx(ctx, func(tx database.IDataSource) error {
		from, err := activeAccount(ctx, tx, fromID)
		if err != nil {
			return err
		}
		to, err := activeAccount(ctx, tx, toID)
		if err != nil {
			return err
		}
		now := l.now()
		meta := model.Metadata{CorrelationID: result.CorrelationID, ActorID: actorID}

		if !from.CanDebit(amount) {
			insufficient = &model.InsufficientBalanceError{AccountID: fromID, Balance: from.Balance, Requested: amount}
			failed, err := tx.AppendEvent(ctx, model.NewEvent(fromID, model.BalanceChangeFailed{
				Amount:         amount,
				OperationType:  model.OperationTransfer,
				Reason:         model.ReasonInsufficientBalance,
				CounterpartyID: toID,
			}, now, meta))
			committed = []*model.Event{failed}
			return err
		}

		from.ChangeBalance(amount.Neg(), now)
		to.ChangeBalance(amount, now)
		accounts := []*model.Account{from, to}
		sort.Slice(accounts, func(i, j int) bool { return accounts[i].AccountID < accounts[j].AccountID })
		for _, account := range accounts {
			if err := tx.UpdateAccount(ctx, account); err != nil {
				return err
			}
		}

		debit, err := tx.AppendEvent(ctx, model.NewEvent(fromID, model.MoneyTransferredOut{Amount: amount, ToAccountID: toID}, now, meta))
		if err != nil {
			return err
		}
		creditMeta := meta
		creditMeta.CausationID = strconv.FormatInt(debit.ID, 10)
		credit, err := tx.AppendEvent(ctx, model.NewEvent(toID, model.MoneyTransferredIn{Amount: amount, FromAccountID: fromID}, now, creditMeta))
		if err != nil {
			return err
		}

		committed = []*model.Event{debit, credit}
		result.FromBalance = from.Balance
		result.ToBalance = to.Balance
		return nil
	})
	if err != nil {
		return TransferResult{}, logAndRecordError(span, "failed to transfer", err)
	}

	if insufficient != nil {
		l.afterCommit(ctx, committed, fromID)
		return TransferResult{}, insufficient
	}

	l.afterCommit(ctx, committed, fromID, toID)
	result.Debit = *committed[0]
	result.Credit = *committed[1]
	return result, nil
}

// DeactivateAccount marks the account INACTIVE. Further balance changes on it
// fail with model.AccountInactiveError.
func (l *Ledger) DeactivateAccount(ctx context.Context, accountID string) (*model.Account, error) {
	ctx, span := tracer.Start(ctx, "DeactivateAccount")
	defer span.End()

	account, err := l.datasource.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive() {
		return account, nil
	}
	account.Deactivate(l.now())
	if err := l.datasource.UpdateAccount(ctx, account); err != nil {
		return nil, logAndRecordError(span, "failed to deactivate account", err)
	}
	return account, nil
}

// GetAccount returns the command-side account.
func (l *Ledger) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	ctx, span := tracer.Start(ctx, "GetAccount")
	defer span.End()
	return l.datasource.GetAccountByID(ctx, accountID)
}

// GetAccountView returns the read-side view, which may lag the account.
func (l *Ledger) GetAccountView(ctx context.Context, accountID string) (*model.AccountView, error) {
	view, err := l.projections.Get(ctx, accountID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read account view", err)
	}
	if view == nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No view for account '%s'", accountID), nil)
	}
	return view, nil
}

// ReconstructBalance folds the account's history into its canonical balance.
func (l *Ledger) ReconstructBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	if _, err := l.datasource.GetAccountByID(ctx, accountID); err != nil {
		return decimal.Zero, err
	}
	return l.snapshots.ReconstructBalance(ctx, accountID)
}

// GetAccountHistory returns every event of the account, oldest first.
func (l *Ledger) GetAccountHistory(ctx context.Context, accountID string) ([]model.Event, error) {
	ctx, span := tracer.Start(ctx, "GetAccountHistory")
	defer span.End()
	return l.datasource.GetEventsByEntity(ctx, accountID)
}

// GetEventsByCorrelationID returns all legs of one logical operation.
func (l *Ledger) GetEventsByCorrelationID(ctx context.Context, correlationID string) ([]model.Event, error) {
	return l.datasource.GetEventsByCorrelationID(ctx, correlationID)
}

func (l *Ledger) GetEventsByActor(ctx context.Context, actorID string, limit, offset int) ([]model.Event, error) {
	return l.datasource.GetEventsByActor(ctx, actorID, limit, offset)
}
