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
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind tags the payload variant carried by an Event.
type EventKind string

const (
	KindAccountCreated      EventKind = "ACCOUNT_CREATED"
	KindMoneyDeposited      EventKind = "MONEY_DEPOSITED"
	KindMoneyWithdrawn      EventKind = "MONEY_WITHDRAWN"
	KindMoneyTransferredOut EventKind = "MONEY_TRANSFERRED_OUT"
	KindMoneyTransferredIn  EventKind = "MONEY_TRANSFERRED_IN"
	KindBalanceChangeFailed EventKind = "BALANCE_CHANGE_FAILED"
)

// AllEventKinds lists every kind the ledger writes.
var AllEventKinds = []EventKind{
	KindAccountCreated,
	KindMoneyDeposited,
	KindMoneyWithdrawn,
	KindMoneyTransferredOut,
	KindMoneyTransferredIn,
	KindBalanceChangeFailed,
}

// EventStatus is the processing state of a stored event.
type EventStatus string

const (
	EventPending   EventStatus = "PENDING"
	EventProcessed EventStatus = "PROCESSED"
	EventFailed    EventStatus = "FAILED"
	EventRetrying  EventStatus = "RETRYING"
)

// SchemaVersion identifies the payload layout an event was written with.
type SchemaVersion string

const (
	SchemaV1_0 SchemaVersion = "1.0"
	SchemaV1_1 SchemaVersion = "1.1"

	CurrentSchemaVersion = SchemaV1_1
)

// OperationType names the command that produced a BalanceChangeFailed event.
type OperationType string

const (
	OperationWithdraw OperationType = "WITHDRAW"
	OperationTransfer OperationType = "TRANSFER"
)

// ReasonInsufficientBalance is the failure reason recorded for rejected debits.
const ReasonInsufficientBalance = "insufficient balance"

// Metadata carries the causal context of an event.
type Metadata struct {
	CorrelationID string        `json:"correlation_id"`
	CausationID   string        `json:"causation_id,omitempty"`
	ActorID       string        `json:"actor_id"`
	SchemaVersion SchemaVersion `json:"schema_version"`
}

// Event is the stored envelope shared by every event kind. The kind-specific
// fields live in Payload.
type Event struct {
	ID        int64       `json:"id"`
	EntityID  string      `json:"entity_id"`
	Kind      EventKind   `json:"kind"`
	EventDate time.Time   `json:"event_date"`
	Metadata  Metadata    `json:"metadata"`
	Payload   Payload     `json:"payload"`
	Status    EventStatus `json:"status"`
	Version   int64       `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
}

// Payload is implemented by one struct per event kind.
type Payload interface {
	Kind() EventKind
}

type AccountCreated struct {
	OwnerID        string          `json:"owner_id"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

type MoneyDeposited struct {
	Amount decimal.Decimal `json:"amount"`
}

type MoneyWithdrawn struct {
	Amount decimal.Decimal `json:"amount"`
}

type MoneyTransferredOut struct {
	Amount      decimal.Decimal `json:"amount"`
	ToAccountID string          `json:"to_account_id"`
}

type MoneyTransferredIn struct {
	Amount        decimal.Decimal `json:"amount"`
	FromAccountID string          `json:"from_account_id"`
}

// BalanceChangeFailed is an audit record of a rejected debit. It never moves money.
type BalanceChangeFailed struct {
	Amount         decimal.Decimal `json:"amount"`
	OperationType  OperationType   `json:"operation_type"`
	Reason         string          `json:"reason"`
	CounterpartyID string          `json:"counterparty_id,omitempty"`
}

func (AccountCreated) Kind() EventKind      { return KindAccountCreated }
func (MoneyDeposited) Kind() EventKind      { return KindMoneyDeposited }
func (MoneyWithdrawn) Kind() EventKind      { return KindMoneyWithdrawn }
func (MoneyTransferredOut) Kind() EventKind { return KindMoneyTransferredOut }
func (MoneyTransferredIn) Kind() EventKind  { return KindMoneyTransferredIn }
func (BalanceChangeFailed) Kind() EventKind { return KindBalanceChangeFailed }

// NewEvent builds a pending event for entityID with the kind taken from payload.
func NewEvent(entityID string, payload Payload, eventDate time.Time, metadata Metadata) *Event {
	if metadata.SchemaVersion == "" {
		metadata.SchemaVersion = CurrentSchemaVersion
	}
	return &Event{
		EntityID:  entityID,
		Kind:      payload.Kind(),
		EventDate: eventDate,
		Metadata:  metadata,
		Payload:   payload,
		Status:    EventPending,
	}
}

// Amount returns the monetary amount carried by the event. The second value is
// false for structural events that carry no funds.
func (e Event) Amount() (decimal.Decimal, bool) {
	switch p := e.Payload.(type) {
	case AccountCreated:
		if p.InitialBalance.IsZero() {
			return decimal.Zero, false
		}
		return p.InitialBalance, true
	case MoneyDeposited:
		return p.Amount, true
	case MoneyWithdrawn:
		return p.Amount, true
	case MoneyTransferredOut:
		return p.Amount, true
	case MoneyTransferredIn:
		return p.Amount, true
	case BalanceChangeFailed:
		return p.Amount, true
	}
	return decimal.Zero, false
}

// BalanceDelta is the signed effect of the event on its entity's balance.
func (e Event) BalanceDelta() decimal.Decimal {
	switch p := e.Payload.(type) {
	case AccountCreated:
		return p.InitialBalance
	case MoneyDeposited:
		return p.Amount
	case MoneyWithdrawn:
		return p.Amount.Neg()
	case MoneyTransferredOut:
		return p.Amount.Neg()
	case MoneyTransferredIn:
		return p.Amount
	}
	return decimal.Zero
}

// FoldBalance applies events in order on top of start and returns the resulting
// balance with the id and date of the last event folded. Events with an id at or
// below afterID are skipped.
func FoldBalance(start decimal.Decimal, events []Event, afterID int64) (balance decimal.Decimal, lastID int64, lastDate time.Time) {
	balance = start
	lastID = afterID
	for _, e := range events {
		if e.ID <= afterID {
			continue
		}
		balance = balance.Add(e.BalanceDelta())
		lastID = e.ID
		lastDate = e.EventDate
	}
	return balance, lastID, lastDate
}

// MarshalPayload encodes the kind-specific part of the event for storage.
func (e Event) MarshalPayload() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %d has no payload", e.ID)
	}
	return json.Marshal(e.Payload)
}

// DecodePayload rebuilds the payload variant for kind from its stored JSON.
func DecodePayload(kind EventKind, raw []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindAccountCreated:
		var v AccountCreated
		err = json.Unmarshal(raw, &v)
		p = v
	case KindMoneyDeposited:
		var v MoneyDeposited
		err = json.Unmarshal(raw, &v)
		p = v
	case KindMoneyWithdrawn:
		var v MoneyWithdrawn
		err = json.Unmarshal(raw, &v)
		p = v
	case KindMoneyTransferredOut:
		var v MoneyTransferredOut
		err = json.Unmarshal(raw, &v)
		p = v
	case KindMoneyTransferredIn:
		var v MoneyTransferredIn
		err = json.Unmarshal(raw, &v)
		p = v
	case KindBalanceChangeFailed:
		var v BalanceChangeFailed
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("unsupported event kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UnmarshalJSON restores the payload variant using the kind field.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	aux := struct {
		*alias
		Payload json.RawMessage `json:"payload"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Payload) == 0 || string(aux.Payload) == "null" {
		e.Payload = nil
		return nil
	}
	p, err := DecodePayload(e.Kind, aux.Payload)
	if err != nil {
		return err
	}
	e.Payload = p
	return nil
}
