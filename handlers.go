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
	"errors"
	"fmt"

	"github.com/blnkfinance/eventledger/internal/projection"
	"github.com/blnkfinance/eventledger/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// ProjectionHandler keeps the account views in step with the event log.
type ProjectionHandler struct {
	store projection.Store
}

// RegisterProjectionHandlers binds a handler for every event kind.
func RegisterProjectionHandlers(d *Dispatcher, store projection.Store) {
	h := ProjectionHandler{store: store}
	d.Register(model.KindAccountCreated, EventHandlerFunc(h.accountCreated))
	d.Register(model.KindMoneyDeposited, EventHandlerFunc(h.balanceChanged))
	d.Register(model.KindMoneyWithdrawn, EventHandlerFunc(h.balanceChanged))
	d.Register(model.KindMoneyTransferredOut, EventHandlerFunc(h.balanceChanged))
	d.Register(model.KindMoneyTransferredIn, EventHandlerFunc(h.balanceChanged))
	d.Register(model.KindBalanceChangeFailed, EventHandlerFunc(h.balanceChangeFailed))
}

func (h ProjectionHandler) accountCreated(ctx context.Context, event model.Event) error {
	payload, ok := event.Payload.(model.AccountCreated)
	if !ok {
		return backoff.Permanent(fmt.Errorf("event %d: unexpected payload %T", event.ID, event.Payload))
	}
	view := model.AccountView{
		AccountID:   event.EntityID,
		Balance:     payload.InitialBalance,
		LastUpdated: event.EventDate,
		LastEventID: event.ID,
	}
	_, err := h.store.Create(ctx, view, event.ID)
	return err
}

func (h ProjectionHandler) balanceChanged(ctx context.Context, event model.Event) error {
	_, err := h.store.Apply(ctx, event.EntityID, event.ID, event.BalanceDelta(), event.EventDate)
	if errors.Is(err, projection.ErrViewNotFound) {
		return backoff.Permanent(err)
	}
	return err
}

func (h ProjectionHandler) balanceChangeFailed(_ context.Context, event model.Event) error {
	payload, ok := event.Payload.(model.BalanceChangeFailed)
	if !ok {
		return backoff.Permanent(fmt.Errorf("event %d: unexpected payload %T", event.ID, event.Payload))
	}
	logrus.WithFields(logrus.Fields{
		"event_id":        event.ID,
		"entity_id":       event.EntityID,
		"operation":       payload.OperationType,
		"amount":          payload.Amount.String(),
		"reason":          payload.Reason,
		"counterparty_id": payload.CounterpartyID,
		"correlation_id":  event.Metadata.CorrelationID,
	}).Info("balance change rejected")
	return nil
}
