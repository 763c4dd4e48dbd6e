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
	"sync"
	"time"

	"github.com/blnkfinance/eventledger/config"
	"github.com/blnkfinance/eventledger/database"
	"github.com/blnkfinance/eventledger/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ErrNoHandler is returned by Process when no handler is registered for the
// event's kind. The event is left PENDING.
var ErrNoHandler = errors.New("no handler registered for event kind")

// EventHandler applies one event to a read-side store.
type EventHandler interface {
	Handle(ctx context.Context, event model.Event) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event model.Event) error

func (f EventHandlerFunc) Handle(ctx context.Context, event model.Event) error {
	return f(ctx, event)
}

// Dispatcher routes committed events to their handler and records the outcome
// on the event row. It writes through its own statements, never through a
// command transaction.
type Dispatcher struct {
	datasource  database.IDataSource
	retry       config.DispatchRetryConfig
	clock       func() time.Time
	mu          sync.RWMutex
	handlers    map[model.EventKind]EventHandler
	onProcessed []func(ctx context.Context, event model.Event)
}

func NewDispatcher(db database.IDataSource, retry config.DispatchRetryConfig) *Dispatcher {
	return &Dispatcher{
		datasource: db,
		retry:      retry,
		clock:      time.Now,
		handlers:   make(map[model.EventKind]EventHandler),
	}
}

// Register binds handler to kind, replacing any handler bound before.
func (d *Dispatcher) Register(kind model.EventKind, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[kind]; exists {
		logrus.WithField("kind", kind).Warn("replacing registered event handler")
	}
	d.handlers[kind] = handler
}

// OnProcessed adds a hook that runs after an event is marked PROCESSED.
func (d *Dispatcher) OnProcessed(hook func(ctx context.Context, event model.Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onProcessed = append(d.onProcessed, hook)
}

func (d *Dispatcher) handler(kind model.EventKind) (EventHandler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[kind]
	return h, ok
}

// Dispatch processes a committed event and never fails the caller. A handler
// error marks the event FAILED and opens or refreshes its failure record.
func (d *Dispatcher) Dispatch(ctx context.Context, event model.Event) {
	err := d.Process(ctx, event)
	if err == nil || errors.Is(err, ErrNoHandler) {
		return
	}
	d.recordFailure(ctx, event, err)
}

// Process runs the event's handler with bounded retries and marks the event
// PROCESSED on success or FAILED on error. It does not create failure records.
func (d *Dispatcher) Process(ctx context.Context, event model.Event) error {
	ctx, span := tracer.Start(ctx, "Dispatcher.Process")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("event_id", event.ID),
		attribute.String("kind", string(event.Kind)),
		attribute.String("entity_id", event.EntityID),
	)

	handler, ok := d.handler(event.Kind)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"event_id": event.ID,
			"kind":     event.Kind,
		}).Warn("no handler registered, event left pending")
		return fmt.Errorf("%w: %s", ErrNoHandler, event.Kind)
	}

	err := backoff.Retry(func() error {
		return handler.Handle(ctx, event)
	}, d.newBackOff(ctx))
	if err != nil {
		if statusErr := d.datasource.UpdateEventStatus(ctx, event.ID, model.EventFailed); statusErr != nil {
			logrus.WithError(statusErr).WithField("event_id", event.ID).Error("failed to mark event failed")
		}
		return logAndRecordError(span, fmt.Sprintf("handler failed for event %d", event.ID), err)
	}

	if err := d.datasource.UpdateEventStatus(ctx, event.ID, model.EventProcessed); err != nil {
		return logAndRecordError(span, "failed to mark event processed", err)
	}
	event.Status = model.EventProcessed

	d.mu.RLock()
	hooks := d.onProcessed
	d.mu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, event)
	}
	return nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, event model.Event, cause error) {
	record := model.NewFailureRecord(event, cause.Error(), model.NormalizeEventTime(d.clock()))
	if _, err := d.datasource.RecordFailure(ctx, record); err != nil {
		logrus.WithError(err).WithField("event_id", event.ID).Error("failed to record dispatch failure")
		return
	}
	logrus.WithFields(logrus.Fields{
		"event_id":  event.ID,
		"kind":      event.Kind,
		"entity_id": event.EntityID,
	}).WithError(cause).Warn("event dispatch failed")
}

func (d *Dispatcher) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(d.retry.InitialIntervalMs) * time.Millisecond
	b.Multiplier = d.retry.Multiplier
	b.MaxInterval = time.Duration(d.retry.MaxIntervalMs) * time.Millisecond
	b.Reset()

	retries := d.retry.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}
