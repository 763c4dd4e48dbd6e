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
	"time"

	redlock "github.com/blnkfinance/eventledger/internal/lock"
	"github.com/blnkfinance/eventledger/internal/notification"
	"github.com/blnkfinance/eventledger/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	jobRetryFailedEvents   = "retry_failed_events"
	jobValidateConsistency = "validate_consistency"
)

// ReplayResult counts what a replay did with each event it visited.
type ReplayResult struct {
	EntityID  string `json:"entity_id"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Unhandled int    `json:"unhandled"`
}

// RetrySweepResult summarizes one pass over the failure records.
type RetrySweepResult struct {
	Attempted int  `json:"attempted"`
	Resolved  int  `json:"resolved"`
	Failed    int  `json:"failed"`
	Exhausted int  `json:"exhausted"`
	Skipped   bool `json:"skipped"`
}

// Replay re-dispatches every event of the entity dated after since that is not
// yet PROCESSED. It stops at the first failure with a model.ReplayError after
// marking the event FAILED and recording the failure.
func (l *Ledger) Replay(ctx context.Context, entityID string, since time.Time) (ReplayResult, error) {
	ctx, span := tracer.Start(ctx, "Replay")
	defer span.End()
	span.SetAttributes(attribute.String("entity_id", entityID))

	result := ReplayResult{EntityID: entityID}
	events, err := l.datasource.GetEventsByEntitySince(ctx, entityID, since)
	if err != nil {
		return result, logAndRecordError(span, "failed to load events for replay", err)
	}

	for _, event := range events {
		if event.Status == model.EventProcessed {
			result.Skipped++
			continue
		}

		err := l.dispatcher.Process(ctx, event)
		if errors.Is(err, ErrNoHandler) {
			result.Unhandled++
			continue
		}
		if err != nil {
			l.dispatcher.recordFailure(ctx, event, err)
			return result, logAndRecordError(span, "replay stopped", &model.ReplayError{EntityID: entityID, EventID: event.ID, Err: err})
		}

		if _, err := l.datasource.ResolveFailuresForEvent(ctx, event.ID); err != nil {
			logrus.WithError(err).WithField("event_id", event.ID).Warn("failed to resolve failure records after replay")
		}
		result.Processed++
	}

	logrus.WithFields(logrus.Fields{
		"entity_id": entityID,
		"processed": result.Processed,
		"skipped":   result.Skipped,
	}).Info("replay completed")
	return result, nil
}

// ReplayAccounts replays each account in turn and returns the errors of the
// accounts that could not be replayed completely.
func (l *Ledger) ReplayAccounts(ctx context.Context, accountIDs []string, since time.Time) map[string]error {
	failures := make(map[string]error)
	for _, id := range accountIDs {
		if _, err := l.Replay(ctx, id, since); err != nil {
			logrus.WithError(err).WithField("account_id", id).Error("account replay failed, continuing")
			failures[id] = err
		}
	}
	return failures
}

// ReprocessAccountEvents replays the account's whole history.
func (l *Ledger) ReprocessAccountEvents(ctx context.Context, accountID string) (ReplayResult, error) {
	if _, err := l.datasource.GetAccountByID(ctx, accountID); err != nil {
		return ReplayResult{EntityID: accountID}, err
	}
	return l.Replay(ctx, accountID, model.Epoch)
}

// withJobLock runs fn while holding the named job lock. Without Redis the job
// runs unguarded.
func (l *Ledger) withJobLock(ctx context.Context, job string, fn func(ctx context.Context) error) error {
	if l.redis == nil {
		return fn(ctx)
	}
	return redlock.NewJobLocker(l.redis, job).Run(ctx, l.lockTTL, fn)
}

// RetryFailedEvents re-processes events with an open failure record. Only one
// worker runs the sweep at a time; the others report Skipped.
func (l *Ledger) RetryFailedEvents(ctx context.Context) (RetrySweepResult, error) {
	ctx, span := tracer.Start(ctx, "RetryFailedEvents")
	defer span.End()

	var result RetrySweepResult
	err := l.withJobLock(ctx, jobRetryFailedEvents, func(ctx context.Context) error {
		records, err := l.datasource.GetRetryableFailures(ctx, l.maxRetries, l.retryBatchSize)
		if err != nil {
			return err
		}
		for _, record := range records {
			result.Attempted++
			l.retryFailure(ctx, record, &result)
		}
		return nil
	})
	if errors.Is(err, redlock.ErrLockHeld) {
		logrus.Info("retry sweep already running elsewhere, skipping")
		result.Skipped = true
		return result, nil
	}
	if err != nil {
		return result, logAndRecordError(span, "retry sweep failed", err)
	}

	logrus.WithFields(logrus.Fields{
		"attempted": result.Attempted,
		"resolved":  result.Resolved,
		"failed":    result.Failed,
		"exhausted": result.Exhausted,
	}).Info("retry sweep completed")
	return result, nil
}

func (l *Ledger) retryFailure(ctx context.Context, record model.FailureRecord, result *RetrySweepResult) {
	fields := logrus.Fields{"event_id": record.EventID, "failure_id": record.ID}

	event, err := l.datasource.GetEvent(ctx, record.EventID)
	if err != nil {
		logrus.WithError(err).WithFields(fields).Error("failed to load event for retry")
		result.Failed++
		return
	}
	if event.Status == model.EventProcessed {
		if err := l.datasource.MarkFailureResolved(ctx, record.ID); err != nil {
			logrus.WithError(err).WithFields(fields).Error("failed to resolve failure record")
		}
		result.Resolved++
		return
	}

	if err := l.datasource.UpdateEventStatus(ctx, event.ID, model.EventRetrying); err != nil {
		logrus.WithError(err).WithFields(fields).Error("failed to mark event retrying")
	}
	event.Status = model.EventRetrying

	processErr := l.dispatcher.Process(ctx, *event)
	if processErr == nil {
		if err := l.datasource.MarkFailureResolved(ctx, record.ID); err != nil {
			logrus.WithError(err).WithFields(fields).Error("failed to resolve failure record")
		}
		result.Resolved++
		return
	}

	updated, err := l.datasource.IncrementFailureRetry(ctx, record.ID, l.maxRetries, processErr.Error())
	if err != nil {
		logrus.WithError(err).WithFields(fields).Error("failed to increment failure retry")
	}
	if err := l.datasource.UpdateEventStatus(ctx, event.ID, model.EventFailed); err != nil {
		logrus.WithError(err).WithFields(fields).Error("failed to mark event failed")
	}
	if updated != nil && updated.Status == model.FailureExhausted {
		logrus.WithFields(fields).Warn("event retries exhausted")
		result.Exhausted++
		return
	}
	result.Failed++
}

// CheckStaleFailures flags open failure records with no activity within the
// stale threshold and alerts operators about them. Each record is flagged once.
func (l *Ledger) CheckStaleFailures(ctx context.Context) ([]model.FailureRecord, error) {
	ctx, span := tracer.Start(ctx, "CheckStaleFailures")
	defer span.End()

	cutoff := l.now().Add(-l.staleThreshold)
	records, err := l.datasource.FlagStaleFailures(ctx, cutoff)
	if err != nil {
		return nil, logAndRecordError(span, "failed to flag stale failures", err)
	}
	if len(records) == 0 {
		return records, nil
	}

	logrus.WithFields(logrus.Fields{
		"count":  len(records),
		"cutoff": cutoff,
	}).Warn("stale event failures flagged")
	if err := notification.NotifyStaleFailures(ctx, records); err != nil {
		logrus.WithError(err).Warn("failed to send stale failure notification")
	}
	return records, nil
}

// GetFailuresByEntityID returns the failure records of the entity, newest first.
func (l *Ledger) GetFailuresByEntityID(ctx context.Context, entityID string) ([]model.FailureRecord, error) {
	return l.datasource.GetFailuresByEntityID(ctx, entityID)
}
