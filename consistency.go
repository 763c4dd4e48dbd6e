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

	redlock "github.com/blnkfinance/eventledger/internal/lock"
	"github.com/blnkfinance/eventledger/internal/projection"
	"github.com/blnkfinance/eventledger/model"
	"github.com/sirupsen/logrus"
)

// ConsistencyReport summarizes one comparison of the read model against the accounts.
type ConsistencyReport struct {
	Checked        int  `json:"checked"`
	Consistent     int  `json:"consistent"`
	Rebuilt        int  `json:"rebuilt"`
	Deferred       int  `json:"deferred"`
	OrphansRemoved int  `json:"orphans_removed"`
	Errors         int  `json:"errors"`
	Skipped        bool `json:"skipped"`
}

// ValidateConsistency compares every account view with its account. Missing
// views are rebuilt, and so are mismatched views of accounts whose events are
// all settled. Accounts with unsettled events are left to the retry sweep.
// Views without an account are deleted.
func (l *Ledger) ValidateConsistency(ctx context.Context) (ConsistencyReport, error) {
	ctx, span := tracer.Start(ctx, "ValidateConsistency")
	defer span.End()

	var report ConsistencyReport
	err := l.withJobLock(ctx, jobValidateConsistency, func(ctx context.Context) error {
		known := make(map[string]struct{})
		for offset := 0; ; offset += l.consistencyPageSize {
			accounts, err := l.datasource.GetAccounts(ctx, l.consistencyPageSize, offset)
			if err != nil {
				return err
			}
			for _, account := range accounts {
				known[account.AccountID] = struct{}{}
				report.Checked++
				if err := l.checkAccount(ctx, account, &report); err != nil {
					report.Errors++
					logrus.WithError(err).WithField("account_id", account.AccountID).Error("consistency check failed")
				}
			}
			if len(accounts) < l.consistencyPageSize {
				break
			}
		}

		viewIDs, err := l.projections.AccountIDs(ctx)
		if err != nil {
			return err
		}
		for _, id := range viewIDs {
			if _, ok := known[id]; ok {
				continue
			}
			if err := l.projections.Delete(ctx, id); err != nil {
				report.Errors++
				logrus.WithError(err).WithField("account_id", id).Error("failed to delete orphan view")
				continue
			}
			report.OrphansRemoved++
		}
		return nil
	})
	if errors.Is(err, redlock.ErrLockHeld) {
		logrus.Info("consistency validation already running elsewhere, skipping")
		report.Skipped = true
		return report, nil
	}
	if err != nil {
		return report, logAndRecordError(span, "consistency validation failed", err)
	}

	logrus.WithFields(logrus.Fields{
		"checked":         report.Checked,
		"rebuilt":         report.Rebuilt,
		"deferred":        report.Deferred,
		"orphans_removed": report.OrphansRemoved,
	}).Info("consistency validation completed")
	return report, nil
}

func (l *Ledger) checkAccount(ctx context.Context, account model.Account, report *ConsistencyReport) error {
	view, err := l.projections.Get(ctx, account.AccountID)
	if err != nil {
		return err
	}
	if view != nil && view.Balance.Equal(account.Balance) {
		report.Consistent++
		return nil
	}

	if view != nil {
		unsettled, err := l.datasource.CountUnsettledEvents(ctx, account.AccountID)
		if err != nil {
			return err
		}
		if unsettled > 0 {
			report.Deferred++
			return nil
		}
	}

	rebuilt, err := l.rebuildView(ctx, account)
	if err != nil {
		return err
	}
	if rebuilt {
		report.Rebuilt++
	} else {
		report.Deferred++
	}
	return nil
}

// maxRebuildAttempts bounds how often rebuildView starts over after a
// concurrent write to the account or its view.
const maxRebuildAttempts = 5

// rebuildView overwrites the view with the account balance and marks every
// event of the account applied. The overwrite only lands while the view's
// applied set is the one read before the account, so a dispatch racing the
// rebuild forces a fresh read. It reports false without writing when the
// account kept changing.
func (l *Ledger) rebuildView(ctx context.Context, account model.Account) (bool, error) {
	expectedVersion := account.Version
	for attempt := 0; attempt < maxRebuildAttempts; attempt++ {
		applied, err := l.projections.AppliedEvents(ctx, account.AccountID)
		if err != nil {
			return false, err
		}
		events, err := l.datasource.GetEventsByEntity(ctx, account.AccountID)
		if err != nil {
			return false, err
		}
		current, err := l.datasource.GetAccountByID(ctx, account.AccountID)
		if err != nil {
			return false, err
		}
		if current.Version != expectedVersion {
			expectedVersion = current.Version
			continue
		}

		view := model.AccountView{
			AccountID:   current.AccountID,
			Balance:     current.Balance,
			LastUpdated: current.UpdatedAt,
		}
		ids := make([]int64, 0, len(events))
		for _, event := range events {
			ids = append(ids, event.ID)
			if event.ID > view.LastEventID {
				view.LastEventID = event.ID
			}
		}
		err = l.projections.Rebuild(ctx, view, ids, applied)
		if errors.Is(err, projection.ErrViewChanged) {
			continue
		}
		if err != nil {
			return false, err
		}
		return true, l.settleRebuilt(ctx, current, events)
	}

	logrus.WithField("account_id", account.AccountID).Info("account view rebuild deferred, account still changing")
	return false, nil
}

func (l *Ledger) settleRebuilt(ctx context.Context, current *model.Account, events []model.Event) error {
	for _, event := range events {
		if event.Status == model.EventProcessed {
			continue
		}
		if err := l.datasource.UpdateEventStatus(ctx, event.ID, model.EventProcessed); err != nil {
			return err
		}
		if _, err := l.datasource.ResolveFailuresForEvent(ctx, event.ID); err != nil {
			return err
		}
	}

	logrus.WithFields(logrus.Fields{
		"account_id": current.AccountID,
		"balance":    current.Balance.String(),
		"events":     len(events),
	}).Warn("account view rebuilt")
	return nil
}
