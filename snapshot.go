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
	"time"

	"github.com/blnkfinance/eventledger/database"
	"github.com/blnkfinance/eventledger/internal/cache"
	"github.com/blnkfinance/eventledger/model"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const snapshotCacheTTL = 1 * time.Hour

// SnapshotManager is the only writer of snapshots. A snapshot is a folded
// balance up to a known event so reconstruction does not start from zero.
type SnapshotManager struct {
	datasource database.IDataSource
	threshold  int
	cache      cache.Cache
}

// NewSnapshotManager creates a manager that snapshots an entity once threshold
// events have accumulated past its last snapshot. c may be nil.
func NewSnapshotManager(db database.IDataSource, threshold int, c cache.Cache) *SnapshotManager {
	return &SnapshotManager{datasource: db, threshold: threshold, cache: c}
}

func snapshotCacheKey(entityID string) string {
	return fmt.Sprintf("snapshot:%s", entityID)
}

// load returns the latest snapshot, or nil when the entity has none.
func (s *SnapshotManager) load(ctx context.Context, entityID string) (*model.Snapshot, error) {
	if s.cache != nil {
		cached := model.Snapshot{}
		if err := s.cache.Get(ctx, snapshotCacheKey(entityID), &cached); err != nil {
			logrus.WithError(err).WithField("entity_id", entityID).Warn("snapshot cache read failed")
		} else if cached.EntityID != "" {
			return &cached, nil
		}
	}

	snapshot, err := s.datasource.GetSnapshot(ctx, entityID)
	if err != nil {
		return nil, errors.Wrapf(err, "load snapshot of %s", entityID)
	}
	if snapshot != nil && s.cache != nil {
		if err := s.cache.Set(ctx, snapshotCacheKey(entityID), snapshot, snapshotCacheTTL); err != nil {
			logrus.WithError(err).WithField("entity_id", entityID).Warn("snapshot cache write failed")
		}
	}
	return snapshot, nil
}

// base is the starting point of a fold: the snapshot, or zero at the epoch.
func (s *SnapshotManager) base(ctx context.Context, entityID string) (model.Snapshot, error) {
	snapshot, err := s.load(ctx, entityID)
	if err != nil {
		return model.Snapshot{}, err
	}
	if snapshot == nil {
		return model.Snapshot{EntityID: entityID, Balance: decimal.Zero, SnapshotDate: model.Epoch}, nil
	}
	return *snapshot, nil
}

// foldFrom is the lower bound for loading events to fold onto base. Events that
// share the snapshot's date may still be unfolded, so the bound is moved back by
// the storage precision and already folded ids are skipped by FoldBalance.
func foldFrom(base model.Snapshot) time.Time {
	return base.SnapshotDate.Add(-time.Microsecond)
}

// MaybeSnapshot folds the events recorded since the last snapshot into a new
// one when at least threshold of them exist. It returns nil when no snapshot
// was taken.
func (s *SnapshotManager) MaybeSnapshot(ctx context.Context, entityID string) (*model.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "MaybeSnapshot")
	defer span.End()
	span.SetAttributes(attribute.String("entity_id", entityID))

	base, err := s.base(ctx, entityID)
	if err != nil {
		return nil, logAndRecordError(span, "failed to load snapshot", err)
	}

	count, err := s.datasource.CountEventsAfter(ctx, entityID, base.LastEventID)
	if err != nil {
		return nil, logAndRecordError(span, "failed to count events since snapshot", err)
	}
	if count < int64(s.threshold) {
		return nil, nil
	}

	events, err := s.datasource.GetEventsByEntitySince(ctx, entityID, foldFrom(base))
	if err != nil {
		return nil, logAndRecordError(span, "failed to load events since snapshot", err)
	}
	balance, lastID, lastDate := model.FoldBalance(base.Balance, events, base.LastEventID)
	if lastID == base.LastEventID {
		return nil, nil
	}

	snapshot := &model.Snapshot{
		EntityID:     entityID,
		Balance:      balance,
		SnapshotDate: lastDate,
		LastEventID:  lastID,
	}
	if err := s.datasource.SaveSnapshot(ctx, snapshot); err != nil {
		return nil, logAndRecordError(span, "failed to save snapshot", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, snapshotCacheKey(entityID), snapshot, snapshotCacheTTL); err != nil {
			logrus.WithError(err).WithField("entity_id", entityID).Warn("snapshot cache write failed")
		}
	}

	logrus.WithFields(logrus.Fields{
		"entity_id":     entityID,
		"last_event_id": lastID,
		"folded":        len(events),
	}).Info("snapshot taken")
	return snapshot, nil
}

// ReconstructBalance folds the entity's history from its latest snapshot. The
// result is the canonical balance of the entity.
func (s *SnapshotManager) ReconstructBalance(ctx context.Context, entityID string) (decimal.Decimal, error) {
	ctx, span := tracer.Start(ctx, "ReconstructBalance")
	defer span.End()
	span.SetAttributes(attribute.String("entity_id", entityID))

	base, err := s.base(ctx, entityID)
	if err != nil {
		return decimal.Zero, logAndRecordError(span, "failed to load snapshot", err)
	}

	events, err := s.datasource.GetEventsByEntitySince(ctx, entityID, foldFrom(base))
	if err != nil {
		return decimal.Zero, logAndRecordError(span, "failed to load events since snapshot", err)
	}
	balance, _, _ := model.FoldBalance(base.Balance, events, base.LastEventID)
	return balance, nil
}
