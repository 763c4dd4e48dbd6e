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

// Package projection holds the read-side account views.
package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/blnkfinance/eventledger/model"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// ErrViewNotFound is returned when a delta targets an account with no view.
var ErrViewNotFound = errors.New("account view not found")

// ErrViewChanged is returned by Rebuild when the applied event set moved
// away from the one the caller read.
var ErrViewChanged = errors.New("account view changed during rebuild")

const accountsIndexKey = "projection:accounts"

// Store is the read model. Every write is keyed by the event that caused it
// and applying the same event twice has no effect.
type Store interface {
	// Get returns nil when the account has no view.
	Get(ctx context.Context, accountID string) (*model.AccountView, error)
	// Create initializes the view of a new account and reports whether a view
	// was written. An existing view is kept and only the event is marked applied.
	Create(ctx context.Context, view model.AccountView, eventID int64) (bool, error)
	// Apply adds delta to the balance and stamps lastUpdated. It reports false
	// when the event was already applied.
	Apply(ctx context.Context, accountID string, eventID int64, delta decimal.Decimal, at time.Time) (bool, error)
	// Rebuild overwrites the view and replaces its applied event set, but only
	// while the applied set still equals expected. Otherwise it returns
	// ErrViewChanged and writes nothing.
	Rebuild(ctx context.Context, view model.AccountView, eventIDs, expected []int64) error
	// AppliedEvents lists the events already reflected in the view.
	AppliedEvents(ctx context.Context, accountID string) ([]int64, error)
	Delete(ctx context.Context, accountID string) error
	// AccountIDs lists every account that has a view.
	AccountIDs(ctx context.Context) ([]string, error)
	IsApplied(ctx context.Context, accountID string, eventID int64) (bool, error)
}

// RedisStore keeps one JSON view and one applied-event set per account. Both
// keys share a hash tag so they live on the same cluster slot.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func viewKey(accountID string) string {
	return fmt.Sprintf("projection:{%s}:view", accountID)
}

func appliedKey(accountID string) string {
	return fmt.Sprintf("projection:{%s}:applied", accountID)
}

func (s *RedisStore) Get(ctx context.Context, accountID string) (*model.AccountView, error) {
	return readView(ctx, s.client, accountID)
}

func readView(ctx context.Context, c redis.Cmdable, accountID string) (*model.AccountView, error) {
	raw, err := c.Get(ctx, viewKey(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	view := &model.AccountView{}
	if err := json.Unmarshal(raw, view); err != nil {
		return nil, fmt.Errorf("decode view of %s: %w", accountID, err)
	}
	return view, nil
}

func (s *RedisStore) Create(ctx context.Context, view model.AccountView, eventID int64) (bool, error) {
	created := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		applied, err := tx.SIsMember(ctx, appliedKey(view.AccountID), eventID).Result()
		if err != nil {
			return err
		}
		if applied {
			return nil
		}
		existing, err := readView(ctx, tx, view.AccountID)
		if err != nil {
			return err
		}

		if view.LastEventID < eventID {
			view.LastEventID = eventID
		}
		payload, err := json.Marshal(view)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// A rebuilt view already reflects this event's effect.
			if existing == nil {
				pipe.Set(ctx, viewKey(view.AccountID), payload, 0)
			}
			pipe.SAdd(ctx, appliedKey(view.AccountID), eventID)
			return nil
		})
		if err == nil {
			created = existing == nil
		}
		return err
	}, viewKey(view.AccountID), appliedKey(view.AccountID))
	if err != nil {
		return false, err
	}
	// The index lives on another slot, so it is written outside the transaction.
	if err := s.client.SAdd(ctx, accountsIndexKey, view.AccountID).Err(); err != nil {
		return created, err
	}
	return created, nil
}

func (s *RedisStore) Apply(ctx context.Context, accountID string, eventID int64, delta decimal.Decimal, at time.Time) (bool, error) {
	changed := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		applied, err := tx.SIsMember(ctx, appliedKey(accountID), eventID).Result()
		if err != nil {
			return err
		}
		if applied {
			return nil
		}
		view, err := readView(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if view == nil {
			return fmt.Errorf("%w: %s", ErrViewNotFound, accountID)
		}

		view.Balance = view.Balance.Add(delta)
		view.LastUpdated = at
		if view.LastEventID < eventID {
			view.LastEventID = eventID
		}
		payload, err := json.Marshal(view)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, viewKey(accountID), payload, 0)
			pipe.SAdd(ctx, appliedKey(accountID), eventID)
			return nil
		})
		if err == nil {
			changed = true
		}
		return err
	}, viewKey(accountID), appliedKey(accountID))
	return changed, err
}

func (s *RedisStore) Rebuild(ctx context.Context, view model.AccountView, eventIDs, expected []int64) error {
	payload, err := json.Marshal(view)
	if err != nil {
		return err
	}
	members := make([]interface{}, 0, len(eventIDs))
	for _, id := range eventIDs {
		members = append(members, id)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := appliedIDs(ctx, tx, view.AccountID)
		if err != nil {
			return err
		}
		if !sameIDs(current, expected) {
			return ErrViewChanged
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, viewKey(view.AccountID), payload, 0)
			pipe.Del(ctx, appliedKey(view.AccountID))
			if len(members) > 0 {
				pipe.SAdd(ctx, appliedKey(view.AccountID), members...)
			}
			return nil
		})
		return err
	}, viewKey(view.AccountID), appliedKey(view.AccountID))
	if errors.Is(err, redis.TxFailedErr) {
		return ErrViewChanged
	}
	if err != nil {
		return err
	}
	return s.client.SAdd(ctx, accountsIndexKey, view.AccountID).Err()
}

func (s *RedisStore) AppliedEvents(ctx context.Context, accountID string) ([]int64, error) {
	return appliedIDs(ctx, s.client, accountID)
}

func appliedIDs(ctx context.Context, c redis.Cmdable, accountID string) ([]int64, error) {
	raw, err := c.SMembers(ctx, appliedKey(accountID)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(raw))
	for _, member := range raw {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode applied event of %s: %w", accountID, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func sameIDs(a, b []int64) bool {
	set := make(map[int64]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	seen := make(map[int64]struct{}, len(b))
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
		seen[id] = struct{}{}
	}
	return len(seen) == len(set)
}

func (s *RedisStore) Delete(ctx context.Context, accountID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, viewKey(accountID), appliedKey(accountID))
		pipe.SRem(ctx, accountsIndexKey, accountID)
		return nil
	})
	return err
}

func (s *RedisStore) AccountIDs(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	for {
		page, next, err := s.client.SScan(ctx, accountsIndexKey, cursor, "", 500).Result()
		if err != nil {
			return nil, err
		}
		ids = append(ids, page...)
		if next == 0 {
			return ids, nil
		}
		cursor = next
	}
}

func (s *RedisStore) IsApplied(ctx context.Context, accountID string, eventID int64) (bool, error) {
	return s.client.SIsMember(ctx, appliedKey(accountID), strconv.FormatInt(eventID, 10)).Result()
}
