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
	"sync"
	"time"

	"github.com/blnkfinance/eventledger/model"
	"github.com/sirupsen/logrus"
)

const minPendingThreshold = 10 * time.Second

// PendingEventRecoveryProcessor dispatches events that were committed but never
// dispatched, for example because the process died right after the commit.
type PendingEventRecoveryProcessor struct {
	ledger           *Ledger
	batchSize        int
	maxWorkers       int
	pollInterval     time.Duration
	pendingThreshold time.Duration
	stopCh           chan struct{}
	wg               sync.WaitGroup
	running          bool
	mu               sync.Mutex
}

func NewPendingEventRecoveryProcessor(l *Ledger) *PendingEventRecoveryProcessor {
	cfg := l.recovery
	p := &PendingEventRecoveryProcessor{
		ledger:           l,
		batchSize:        cfg.BatchSize,
		maxWorkers:       cfg.MaxWorkers,
		pollInterval:     time.Duration(cfg.PollIntervalSec) * time.Second,
		pendingThreshold: time.Duration(cfg.PendingThresholdSec) * time.Second,
		stopCh:           make(chan struct{}),
	}
	if p.maxWorkers <= 0 {
		p.maxWorkers = 10
	}
	if p.batchSize <= 0 {
		p.batchSize = p.maxWorkers * 50
	}
	if p.pollInterval <= 0 {
		p.pollInterval = 30 * time.Second
	}
	if p.pendingThreshold < minPendingThreshold {
		p.pendingThreshold = time.Minute
	}
	return p
}

func (p *PendingEventRecoveryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Pending event recovery processor started")
}

func (p *PendingEventRecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Pending event recovery processor stopped")
}

func (p *PendingEventRecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *PendingEventRecoveryProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Pending event recovery processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Pending event recovery processor stop signal received")
			return
		case <-ticker.C:
			p.recoverWithThreshold(ctx, p.pendingThreshold)
		}
	}
}

// RecoverPendingEvents dispatches events that have been PENDING for longer
// than threshold and returns how many were picked up.
func (l *Ledger) RecoverPendingEvents(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold < minPendingThreshold {
		threshold = minPendingThreshold
	}

	processor := NewPendingEventRecoveryProcessor(l)
	return processor.recoverWithThreshold(ctx, threshold), nil
}

func (p *PendingEventRecoveryProcessor) recoverWithThreshold(ctx context.Context, threshold time.Duration) int {
	events, err := p.ledger.datasource.GetStalePendingEvents(ctx, threshold, p.batchSize)
	if err != nil {
		logrus.Errorf("failed to get stale pending events: %v", err)
		return 0
	}

	if len(events) == 0 {
		return 0
	}

	logrus.Infof("Dispatching %d stale pending events with %d workers (threshold=%v)", len(events), p.maxWorkers, threshold)

	// Events of one entity go to one worker so they are dispatched in order.
	byEntity := make(map[string][]model.Event)
	var order []string
	for _, event := range events {
		if _, seen := byEntity[event.EntityID]; !seen {
			order = append(order, event.EntityID)
		}
		byEntity[event.EntityID] = append(byEntity[event.EntityID], event)
	}

	sem := make(chan struct{}, p.maxWorkers)
	var batchWg sync.WaitGroup

	for _, entityID := range order {
		sem <- struct{}{}
		batchWg.Add(1)
		go func(entityEvents []model.Event) {
			defer batchWg.Done()
			defer func() { <-sem }()
			for _, event := range entityEvents {
				p.ledger.dispatcher.Dispatch(ctx, event)
			}
		}(byEntity[entityID])
	}

	batchWg.Wait()
	return len(events)
}
