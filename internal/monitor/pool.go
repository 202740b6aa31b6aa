package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
)

// batch is the set of stale jobs checked with one verify call.
type batch struct {
	providerID string
	jobs       []*domain.Job
}

// dispatch spreads batches over a pool of worker goroutines and waits for all of them.
func (m *Monitor) dispatch(ctx context.Context, batches []batch) {
	if len(batches) == 0 {
		return
	}
	workers := m.concurrency
	if workers > len(batches) {
		workers = len(batches)
	}

	work := make(chan batch)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go m.workerLoop(ctx, i, work, &wg)
	}

feed:
	for _, b := range batches {
		select {
		case work <- b:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()
}

// workerLoop reconciles batches until the channel closes or ctx ends.
func (m *Monitor) workerLoop(ctx context.Context, workerNum int, work <-chan batch, wg *sync.WaitGroup) {
	defer wg.Done()
	workerName := fmt.Sprintf("%s-%d", m.holder, workerNum)

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("Monitor worker stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case b, ok := <-work:
			if !ok {
				return
			}
			m.logger.Debug("Monitor worker received batch",
				slog.String("worker_name", workerName),
				slog.String("provider", b.providerID),
				slog.Int("jobs", len(b.jobs)),
			)
			m.runBatch(ctx, b)
		}
	}
}

// runBatch keeps a panic in one provider's batch away from the others.
func (m *Monitor) runBatch(ctx context.Context, b batch) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Reconciliation of provider batch panicked",
				slog.String("provider", b.providerID),
				slog.Any("panic", r),
			)
		}
	}()
	m.reconcileBatch(ctx, b)
}
