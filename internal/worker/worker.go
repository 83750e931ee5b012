// Package worker implements the scan execution loop.
package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/orchestrator"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

// Worker consumes queue items and runs each scan to a terminal state.
type Worker struct {
	queue  scan.Queue
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue scan.Queue, orch *orchestrator.Orchestrator, logger *zap.Logger) *Worker {
	return &Worker{
		queue:  queue,
		orch:   orch,
		logger: logger,
	}
}

// Run blocks, consuming queue items until the context finishes. Orchestrator
// errors are logged, never fatal: the scan row already carries its terminal
// state and the loop moves on to the next item.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued scan", zap.String("scan_id", item.ScanID.String()))
		if err := w.orch.Run(ctx, item); err != nil {
			w.logger.Error("scan run failed",
				zap.String("scan_id", item.ScanID.String()),
				zap.Error(err))
		}
	}
}
