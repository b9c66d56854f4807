package safe

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Phlame68/monorepo/internal/store"
)

// DeployWorker retries queued Safe proxy deployments. Jobs stay in the queue
// until the proxy code is observed on chain, so a deploy that mined outside
// the worker (or in a previous attempt) just clears the job.
type DeployWorker struct {
	store        store.Store
	orchestrator *Orchestrator
	interval     time.Duration
	batchSize    int
	log          *zap.Logger
}

func NewDeployWorker(st store.Store, orchestrator *Orchestrator, interval time.Duration, log *zap.Logger) *DeployWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &DeployWorker{
		store:        st,
		orchestrator: orchestrator,
		interval:     interval,
		batchSize:    10,
		log:          log,
	}
}

// Run ticks until the context is canceled.
func (w *DeployWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick attempts one batch of queued deploys.
func (w *DeployWorker) Tick(ctx context.Context) {
	jobs, err := w.store.ListDeployJobs(ctx, w.batchSize)
	if err != nil {
		w.log.Error("list deploy jobs", zap.Error(err))
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		wallet, err := w.store.GetWallet(ctx, job.WalletID)
		if err != nil {
			w.log.Error("load wallet for deploy job", zap.String("wallet", job.WalletID), zap.Error(err))
			continue
		}

		if err := w.orchestrator.DeployWallet(ctx, wallet); err != nil {
			w.log.Warn("safe deploy retry failed",
				zap.String("wallet", wallet.ID),
				zap.Int("attempts", job.Attempts+1),
				zap.Error(err),
			)
			if berr := w.store.BumpDeployJob(ctx, job.WalletID); berr != nil {
				w.log.Error("bump deploy job", zap.String("wallet", job.WalletID), zap.Error(berr))
			}
			continue
		}
		if err := w.store.RemoveDeployJob(ctx, job.WalletID); err != nil {
			w.log.Error("remove deploy job", zap.String("wallet", job.WalletID), zap.Error(err))
		}
	}
}
