package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gaiageo/gaia/internal/domain"
	"github.com/gaiageo/gaia/internal/logger"
	"github.com/gaiageo/gaia/internal/repository"
)

// Pool runs N workers fed by a dispatcher that periodically scans for
// claimable jobs. The claim inside Advance arbitrates races, so the
// dispatcher can hand the same job to several workers without harm.
type Pool struct {
	jobs         *repository.JobRepository
	orch         *Orchestrator
	workers      int
	scanInterval time.Duration
	baseID       string
}

// NewPool creates a worker pool.
// Parameters:
//   - jobs: job repository used to scan for claimable work.
//   - orch: orchestrator that advances claimed jobs.
//   - workers: number of concurrent workers.
//   - scanInterval: how often the dispatcher scans for claimable jobs.
// Returns:
//   - *Pool: pool instance, not yet running.
func NewPool(jobs *repository.JobRepository, orch *Orchestrator, workers int, scanInterval time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return &Pool{
		jobs:         jobs,
		orch:         orch,
		workers:      workers,
		scanInterval: scanInterval,
		baseID:       fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
	}
}

// Run starts the dispatcher and workers and blocks until ctx is canceled
// and all in-flight stages have finished.
func (p *Pool) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.WithFields(logger.Fields{
		"workers":       p.workers,
		"scan_interval": p.scanInterval.String(),
		"worker_id":     p.baseID,
	}).Info("Starting worker pool")

	jobsChan := make(chan domain.Job, p.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			p.worker(ctx, workerID, jobsChan)
		}(fmt.Sprintf("%s-%d", p.baseID, i))
	}

	p.dispatch(ctx, jobsChan)

	close(jobsChan)
	wg.Wait()
	log.Info("Worker pool stopped")
}

// dispatch scans for claimable jobs every tick and feeds them to the
// workers. Returns when ctx is canceled.
func (p *Pool) dispatch(ctx context.Context, jobsChan chan<- domain.Job) {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(p.scanInterval)
	defer ticker.Stop()

	for {
		jobs, err := p.jobs.NextClaimable(ctx, p.workers*2)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("Failed to scan for claimable jobs")
		}
		for _, job := range jobs {
			select {
			case jobsChan <- job:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) worker(ctx context.Context, workerID string, jobs <-chan domain.Job) {
	for job := range jobs {
		if ctx.Err() != nil {
			return
		}
		if err := p.orch.Advance(ctx, workerID, &job); err != nil {
			logger.FromContext(ctx).WithFields(logger.Fields{
				logger.FieldJobID:    job.ID,
				logger.FieldWorkerID: workerID,
			}).WithError(err).Error("Failed to advance job")
		}
	}
}
