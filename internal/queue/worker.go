// -----------------------------------------------------------------------
// WorkerPool - Polling workers dispatching queue messages to handlers
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/Andrewske/kgraph/internal/common"
	"github.com/Andrewske/kgraph/internal/interfaces"
	"github.com/Andrewske/kgraph/internal/models"
)

// JobHandler handles one job type. Returning an error leaves the message in
// flight so the queue redelivers it up to the receive limit.
type JobHandler func(ctx context.Context, msg *interfaces.JobMessage) error

// WorkerPool manages a pool of workers that process queue messages and a
// cron sweep that re-queues stale jobs.
type WorkerPool struct {
	queueMgr *Manager
	jobs     interfaces.JobStorage
	config   *common.QueueConfig
	handlers map[string]JobHandler
	logger   arbor.ILogger
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queueMgr *Manager, jobs interfaces.JobStorage, config *common.QueueConfig, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queueMgr: queueMgr,
		jobs:     jobs,
		config:   config,
		handlers: make(map[string]JobHandler),
		logger:   logger,
		cron:     cron.New(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler registers a job type handler
func (wp *WorkerPool) RegisterHandler(jobType string, handler JobHandler) {
	wp.handlers[jobType] = handler
	wp.logger.Debug().
		Str("job_type", jobType).
		Msg("Job handler registered")
}

// Start starts the worker goroutines and the stale-job sweep
func (wp *WorkerPool) Start() error {
	wp.logger.Info().
		Int("concurrency", wp.config.Concurrency).
		Dur("poll_interval", wp.config.PollInterval).
		Msg("Starting worker pool")

	for i := 0; i < wp.config.Concurrency; i++ {
		go wp.worker(i)
	}

	if wp.config.StaleSweepSchedule != "" {
		if _, err := wp.cron.AddFunc(wp.config.StaleSweepSchedule, wp.sweepStaleJobs); err != nil {
			return fmt.Errorf("invalid stale sweep schedule %q: %w", wp.config.StaleSweepSchedule, err)
		}
		wp.cron.Start()
	}

	return nil
}

// Stop gracefully stops the worker pool
func (wp *WorkerPool) Stop() error {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
	ctx := wp.cron.Stop()
	<-ctx.Done()
	return nil
}

// worker polls the queue on a ticker. Starts are staggered across the poll
// interval to reduce transaction conflicts on the shared database.
func (wp *WorkerPool) worker(workerID int) {
	staggerDelay := (wp.config.PollInterval / time.Duration(wp.config.Concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		time.Sleep(staggerDelay)
	}

	wp.logger.Debug().
		Int("worker_id", workerID).
		Dur("stagger_delay", staggerDelay).
		Msg("Worker started")

	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			if err := wp.processMessage(workerID); err != nil && err != ErrNoMessage {
				wp.logger.Warn().
					Err(err).
					Int("worker_id", workerID).
					Msg("Error processing message")
			}
		}
	}
}

// processMessage receives and processes a single message
func (wp *WorkerPool) processMessage(workerID int) error {
	msg, deleteFn, err := wp.queueMgr.Receive(wp.ctx)
	if err != nil {
		return err
	}

	wp.logger.Debug().
		Str("job_id", msg.JobID).
		Str("type", msg.Type).
		Int("worker_id", workerID).
		Msg("Processing message")

	handler, exists := wp.handlers[msg.Type]
	if !exists {
		wp.logger.Error().
			Str("type", msg.Type).
			Str("job_id", msg.JobID).
			Msg("No handler registered for job type")
		if delErr := deleteFn(); delErr != nil {
			wp.logger.Warn().Err(delErr).Msg("Failed to delete unknown job type message")
		}
		return fmt.Errorf("no handler for job type: %s", msg.Type)
	}

	startTime := time.Now()
	handlerErr := handler(wp.ctx, msg)
	duration := time.Since(startTime)

	if handlerErr != nil {
		wp.logger.Error().
			Err(handlerErr).
			Str("job_id", msg.JobID).
			Str("type", msg.Type).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Job handler failed")

		// Handlers record failure on the job themselves; the message is
		// consumed so the queue does not replay a terminally failed job.
		if err := deleteFn(); err != nil {
			wp.logger.Warn().
				Err(err).
				Str("job_id", msg.JobID).
				Msg("Failed to delete message after failure")
			return err
		}
		return handlerErr
	}

	wp.logger.Info().
		Str("job_id", msg.JobID).
		Str("type", msg.Type).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Job completed successfully")

	if err := deleteFn(); err != nil {
		wp.logger.Warn().
			Err(err).
			Str("job_id", msg.JobID).
			Msg("Failed to delete message after successful processing")
		return err
	}

	return nil
}

// sweepStaleJobs re-queues child jobs stuck in PROCESSING whose heartbeat
// lapsed beyond twice the visibility timeout. Parent jobs stay PROCESSING
// for the whole pipeline run and are never swept.
func (wp *WorkerPool) sweepStaleJobs() {
	olderThan := 2 * wp.config.VisibilityTimeout

	stale, err := wp.jobs.GetStaleJobs(wp.ctx, olderThan)
	if err != nil {
		wp.logger.Warn().Err(err).Msg("Stale job sweep failed")
		return
	}

	for _, job := range stale {
		if job.Stage == nil {
			continue
		}

		job.Status = models.JobStatusQueued
		job.Heartbeat = nil
		if err := wp.jobs.UpdateJob(wp.ctx, job); err != nil {
			wp.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to reset stale job")
			continue
		}

		msg := interfaces.JobMessage{JobID: job.ID, Type: string(job.Type)}
		if err := wp.queueMgr.Enqueue(wp.ctx, msg, 0); err != nil {
			wp.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to re-queue stale job")
			continue
		}

		wp.logger.Info().
			Str("job_id", job.ID).
			Str("stage", job.StageName()).
			Msg("Re-queued stale job")
	}
}
