package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"billingsync/internal/config"
	"billingsync/internal/metrics"
	"billingsync/internal/model"
	"billingsync/internal/pgmq"
	"billingsync/internal/service"

	"github.com/rs/zerolog"
)

// Queue is the subset of the pgmq client the worker needs.
type Queue interface {
	ReadWithPoll(ctx context.Context, queue string, visibilitySec, maxMessages, pollSec int) ([]*pgmq.Message, error)
	Delete(ctx context.Context, queue string, msgIDs []int64) error
	SendJSON(ctx context.Context, queue string, v any) (int64, error)
}

// Options controls polling and retry behaviour.
type Options struct {
	Queue           string
	DeadLetterQueue string
	PollTimeoutSec  int
	PollMaxMsg      int
	VisibilitySec   int
	MaxRetries      int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	JobTimeout      time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Queue:           cfg.ReconcileQueueName,
		DeadLetterQueue: cfg.ReconcileDeadLetterQueue,
		PollTimeoutSec:  cfg.ReconcilePollTimeoutSec,
		PollMaxMsg:      cfg.ReconcilePollMaxMsg,
		VisibilitySec:   cfg.ReconcileVisibilityTimeout,
		MaxRetries:      cfg.ReconcileMaxRetries,
		BackoffInitial:  time.Duration(cfg.ReconcileBackoffInitialSec) * time.Second,
		BackoffMax:      time.Duration(cfg.ReconcileBackoffMaxSec) * time.Second,
		JobTimeout:      time.Duration(cfg.ReconcileRequestTimeoutSec) * time.Second,
	}
}

// Worker drains the reconcile queue, running verify-and-fix for each job.
type Worker struct {
	queue     Queue
	reconcile service.ReconciliationService
	opts      Options
	logger    zerolog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewWorker(queue Queue, reconcile service.ReconciliationService, opts Options, logger zerolog.Logger) *Worker {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.PollMaxMsg < 1 {
		opts.PollMaxMsg = 1
	}
	return &Worker{
		queue:     queue,
		reconcile: reconcile,
		opts:      opts,
		logger:    logger.With().Str("component", "reconcile_worker").Str("queue", opts.Queue).Logger(),
		sleep:     sleepCtx,
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Str("options", w.opts.Describe()).Msg("Starting reconcile worker")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Shutting down reconcile worker")
			return nil
		default:
		}

		msgs, err := w.queue.ReadWithPoll(ctx, w.opts.Queue, w.opts.VisibilitySec, w.opts.PollMaxMsg, w.opts.PollTimeoutSec)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error().Err(err).Msg("Error reading reconcile queue")
			_ = w.sleep(ctx, time.Second)
			continue
		}
		for _, msg := range msgs {
			w.Process(ctx, msg)
		}
	}
}

// Process handles one message: it retries transient failures with exponential
// backoff and moves the job to the dead-letter queue when retries run out or
// the failure is permanent. The message is deleted either way.
func (w *Worker) Process(ctx context.Context, msg *pgmq.Message) {
	log := w.logger.With().Int64("msg_id", msg.ID).Int("read_count", msg.ReadCount).Logger()

	var job model.ReconcileJob
	if err := json.Unmarshal(msg.Data, &job); err != nil || job.TenantID == "" {
		log.Error().Err(err).Msg("Malformed reconcile job; deleting message")
		metrics.QueueJobsTotal.WithLabelValues("malformed").Inc()
		w.ack(ctx, msg, log)
		return
	}
	log = log.With().Str("tenant_id", job.TenantID).Str("reason", job.Reason).Logger()

	backoff := w.opts.BackoffInitial
	var lastErr error
	attempt := 0
	for attempt = 1; attempt <= w.opts.MaxRetries; attempt++ {
		lastErr = w.runJob(ctx, job, log)
		if lastErr == nil {
			metrics.QueueJobsTotal.WithLabelValues("succeeded").Inc()
			w.ack(ctx, msg, log)
			return
		}
		if !retryable(lastErr) || ctx.Err() != nil {
			break
		}
		if attempt == w.opts.MaxRetries {
			break
		}
		log.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", backoff).Msg("Reconcile job failed, retrying")
		if err := w.sleep(ctx, backoff); err != nil {
			// Leave the message invisible; it is redelivered after the visibility timeout.
			log.Info().Msg("Worker stopping mid-retry; message will be redelivered")
			return
		}
		backoff *= 2
		if backoff > w.opts.BackoffMax {
			backoff = w.opts.BackoffMax
		}
	}
	if ctx.Err() != nil && retryable(lastErr) {
		return
	}

	dead := model.DeadLetterJob{
		Job:       job,
		Attempts:  min(attempt, w.opts.MaxRetries),
		LastError: lastErr.Error(),
		FailedAt:  time.Now().UTC(),
	}
	if _, err := w.queue.SendJSON(context.WithoutCancel(ctx), w.opts.DeadLetterQueue, dead); err != nil {
		// Keep the original message so it is retried after the visibility timeout.
		log.Error().Err(err).Str("dlq", w.opts.DeadLetterQueue).Msg("Failed to send job to dead-letter queue")
		return
	}
	metrics.QueueJobsTotal.WithLabelValues("dead_lettered").Inc()
	log.Warn().Err(lastErr).Int("attempts", dead.Attempts).Msg("Reconcile job moved to dead-letter queue")
	w.ack(ctx, msg, log)
}

// runJob replays the session when the job carries one and falls back to a
// full verify when the session alone cannot settle the tenant.
func (w *Worker) runJob(ctx context.Context, job model.ReconcileJob, log zerolog.Logger) error {
	jobCtx, cancel := context.WithTimeout(ctx, w.opts.JobTimeout)
	defer cancel()

	if job.SessionRef != "" {
		res, err := w.reconcile.ReplaySession(jobCtx, job.SessionRef)
		switch {
		case err == nil && res.TenantID == job.TenantID:
			log.Info().Bool("fixed", res.Fixed).Str("session_ref", job.SessionRef).Msg("Replayed checkout session")
			return nil
		case err == nil:
			log.Warn().Str("session_tenant", res.TenantID).Msg("Session belongs to another tenant; verifying job tenant")
		case retryable(err):
			return err
		default:
			log.Info().Err(err).Msg("Session replay did not settle tenant; verifying")
		}
	}

	var (
		res *service.VerifyResult
		err error
	)
	if job.UserID != "" {
		res, err = w.reconcile.VerifyAndFix(jobCtx, job.TenantID, job.UserID)
	} else {
		res, err = w.reconcile.VerifyAndFixTenant(jobCtx, job.TenantID)
	}
	if err != nil {
		return err
	}
	log.Info().Bool("should_be_paid", res.ShouldBePaid).Bool("fixed", res.Fixed).Msg("Verified tenant")
	return nil
}

func (w *Worker) ack(ctx context.Context, msg *pgmq.Message, log zerolog.Logger) {
	if err := w.queue.Delete(context.WithoutCancel(ctx), w.opts.Queue, []int64{msg.ID}); err != nil {
		log.Error().Err(err).Msg("Error deleting reconcile message")
	}
}

// retryable reports whether a failure may succeed on a later attempt.
func retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrAuthenticationRequired),
		errors.Is(err, service.ErrMissingMetadata),
		errors.Is(err, service.ErrInvalidState):
		return false
	default:
		return true
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Describe summarises the options for startup logs.
func (o Options) Describe() string {
	return fmt.Sprintf("queue=%s dlq=%s retries=%d backoff=%s..%s", o.Queue, o.DeadLetterQueue, o.MaxRetries, o.BackoffInitial, o.BackoffMax)
}
