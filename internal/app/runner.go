/**
 * @description
 * This file implements the job runner: the component that takes one dequeued
 * job and drives every code in it to a terminal outcome. The runner owns the
 * job lifecycle (validation, authentication, per-code processing, terminal
 * bookkeeping) but never touches the balance ledger; the batch cost was
 * debited at submission and is not refunded here.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redeemworks/redeem-service/internal/domain"
	"github.com/redeemworks/redeem-service/internal/metrics"
	"github.com/redeemworks/redeem-service/internal/store"
	"github.com/redeemworks/redeem-service/pkg/rabbitmq"
)

var (
	ErrJobInvalid = errors.New("job failed validation")
	ErrJobAuth    = errors.New("job authentication failed")
)

// RedeemClient is the boundary to the upstream redemption API.
type RedeemClient interface {
	Submit(ctx context.Context, session domain.Session, code, regionEndpoint, platformVersion string) (string, error)
}

// SessionClient exchanges credentials for an upstream session.
type SessionClient interface {
	Authenticate(ctx context.Context, creds domain.Credentials) (*domain.Session, error)
}

// Runner processes one job at a time on behalf of a worker.
type Runner struct {
	repo     store.Repository
	events   rabbitmq.Publisher
	redeemer RedeemClient
	sessions SessionClient

	transientCap int
	cycleCap     int
	jobTimeout   time.Duration

	// delay is swapped in tests; nil selects the randomized default.
	delay delayFunc
}

// NewRunner creates a job runner.
func NewRunner(repo store.Repository, events rabbitmq.Publisher, redeemer RedeemClient, sessions SessionClient, transientCap, cycleCap int, jobTimeout time.Duration) *Runner {
	return &Runner{
		repo:         repo,
		events:       events,
		redeemer:     redeemer,
		sessions:     sessions,
		transientCap: transientCap,
		cycleCap:     cycleCap,
		jobTimeout:   jobTimeout,
	}
}

// Run drives a job to completion. The per-job deadline starts at dequeue, not
// at submission; time spent queued does not count against the job.
func (r *Runner) Run(ctx context.Context, job *domain.Job) domain.JobResult {
	result := domain.JobResult{BatchID: job.BatchID, Total: len(job.Codes)}

	if r.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.jobTimeout)
		defer cancel()
	}

	if err := validateJob(job); err != nil {
		result.Err = err
		result.Unprocessed = len(job.Codes)
		r.finish(job, &result, domain.BatchStatusFailed)
		r.emit(job, &result, domain.ProgressValidation, err.Error())
		return result
	}

	if err := r.repo.MarkRedeemBatchRunning(context.WithoutCancel(ctx), job.BatchID); err != nil {
		log.Printf("level=warn component=runner batch_id=%s msg=\"failed to mark batch running\" err=%v", job.BatchID, err)
	}
	r.emit(job, &result, domain.ProgressValidation, fmt.Sprintf("processing %d codes", len(job.Codes)))

	session, err := r.sessions.Authenticate(ctx, job.Credentials)
	if err != nil {
		result.Err = fmt.Errorf("%w: %v", ErrJobAuth, err)
		result.Unprocessed = len(job.Codes)
		r.finish(job, &result, domain.BatchStatusFailed)
		r.emit(job, &result, domain.ProgressError, "login failed, check email and password")
		return result
	}
	r.emit(job, &result, domain.ProgressLogin, "login succeeded")

	machine := newCodeMachine(job.Regions, r.transientCap, r.cycleCap, func(ctx context.Context, code string, region domain.Region) (string, error) {
		return r.redeemer.Submit(ctx, *session, code, region.EndpointCode, job.PlatformVersion)
	}, r.delay)

	cancelled := false
	for i, code := range job.Codes {
		if ctx.Err() != nil {
			cancelled = true
			result.Unprocessed = len(job.Codes) - i
			break
		}

		outcome, err := machine.run(ctx, code)
		if err != nil {
			cancelled = true
			result.Unprocessed = len(job.Codes) - i
			break
		}

		switch outcome.Verdict {
		case VerdictSuccess:
			result.SuccessCount++
			result.Success = append(result.Success, code)
			metrics.CodesProcessed.WithLabelValues("success").Inc()
		case VerdictInvalid:
			result.FailedCount++
			result.Invalid = append(result.Invalid, code)
			metrics.CodesProcessed.WithLabelValues("invalid").Inc()
		default:
			result.FailedCount++
			result.Invalid = append(result.Invalid, code)
			metrics.CodesProcessed.WithLabelValues("failed").Inc()
		}

		if err := r.repo.UpdateRedeemBatchProgress(context.WithoutCancel(ctx), job.BatchID, result.SuccessCount, result.FailedCount); err != nil {
			log.Printf("level=warn component=runner batch_id=%s msg=\"failed to persist progress\" err=%v", job.BatchID, err)
		}
		r.emit(job, &result, domain.ProgressRedeem,
			fmt.Sprintf("%s: %s (%s)", maskCode(code), outcome.Verdict, outcome.Region.Name))
	}

	if cancelled {
		r.finish(job, &result, domain.BatchStatusCancelled)
		r.emit(job, &result, domain.ProgressCancelled,
			fmt.Sprintf("stopped with %d codes unprocessed", result.Unprocessed))
		return result
	}

	r.finish(job, &result, domain.BatchStatusCompleted)
	r.emit(job, &result, domain.ProgressComplete,
		fmt.Sprintf("done: %d succeeded, %d failed", result.SuccessCount, result.FailedCount))
	return result
}

func (r *Runner) finish(job *domain.Job, result *domain.JobResult, status string) {
	// Terminal bookkeeping must not be lost to the job deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.repo.FinishRedeemBatch(ctx, job.BatchID, status, result.SuccessCount, result.FailedCount); err != nil {
		log.Printf("level=error component=runner batch_id=%s msg=\"failed to finish batch\" status=%s err=%v", job.BatchID, status, err)
	}
	metrics.JobsProcessed.WithLabelValues(status).Inc()
	log.Printf("level=info component=runner batch_id=%s msg=\"job finished\" status=%s success=%d failed=%d unprocessed=%d",
		job.BatchID, status, result.SuccessCount, result.FailedCount, result.Unprocessed)
}

func (r *Runner) emit(job *domain.Job, result *domain.JobResult, category, message string) {
	event := domain.ProgressEvent{
		BatchID:   job.BatchID,
		UserID:    job.UserID,
		Category:  category,
		Message:   message,
		Processed: result.SuccessCount + result.FailedCount,
		Success:   result.SuccessCount,
		Failed:    result.FailedCount,
		Total:     result.Total,
		Timestamp: time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.events.PublishProgressEvent(ctx, event); err != nil {
		log.Printf("level=warn component=runner batch_id=%s msg=\"progress publish failed\" category=%s err=%v", job.BatchID, category, err)
	}
}

func validateJob(job *domain.Job) error {
	if len(job.Codes) == 0 {
		return fmt.Errorf("%w: no codes", ErrJobInvalid)
	}
	if len(job.Regions) == 0 {
		return fmt.Errorf("%w: no regions", ErrJobInvalid)
	}
	if job.PlatformVersion == "" {
		return fmt.Errorf("%w: missing platform version", ErrJobInvalid)
	}
	return nil
}

// maskCode hides the middle of a code in user-facing messages.
func maskCode(code string) string {
	const show = 4
	if len(code) <= show*2 {
		return "****"
	}
	return code[:show] + "****" + code[len(code)-show:]
}
