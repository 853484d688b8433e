package gojob

import (
	"context"
	"fmt"

	"github.com/goliatone/go-relay/core"
)

const defaultRedeliveryLimit = 25

// DispatchService is the slice of the relay service the job runner needs.
type DispatchService interface {
	Dispatch(ctx context.Context, event core.Event) (core.DispatchOutcome, error)
	RunPendingDeadLetters(ctx context.Context, limit int) (core.DispatchStats, error)
}

// JobRunner executes queued relay work: event dispatches and scheduled
// dead-letter redelivery passes. Dispatch outcomes decide the queue verdict;
// only infrastructure failures nack back into the queue, because the relay's
// own dead-letter store already holds anything the pipeline gave up on.
type JobRunner struct {
	service DispatchService
	policy  RetryPolicy
}

func NewJobRunner(service DispatchService, policy RetryPolicy) (*JobRunner, error) {
	if service == nil {
		return nil, fmt.Errorf("gojob: dispatch service is required")
	}
	return &JobRunner{service: service, policy: policy}, nil
}

// Handle processes one delivery and acks or nacks it. The attempt counter is
// the queue-side attempt, not the relay retry count.
func (r *JobRunner) Handle(ctx context.Context, delivery core.JobDelivery, attempt int) error {
	if r == nil || r.service == nil {
		return fmt.Errorf("gojob: job runner is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	if msg == nil {
		return delivery.Nack(ctx, r.policy.NormalizeAttempt(core.JobNackOptions{
			DeadLetter: true,
			Reason:     "empty execution message",
		}, attempt))
	}

	switch msg.JobID {
	case JobIDDispatchEvent:
		return r.handleDispatch(ctx, delivery, msg, attempt)
	case JobIDRedeliverDeadLetters:
		return r.handleRedelivery(ctx, delivery, msg, attempt)
	default:
		return delivery.Nack(ctx, r.policy.NormalizeAttempt(core.JobNackOptions{
			DeadLetter: true,
			Reason:     fmt.Sprintf("unknown job id %q", msg.JobID),
		}, attempt))
	}
}

func (r *JobRunner) handleDispatch(
	ctx context.Context,
	delivery core.JobDelivery,
	msg *core.JobExecutionMessage,
	attempt int,
) error {
	event, err := EventFromMessage(msg)
	if err != nil {
		// A malformed message never becomes valid on requeue.
		return delivery.Nack(ctx, r.policy.NormalizeAttempt(core.JobNackOptions{
			DeadLetter: true,
			Reason:     err.Error(),
		}, attempt))
	}

	// Every typed outcome acks: DeadLettered and Rejected are terminal for
	// the queue because the relay recorded them durably.
	if _, err := r.service.Dispatch(ctx, event); err != nil {
		return delivery.Nack(ctx, r.policy.NormalizeAttempt(core.JobNackOptions{
			Requeue: true,
			Reason:  err.Error(),
		}, attempt))
	}
	return delivery.Ack(ctx)
}

func (r *JobRunner) handleRedelivery(
	ctx context.Context,
	delivery core.JobDelivery,
	msg *core.JobExecutionMessage,
	attempt int,
) error {
	limit, err := RedeliveryLimitFromMessage(msg)
	if err != nil {
		return delivery.Nack(ctx, r.policy.NormalizeAttempt(core.JobNackOptions{
			DeadLetter: true,
			Reason:     err.Error(),
		}, attempt))
	}
	if limit <= 0 {
		limit = defaultRedeliveryLimit
	}

	if _, err := r.service.RunPendingDeadLetters(ctx, limit); err != nil {
		return delivery.Nack(ctx, r.policy.NormalizeAttempt(core.JobNackOptions{
			Requeue: true,
			Reason:  err.Error(),
		}, attempt))
	}
	return delivery.Ack(ctx)
}
