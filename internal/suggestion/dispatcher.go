package suggestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/kiranshivaraju/ropasuggest/internal/config"
	"github.com/kiranshivaraju/ropasuggest/internal/queue"
	"github.com/kiranshivaraju/ropasuggest/internal/store"
	"github.com/kiranshivaraju/ropasuggest/pkg/models"
	"golang.org/x/sync/errgroup"
)

const (
	// dequeueBackoff is how long a consumer waits after a failed dequeue.
	dequeueBackoff = time.Second
	// requeueBackoff spaces enqueue attempts while the queue is full.
	requeueBackoff = 10 * time.Millisecond
)

// Processor runs a single delivery of a job id.
type Processor interface {
	Process(ctx context.Context, jobID string, attempt int, final bool) error
}

// Dispatcher drains the queue with a fixed pool of consumers and applies the
// retry policy to each delivery.
type Dispatcher struct {
	queue       queue.Queue
	processor   Processor
	concurrency int
	maxAttempts int
	baseDelay   time.Duration
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(q queue.Queue, p Processor, cfg config.WorkerConfig) *Dispatcher {
	d := &Dispatcher{
		queue:       q,
		processor:   p,
		concurrency: cfg.Concurrency,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.RetryBaseDelay,
	}
	if d.concurrency < 1 {
		d.concurrency = 1
	}
	if d.maxAttempts < 1 {
		d.maxAttempts = 1
	}
	return d
}

// Run consumes job ids until ctx is cancelled or the queue is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatcher started", "concurrency", d.concurrency, "max_attempts", d.maxAttempts)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.concurrency; i++ {
		consumer := i
		g.Go(func() error {
			return d.consume(gctx, consumer)
		})
	}
	err := g.Wait()

	slog.Info("dispatcher stopped")
	return err
}

func (d *Dispatcher) consume(ctx context.Context, consumer int) error {
	for {
		jobID, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			slog.Error("dequeue failed", "consumer", consumer, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(dequeueBackoff):
			}
			continue
		}

		if err := d.Deliver(ctx, jobID); err != nil {
			slog.Warn("delivery gave up", "consumer", consumer, "job_id", jobID, "error", err)
		}
	}
}

// Deliver runs jobID through the processor, redelivering on retryable errors
// with a linear backoff of attempt × base delay. It returns the last error
// when the job did not complete.
func (d *Dispatcher) Deliver(ctx context.Context, jobID string) error {
	attempt := 0
	return retry.Do(
		func() error {
			attempt++
			return d.processor.Process(ctx, jobID, attempt, attempt >= d.maxAttempts)
		},
		retry.Context(ctx),
		retry.Attempts(uint(d.maxAttempts)),
		retry.Delay(d.baseDelay),
		retry.DelayType(d.linearDelay),
		retry.RetryIf(Retryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if int(n)+1 < d.maxAttempts {
				slog.Info("redelivering job", "job_id", jobID, "attempt", n+2, "error", err)
			}
		}),
	)
}

// linearDelay waits (n+1) × base before the attempt following attempt index n.
func (d *Dispatcher) linearDelay(n uint, _ error, _ *retry.Config) time.Duration {
	return time.Duration(n+1) * d.baseDelay
}

// Requeue enqueues every pending or processing job in jobs. The in-memory
// queue loses its contents on restart, so serve calls this at startup to
// resume jobs the previous process accepted but never finished.
//
// A full queue is waited out, so consumers must already be draining q.
// Requeue returns early only when ctx is done or q rejects a job for another
// reason; jobs not yet enqueued stay open for the next start.
func Requeue(ctx context.Context, jobs store.JobStore, q queue.Queue) (int, error) {
	var ids []string
	for _, status := range []string{models.JobStatusPending, models.JobStatusProcessing} {
		for page := 1; ; page++ {
			batch, total, err := jobs.ListJobs(ctx, store.JobFilter{Status: status, Page: page, Limit: store.MaxPageLimit})
			if err != nil {
				return 0, fmt.Errorf("list %s jobs: %w", status, err)
			}
			for _, j := range batch {
				ids = append(ids, j.ID.String())
			}
			if len(batch) == 0 || page*store.MaxPageLimit >= total {
				break
			}
		}
	}

	for i, id := range ids {
		err := retry.Do(
			func() error { return q.Enqueue(ctx, id) },
			retry.Context(ctx),
			retry.Attempts(0),
			retry.Delay(requeueBackoff),
			retry.DelayType(retry.FixedDelay),
			retry.RetryIf(func(err error) bool { return errors.Is(err, queue.ErrQueueFull) }),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			return i, fmt.Errorf("requeue job %s: %w", id, err)
		}
	}
	return len(ids), nil
}
