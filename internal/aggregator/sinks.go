package aggregator

import (
	"context"
	"log/slog"
	"time"
)

// sinkJob is one best-effort delivery to the search index or the event
// stream.
type sinkJob struct {
	name string
	log  *slog.Logger
	send func(ctx context.Context) error
}

// sinkQueue delivers sink jobs on a single goroutine so a slow or dead sink
// never holds up the article loop. Jobs share the run context: cancelling
// the run abandons whatever is still pending.
type sinkQueue struct {
	jobs    chan sinkJob
	done    chan struct{}
	cancel  context.CancelFunc
	timeout time.Duration
}

func startSinkQueue(ctx context.Context, size int, timeout time.Duration) *sinkQueue {
	ctx, cancel := context.WithCancel(ctx)
	q := &sinkQueue{
		jobs:    make(chan sinkJob, size),
		done:    make(chan struct{}),
		cancel:  cancel,
		timeout: timeout,
	}
	go q.drain(ctx)
	return q
}

func (q *sinkQueue) drain(ctx context.Context) {
	defer close(q.done)
	for job := range q.jobs {
		jobCtx, cancel := context.WithTimeout(ctx, q.timeout)
		if err := job.send(jobCtx); err != nil {
			job.log.Warn(job.name+" failed", slog.Any("err", err))
		}
		cancel()
	}
}

// submit enqueues job, dropping it when the queue is full.
func (q *sinkQueue) submit(job sinkJob) {
	select {
	case q.jobs <- job:
	default:
		job.log.Warn(job.name + " dropped, sink queue full")
	}
}

// flush stops intake and waits up to grace for pending jobs, then abandons
// the rest. No submit may follow.
func (q *sinkQueue) flush(grace time.Duration) {
	close(q.jobs)
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-q.done:
	case <-timer.C:
		q.cancel()
		<-q.done
	}
	q.cancel()
}
