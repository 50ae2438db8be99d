package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/fluxplan/core/logger"
)

// Pool runs a fixed number of workers pulling from the shared queue until
// the context is canceled. Workers share no mutable state; coordination is
// entirely the queue's dequeue contract.
type Pool struct {
	worker *Worker
	count  int
	poll   time.Duration
	log    logger.Logger
}

// NewPool creates a pool of count workers polling the queue at the given
// interval when it is empty.
func NewPool(w *Worker, count int, poll time.Duration, log logger.Logger) (*Pool, error) {
	if w == nil {
		return nil, fmt.Errorf("worker: nil worker provided to NewPool")
	}
	if count <= 0 {
		count = 1
	}
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Pool{worker: w, count: count, poll: poll, log: log}, nil
}

// Run blocks until ctx is canceled.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.count; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.loop(ctx, n)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, n int) {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for {
		rec, ok, err := p.worker.queue.Dequeue(ctx)
		if err != nil {
			p.log.Errorf("worker %d: dequeue: %v", n, err)
		} else if ok {
			if err := p.worker.Process(ctx, rec); err != nil {
				p.log.Errorf("worker %d: job %s: %v", n, rec.ID, err)
			}
			// Drain the queue before idling again.
			select {
			case <-ctx.Done():
				return
			default:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
