package queue

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc/pool"
)

// Pool runs several workers for one agent in the same process. Each worker
// is a separate consumer in the agent's group, so Redis spreads jobs
// across them.
type Pool struct {
	workers []*Worker
}

// NewPool creates n workers sharing handler and cfg.
func NewPool(rdb redis.UniversalClient, handler Handler, cfg WorkerConfig, n int, opts ...WorkerOption) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{}
	for i := range n {
		c := cfg
		if n > 1 {
			c.ConsumerSuffix = strconv.Itoa(i)
		}
		p.workers = append(p.workers, NewWorker(rdb, handler, c, opts...))
	}
	return p
}

// Workers returns the pool's workers.
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// Run runs every worker until ctx is cancelled or one of them fails to
// start, in which case the rest are stopped.
func (p *Pool) Run(ctx context.Context) error {
	// Groups are created once, before any worker reads.
	if err := p.workers[0].Setup(ctx); err != nil {
		return err
	}
	wp := pool.New().WithContext(ctx).WithCancelOnError()
	for _, w := range p.workers {
		wp.Go(func(ctx context.Context) error {
			return w.Run(ctx)
		})
	}
	return wp.Wait()
}
