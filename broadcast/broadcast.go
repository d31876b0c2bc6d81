// Package broadcast implements the parallel fan-out client described in
// spec §4.5: the same method call dispatched to every selected member of a
// cluster, bounded by a worker pool so a saturated pool maps to a per-host
// TooBusy outcome instead of blocking or silently dropping the call.
package broadcast

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"xrpc/cluster"
	"xrpc/listener"
	"xrpc/rpcerr"
)

// DefaultMaxWorkers is the fan-out pool's default capacity, per spec §4.5.
const DefaultMaxWorkers = 500

// DefaultTimeout bounds a single Execute call when the caller does not
// supply one.
const DefaultTimeout = 5 * time.Second

// Outcome is one host's result from an Execute call.
type Outcome struct {
	Value any
	Err   error
}

// Client fans a single call out over every (or a chosen subset of) member
// of a cluster.Client.
type Client struct {
	cluster  *cluster.Client
	sem      *semaphore.Weighted
	listener listener.Executor
}

// Option customizes a Client beyond its defaults.
type Option func(*Client)

// WithMaxWorkers overrides DefaultMaxWorkers.
func WithMaxWorkers(n int) Option {
	return func(c *Client) { c.sem = semaphore.NewWeighted(int64(n)) }
}

// WithExecutorListener attaches an observer for tasks rejected by the worker
// pool (OnTooBusy). Execute calls no other Executor callback.
func WithExecutorListener(l listener.Executor) Option {
	return func(c *Client) { c.listener = l }
}

// New builds a broadcast client over an existing cluster, reusing its
// member pool rather than opening a second set of connections per host.
func New(cl *cluster.Client, opts ...Option) *Client {
	c := &Client{
		cluster:  cl,
		sem:      semaphore.NewWeighted(DefaultMaxWorkers),
		listener: listener.NopExecutor{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute dispatches method(args) to every host in hosts (or every cluster
// member, if hosts is nil) in parallel, and waits for all of them to
// complete or hit timeout. Each host's result is independent: one host's
// failure never affects another's outcome.
func (c *Client) Execute(ctx context.Context, method string, args []any, hosts []string, timeout time.Duration) map[string]Outcome {
	if hosts == nil {
		hosts = c.cluster.Hosts()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	results := make(map[string]Outcome, len(hosts))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, host := range hosts {
		host := host
		dc, ok := c.cluster.ClientFor(host)
		if !ok {
			mu.Lock()
			results[host] = Outcome{Err: rpcerr.ErrTooBusy}
			mu.Unlock()
			continue
		}

		if !c.sem.TryAcquire(1) {
			c.listener.OnTooBusy(method)
			mu.Lock()
			results[host] = Outcome{Err: rpcerr.ErrTooBusy}
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.sem.Release(1)

			value, err := dc.Invoke(method, args, timeout)
			mu.Lock()
			results[host] = Outcome{Value: value, Err: err}
			mu.Unlock()
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(timeout):
	case <-ctx.Done():
	}

	return results
}
