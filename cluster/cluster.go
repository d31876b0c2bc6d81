// Package cluster implements the pool of direct clients described in spec
// §4.4: round-robin dispatch over many provider hosts, a background
// recovery task that reopens failed members, and per-member listener
// callbacks.
package cluster

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"xrpc/directclient"
	"xrpc/listener"
	"xrpc/log"
	"xrpc/registry"
	"xrpc/rpcerr"
)

// DefaultRecoveryInterval is how often the recovery task scans for dead
// members to reopen, per spec §4.4.
const DefaultRecoveryInterval = 5 * time.Second

// Options configures a Client and is forwarded into every member's
// directclient.Options.
type Options struct {
	Network          string
	DirectOptions    directclient.Options
	RecoveryInterval time.Duration
	Listener         listener.ClusterClient
	Logger           *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Network == "" {
		o.Network = "tcp"
	}
	if o.RecoveryInterval <= 0 {
		o.RecoveryInterval = DefaultRecoveryInterval
	}
	if o.Listener == nil {
		o.Listener = listener.NopClusterClient{}
	}
	if o.Logger == nil {
		o.Logger = log.Named("cluster")
	}
	return o
}

// Client is a pool of directclient.Client instances, one per host, dispatched
// round-robin with automatic failure detection and recovery.
type Client struct {
	opts Options

	mu    sync.RWMutex
	hosts []string
	slots []*directclient.Client // parallel to hosts; nil = currently down

	counter atomic.Uint64
	closed  atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup

	reg        registry.Registry
	regService string
}

// New synchronously dials every host. Per-host failures are tolerated
// individually; if every host fails, it returns rpcerr.ErrNoLiveMember.
func New(hosts []string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	c := &Client{
		opts:  opts,
		hosts: append([]string(nil), hosts...),
		slots: make([]*directclient.Client, len(hosts)),
		stop:  make(chan struct{}),
	}

	live := 0
	for i, h := range hosts {
		if dc, err := c.dial(h); err == nil {
			c.slots[i] = dc
			live++
		} else {
			opts.Logger.Warn("cluster member dial failed", zap.String("host", h), zap.Error(err))
		}
	}
	if len(hosts) > 0 && live == 0 {
		return nil, rpcerr.ErrNoLiveMember
	}

	c.wg.Add(1)
	go c.recoveryLoop()
	return c, nil
}

// NewFromRegistry discovers the initial member set from reg and keeps it in
// sync via reg.Watch — a supplement to the static host-list constructor
// above, not a replacement for it (see SPEC_FULL.md §4.7).
func NewFromRegistry(reg registry.Registry, serviceName string, opts Options) (*Client, error) {
	instances, err := reg.Discover(serviceName)
	if err != nil {
		return nil, err
	}
	hosts := make([]string, len(instances))
	for i, inst := range instances {
		hosts[i] = inst.Addr
	}
	c, err := New(hosts, opts)
	if err != nil {
		return nil, err
	}
	c.reg = reg
	c.regService = serviceName

	c.wg.Add(1)
	go c.watchLoop(reg.Watch(serviceName))
	return c, nil
}

func (c *Client) dial(host string) (*directclient.Client, error) {
	dcOpts := c.opts.DirectOptions
	dcOpts.Listener = &memberListener{cluster: c, host: host, inner: c.opts.DirectOptions.Listener}
	dc, err := directclient.New(c.opts.Network, host, dcOpts)
	if err != nil {
		return nil, err
	}
	c.opts.Listener.OnCreated(host)
	return dc, nil
}

// Hosts returns the current member host list.
func (c *Client) Hosts() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.hosts...)
}

// ClientFor returns the live direct client bound to host, if any.
func (c *Client) ClientFor(host string) (*directclient.Client, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i, h := range c.hosts {
		if h == host && c.slots[i] != nil && c.slots[i].IsActive() {
			return c.slots[i], true
		}
	}
	return nil, false
}

// getClient picks a member by round-robin, skipping down or inactive slots.
// It scans forward, wrapping once, before giving up.
func (c *Client) getClient() (*directclient.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := len(c.slots)
	if n == 0 {
		return nil, rpcerr.ErrTooBusy
	}
	start := int(c.counter.Add(1) % uint64(n))
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if dc := c.slots[idx]; dc != nil && dc.IsActive() {
			return dc, nil
		}
	}
	return nil, rpcerr.ErrTooBusy
}

// Invoke dispatches a synchronous call to one live member, chosen by
// round-robin. Retrying across members is the caller's policy, not this
// layer's (spec §7).
func (c *Client) Invoke(method string, args []any, timeout time.Duration) (any, error) {
	dc, err := c.getClient()
	if err != nil {
		return nil, err
	}
	return dc.Invoke(method, args, timeout)
}

// Close stops the recovery task and closes every live member.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stop)
	c.wg.Wait()

	// Members are closed outside c.mu: each member's OnClosed callback takes
	// c.mu itself to clear its slot.
	c.mu.RLock()
	slots := append([]*directclient.Client(nil), c.slots...)
	c.mu.RUnlock()
	for _, dc := range slots {
		if dc != nil {
			_ = dc.Close()
		}
	}
	return nil
}

func (c *Client) recoveryLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.RecoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.recoverDeadSlots()
		}
	}
}

func (c *Client) recoverDeadSlots() {
	c.mu.RLock()
	var downHosts []string
	for i, dc := range c.slots {
		if dc == nil {
			downHosts = append(downHosts, c.hosts[i])
		}
	}
	c.mu.RUnlock()

	for _, host := range downHosts {
		dc, err := c.dial(host)
		if err != nil {
			continue
		}
		c.mu.Lock()
		idx := -1
		for i, h := range c.hosts {
			if h == host && c.slots[i] == nil {
				idx = i
				break
			}
		}
		if idx >= 0 {
			c.slots[idx] = dc
		}
		c.mu.Unlock()
		if idx < 0 {
			_ = dc.Close() // host was removed from membership while we were dialing
			continue
		}
		c.opts.Listener.OnRecovered(host)
	}
}

func (c *Client) watchLoop(updates <-chan []registry.ServiceInstance) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case instances, ok := <-updates:
			if !ok {
				return
			}
			c.applyMembership(instances)
		}
	}
}

func (c *Client) applyMembership(instances []registry.ServiceInstance) {
	wanted := make(map[string]bool, len(instances))
	for _, inst := range instances {
		wanted[inst.Addr] = true
	}

	c.mu.Lock()
	// Drop members no longer present.
	keptHosts := c.hosts[:0:0]
	keptSlots := c.slots[:0:0]
	var dropped []*directclient.Client
	for i, h := range c.hosts {
		if wanted[h] {
			keptHosts = append(keptHosts, h)
			keptSlots = append(keptSlots, c.slots[i])
			delete(wanted, h)
		} else if c.slots[i] != nil {
			dropped = append(dropped, c.slots[i])
		}
	}
	// Add new members as down slots; the recovery loop dials them.
	for h := range wanted {
		keptHosts = append(keptHosts, h)
		keptSlots = append(keptSlots, nil)
	}
	c.hosts = keptHosts
	c.slots = keptSlots
	c.mu.Unlock()

	// Closed outside c.mu, since a member's OnClosed callback takes c.mu.
	for _, dc := range dropped {
		_ = dc.Close()
	}
}

// memberListener adapts a per-host directclient.Client's close callback into
// cluster-level slot repair and upward listener notification.
type memberListener struct {
	cluster *Client
	host    string
	inner   listener.DirectClient
}

func (m *memberListener) OnCreated(host string) {
	if m.inner != nil {
		m.inner.OnCreated(host)
	}
}

func (m *memberListener) OnClosed(host string, offline bool) {
	m.cluster.mu.Lock()
	for i, h := range m.cluster.hosts {
		if h == m.host {
			m.cluster.slots[i] = nil
			break
		}
	}
	m.cluster.mu.Unlock()
	m.cluster.opts.Listener.OnClosed(host, offline)
	if m.inner != nil {
		m.inner.OnClosed(host, offline)
	}
}

func (m *memberListener) OnSlowExecution(host, method string) {
	if m.inner != nil {
		m.inner.OnSlowExecution(host, method)
	}
}

func (m *memberListener) OnTimeout(host, method string) {
	if m.inner != nil {
		m.inner.OnTimeout(host, method)
	}
}

func (m *memberListener) OnTooBusy(host, method string) {
	if m.inner != nil {
		m.inner.OnTooBusy(host, method)
	}
}

func (m *memberListener) OnInvocationError(host, method string, err error) {
	if m.inner != nil {
		m.inner.OnInvocationError(host, method, err)
	}
}
