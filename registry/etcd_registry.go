package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"xrpc/log"
	"xrpc/rpcerr"
)

// DefaultWatchDebounce coalesces a burst of etcd watch events into a single
// re-Discover, so a rolling deploy that touches N keys in quick succession
// triggers one membership refresh instead of N.
const DefaultWatchDebounce = 200 * time.Millisecond

// Options configures an EtcdRegistry.
type Options struct {
	Logger        *zap.Logger
	WatchDebounce time.Duration
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = log.Named("registry")
	}
	if o.WatchDebounce <= 0 {
		o.WatchDebounce = DefaultWatchDebounce
	}
	return o
}

// EtcdRegistry implements Registry on top of etcd v3, the teacher repo's own
// service-discovery backend (registry/etcd_registry.go), adapted here to
// ServiceInstance's xrpc fields, to feed cluster.Client rather than the
// teacher's Balancer, and to report failures through rpcerr's taxonomy
// instead of etcd's raw client errors.
type EtcdRegistry struct {
	client *clientv3.Client
	opts   Options
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, opts Options) (*EtcdRegistry, error) {
	opts = opts.withDefaults()
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, fmt.Errorf("%w: dial etcd: %v", rpcerr.ErrRegistryUnavailable, err)
	}
	return &EtcdRegistry{client: c, opts: opts}, nil
}

// Close releases the underlying etcd client connection.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}

func key(serviceName, addr string) string {
	return "/xrpc/" + serviceName + "/" + addr
}

func prefix(serviceName string) string {
	return "/xrpc/" + serviceName + "/"
}

// Register stores instance under a TTL lease and starts a background
// KeepAlive so the entry is removed automatically if this process dies
// without deregistering.
func (r *EtcdRegistry) Register(serviceName string, instance ServiceInstance, ttlSeconds int64) error {
	ctx := context.Background()

	lease, err := r.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return fmt.Errorf("%w: grant lease: %v", rpcerr.ErrRegistryUnavailable, err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("xrpc/registry: marshal instance: %w", err)
	}

	if _, err := r.client.Put(ctx, key(serviceName, instance.Addr), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("%w: put: %v", rpcerr.ErrRegistryUnavailable, err)
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("%w: keepalive: %v", rpcerr.ErrRegistryUnavailable, err)
	}
	go func() {
		for range ch {
		}
		r.opts.Logger.Warn("lease keepalive stopped, instance will expire",
			zap.String("service", serviceName), zap.String("addr", instance.Addr))
	}()
	r.opts.Logger.Info("registered instance",
		zap.String("service", serviceName), zap.String("addr", instance.Addr), zap.Int64("ttlSeconds", ttlSeconds))
	return nil
}

func (r *EtcdRegistry) Deregister(serviceName, addr string) error {
	if _, err := r.client.Delete(context.Background(), key(serviceName, addr)); err != nil {
		return fmt.Errorf("%w: delete: %v", rpcerr.ErrRegistryUnavailable, err)
	}
	r.opts.Logger.Info("deregistered instance", zap.String("service", serviceName), zap.String("addr", addr))
	return nil
}

func (r *EtcdRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(context.Background(), prefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", rpcerr.ErrRegistryUnavailable, err)
	}
	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst ServiceInstance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			r.opts.Logger.Warn("dropping malformed registry entry",
				zap.String("key", string(kv.Key)), zap.Error(err))
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Watch re-fetches the full instance list after a burst of changes settles
// under the service's prefix, debounced by opts.WatchDebounce so a flurry of
// near-simultaneous etcd events (a rolling deploy, a network blip touching
// several leases at once) triggers one re-Discover instead of one per event.
func (r *EtcdRegistry) Watch(serviceName string) <-chan []ServiceInstance {
	ctx := context.Background()
	out := make(chan []ServiceInstance, 1)
	watchChan := r.client.Watch(ctx, prefix(serviceName), clientv3.WithPrefix())

	go func() {
		defer close(out)

		var pending bool
		timer := time.NewTimer(0)
		if !timer.Stop() {
			<-timer.C
		}

		for {
			select {
			case _, ok := <-watchChan:
				if !ok {
					return
				}
				if !pending {
					pending = true
					timer.Reset(r.opts.WatchDebounce)
				}
			case <-timer.C:
				pending = false
				instances, err := r.Discover(serviceName)
				if err != nil {
					r.opts.Logger.Warn("watch re-discover failed", zap.String("service", serviceName), zap.Error(err))
					continue
				}
				out <- instances
			}
		}
	}()
	return out
}
