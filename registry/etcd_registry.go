package registry

// The etcd registry stores one key per server:
//
//	Key:   /simgym/{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Keys are attached to a TTL lease that a background KeepAlive renews; if the
// server dies the lease expires and the entry disappears with it.

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	logger *zap.Logger

	ctx    context.Context // cancelled by Close; stops keep-alives and watches
	cancel context.CancelFunc

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease, revoked on Deregister
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{
		client: c,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

// Register stores instance under a lease of ttl seconds and keeps the lease
// alive until Deregister or Close.
func (r *EtcdRegistry) Register(serviceName string, instance ServiceInstance, ttl int64) error {
	lease, err := r.client.Grant(r.ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := serviceKey(serviceName, instance.Addr)
	if _, err := r.client.Put(r.ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(r.ctx, lease.ID)
	if err != nil {
		return err
	}
	// Drain responses so the channel never fills up
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keep-alive stopped", zap.String("key", key))
	}()

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()
	return nil
}

// Deregister removes an instance. Its lease is revoked, which also stops the
// keep-alive.
func (r *EtcdRegistry) Deregister(serviceName string, addr string) error {
	key := serviceKey(serviceName, addr)

	r.mu.Lock()
	lease, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		_, err := r.client.Revoke(r.ctx, lease)
		return err
	}
	_, err := r.client.Delete(r.ctx, key)
	return err
}

// Watch emits the full instance list every time something under the service
// prefix changes. The channel is closed when the registry is closed.
func (r *EtcdRegistry) Watch(serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(r.ctx, servicePrefix(serviceName), clientv3.WithPrefix())
		for range watchChan {
			// Re-fetch the full list instead of applying individual events
			instances, err := r.Discover(serviceName)
			if err != nil {
				r.logger.Warn("re-discovering after watch event", zap.String("service", serviceName), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-r.ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns every registered instance of a service.
func (r *EtcdRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(r.ctx, servicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed instance", zap.ByteString("key", kv.Key))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close stops keep-alives and watches and closes the etcd client. Leases
// left behind expire on their own.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	return r.client.Close()
}
