// Package loadbalance picks the simulator server a training worker connects
// to, out of the instances found in the registry.
//
// Three strategies are implemented:
//   - RoundRobin:      spread workers evenly over equal servers
//   - WeightedRandom:  servers of different capacity (instance Weight)
//   - ConsistentHash:  a worker id always lands on the same server, so a
//     restarted worker finds its scene already loaded
package loadbalance

import (
	"errors"
	"fmt"

	"simgym/registry"
)

// ErrNoInstances is returned when there is nothing to pick from.
var ErrNoInstances = errors.New("no instances available")

// Balancer selects one instance. key identifies the caller (a worker id);
// strategies without affinity ignore it. Implementations are goroutine-safe.
type Balancer interface {
	Pick(instances []registry.ServiceInstance, key string) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/config).
	Name() string
}

// New returns the balancer registered under name: "round_robin",
// "weighted_random" or "consistent_hash".
func New(name string, seed uint64) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return NewWeightedRandomBalancer(seed), nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, fmt.Errorf("unknown balancer %q", name)
}
