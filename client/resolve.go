package client

import (
	"fmt"
	"net"
	"strconv"

	"simgym/loadbalance"
	"simgym/registry"
)

// Resolver finds the simulator server a worker should connect to.
type Resolver struct {
	Registry registry.Registry
	Balancer loadbalance.Balancer
	Service  string
}

// Resolve discovers the service's instances and picks one for key (usually
// the worker id). It returns the instance's host and port.
func (r *Resolver) Resolve(key string) (string, int, error) {
	instances, err := r.Registry.Discover(r.Service)
	if err != nil {
		return "", 0, fmt.Errorf("discovering %s: %w", r.Service, err)
	}
	inst, err := r.Balancer.Pick(instances, key)
	if err != nil {
		return "", 0, fmt.Errorf("picking %s instance: %w", r.Service, err)
	}
	host, portStr, err := net.SplitHostPort(inst.Addr)
	if err != nil {
		return "", 0, fmt.Errorf("instance address %q: %w", inst.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("instance address %q: %w", inst.Addr, err)
	}
	return host, port, nil
}
