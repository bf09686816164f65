// Package registry lets simulator servers announce themselves and lets
// training workers find them.
package registry

// KeyPrefix is the root of every key the registry writes.
const KeyPrefix = "/simgym/"

// ServiceInstance is one simulator server.
type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight,omitempty"` // Weight for load balancing
	Version string `json:"version,omitempty"`
	Scene   string `json:"scene,omitempty"` // scene loaded at startup
}

type Registry interface {
	Register(serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(serviceName string, addr string) error
	Discover(serviceName string) ([]ServiceInstance, error)
	Watch(serviceName string) <-chan []ServiceInstance
	Close() error
}

func serviceKey(serviceName, addr string) string {
	return servicePrefix(serviceName) + addr
}

func servicePrefix(serviceName string) string {
	return KeyPrefix + serviceName + "/"
}
