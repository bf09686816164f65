package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"simgym/registry"
)

// ConsistentHashBalancer maps keys to instances on a hash ring, so a key
// keeps its instance while the instance set is unchanged, and only the keys
// of a departed instance move when it goes away.
//
// Each instance is placed on the ring as replicas virtual nodes to keep the
// distribution even.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu    sync.Mutex
	ident string   // addresses the ring was built from
	ring  []uint32 // sorted virtual node hashes
	nodes map[uint32]string
}

// NewConsistentHashBalancer creates a balancer with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: 100}
}

func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance, key string) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	byAddr := make(map[string]int, len(instances))
	addrs := make([]string, 0, len(instances))
	for i, inst := range instances {
		byAddr[inst.Addr] = i
		addrs = append(addrs, inst.Addr)
	}
	sort.Strings(addrs)

	b.mu.Lock()
	defer b.mu.Unlock()
	if ident := strings.Join(addrs, ","); ident != b.ident {
		b.build(addrs)
		b.ident = ident
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	// first node clockwise from the key, wrapping around
	idx := sort.Search(len(b.ring), func(i int) bool { return b.ring[i] >= hash })
	if idx == len(b.ring) {
		idx = 0
	}
	return &instances[byAddr[b.nodes[b.ring[idx]]]], nil
}

func (b *ConsistentHashBalancer) build(addrs []string) {
	b.ring = make([]uint32, 0, len(addrs)*b.replicas)
	b.nodes = make(map[uint32]string, len(addrs)*b.replicas)
	for _, addr := range addrs {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", addr, i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = addr
		}
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

func (b *ConsistentHashBalancer) Name() string {
	return "consistent_hash"
}
