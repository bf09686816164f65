package loadbalance

import (
	"sync"

	"golang.org/x/exp/rand"

	"simgym/registry"
)

// WeightedRandomBalancer picks an instance with probability proportional to
// its Weight. Instances without a weight count as weight 1.
type WeightedRandomBalancer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewWeightedRandomBalancer(seed uint64) *WeightedRandomBalancer {
	return &WeightedRandomBalancer{rng: rand.New(rand.NewSource(seed))}
}

func (b *WeightedRandomBalancer) Pick(instances []registry.ServiceInstance, _ string) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	total := 0
	for _, v := range instances {
		total += weight(v)
	}

	b.mu.Lock()
	r := b.rng.Intn(total)
	b.mu.Unlock()

	for i := range instances {
		r -= weight(instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}
	return &instances[len(instances)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "weighted_random"
}

func weight(inst registry.ServiceInstance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}
