package loadbalance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simgym/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: "127.0.0.1:19997", Weight: 10},
	{Addr: "127.0.0.1:19998", Weight: 5},
	{Addr: "127.0.0.1:19999", Weight: 10},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	var got []string
	for i := 0; i < 4; i++ {
		inst, err := b.Pick(testInstances, "")
		require.NoError(t, err)
		got = append(got, inst.Addr)
	}
	assert.Equal(t, []string{
		testInstances[0].Addr, testInstances[1].Addr, testInstances[2].Addr, testInstances[0].Addr,
	}, got)
}

func TestEmpty(t *testing.T) {
	for _, name := range []string{"round_robin", "weighted_random", "consistent_hash"} {
		b, err := New(name, 1)
		require.NoError(t, err)
		_, err = b.Pick(nil, "worker-0")
		assert.ErrorIs(t, err, ErrNoInstances, name)
		assert.Equal(t, name, b.Name())
	}
}

func TestUnknownBalancer(t *testing.T) {
	_, err := New("least_loaded", 1)
	assert.Error(t, err)
}

func TestWeightedRandom(t *testing.T) {
	b := NewWeightedRandomBalancer(42)

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		inst, err := b.Pick(testInstances, "")
		require.NoError(t, err)
		counts[inst.Addr]++
	}

	// weights 10:5:10
	ratio := float64(counts[testInstances[0].Addr]) / float64(counts[testInstances[1].Addr])
	assert.InDelta(t, 2.0, ratio, 0.5)
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	first, err := b.Pick(testInstances, "worker-7")
	require.NoError(t, err)
	again, err := b.Pick(testInstances, "worker-7")
	require.NoError(t, err)
	assert.Equal(t, first.Addr, again.Addr)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, err := b.Pick(testInstances, fmt.Sprintf("worker-%d", i))
		require.NoError(t, err)
		seen[inst.Addr] = true
	}
	assert.GreaterOrEqual(t, len(seen), 2)
}

func TestConsistentHashStableUnderReorder(t *testing.T) {
	b := NewConsistentHashBalancer()
	reordered := []registry.ServiceInstance{testInstances[2], testInstances[0], testInstances[1]}

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("worker-%d", i)
		a, err := b.Pick(testInstances, key)
		require.NoError(t, err)
		c, err := b.Pick(reordered, key)
		require.NoError(t, err)
		assert.Equal(t, a.Addr, c.Addr, key)
	}
}

func TestConsistentHashOnlyDepartedKeysMove(t *testing.T) {
	b := NewConsistentHashBalancer()
	remaining := testInstances[:2]

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("worker-%d", i)
		before, err := b.Pick(testInstances, key)
		require.NoError(t, err)
		after, err := b.Pick(remaining, key)
		require.NoError(t, err)
		if before.Addr != testInstances[2].Addr {
			assert.Equal(t, before.Addr, after.Addr, key)
		}
	}
}
