package hal

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// === Subsystem Constants ===

const (
	// SubsystemWorkload is the RNG subsystem the CLI uses to generate inputs.
	// Uses the master seed directly.
	SubsystemWorkload = "workload"

	// SubsystemLatency is the RNG subsystem for simulated dispatch jitter.
	SubsystemLatency = "latency"
)

// SubsystemScope returns the fault-injection subsystem name for a scope.
// Each scope draws faults from its own stream, so the fault sequence of one
// scope does not depend on how often other scopes dispatch.
func SubsystemScope(scopeID int64) string {
	return fmt.Sprintf("scope_%d", scopeID)
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula:
//   - For SubsystemWorkload: uses the seed directly
//   - For all other subsystems: seed XOR fnv1a64(subsystemName)
//
// Thread-safety: NOT thread-safe. SimDevice serializes access under its lock.
type PartitionedRNG struct {
	seed       int64
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a seed.
func NewPartitionedRNG(seed int64) *PartitionedRNG {
	return &PartitionedRNG{
		seed:       seed,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	derived := p.seed
	if name != SubsystemWorkload {
		derived ^= fnv1a64(name)
	}
	rng := rand.New(rand.NewSource(derived))
	p.subsystems[name] = rng
	return rng
}

// Seed returns the seed this PartitionedRNG was created with.
func (p *PartitionedRNG) Seed() int64 { return p.seed }

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
