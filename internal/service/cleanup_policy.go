package service

import (
	"math/rand"
	"sync"
	"time"
)

// CleanupPolicy decides when a validation call should piggyback a bounded
// sweep of the caller's expired rows. Keeping the decision in one place
// with an injectable RNG makes the probabilistic behavior testable.
type CleanupPolicy struct {
	probability float64
	batchSize   int

	mu  sync.Mutex
	rng *rand.Rand
}

// DefaultCleanupPolicy fires on roughly one validation in ten and removes
// at most 25 rows per entity when it does. The cap keeps any single
// request from absorbing unbounded cleanup cost.
func DefaultCleanupPolicy() *CleanupPolicy {
	return NewCleanupPolicy(0.1, 25, rand.New(rand.NewSource(time.Now().UnixNano())))
}

func NewCleanupPolicy(probability float64, batchSize int, rng *rand.Rand) *CleanupPolicy {
	if batchSize <= 0 {
		batchSize = 25
	}
	return &CleanupPolicy{probability: probability, batchSize: batchSize, rng: rng}
}

func (p *CleanupPolicy) ShouldRun() bool {
	if p.probability <= 0 {
		return false
	}
	if p.probability >= 1 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64() < p.probability
}

func (p *CleanupPolicy) BatchSize() int { return p.batchSize }
