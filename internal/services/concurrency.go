package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyConfig defines how many sync runs an instance executes at once
type ConcurrencyConfig struct {
	MaxConcurrentJobs  int           // Max concurrent runs on this instance
	MaxConcurrentBrand int           // Max concurrent runs per brand
	QueueTimeout       time.Duration // Max time a pending job waits for a slot
}

// DefaultConcurrencyConfig returns production-ready defaults
func DefaultConcurrencyConfig() *ConcurrencyConfig {
	return &ConcurrencyConfig{
		MaxConcurrentJobs:  10,
		MaxConcurrentBrand: 3,
		QueueTimeout:       5 * time.Minute,
	}
}

// BrandLimiter bounds the local worker pool globally and per brand.
// It never decides whether a job may exist; the job row does that.
type BrandLimiter struct {
	mu         sync.Mutex
	global     *semaphore.Weighted
	brandSems  map[string]chan struct{}
	activeJobs map[string]int
	config     *ConcurrencyConfig
}

// NewBrandLimiter creates a new brand limiter
func NewBrandLimiter(config *ConcurrencyConfig) *BrandLimiter {
	if config == nil {
		config = DefaultConcurrencyConfig()
	}
	return &BrandLimiter{
		global:     semaphore.NewWeighted(int64(config.MaxConcurrentJobs)),
		brandSems:  make(map[string]chan struct{}),
		activeJobs: make(map[string]int),
		config:     config,
	}
}

func (l *BrandLimiter) brandSem(brandID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sem, exists := l.brandSems[brandID]; exists {
		return sem
	}
	sem := make(chan struct{}, l.config.MaxConcurrentBrand)
	l.brandSems[brandID] = sem
	return sem
}

// Acquire waits for a brand slot and a global slot.
// The returned release function must be called when the run ends.
func (l *BrandLimiter) Acquire(ctx context.Context, brandID string) (func(), error) {
	queueCtx, cancel := context.WithTimeout(ctx, l.config.QueueTimeout)
	defer cancel()

	// Acquire brand slot first
	sem := l.brandSem(brandID)
	select {
	case sem <- struct{}{}:
	case <-queueCtx.Done():
		return nil, fmt.Errorf("timeout waiting for brand concurrency slot: brand=%s", brandID)
	}

	if err := l.global.Acquire(queueCtx, 1); err != nil {
		<-sem
		return nil, fmt.Errorf("timeout waiting for worker slot: %w", err)
	}

	l.mu.Lock()
	l.activeJobs[brandID]++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.activeJobs[brandID]--
			l.mu.Unlock()

			l.global.Release(1)
			<-sem
		})
	}, nil
}

// ActiveJobCount returns the number of runs holding slots for a brand
func (l *BrandLimiter) ActiveJobCount(brandID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeJobs[brandID]
}
