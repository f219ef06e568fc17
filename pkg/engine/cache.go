package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// runCache memoizes condition results within a single run. The cache key
// combines the condition's source hash with a fingerprint of every mutable
// context field a condition can read, so a cached result is reused only
// while the facts it was computed from are unchanged. The cache is scoped
// to one run and never shared across contexts, which rules out stale-fact
// reuse between runs.
type runCache struct {
	mu      sync.Mutex
	entries map[uint64]bool
	hits    uint64
	misses  uint64
}

// newRunCache creates an empty per-run condition cache.
func newRunCache() *runCache {
	return &runCache{
		entries: make(map[uint64]bool),
	}
}

// lookup returns the memoized result for the key, if present.
func (c *runCache) lookup(key uint64) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return result, ok
}

// store memoizes a condition result under the key.
func (c *runCache) store(key uint64, result bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = result
}

// stats returns the hit and miss counters.
func (c *runCache) stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// cacheKey combines a condition source hash with a context fingerprint.
func cacheKey(conditionHash, contextFingerprint uint64) uint64 {
	return conditionHash ^ (contextFingerprint * 0x9e3779b97f4a7c15)
}

// fingerprintContext hashes the mutable context fields visible to
// conditions. Metadata participates alongside data because actions write
// to both mid-run; a memoized result must not outlive either.
func fingerprintContext(data, metadata map[string]interface{}) uint64 {
	return fingerprintData(data) ^ (fingerprintData(metadata) * 0x85ebca77c2b2ae63)
}

// fingerprintData computes a deterministic hash of a context-data map.
// Keys are visited in sorted order so two equal maps always produce the same
// fingerprint regardless of iteration order.
func fingerprintData(data map[string]interface{}) uint64 {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	digest := xxhash.New()
	for _, k := range keys {
		digest.WriteString(k)
		digest.WriteString("=")
		digest.WriteString(fmt.Sprintf("%v", data[k]))
		digest.WriteString(";")
	}
	return digest.Sum64()
}

// hashSource hashes a condition's source text (expression or evaluator name
// plus parameters) for use in cache keys.
func hashSource(source string) uint64 {
	return xxhash.Sum64String(source)
}
