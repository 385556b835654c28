// SPDX-FileCopyrightText: 2022 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpsec

// queryTuple is a single find() call's argument shape, compared for
// equality to decide a cache hit.
type queryTuple struct {
	ss, bs, bd EID
	role       Role
}

// SearchCache is the single-slot memo described for the Policy Search
// Cache (C3): it remembers only the most recent query and its result,
// including negative results, and must never be shared between threads.
type SearchCache struct {
	lastTuple    queryTuple
	lastResult   *Policy
	hasLastQuery bool

	wasCacheHit bool
}

// NewSearchCache returns an empty SearchCache.
func NewSearchCache() *SearchCache {
	return &SearchCache{}
}

// WasCacheHit reports whether the most recent FindWithCache call was
// served from the cached slot.
func (c *SearchCache) WasCacheHit() bool {
	return c.wasCacheHit
}

// FindWithCache serves ss/bs/bd/role from the cached slot if it matches
// the previous query, otherwise calls store.Find and overwrites the slot,
// caching a nil (absent) result just as readily as a hit.
func (c *SearchCache) FindWithCache(store *Store, ss, bs, bd EID, role Role) *Policy {
	q := queryTuple{ss: ss, bs: bs, bd: bd, role: role}

	if c.hasLastQuery && c.lastTuple == q {
		c.wasCacheHit = true
		return c.lastResult
	}

	result := store.Find(ss, bs, bd, role)

	c.lastTuple = q
	c.lastResult = result
	c.hasLastQuery = true
	c.wasCacheHit = false

	return result
}

// ProcessingContext is the per-thread scratch state reused across
// bundles: a single SearchCache today, extensible with assembly buffers
// or reusable crypto state without touching call sites elsewhere. It must
// never be shared between threads.
type ProcessingContext struct {
	Cache *SearchCache
}

// NewProcessingContext returns a ProcessingContext with a fresh, empty cache.
func NewProcessingContext() *ProcessingContext {
	return &ProcessingContext{Cache: NewSearchCache()}
}
