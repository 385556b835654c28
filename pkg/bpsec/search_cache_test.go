// SPDX-FileCopyrightText: 2022 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpsec

import "testing"

func TestSearchCacheHitAndMiss(t *testing.T) {
	s := NewStore()
	policy := mustCreate(t, s, "ipn:1.0", "ipn:*.*", "ipn:*.*", Acceptor)
	c := NewSearchCache()

	if got := c.FindWithCache(s, EID{1, 0}, EID{2, 0}, EID{3, 0}, Acceptor); got != policy {
		t.Fatalf("first FindWithCache returned %v, want %v", got, policy)
	}
	if c.WasCacheHit() {
		t.Error("first lookup should not be a cache hit")
	}

	if got := c.FindWithCache(s, EID{1, 0}, EID{2, 0}, EID{3, 0}, Acceptor); got != policy {
		t.Fatalf("repeated FindWithCache returned %v, want %v", got, policy)
	}
	if !c.WasCacheHit() {
		t.Error("repeated identical lookup should be a cache hit")
	}

	if got := c.FindWithCache(s, EID{9, 0}, EID{2, 0}, EID{3, 0}, Acceptor); got != nil {
		t.Fatalf("lookup with a differing query returned %v, want nil", got)
	}
	if c.WasCacheHit() {
		t.Error("lookup with a differing query should not be a cache hit")
	}
}

func TestSearchCacheCachesNegativeResults(t *testing.T) {
	s := NewStore()
	c := NewSearchCache()

	if got := c.FindWithCache(s, EID{1, 0}, EID{2, 0}, EID{3, 0}, Acceptor); got != nil {
		t.Fatalf("lookup against an empty Store returned %v, want nil", got)
	}
	if c.WasCacheHit() {
		t.Error("first lookup should not be a cache hit")
	}

	if got := c.FindWithCache(s, EID{1, 0}, EID{2, 0}, EID{3, 0}, Acceptor); got != nil {
		t.Fatalf("repeated lookup returned %v, want nil", got)
	}
	if !c.WasCacheHit() {
		t.Error("repeated identical lookup of a cached negative result should be a cache hit")
	}
}
