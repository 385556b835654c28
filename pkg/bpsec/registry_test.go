// SPDX-FileCopyrightText: 2022 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpsec

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, dir string, cfg *BpSecConfig) string {
	t.Helper()

	data, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	p := filepath.Join(dir, "bpsec.json")
	if err := os.WriteFile(p, data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return p
}

func TestRegistrySnapshotReflectsInitialLoad(t *testing.T) {
	cfg := &BpSecConfig{PolicyRules: []PolicyRuleConfig{baseRule(1)}}
	loaded, err := LoadFromConfig(cfg)
	if err != nil {
		t.Fatalf("LoadFromConfig failed: %v", err)
	}

	r := NewRegistry(loaded, "default")
	snap := r.Snapshot()
	if snap.Store != loaded.Store {
		t.Error("Snapshot().Store should be the Store from the initial LoadResult")
	}
	if snap.DefaultEventSet != "default" {
		t.Errorf("Snapshot().DefaultEventSet = %q, want %q", snap.DefaultEventSet, "default")
	}
}

func TestRegistrySwapReplacesSnapshot(t *testing.T) {
	cfg1 := &BpSecConfig{PolicyRules: []PolicyRuleConfig{baseRule(1)}}
	loaded1, err := LoadFromConfig(cfg1)
	if err != nil {
		t.Fatalf("LoadFromConfig failed: %v", err)
	}

	r := NewRegistry(loaded1, "default")
	before := r.Snapshot().Store

	rule2 := baseRule(2)
	rule2.BundleSource = []string{"ipn:2.0", "ipn:3.0"}
	cfg2 := &BpSecConfig{PolicyRules: []PolicyRuleConfig{rule2}}
	loaded2, err := LoadFromConfig(cfg2)
	if err != nil {
		t.Fatalf("LoadFromConfig failed: %v", err)
	}

	r.swap(loaded2)
	after := r.Snapshot().Store

	if after == before {
		t.Error("swap should install a new Store pointer, not mutate the old one")
	}
	if after.Len() != 2 {
		t.Errorf("Snapshot().Store.Len() after swap = %d, want 2", after.Len())
	}
}

func TestWatchConfigReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	cfg1 := &BpSecConfig{PolicyRules: []PolicyRuleConfig{baseRule(1)}}
	path := writeConfigFile(t, dir, cfg1)

	loaded1, err := LoadFromConfig(cfg1)
	if err != nil {
		t.Fatalf("LoadFromConfig failed: %v", err)
	}
	r := NewRegistry(loaded1, "default")

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- WatchConfig(path, r, stop) }()

	// Give the watcher a moment to register before rewriting the file.
	time.Sleep(50 * time.Millisecond)

	rule2 := baseRule(2)
	rule2.BundleSource = []string{"ipn:2.0", "ipn:3.0"}
	cfg2 := &BpSecConfig{PolicyRules: []PolicyRuleConfig{rule2}}
	writeConfigFile(t, dir, cfg2)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Snapshot().Store.Len() == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := r.Snapshot().Store.Len(); got != 2 {
		t.Errorf("Snapshot().Store.Len() after rewrite = %d, want 2 (watcher did not pick up the change)", got)
	}

	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("WatchConfig did not return after stop was closed")
	}
}

func TestReloadConfigKeepsPriorSnapshotOnMalformedRewrite(t *testing.T) {
	dir := t.TempDir()
	cfg1 := &BpSecConfig{PolicyRules: []PolicyRuleConfig{baseRule(1)}}
	path := writeConfigFile(t, dir, cfg1)

	loaded1, err := LoadFromConfig(cfg1)
	if err != nil {
		t.Fatalf("LoadFromConfig failed: %v", err)
	}
	r := NewRegistry(loaded1, "default")
	before := r.Snapshot().Store

	if err := os.WriteFile(path, []byte("{not valid json"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	reloadConfig(path, r)

	if r.Snapshot().Store != before {
		t.Error("reloadConfig should keep the prior Snapshot when the rewritten file fails to parse")
	}
}
