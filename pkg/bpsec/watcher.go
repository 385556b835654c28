// SPDX-FileCopyrightText: 2022 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpsec

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Registry holds the currently active Store and its companion registries
// behind a single swappable pointer, guarded by a sync.RWMutex per §5's
// single-writer/multi-reader model. WatchConfig is the only writer; every
// other package reads through Snapshot.
type Registry struct {
	mu         sync.RWMutex
	store      *Store
	eventSets  *EventSetRegistry
	secCtx     *SecurityContextRegistry
	defaultSet string
}

// Snapshot is an immutable view of a Registry's contents at one instant.
// A ProcessingContext's SearchCache is only ever consulted against the
// Store inside a single Snapshot; once the Registry swaps to a newer
// Snapshot, a fresh one must be taken, so a rebuild naturally invalidates
// stale caches by handing out new *Store values rather than mutating the
// old one in place.
type Snapshot struct {
	Store            *Store
	EventSets        *EventSetRegistry
	SecurityContexts *SecurityContextRegistry
	DefaultEventSet  string
}

// NewRegistry builds a Registry from an already-loaded LoadResult.
func NewRegistry(loaded *LoadResult, defaultEventSet string) *Registry {
	return &Registry{
		store:      loaded.Store,
		eventSets:  loaded.EventSets,
		secCtx:     loaded.SecurityContexts,
		defaultSet: defaultEventSet,
	}
}

// Snapshot returns the currently active Store/registries.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Snapshot{
		Store:            r.store,
		EventSets:        r.eventSets,
		SecurityContexts: r.secCtx,
		DefaultEventSet:  r.defaultSet,
	}
}

// swap installs a freshly loaded Store/registries triple, replacing the
// old pointers outright rather than mutating them.
func (r *Registry) swap(loaded *LoadResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.store = loaded.Store
	r.eventSets = loaded.EventSets
	r.secCtx = loaded.SecurityContexts
}

// WatchConfig is the Config Watcher (C11). It does not load path itself; it
// watches path for writes, and on each fsnotify.Write event it re-parses the
// file into a freshly built Store/registries triple and swaps it into r.
// A malformed rewrite is logged and ignored, leaving the prior Snapshot
// active. WatchConfig blocks until stop is closed or the watcher errors.
func WatchConfig(path string, r *Registry, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case <-stop:
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				log.Error("fsnotify's Event channel was closed")
				return nil
			}

			if event.Op&fsnotify.Write == 0 {
				continue
			}

			reloadConfig(path, r)

		case err, ok := <-watcher.Errors:
			if !ok {
				log.Error("fsnotify's Errors channel was closed")
				return nil
			}
			log.WithError(err).Error("Config watcher errored")
			return err
		}
	}
}

func reloadConfig(path string, r *Registry) {
	logger := log.WithField("path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		logger.WithError(err).Warn("Failed to read BpSec config on reload, keeping prior Snapshot")
		return
	}

	var cfg BpSecConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.WithError(err).Warn("Failed to parse BpSec config on reload, keeping prior Snapshot")
		return
	}

	loaded, err := LoadFromConfig(&cfg)
	if err != nil {
		logger.WithError(err).Warn("Failed to load BpSec config on reload, keeping prior Snapshot")
		return
	}

	r.swap(loaded)
	logger.WithField("policies", loaded.Store.Len()).Info("Reloaded BpSec config")
}
