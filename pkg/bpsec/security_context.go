// SPDX-FileCopyrightText: 2022 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpsec

import (
	"os"
	"sync"

	"github.com/dtn7/dtn7-bpsec/pkg/bpv7"
)

// ContextName is a recognized securityContext config value, binding a
// Policy to one of the built-in algorithm families. The actual seal/open/
// sign/verify math lives in pkg/bpv7's BCB/BIB block types; this registry
// only validates the binding and loads/caches the referenced key material,
// matching C4's "Name→algorithm binding … and key-file loading" charter.
type ContextName string

const (
	ContextAesGcm  ContextName = "aesGcm"
	ContextHmacSha ContextName = "hmacSha"
)

func knownContextName(name ContextName) bool {
	return name == ContextAesGcm || name == ContextHmacSha
}

// keyLengthFor returns the expected raw key length in bytes for a
// ContextParams combination, or 0 if unconstrained.
func keyLengthFor(name ContextName, params ContextParams) int {
	switch name {
	case ContextAesGcm:
		switch params.AesVariant {
		case bpv7.A128GCM:
			return 16
		case bpv7.A256GCM, 0:
			return 32
		}
	case ContextHmacSha:
		switch params.ShaVariant {
		case bpv7.HMAC384SHA384:
			return 48
		case bpv7.HMAC512SHA512:
			return 64
		case bpv7.HMAC256SHA256, 0:
			return 32
		}
	}
	return 0
}

// SecurityContextRegistry loads and caches raw key bytes by file path, so
// that several policies referencing the same keyFile only pay the read
// once. Keys are loaded eagerly at config-load time and never touched
// again on the steady-state path, per §5's "key-file reads happen only at
// load time" rule.
type SecurityContextRegistry struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewSecurityContextRegistry returns an empty SecurityContextRegistry.
func NewSecurityContextRegistry() *SecurityContextRegistry {
	return &SecurityContextRegistry{keys: make(map[string][]byte)}
}

// LoadKey reads and caches path's raw bytes, failing if the context name
// and params imply a fixed key length that the file does not match.
func (r *SecurityContextRegistry) LoadKey(name ContextName, params ContextParams, path string) ([]byte, error) {
	r.mu.RLock()
	if key, ok := r.keys[path]; ok {
		r.mu.RUnlock()
		return key, nil
	}
	r.mu.RUnlock()

	if !knownContextName(name) {
		return nil, newError(KindResolveError, "unknown securityContext %q", name)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(KindKeyLoadError, "reading key file %q: %v", path, err)
	}

	if want := keyLengthFor(name, params); want != 0 && len(raw) != want {
		return nil, newError(KindKeyLoadError, "key file %q has length %d, want %d for %s", path, len(raw), want, name)
	}

	r.mu.Lock()
	r.keys[path] = raw
	r.mu.Unlock()

	return raw, nil
}
