// SPDX-FileCopyrightText: 2022 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpsec

import (
	"testing"

	"github.com/dtn7/dtn7-bpsec/pkg/bpv7"
)

// signedBundle builds a bundle from bundleSrc to bundleDst carrying a single
// HMAC-signed BIB over its payload block, using keyFile's contents as the key.
func signedBundle(t *testing.T, securitySource, bundleSrc, bundleDst EID, keyFile string) bpv7.Bundle {
	t.Helper()

	b := buildTestBundle(t, bundleSrc, bundleDst, []byte("hello world"))

	secCtx := NewSecurityContextRegistry()
	key, err := secCtx.LoadKey(ContextHmacSha, ContextParams{}, keyFile)
	if err != nil {
		t.Fatalf("LoadKey failed: %v", err)
	}

	bib := bpv7.NewBIBIOPHMACSHA2(nil, nil, nil, []uint64{1}, securitySource.ToEndpoint())
	eb := bpv7.NewCanonicalBlock(0, 0, bib)
	if err := b.AddExtensionBlock(eb); err != nil {
		t.Fatalf("AddExtensionBlock failed: %v", err)
	}

	bibCanonical, err := b.ExtensionBlock(bpv7.ExtBlockTypeBlockIntegrityBlock)
	if err != nil {
		t.Fatalf("locating the attached BIB failed: %v", err)
	}
	if err := bibCanonical.Value.(*bpv7.BIBIOPHMACSHA2).SignTargets(b, bibCanonical.BlockNumber, key); err != nil {
		t.Fatalf("SignTargets failed: %v", err)
	}

	return b
}

func acceptorStoreFor(t *testing.T, securitySource, bundleSrc, bundleDst EID, keyFile string) *Store {
	t.Helper()

	store := NewStore()
	if _, _, ok := store.CreateOrGet(securitySource.String(), bundleSrc.String(), bundleDst.String(), Acceptor,
		func(key PolicyKey) *Policy {
			return &Policy{
				Service:              Integrity,
				ContextID:            string(ContextHmacSha),
				TargetBlockTypeCodes: map[uint64]struct{}{bpv7.ExtBlockTypePayloadBlock: {}},
				ContextParams:        ContextParams{KeyFile: keyFile},
			}
		}); !ok {
		t.Fatal("CreateOrGet(Acceptor) failed")
	}
	return store
}

func TestProcessIncomingAcceptorSuccessRemovesSecurityBlock(t *testing.T) {
	securitySource := EID{Node: 1, Service: 0}
	bundleSrc := EID{Node: 2, Service: 0}
	bundleDst := EID{Node: 3, Service: 0}
	keyFile := writeKeyFile(t, 32)

	b := signedBundle(t, securitySource, bundleSrc, bundleDst, keyFile)
	store := acceptorStoreFor(t, securitySource, bundleSrc, bundleDst, keyFile)

	ctx := NewProcessingContext()
	secCtx := NewSecurityContextRegistry()
	eventSets := NewEventSetRegistry()

	result, err := ProcessIncoming(&b, ctx, store, secCtx, eventSets, nil, "")
	if err != nil {
		t.Fatalf("ProcessIncoming failed: %v", err)
	}
	if result.Outcome != Accept {
		t.Errorf("Outcome = %v, want Accept", result.Outcome)
	}

	if _, err := b.ExtensionBlock(bpv7.ExtBlockTypeBlockIntegrityBlock); err == nil {
		t.Error("BIB should have been removed once its last target was consumed by the Acceptor")
	}
}

func TestProcessIncomingCorruptedSignatureFiresEvent(t *testing.T) {
	securitySource := EID{Node: 1, Service: 0}
	bundleSrc := EID{Node: 2, Service: 0}
	bundleDst := EID{Node: 3, Service: 0}
	keyFile := writeKeyFile(t, 32)

	b := signedBundle(t, securitySource, bundleSrc, bundleDst, keyFile)

	// Corrupt the payload after signing, so the HMAC no longer verifies.
	payload, err := b.GetExtensionBlockByBlockNumber(1)
	if err != nil {
		t.Fatal(err)
	}
	payload.Value = bpv7.NewPayloadBlock([]byte("tampered"))

	eventSets := NewEventSetRegistry()
	eventSets.Register(&EventSet{
		Name: "corrupt-policy",
		Events: map[EventID][]Action{
			SopCorruptedAtAcceptor: {{Kind: ActionFailBundleForwarding}},
		},
	})

	store := NewStore()
	if _, _, ok := store.CreateOrGet(securitySource.String(), bundleSrc.String(), bundleDst.String(), Acceptor,
		func(key PolicyKey) *Policy {
			return &Policy{
				Service:              Integrity,
				ContextID:            string(ContextHmacSha),
				TargetBlockTypeCodes: map[uint64]struct{}{bpv7.ExtBlockTypePayloadBlock: {}},
				ContextParams:        ContextParams{KeyFile: keyFile},
				EventSetRef:          "corrupt-policy",
			}
		}); !ok {
		t.Fatal("CreateOrGet(Acceptor) failed")
	}

	ctx := NewProcessingContext()
	secCtx := NewSecurityContextRegistry()

	result, err := ProcessIncoming(&b, ctx, store, secCtx, eventSets, nil, "")
	if err != nil {
		t.Fatalf("ProcessIncoming failed: %v", err)
	}
	if result.Outcome != Drop {
		t.Errorf("Outcome = %v, want Drop after a failBundleForwarding action", result.Outcome)
	}
}

func TestProcessIncomingMissingPolicyFiresDefaultEventSet(t *testing.T) {
	securitySource := EID{Node: 1, Service: 0}
	bundleSrc := EID{Node: 2, Service: 0}
	bundleDst := EID{Node: 3, Service: 0}
	keyFile := writeKeyFile(t, 32)

	b := signedBundle(t, securitySource, bundleSrc, bundleDst, keyFile)
	store := NewStore() // empty: no Acceptor or Verifier policy at all

	eventSets := NewEventSetRegistry()
	eventSets.Register(&EventSet{
		Name: "default",
		Events: map[EventID][]Action{
			SopMissingAtAcceptor: {{Kind: ActionDoNotForwardBundle}},
		},
	})

	ctx := NewProcessingContext()
	secCtx := NewSecurityContextRegistry()

	result, err := ProcessIncoming(&b, ctx, store, secCtx, eventSets, nil, "default")
	if err != nil {
		t.Fatalf("ProcessIncoming failed: %v", err)
	}
	if !result.Undeliverable {
		t.Error("expected the default event set's doNotForwardBundle action to mark the bundle Undeliverable")
	}
}
