// SPDX-FileCopyrightText: 2022 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpsec

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtn7-bpsec/pkg/bpv7"
)

// Outcome is process_incoming's externally visible runtime result.
type Outcome int

const (
	Accept Outcome = iota
	Drop
)

func (o Outcome) String() string {
	if o == Drop {
		return "drop"
	}
	return "accept"
}

// ProcessResult carries process_incoming's outcome plus the side effects
// actions may have requested: a status report to emit and/or a mark that
// the bundle must not be forwarded even though it was Accepted.
type ProcessResult struct {
	Outcome       Outcome
	Undeliverable bool
	Reports       []*bpv7.StatusReport
}

// ProcessIncoming is the Incoming Processor (C7). For every BCB, then every
// BIB, on the bundle it locates the best Acceptor policy, falling back to
// Verifier, under (asb.securitySource, bundle.src, bundle.dst); applies the
// matching security operation; and on missing/misconfigured/corrupted
// outcomes runs the resolved EventSet's actions in declared order.
// defaultEventSet names the EventSet consulted when no policy at all
// matches a security block, since no Policy is available to supply an
// EventSetRef in that case.
func ProcessIncoming(b *bpv7.Bundle, ctx *ProcessingContext, store *Store, secCtx *SecurityContextRegistry, eventSets *EventSetRegistry, retention *RetentionStore, defaultEventSet string) (*ProcessResult, error) {
	_, srcOk := EIDFromEndpoint(b.PrimaryBlock.SourceNode)
	_, dstOk := EIDFromEndpoint(b.PrimaryBlock.Destination)
	if !srcOk || !dstOk {
		return &ProcessResult{Outcome: Accept}, nil
	}

	result := &ProcessResult{Outcome: Accept}

	// Collect block numbers up front, not *CanonicalBlock pointers: acting on
	// one security block can remove another block from b.CanonicalBlocks via
	// RemoveExtensionBlockByBlockNumber, which shifts the backing array in
	// place and would leave pointers captured before the loop pointing at the
	// wrong element. Each iteration re-fetches its block fresh by number.
	var bcbNumbers, bibNumbers []uint64
	if blocks, err := b.ExtensionBlocks(bpv7.ExtBlockTypeBlockConfidentialityBlock); err == nil {
		for _, cb := range blocks {
			bcbNumbers = append(bcbNumbers, cb.BlockNumber)
		}
	}
	if blocks, err := b.ExtensionBlocks(bpv7.ExtBlockTypeBlockIntegrityBlock); err == nil {
		for _, cb := range blocks {
			bibNumbers = append(bibNumbers, cb.BlockNumber)
		}
	}

	for _, num := range bcbNumbers {
		cb, err := b.GetExtensionBlockByBlockNumber(num)
		if err != nil {
			continue // already removed by an earlier action in this pass
		}
		if err := processSecurityBlock(b, cb, Confidentiality, ctx, store, secCtx, eventSets, retention, defaultEventSet, result); err != nil {
			return result, err
		}
	}
	for _, num := range bibNumbers {
		cb, err := b.GetExtensionBlockByBlockNumber(num)
		if err != nil {
			continue
		}
		if err := processSecurityBlock(b, cb, Integrity, ctx, store, secCtx, eventSets, retention, defaultEventSet, result); err != nil {
			return result, err
		}
	}

	return result, nil
}

// securityBlockView abstracts over BCBIOPAESGCM/BIBIOPHMACSHA2 so
// processSecurityBlock can handle both uniformly.
type securityBlockView struct {
	asb     *bpv7.AbstractSecurityBlock
	verify  func(privateKey []byte) error
	decrypt func(privateKey []byte) error // nil for BIB
}

func viewOf(cb *bpv7.CanonicalBlock, b *bpv7.Bundle) (securityBlockView, error) {
	switch v := cb.Value.(type) {
	case *bpv7.BCBIOPAESGCM:
		return securityBlockView{
			asb: &v.Asb,
			verify: func(key []byte) error {
				return v.DecryptTarget(*b, cb.BlockNumber, key)
			},
			decrypt: func(key []byte) error {
				return v.DecryptTarget(*b, cb.BlockNumber, key)
			},
		}, nil

	case *bpv7.BIBIOPHMACSHA2:
		return securityBlockView{
			asb: &v.Asb,
			verify: func(key []byte) error {
				return v.VerifyTargets(*b, cb.BlockNumber, key)
			},
		}, nil

	default:
		return securityBlockView{}, fmt.Errorf("bpsec: block number %d is not a recognized security block", cb.BlockNumber)
	}
}

func processSecurityBlock(b *bpv7.Bundle, cb *bpv7.CanonicalBlock, service Service, ctx *ProcessingContext, store *Store,
	secCtx *SecurityContextRegistry, eventSets *EventSetRegistry, retention *RetentionStore, defaultEventSet string, result *ProcessResult) error {

	view, err := viewOf(cb, b)
	if err != nil {
		return err
	}

	securitySource, ok := EIDFromEndpoint(view.asb.SecuritySource)
	if !ok {
		return nil
	}
	bundleSrc, _ := EIDFromEndpoint(b.PrimaryBlock.SourceNode)
	bundleDst, _ := EIDFromEndpoint(b.PrimaryBlock.Destination)

	acceptorPolicy := ctx.Cache.FindWithCache(store, securitySource, bundleSrc, bundleDst, Acceptor)
	policy := acceptorPolicy
	role := Acceptor
	if policy == nil {
		policy = store.Find(securitySource, bundleSrc, bundleDst, Verifier)
		role = Verifier
	}

	if policy == nil {
		log.WithFields(log.Fields{
			"bundle":         b.ID(),
			"securitySource": securitySource,
		}).Warn("No Acceptor or Verifier policy matches security block, dropping via default event set")
		return fireDefaultMissing(eventSets, defaultEventSet, b, cb, result)
	}

	if policy.Service != service {
		logger := log.WithFields(log.Fields{"bundle": b.ID(), "policy": policy.Key})
		logger.Warn("Matched policy's service disagrees with the security block kind")
		return fireEvent(eventSets, policy.EventSetRef, misconfiguredEventFor(role), b, cb, result, retention)
	}

	key, err := secCtx.LoadKey(ContextName(policy.ContextID), policy.ContextParams, policy.ContextParams.KeyFile)
	if err != nil {
		return fireEvent(eventSets, policy.EventSetRef, misconfiguredEventFor(role), b, cb, result, retention)
	}

	var opErr error
	switch role {
	case Acceptor:
		if view.decrypt != nil {
			opErr = view.decrypt(key)
		} else {
			opErr = view.verify(key)
		}
	case Verifier:
		opErr = view.verify(key)
	}

	if opErr != nil {
		log.WithFields(log.Fields{"bundle": b.ID(), "policy": policy.Key}).WithError(opErr).Warn("Security operation failed")
		return fireEvent(eventSets, policy.EventSetRef, corruptedEventFor(role), b, cb, result, retention)
	}

	if role == Acceptor {
		for _, targetNumber := range append([]uint64(nil), view.asb.SecurityTargets...) {
			empty := view.asb.RemoveTarget(targetNumber)
			if service == Confidentiality {
				if tb, err := b.GetExtensionBlockByBlockNumber(targetNumber); err == nil {
					tb.IsEncrypted = false
				}
			}
			if empty {
				b.RemoveExtensionBlockByBlockNumber(cb.BlockNumber)
				break
			}
		}
	}

	return nil
}

func misconfiguredEventFor(role Role) EventID {
	if role == Acceptor {
		return SopMisconfiguredAtAcceptor
	}
	return SopMisconfiguredAtVerifier
}

func corruptedEventFor(role Role) EventID {
	if role == Acceptor {
		return SopCorruptedAtAcceptor
	}
	// spec.md §4.7 step 4 only names sopCorrupted… "if defined" for a
	// Verifier; no distinct identifier exists in the closed event set, so
	// a Verifier-side corruption also routes through the Acceptor event
	// name when present in the policy's EventSet.
	return SopCorruptedAtAcceptor
}

func fireDefaultMissing(eventSets *EventSetRegistry, defaultEventSet string, b *bpv7.Bundle, cb *bpv7.CanonicalBlock, result *ProcessResult) error {
	if defaultEventSet == "" {
		return nil
	}
	return fireEvent(eventSets, defaultEventSet, SopMissingAtAcceptor, b, cb, result, nil)
}

// fireEvent resolves setName's EventSet and applies its actions for id, in
// declared order, per the effect table in spec.md §4.7.
func fireEvent(eventSets *EventSetRegistry, setName string, id EventID, b *bpv7.Bundle, cb *bpv7.CanonicalBlock, result *ProcessResult, retention *RetentionStore) error {
	if setName == "" {
		return nil
	}
	es, err := eventSets.Resolve(setName)
	if err != nil {
		log.WithError(err).Warn("Cannot resolve EventSet for fired event")
		return nil
	}

	actions := es.ActionsFor(id)
	if len(actions) == 0 {
		return nil
	}

	log.WithFields(log.Fields{"event": id, "eventSet": setName, "bundle": b.ID()}).Info("Applying security event actions")

	cbNumber := cb.BlockNumber

	for _, action := range actions {
		// Re-fetch cb fresh before every action: an earlier action in this
		// same loop may have removed a block positioned ahead of cb in
		// b.CanonicalBlocks, which shifts the backing array in place and
		// would leave cb pointing at the wrong element.
		current, err := b.GetExtensionBlockByBlockNumber(cbNumber)
		if err != nil {
			break // the security block itself was removed by an earlier action
		}
		cb = current

		switch action.Kind {
		case ActionRemoveSecurityOperation:
			removeSecurityOperation(b, cb)

		case ActionRemoveSecurityOperationTargetBlock:
			removeSecurityOperationTargetBlock(b, cb)

		case ActionRemoveAllSecurityTargetOperations:
			removeAllSecurityTargetOperations(b, cb)

		case ActionDoNotForwardBundle:
			result.Undeliverable = true

		case ActionFailBundleForwarding:
			result.Outcome = Drop

		case ActionRequestBundleStorage:
			if retention != nil {
				if err := retention.Retain(*b, fmt.Sprintf("event %s fired", id)); err != nil {
					log.WithError(err).Warn("Failed to retain bundle for requestBundleStorage action")
				}
			}

		case ActionReportReasonCode:
			report := bpv7.NewStatusReport(*b, bpv7.DeletedBundle, bpv7.SecurityPolicyViolated, bpv7.DtnTimeNow())
			result.Reports = append(result.Reports, report)

		case ActionOverrideSecurityTargetBlockBpcf:
			for i := range b.CanonicalBlocks {
				if asbTargets(cb).contains(b.CanonicalBlocks[i].BlockNumber) {
					b.CanonicalBlocks[i].BlockControlFlags = bpv7.BlockControlFlags(action.Bpcf)
				}
			}

		case ActionOverrideSopBpcf:
			cb.BlockControlFlags = bpv7.BlockControlFlags(action.Bpcf)
		}
	}

	return nil
}

type targetSet []uint64

func (ts targetSet) contains(n uint64) bool {
	for _, t := range ts {
		if t == n {
			return true
		}
	}
	return false
}

func asbTargets(cb *bpv7.CanonicalBlock) targetSet {
	switch v := cb.Value.(type) {
	case *bpv7.BCBIOPAESGCM:
		return v.Asb.SecurityTargets
	case *bpv7.BIBIOPHMACSHA2:
		return v.Asb.SecurityTargets
	default:
		return nil
	}
}

// removeSecurityOperation drops every SecurityTargets/SecurityResults
// entry from cb's ASB; if that empties it, removes the ASB's canonical
// block too.
func removeSecurityOperation(b *bpv7.Bundle, cb *bpv7.CanonicalBlock) {
	targets := append(targetSet(nil), asbTargets(cb)...)
	empty := false
	switch v := cb.Value.(type) {
	case *bpv7.BCBIOPAESGCM:
		for _, t := range targets {
			empty = v.Asb.RemoveTarget(t)
		}
	case *bpv7.BIBIOPHMACSHA2:
		for _, t := range targets {
			empty = v.Asb.RemoveTarget(t)
		}
	}
	if empty {
		b.RemoveExtensionBlockByBlockNumber(cb.BlockNumber)
	}
}

// removeSecurityOperationTargetBlock removes cb's ASB's target block(s)
// from the bundle entirely, along with their ASB entries.
func removeSecurityOperationTargetBlock(b *bpv7.Bundle, cb *bpv7.CanonicalBlock) {
	targets := append(targetSet(nil), asbTargets(cb)...)
	removeSecurityOperation(b, cb)
	for _, t := range targets {
		b.RemoveExtensionBlockByBlockNumber(t)
	}
}

// removeAllSecurityTargetOperations removes every ASB entry across every
// BCB/BIB on the bundle that names one of cb's target blocks.
func removeAllSecurityTargetOperations(b *bpv7.Bundle, cb *bpv7.CanonicalBlock) {
	targets := append(targetSet(nil), asbTargets(cb)...)

	for i := range b.CanonicalBlocks {
		other := &b.CanonicalBlocks[i]
		switch v := other.Value.(type) {
		case *bpv7.BCBIOPAESGCM:
			for _, t := range targets {
				v.Asb.RemoveTarget(t)
			}
		case *bpv7.BIBIOPHMACSHA2:
			for _, t := range targets {
				v.Asb.RemoveTarget(t)
			}
		}
	}
}
