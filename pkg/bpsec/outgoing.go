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

// ProcessOutgoing is the Outgoing Processor (C6): it scans b's canonical
// blocks for a Source-role policy matching (localSecuritySource, b's
// source, b's destination) and, for every present block whose type code is
// declared a target, attaches a BCB or BIB security block per the
// policy's service. A missing key returns the error before b is changed.
// A crypto failure returns the error with the new security block already
// attached to b, and for a BCB with any earlier targets already encrypted;
// the caller must not emit it.
func ProcessOutgoing(b *bpv7.Bundle, ctx *ProcessingContext, store *Store, secCtx *SecurityContextRegistry, localSecuritySource EID) error {
	bundleSrc, ok := EIDFromEndpoint(b.PrimaryBlock.SourceNode)
	if !ok {
		return nil
	}
	bundleDst, ok := EIDFromEndpoint(b.PrimaryBlock.Destination)
	if !ok {
		return nil
	}

	policy := ctx.Cache.FindWithCache(store, localSecuritySource, bundleSrc, bundleDst, Source)
	if policy == nil {
		log.WithFields(log.Fields{
			"securitySource": localSecuritySource,
			"bundle":         b.ID(),
		}).Debug("No Source policy matches outgoing bundle")
		return nil
	}

	// Collect target block numbers, not *CanonicalBlock pointers: attaching
	// a BCB/BIB appends to b.CanonicalBlocks, which can reallocate or
	// reorder the backing slice via AddExtensionBlock's sortBlocks call, so
	// any pointer held across that call is unsafe to dereference afterward.
	var targetNumbers []uint64
	for i := range b.CanonicalBlocks {
		if policy.TargetsBlockType(b.CanonicalBlocks[i].TypeCode()) {
			targetNumbers = append(targetNumbers, b.CanonicalBlocks[i].BlockNumber)
		}
	}
	if len(targetNumbers) == 0 {
		return nil
	}

	key, err := secCtx.LoadKey(ContextName(policy.ContextID), policy.ContextParams, policy.ContextParams.KeyFile)
	if err != nil {
		return err
	}

	securitySourceEndpoint := localSecuritySource.ToEndpoint()

	switch policy.Service {
	case Confidentiality:
		for _, targetNumber := range targetNumbers {
			if err := attachBCB(b, targetNumber, policy, securitySourceEndpoint, key); err != nil {
				return fmt.Errorf("bpsec: outgoing BCB for block %d: %w", targetNumber, err)
			}
		}

	case Integrity:
		if err := attachBIB(b, targetNumbers, policy, securitySourceEndpoint, key); err != nil {
			return fmt.Errorf("bpsec: outgoing BIB: %w", err)
		}
	}

	return nil
}

// addAndLocate appends eb to b and returns the block number AddExtensionBlock
// assigned it. ExtensionBlock(typeCode) cannot be used for this: a bundle
// may carry several blocks of the same BCB/BIB type code (one per target
// under the Confidentiality loop below), so looking back up "the" block of
// that type is ambiguous once a second one exists.
func addAndLocate(b *bpv7.Bundle, eb bpv7.CanonicalBlock) (uint64, error) {
	before := make(map[uint64]struct{}, len(b.CanonicalBlocks))
	for i := range b.CanonicalBlocks {
		before[b.CanonicalBlocks[i].BlockNumber] = struct{}{}
	}

	if err := b.AddExtensionBlock(eb); err != nil {
		return 0, err
	}

	for i := range b.CanonicalBlocks {
		if _, known := before[b.CanonicalBlocks[i].BlockNumber]; !known {
			return b.CanonicalBlocks[i].BlockNumber, nil
		}
	}
	return 0, fmt.Errorf("bpsec: could not locate newly added extension block")
}

func attachBCB(b *bpv7.Bundle, targetNumber uint64, policy *Policy, securitySource bpv7.EndpointID, key []byte) error {
	var aesVariant *uint64
	if policy.ContextParams.AesVariant != 0 {
		v := policy.ContextParams.AesVariant
		aesVariant = &v
	}

	var scopeFlags *uint16
	if policy.ContextParams.ScopeFlags != 0 {
		v := policy.ContextParams.ScopeFlags
		scopeFlags = &v
	}

	bcb := bpv7.NewBCBIOPAESGCM(aesVariant, nil, scopeFlags, targetNumber, securitySource)

	eb := bpv7.NewCanonicalBlock(0, 0, bcb)
	if policy.ContextParams.SecurityBlockCrc != 0 {
		eb.SetCRCType(crcTypeFor(policy.ContextParams.SecurityBlockCrc))
	}

	bcbBlockNumber, err := addAndLocate(b, eb)
	if err != nil {
		return err
	}

	bcbCanonical, err := b.GetExtensionBlockByBlockNumber(bcbBlockNumber)
	if err != nil {
		return err
	}

	if err := bcbCanonical.Value.(*bpv7.BCBIOPAESGCM).EncryptTarget(*b, bcbBlockNumber, key); err != nil {
		return err
	}

	target, err := b.GetExtensionBlockByBlockNumber(targetNumber)
	if err != nil {
		return err
	}
	target.IsEncrypted = true
	return nil
}

func attachBIB(b *bpv7.Bundle, targetNumbers []uint64, policy *Policy, securitySource bpv7.EndpointID, key []byte) error {
	var shaVariant *uint64
	if policy.ContextParams.ShaVariant != 0 {
		v := policy.ContextParams.ShaVariant
		shaVariant = &v
	}

	var scopeFlags *uint16
	if policy.ContextParams.ScopeFlags != 0 {
		v := policy.ContextParams.ScopeFlags
		scopeFlags = &v
	}

	bib := bpv7.NewBIBIOPHMACSHA2(shaVariant, nil, scopeFlags, targetNumbers, securitySource)

	eb := bpv7.NewCanonicalBlock(0, 0, bib)
	if policy.ContextParams.SecurityBlockCrc != 0 {
		eb.SetCRCType(crcTypeFor(policy.ContextParams.SecurityBlockCrc))
	}

	bibBlockNumber, err := addAndLocate(b, eb)
	if err != nil {
		return err
	}

	bibCanonical, err := b.GetExtensionBlockByBlockNumber(bibBlockNumber)
	if err != nil {
		return err
	}

	return bibCanonical.Value.(*bpv7.BIBIOPHMACSHA2).SignTargets(*b, bibBlockNumber, key)
}

func crcTypeFor(bits uint64) bpv7.CRCType {
	switch bits {
	case 16:
		return bpv7.CRC16
	case 32:
		return bpv7.CRC32
	default:
		return bpv7.CRCNo
	}
}
