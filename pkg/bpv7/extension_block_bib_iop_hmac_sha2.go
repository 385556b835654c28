// SPDX-FileCopyrightText: 2020 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"fmt"
	"hash"
	"io"

	"github.com/dtn7/cboring"
	"github.com/hashicorp/go-multierror"
)

// BIBIOPHMACSHA2 implements the Block Integrity Block using the
// BIB-HMAC-SHA2 security context of RFC 9173 section 3.
type BIBIOPHMACSHA2 struct {
	Asb AbstractSecurityBlock
}

// BIB-HMAC-SHA2 security parameter identifiers.
const (
	SecParIdBIBIOPHMACSHA2ShaVariant          uint64 = 1
	SecParIdBIBIOPHMACSHA2WrappedKey          uint64 = 2
	SecParIdBIBIOPHMACSHA2IntegrityScopeFlags uint64 = 3
)

// SecConResultIDBIBIOPHMACSHA2ExpectedHMAC is the BIB-HMAC-SHA2 result identifier.
const SecConResultIDBIBIOPHMACSHA2ExpectedHMAC uint64 = 1

// SHA variant parameter values for BIB-HMAC-SHA2.
const (
	HMAC256SHA256 uint64 = 5 // default
	HMAC384SHA384 uint64 = 6
	HMAC512SHA512 uint64 = 7
)

// Integrity scope flags select which canonical forms feed the IPPT, per
// RFC 9173 section 3.7. Default 0b111.
const (
	BIBIOPHMACDefaultIntegrityScopeFlags uint16 = 0b111
	PrimaryBlockFlagBIBIOPHMAC           uint16 = 0b001
	TargetHeaderFlagBIBIOPHMAC           uint16 = 0b010
	SecurityHeaderFlagBIBIOPHMAC         uint16 = 0b100
)

func (bib *BIBIOPHMACSHA2) BlockTypeCode() uint64 { return ExtBlockTypeBlockIntegrityBlock }
func (bib *BIBIOPHMACSHA2) BlockTypeName() string { return SecConNameBIBIOPHMACSHA }

func (bib *BIBIOPHMACSHA2) MarshalCbor(w io.Writer) error {
	return bib.Asb.MarshalCbor(w)
}

func (bib *BIBIOPHMACSHA2) UnmarshalCbor(r io.Reader) error {
	return bib.Asb.UnmarshalCbor(r)
}

func (bib *BIBIOPHMACSHA2) CheckValid() error {
	return bib.Asb.CheckValid()
}

// CheckContextValid checks bib.CheckValid plus the constraint, needing the
// enclosing Bundle, that every security target names a block actually
// present on the bundle.
func (bib *BIBIOPHMACSHA2) CheckContextValid(b *Bundle) (errs error) {
	if err := bib.CheckValid(); err != nil {
		errs = multierror.Append(errs, err)
	}

	for _, target := range bib.Asb.SecurityTargets {
		if _, err := b.GetExtensionBlockByBlockNumber(target); err != nil {
			errs = multierror.Append(errs, fmt.Errorf(
				"BIBIOPHMACSHA2: security target block number %d does not exist in this bundle", target))
		}
	}

	return errs
}

// NewBIBIOPHMACSHA2 creates a BIBIOPHMACSHA2 targeting the given blocks. Any
// of shaVariant, wrappedKey and integrityScopeFlags may be nil to omit that
// optional security parameter and fall back to its RFC 9173 default.
func NewBIBIOPHMACSHA2(shaVariant *uint64, wrappedKey *[]byte, integrityScopeFlags *uint16,
	securityTargets []uint64, securitySource EndpointID) *BIBIOPHMACSHA2 {
	securityContextParametersPresentFlag := uint64(0)
	if shaVariant != nil || wrappedKey != nil || integrityScopeFlags != nil {
		securityContextParametersPresentFlag = 1
	}

	var securityContextParameters []IDValueTuple

	if shaVariant != nil {
		securityContextParameters = append(securityContextParameters, &IDValueTupleUInt64{
			id:    SecParIdBIBIOPHMACSHA2ShaVariant,
			value: *shaVariant,
		})
	}

	if wrappedKey != nil {
		securityContextParameters = append(securityContextParameters, &IDValueTupleByteString{
			id:    SecParIdBIBIOPHMACSHA2WrappedKey,
			value: *wrappedKey,
		})
	}

	if integrityScopeFlags != nil {
		securityContextParameters = append(securityContextParameters, &IDValueTupleUInt64{
			id:    SecParIdBIBIOPHMACSHA2IntegrityScopeFlags,
			value: uint64(*integrityScopeFlags),
		})
	}

	securityResults := make([]TargetSecurityResults, len(securityTargets))
	for i, target := range securityTargets {
		securityResults[i] = TargetSecurityResults{securityTarget: target, results: []IDValueTuple{}}
	}

	return &BIBIOPHMACSHA2{Asb: AbstractSecurityBlock{
		SecurityTargets:                      securityTargets,
		SecurityContextID:                    SecConIdentBIBIOPHMACSHA,
		SecurityContextParametersPresentFlag: securityContextParametersPresentFlag,
		SecuritySource:                       securitySource,
		SecurityContextParameters:            securityContextParameters,
		SecurityResults:                      securityResults,
	}}
}

// prepareIPPT constructs the Integrity Protected Plain Text per RFC 9173 section 3.7.
func (bib *BIBIOPHMACSHA2) prepareIPPT(b Bundle, securityTargetBlockNumber, bibBlockNumber uint64) (ippt *bytes.Buffer, err error) {
	ippt = &bytes.Buffer{}

	integrityScopeFlag := BIBIOPHMACDefaultIntegrityScopeFlags

	securityTargetBlock, err := b.GetExtensionBlockByBlockNumber(securityTargetBlockNumber)
	if err != nil {
		return nil, err
	}

	if bib.Asb.HasSecurityContextParametersPresentContextFlag() {
		for _, scp := range bib.Asb.SecurityContextParameters {
			if scp.ID() == SecParIdBIBIOPHMACSHA2IntegrityScopeFlags {
				integrityScopeFlag = uint16(scp.Value().(uint64))
			}
		}
	}

	// 1. The canonical form of the IPPT starts with the integrity scope flags.
	if err = cboring.WriteUInt(uint64(integrityScopeFlag), ippt); err != nil {
		return nil, err
	}

	// 2. Primary block flag: append the primary block's canonical form.
	if integrityScopeFlag&PrimaryBlockFlagBIBIOPHMAC == PrimaryBlockFlagBIBIOPHMAC {
		if err = b.PrimaryBlock.MarshalCbor(ippt); err != nil {
			return nil, err
		}
	}

	// 3. Target header flag: append the target's block type code, number and flags.
	if integrityScopeFlag&TargetHeaderFlagBIBIOPHMAC == TargetHeaderFlagBIBIOPHMAC {
		if err = cboring.WriteUInt(securityTargetBlock.TypeCode(), ippt); err != nil {
			return nil, err
		}
		if err = cboring.WriteUInt(securityTargetBlock.BlockNumber, ippt); err != nil {
			return nil, err
		}
		if err = cboring.WriteUInt(uint64(securityTargetBlock.BlockControlFlags), ippt); err != nil {
			return nil, err
		}
	}

	// 4. Security header flag: append the BIB's own block type code, number and flags.
	if integrityScopeFlag&SecurityHeaderFlagBIBIOPHMAC == SecurityHeaderFlagBIBIOPHMAC {
		if err = cboring.WriteUInt(bib.BlockTypeCode(), ippt); err != nil {
			return nil, err
		}
		if err = cboring.WriteUInt(bibBlockNumber, ippt); err != nil {
			return nil, err
		}

		bibCanonicalBlock, err := b.ExtensionBlock(bib.BlockTypeCode())
		if err != nil {
			return nil, err
		}

		if err = cboring.WriteUInt(bibCanonicalBlock.BlockNumber, ippt); err != nil {
			return nil, err
		}
		if err = cboring.WriteUInt(uint64(bibCanonicalBlock.BlockControlFlags), ippt); err != nil {
			return nil, err
		}
	}

	// 5. The canonical form of the target's block-type-specific data.
	if err = GetExtensionBlockManager().WriteBlock(securityTargetBlock.Value, ippt); err != nil {
		return nil, err
	}

	return ippt, nil
}

// calculateSecurityResultValues computes the HMAC over every security target.
func (bib *BIBIOPHMACSHA2) calculateSecurityResultValues(b Bundle, bibBlockNumber uint64, privateKey []byte) (*[]*[]byte, error) {
	shaVariantParameter := func() *uint64 {
		for _, scp := range bib.Asb.SecurityContextParameters {
			if scp.ID() == SecParIdBIBIOPHMACSHA2ShaVariant {
				v := scp.Value().(uint64)
				return &v
			}
		}
		return nil
	}()

	var shaVariant func() hash.Hash
	if shaVariantParameter == nil {
		shaVariant = sha256.New
	} else {
		switch *shaVariantParameter {
		case HMAC384SHA384:
			shaVariant = sha512.New384
		case HMAC512SHA512:
			shaVariant = sha512.New
		default:
			shaVariant = sha256.New
		}
	}

	h := hmac.New(shaVariant, privateKey)

	results := make([]*[]byte, len(bib.Asb.SecurityTargets))

	for i, securityTargetBlockNumber := range bib.Asb.SecurityTargets {
		ippt, err := bib.prepareIPPT(b, securityTargetBlockNumber, bibBlockNumber)
		if err != nil {
			return nil, err
		}

		if _, err := h.Write(ippt.Bytes()); err != nil {
			return nil, err
		}

		targetResult := h.Sum(nil)
		results[i] = &targetResult

		h.Reset()
	}

	return &results, nil
}

// SignTargets computes and appends an HMAC SecurityResult for every target in this BIB.
func (bib *BIBIOPHMACSHA2) SignTargets(b Bundle, bibBlockNumber uint64, privateKey []byte) error {
	securityResultValues, err := bib.calculateSecurityResultValues(b, bibBlockNumber, privateKey)
	if err != nil {
		return err
	}

	for i, resultValue := range *securityResultValues {
		bib.Asb.SecurityResults[i].results = append(bib.Asb.SecurityResults[i].results, &IDValueTupleByteString{
			id:    SecConResultIDBIBIOPHMACSHA2ExpectedHMAC,
			value: *resultValue,
		})
	}

	return nil
}

// VerifyTargets recomputes the HMAC for every target and compares it, in
// constant time, against the attached SecurityResult.
func (bib *BIBIOPHMACSHA2) VerifyTargets(b Bundle, bibBlockNumber uint64, privateKey []byte) error {
	securityResultValues, err := bib.calculateSecurityResultValues(b, bibBlockNumber, privateKey)
	if err != nil {
		return err
	}

	for i, resultValue := range *securityResultValues {
		var resultToVerify []byte

		for _, targetResults := range bib.Asb.SecurityResults[i].results {
			if targetResults.ID() == SecConResultIDBIBIOPHMACSHA2ExpectedHMAC {
				resultToVerify = targetResults.Value().([]byte)
			}
		}

		if resultToVerify == nil {
			return fmt.Errorf("could not find SecurityResult with result ID %d for security target with block number %d in BIB with block number %d",
				SecConResultIDBIBIOPHMACSHA2ExpectedHMAC, bib.Asb.SecurityTargets[i], bibBlockNumber)
		}

		if subtle.ConstantTimeCompare(*resultValue, resultToVerify) != 1 {
			return fmt.Errorf("could not verify HMAC for security target with block number %d in BIB with block number %d, found %x expected %x",
				bib.Asb.SecurityTargets[i], bibBlockNumber, *resultValue, resultToVerify)
		}
	}

	return nil
}
