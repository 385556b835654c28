// SPDX-FileCopyrightText: 2020 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
	"github.com/hashicorp/go-multierror"
)

// IDValueTuple is a (id, value) pair as used in an Abstract Security
// Block's SecurityContextParameters and TargetSecurityResults, where value
// may be either a byte string or an unsigned integer.
type IDValueTuple interface {
	ID() uint64
	Value() interface{}
	cboring.CborMarshaler
}

type IDValueTupleByteString struct {
	id    uint64
	value []byte
}

func (idvtbs *IDValueTupleByteString) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}

	if err := cboring.WriteUInt(idvtbs.id, w); err != nil {
		return err
	}

	return cboring.WriteByteString(idvtbs.value, w)
}

func (idvtbs *IDValueTupleByteString) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 2 {
		return fmt.Errorf("wrong array length: %d instead of 2", l)
	}

	if id, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		idvtbs.id = id
	}

	if result, err := cboring.ReadByteString(r); err != nil {
		return err
	} else {
		idvtbs.value = result
	}

	return nil
}

func (idvtbs IDValueTupleByteString) ID() uint64         { return idvtbs.id }
func (idvtbs IDValueTupleByteString) Value() interface{} { return idvtbs.value }

type IDValueTupleUInt64 struct {
	id    uint64
	value uint64
}

func (idvtuint64 *IDValueTupleUInt64) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}

	if err := cboring.WriteUInt(idvtuint64.id, w); err != nil {
		return err
	}

	return cboring.WriteUInt(idvtuint64.value, w)
}

func (idvtuint64 *IDValueTupleUInt64) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 2 {
		return fmt.Errorf("wrong array length: %d instead of 2", l)
	}

	if id, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		idvtuint64.id = id
	}

	if value, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		idvtuint64.value = value
	}

	return nil
}

func (idvtuint64 IDValueTupleUInt64) ID() uint64         { return idvtuint64.id }
func (idvtuint64 IDValueTupleUInt64) Value() interface{} { return idvtuint64.value }

// TargetSecurityResults implements the security results array described in
// RFC 9172 section 3.6.
type TargetSecurityResults struct {
	securityTarget uint64
	results        []IDValueTuple
}

func (tsr *TargetSecurityResults) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return fmt.Errorf("TargetSecurityResults MarshalCbor failed: %v", err)
	}

	if err := cboring.WriteUInt(tsr.securityTarget, w); err != nil {
		return fmt.Errorf("TargetSecurityResults MarshalCbor failed: %v", err)
	}

	if err := cboring.WriteArrayLength(uint64(len(tsr.results)), w); err != nil {
		return fmt.Errorf("TargetSecurityResults MarshalCbor failed: %v", err)
	}
	for i := 0; i < len(tsr.results); i++ {
		if err := cboring.Marshal(tsr.results[i], w); err != nil {
			return fmt.Errorf("TargetSecurityResults MarshalCbor failed: %v", err)
		}
	}

	return nil
}

func (tsr *TargetSecurityResults) UnmarshalCbor(r io.Reader) error {
	arrayLength, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	} else if arrayLength != 2 {
		return fmt.Errorf("TargetSecurityResults has %d elements, instead of 2", arrayLength)
	}

	if st, err := cboring.ReadUInt(r); err != nil {
		return fmt.Errorf("SecurityTarget UnmarshalCbor failed: %v", err)
	} else {
		tsr.securityTarget = st
	}

	resultCount, err := cboring.ReadArrayLength(r)
	if err != nil {
		return fmt.Errorf("TargetSecurityResults failed to unmarshal results: %v", err)
	}

	for i := uint64(0); i < resultCount; i++ {
		result := IDValueTupleByteString{}
		if err := cboring.Unmarshal(&result, r); err != nil {
			return fmt.Errorf("TargetSecurityResults UnmarshalCbor failed: %v", err)
		}
		tsr.results = append(tsr.results, &result)
	}

	return nil
}

// SecurityContextParametersPresentFlag is the bit which is set if the
// AbstractSecurityBlock has SecurityContextParameters.
const SecurityContextParametersPresentFlag = 0b01

// AbstractSecurityBlock implements the Abstract Security Block (ASB) data
// structure described in RFC 9172 section 3.6. Both the Block Integrity
// Block and Block Confidentiality Block wrap one of these.
type AbstractSecurityBlock struct {
	SecurityTargets                      []uint64
	SecurityContextID                    uint64
	SecurityContextParametersPresentFlag uint64
	SecuritySource                       EndpointID
	SecurityContextParameters            []IDValueTuple
	SecurityResults                      []TargetSecurityResults
}

func (asb *AbstractSecurityBlock) HasSecurityContextParametersPresentContextFlag() bool {
	return asb.SecurityContextParametersPresentFlag&SecurityContextParametersPresentFlag != 0
}

// SecurityTarget returns the block number this TargetSecurityResults entry was computed for.
func (tsr TargetSecurityResults) SecurityTarget() uint64 {
	return tsr.securityTarget
}

// Results returns this TargetSecurityResults entry's IDValueTuples, e.g. an
// authentication tag or expected HMAC.
func (tsr TargetSecurityResults) Results() []IDValueTuple {
	return tsr.results
}

// RemoveTarget drops the SecurityTargets entry and corresponding
// SecurityResults entry for the given target block number, if present. It
// reports whether the AbstractSecurityBlock now targets no blocks at all,
// letting a caller decide whether the enclosing BIB/BCB canonical block
// itself must be removed.
func (asb *AbstractSecurityBlock) RemoveTarget(blockNumber uint64) (empty bool) {
	for i, target := range asb.SecurityTargets {
		if target == blockNumber {
			asb.SecurityTargets = append(asb.SecurityTargets[:i], asb.SecurityTargets[i+1:]...)
			break
		}
	}
	for i, tsr := range asb.SecurityResults {
		if tsr.securityTarget == blockNumber {
			asb.SecurityResults = append(asb.SecurityResults[:i], asb.SecurityResults[i+1:]...)
			break
		}
	}
	return len(asb.SecurityTargets) == 0
}

func (asb *AbstractSecurityBlock) MarshalCbor(w io.Writer) error {
	var blockLen uint64 = 5

	hasParams := asb.HasSecurityContextParametersPresentContextFlag()
	if hasParams {
		blockLen++
	}

	if err := cboring.WriteArrayLength(blockLen, w); err != nil {
		return err
	}

	if err := cboring.WriteArrayLength(uint64(len(asb.SecurityTargets)), w); err != nil {
		return err
	}
	for _, securityTarget := range asb.SecurityTargets {
		if err := cboring.WriteUInt(securityTarget, w); err != nil {
			return err
		}
	}

	if err := cboring.WriteUInt(asb.SecurityContextID, w); err != nil {
		return err
	}

	if err := cboring.WriteUInt(asb.SecurityContextParametersPresentFlag, w); err != nil {
		return err
	}

	if err := asb.SecuritySource.MarshalCbor(w); err != nil {
		return err
	}

	if hasParams {
		if err := cboring.WriteArrayLength(uint64(len(asb.SecurityContextParameters)), w); err != nil {
			return err
		}
		for _, param := range asb.SecurityContextParameters {
			if err := param.MarshalCbor(w); err != nil {
				return err
			}
		}
	}

	if err := cboring.WriteArrayLength(uint64(len(asb.SecurityResults)), w); err != nil {
		return err
	}
	for _, result := range asb.SecurityResults {
		if err := result.MarshalCbor(w); err != nil {
			return err
		}
	}

	return nil
}

func (asb *AbstractSecurityBlock) UnmarshalCbor(r io.Reader) error {
	blength := uint64(0)

	if bl, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if bl != 5 && bl != 6 {
		return fmt.Errorf("expected array with length 5 or 6, got %d", bl)
	} else {
		blength = bl
	}

	if targetCount, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else {
		for i := uint64(0); i < targetCount; i++ {
			if st, err := cboring.ReadUInt(r); err != nil {
				return err
			} else {
				asb.SecurityTargets = append(asb.SecurityTargets, st)
			}
		}
	}

	if scid, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		asb.SecurityContextID = scid
	}

	if scf, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		asb.SecurityContextParametersPresentFlag = scf
	}

	if err := cboring.Unmarshal(&asb.SecuritySource, r); err != nil {
		return err
	}

	if asb.HasSecurityContextParametersPresentContextFlag() {
		if blength != 6 {
			return fmt.Errorf("expected array with length 6, got %d", blength)
		}

		var err error
		r, err = asb.UnmarshalCborSecurityParameters(r)
		if err != nil {
			return fmt.Errorf("SecurityBlock failed to unmarshal SecurityContextParameters: %v", err)
		}
	}

	arrayLength, err := cboring.ReadArrayLength(r)
	if err != nil {
		return fmt.Errorf("SecurityBlock failed to unmarshal SecurityResults: %v", err)
	}
	for i := uint64(0); i < arrayLength; i++ {
		tsr := TargetSecurityResults{}
		if err := cboring.Unmarshal(&tsr, r); err != nil {
			return fmt.Errorf("SecurityBlock failed to unmarshal SecurityResults: %v", err)
		}
		asb.SecurityResults = append(asb.SecurityResults, tsr)
	}

	return asb.CheckValid()
}

// CheckValid checks the MUST / MUST NOT constraints of RFC 9172 section 3.6.
func (asb *AbstractSecurityBlock) CheckValid() (errs error) {
	if len(asb.SecurityTargets) == 0 {
		errs = multierror.Append(errs, errors.New("not at least 1 entry in Security Targets"))
	}

	duplicateExists, duplicates := func() (bool, []uint64) {
		seen := map[uint64]bool{}
		var dups []uint64

		for _, target := range asb.SecurityTargets {
			if seen[target] {
				dups = append(dups, target)
			} else {
				seen[target] = true
			}
		}

		return len(dups) != 0, dups
	}()

	if duplicateExists {
		errs = multierror.Append(errs, fmt.Errorf(
			"duplicate Security Target entries exist for block number(s): %v", duplicates))
	}

	if len(asb.SecurityResults) != len(asb.SecurityTargets) {
		errs = multierror.Append(errs, fmt.Errorf(
			"number of entries in SecurityResults and SecurityTargets is not equal, #Targets: %v #TargetResultSets: %v, could not check ordering",
			len(asb.SecurityTargets), len(asb.SecurityResults)))
	} else {
		orderMismatch := func() bool {
			for i, tsr := range asb.SecurityResults {
				if tsr.securityTarget != asb.SecurityTargets[i] {
					return true
				}
			}
			return false
		}()

		if orderMismatch {
			errs = multierror.Append(errs, errors.New(
				"ordering of Security Targets and associated Security Results does not match"))
		}
	}

	if asb.HasSecurityContextParametersPresentContextFlag() {
		if len(asb.SecurityContextParameters) == 0 {
			errs = multierror.Append(errs, errors.New(
				"security block has the Security Context Parameters Present Context Flag (0x01) set, but no Security Parameter Context Field is present"))
		}
	} else if len(asb.SecurityContextParameters) != 0 {
		errs = multierror.Append(errs, errors.New(
			"security block has the Security Context Parameters Present Context Flag (0x01) not set, but the Security Parameter Context Field is present"))
	}

	if err := asb.SecuritySource.CheckValid(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs
}

// UnmarshalCborSecurityParameters reads the SecurityContextParameters array.
// Each IDValueTuple's value may be a byte string or an unsigned integer, so
// the concrete type must be determined by peeking the value's major type.
// Since the underlying reader must not be consumed ahead of the actual
// unmarshalling, a buffered copy is peeked instead and the unconsumed
// remainder is handed back as the continuation reader.
func (asb *AbstractSecurityBlock) UnmarshalCborSecurityParameters(r io.Reader) (rr io.Reader, err error) {
	arrayLengthParameters, err := cboring.ReadArrayLength(r)
	if err != nil {
		return nil, err
	} else if arrayLengthParameters > 3 {
		return nil, fmt.Errorf("wrong array length: %d instead of max 3", arrayLengthParameters)
	}

	bufferedReader := bufio.NewReader(r)

	for i := uint64(0); i < arrayLengthParameters; i++ {
		peekForID, _ := bufferedReader.Peek(bufferedReader.Size())
		peekReader := bytes.NewReader(peekForID)

		if _, err := cboring.ReadArrayLength(peekReader); err != nil {
			return nil, fmt.Errorf("SecurityContextParameter UnmarshalCbor failed reading array length: %v", err)
		}
		if _, err := cboring.ReadUInt(peekReader); err != nil {
			return nil, fmt.Errorf("SecurityContextParameter UnmarshalCbor failed reading ID: %v", err)
		}

		valueMajorType, _, err := cboring.ReadMajors(peekReader)
		if err != nil {
			return nil, fmt.Errorf("SecurityContextParameter UnmarshalCbor failed reading major type: %v", err)
		}

		securityParameter := func() IDValueTuple {
			if valueMajorType == cboring.ByteString {
				return &IDValueTupleByteString{}
			} else if valueMajorType == cboring.UInt {
				return &IDValueTupleUInt64{}
			}
			return nil
		}()

		if err := cboring.Unmarshal(securityParameter, bufferedReader); err != nil {
			return nil, fmt.Errorf("SecurityContextParameter UnmarshalCbor failed: %v", err)
		}
		asb.SecurityContextParameters = append(asb.SecurityContextParameters, securityParameter)
	}

	restOfBufferedReader, _ := io.ReadAll(bufferedReader)
	rr = bytes.NewReader(restOfBufferedReader)

	return rr, nil
}
