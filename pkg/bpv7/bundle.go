// SPDX-FileCopyrightText: 2019, 2020, 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dtn7/cboring"
	"github.com/hashicorp/go-multierror"
)

// block is the common surface shared by the PrimaryBlock and every
// CanonicalBlock, letting Bundle-wide operations walk both uniformly.
type block interface {
	Valid
	HasCRC() bool
	GetCRCType() CRCType
	SetCRCType(CRCType)
}

// Bundle represents a whole BPv7 bundle: a PrimaryBlock followed by zero or
// more CanonicalBlocks, one of which must be a PayloadBlock.
type Bundle struct {
	PrimaryBlock    PrimaryBlock
	CanonicalBlocks []CanonicalBlock
}

// NewBundle creates a Bundle from a PrimaryBlock and its CanonicalBlocks,
// validating the result.
func NewBundle(primary PrimaryBlock, canonicals []CanonicalBlock) (b Bundle, err error) {
	b = MustNewBundle(primary, canonicals)
	err = b.CheckValid()
	return
}

// MustNewBundle creates a Bundle like NewBundle, but skips the validity check.
func MustNewBundle(primary PrimaryBlock, canonicals []CanonicalBlock) (b Bundle) {
	b = Bundle{PrimaryBlock: primary, CanonicalBlocks: canonicals}
	b.sortBlocks()
	return
}

// ParseBundle reads a Bundle's CBOR representation from r.
func ParseBundle(r io.Reader) (b Bundle, err error) {
	err = cboring.Unmarshal(&b, r)
	return
}

// WriteBundle writes this Bundle's CBOR representation to w.
func (b *Bundle) WriteBundle(w io.Writer) error {
	return cboring.Marshal(b, w)
}

func (b *Bundle) forEachBlock(f func(block)) {
	f(&b.PrimaryBlock)
	for i := range b.CanonicalBlocks {
		f(&b.CanonicalBlocks[i])
	}
}

// ExtensionBlocks returns every CanonicalBlock with the given block type code.
func (b *Bundle) ExtensionBlocks(blockType uint64) (cbs []*CanonicalBlock, err error) {
	for i := range b.CanonicalBlocks {
		cb := &b.CanonicalBlocks[i]
		if cb.TypeCode() == blockType {
			cbs = append(cbs, cb)
		}
	}

	if len(cbs) == 0 {
		err = fmt.Errorf("no CanonicalBlock with block type %d was found in Bundle", blockType)
	}
	return
}

// ExtensionBlock returns the CanonicalBlock for the requested type code. An
// error is returned if there is no such block, or more than exactly one.
func (b *Bundle) ExtensionBlock(blockType uint64) (*CanonicalBlock, error) {
	cbs, err := b.ExtensionBlocks(blockType)
	if err != nil {
		return nil, err
	} else if l := len(cbs); l != 1 {
		return nil, fmt.Errorf("there are %d Extension Blocks for type code %d", l, blockType)
	}
	return cbs[0], nil
}

func (b *Bundle) HasExtensionBlock(blockType uint64) bool {
	_, err := b.ExtensionBlocks(blockType)
	return err == nil
}

// PayloadBlock returns the bundle's mandatory Payload Block.
func (b *Bundle) PayloadBlock() (*CanonicalBlock, error) {
	return b.ExtensionBlock(ExtBlockTypePayloadBlock)
}

// canonicalBlockNumberSort orders CanonicalBlocks by ascending block number,
// except the Payload Block, which always sorts last despite carrying the
// lowest block number (1), as BPv7 requires it to be the final block.
type canonicalBlockNumberSort []CanonicalBlock

func (s canonicalBlockNumberSort) Len() int      { return len(s) }
func (s canonicalBlockNumberSort) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s canonicalBlockNumberSort) Less(i, j int) bool {
	if s[i].BlockNumber == ExtBlockTypePayloadBlock {
		return false
	} else if s[j].BlockNumber == ExtBlockTypePayloadBlock {
		return true
	}
	return s[i].BlockNumber < s[j].BlockNumber
}

func (b *Bundle) sortBlocks() {
	sort.Sort(canonicalBlockNumberSort(b.CanonicalBlocks))
}

// AddExtensionBlock appends a CanonicalBlock, assigning it a fresh block
// number. Block number 1 is reserved for the PayloadBlock.
func (b *Bundle) AddExtensionBlock(cb CanonicalBlock) error {
	var blockNumbers []uint64
	for i := range b.CanonicalBlocks {
		blockNumbers = append(blockNumbers, b.CanonicalBlocks[i].BlockNumber)
	}

	var blockNumber uint64 = 1
	if cb.Value.BlockTypeCode() != ExtBlockTypePayloadBlock {
		blockNumber = 2
	}

	for {
		free := true
		for _, no := range blockNumbers {
			if blockNumber == no {
				free = false
				break
			}
		}

		if free {
			break
		}
		blockNumber++
	}

	cb.BlockNumber = blockNumber

	b.CanonicalBlocks = append(b.CanonicalBlocks, cb)
	b.sortBlocks()
	return nil
}

// GetExtensionBlockByBlockNumber returns the CanonicalBlock with the given block number.
func (b *Bundle) GetExtensionBlockByBlockNumber(blockNumber uint64) (*CanonicalBlock, error) {
	for i := range b.CanonicalBlocks {
		if b.CanonicalBlocks[i].BlockNumber == blockNumber {
			return &b.CanonicalBlocks[i], nil
		}
	}
	return nil, fmt.Errorf("block with number %d not found", blockNumber)
}

// RemoveExtensionBlockByBlockNumber removes the CanonicalBlock with the given block number, if present.
func (b *Bundle) RemoveExtensionBlockByBlockNumber(blockNumber uint64) {
	for i := range b.CanonicalBlocks {
		if b.CanonicalBlocks[i].BlockNumber == blockNumber {
			b.CanonicalBlocks = append(b.CanonicalBlocks[:i], b.CanonicalBlocks[i+1:]...)
			return
		}
	}
}

// SetCRCType sets the CRCType for the PrimaryBlock and every CanonicalBlock.
func (b *Bundle) SetCRCType(crcType CRCType) {
	b.forEachBlock(func(blk block) {
		blk.SetCRCType(crcType)
	})
}

// ID returns this Bundle's BundleID.
func (b Bundle) ID() BundleID {
	return BundleID{
		SourceNode:      b.PrimaryBlock.SourceNode,
		Timestamp:       b.PrimaryBlock.CreationTimestamp,
		IsFragment:      b.PrimaryBlock.BundleControlFlags.Has(IsFragment),
		FragmentOffset:  b.PrimaryBlock.FragmentOffset,
		TotalDataLength: b.PrimaryBlock.TotalDataLength,
	}
}

func (b Bundle) String() string {
	return b.ID().String()
}

// IsLifetimeExceeded checks this Bundle's Bundle Age Block, if present, or
// its PrimaryBlock's CreationTimestamp and Lifetime otherwise.
func (b Bundle) IsLifetimeExceeded() bool {
	if b.PrimaryBlock.CreationTimestamp.IsZeroTime() {
		bab, err := b.ExtensionBlock(ExtBlockTypeBundleAgeBlock)
		if err != nil {
			return true
		}
		return bab.Value.(*BundleAgeBlock).Age() > b.PrimaryBlock.Lifetime
	}

	maxTimestamp := b.PrimaryBlock.CreationTimestamp.DtnTime().Time().Add(
		time.Duration(b.PrimaryBlock.Lifetime) * time.Millisecond)
	return time.Now().After(maxTimestamp)
}

func (b Bundle) CheckValid() (errs error) {
	b.forEachBlock(func(blk block) {
		if err := blk.CheckValid(); err != nil {
			errs = multierror.Append(errs, err)
		}
	})

	if len(b.CanonicalBlocks) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("Bundle contains no CanonicalBlocks"))
		return
	}

	if b.PrimaryBlock.BundleControlFlags.Has(AdministrativeRecordPayload) || b.PrimaryBlock.SourceNode.String() == DtnNone().String() {
		for _, cb := range b.CanonicalBlocks {
			if cb.BlockControlFlags.Has(StatusReportBlock) {
				errs = multierror.Append(errs, fmt.Errorf(
					"Bundle: payload is an administrative record or source node is omitted, "+
						"but a CanonicalBlock requests a status report on processing failure"))
			}
		}
	}

	cbBlockNumbers := make(map[uint64]bool)
	for _, cb := range b.CanonicalBlocks {
		if cbBlockNumbers[cb.BlockNumber] {
			errs = multierror.Append(errs, fmt.Errorf("Bundle: block number %d occurred multiple times", cb.BlockNumber))
		}
		cbBlockNumbers[cb.BlockNumber] = true

		if err := cb.Value.CheckContextValid(&b); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if last := b.CanonicalBlocks[len(b.CanonicalBlocks)-1].Value.BlockTypeCode(); last != ExtBlockTypePayloadBlock {
		errs = multierror.Append(errs, fmt.Errorf("Bundle: last CanonicalBlock is not a Payload Block, but %d", last))
	}

	var bcbCount, bibCount int
	for _, cb := range b.CanonicalBlocks {
		switch cb.Value.(type) {
		case *BCBIOPAESGCM:
			bcbCount++
		case *BIBIOPHMACSHA2:
			bibCount++
		}
	}
	// BCBIOPAESGCM.prepareAAD/BIBIOPHMACSHA2.prepareIPPT locate their own
	// canonical block by type code, which is ambiguous once a bundle carries
	// a second block of the same type; surface that as a validity error
	// instead of letting it fail opaquely during a later security operation.
	if bcbCount > 1 {
		errs = multierror.Append(errs, fmt.Errorf(
			"Bundle: %d Block Confidentiality Blocks present, but only one is supported at a time", bcbCount))
	}
	if bibCount > 1 {
		errs = multierror.Append(errs, fmt.Errorf(
			"Bundle: %d Block Integrity Blocks present, but only one is supported at a time", bibCount))
	}

	if b.PrimaryBlock.CreationTimestamp.IsZeroTime() && !b.HasExtensionBlock(ExtBlockTypeBundleAgeBlock) {
		errs = multierror.Append(errs, fmt.Errorf("Bundle: creation timestamp is zero, but no Bundle Age Block exists"))
	}

	if b.IsLifetimeExceeded() {
		errs = multierror.Append(errs, fmt.Errorf("Bundle: lifetime is exceeded"))
	}

	return
}

func (b Bundle) IsAdministrativeRecord() bool {
	return b.PrimaryBlock.BundleControlFlags.Has(AdministrativeRecordPayload)
}

// AdministrativeRecord parses and returns this bundle's administrative record payload.
func (b Bundle) AdministrativeRecord() (AdministrativeRecord, error) {
	if !b.IsAdministrativeRecord() {
		return nil, fmt.Errorf("bundle is not an administrative record")
	}

	payload, err := b.PayloadBlock()
	if err != nil {
		return nil, err
	}

	buff := bytes.NewBuffer(payload.Value.(*PayloadBlock).Data())
	return GetAdministrativeRecordManager().ReadAdministrativeRecord(buff)
}

// MarshalCbor writes this Bundle as an indefinite-length CBOR array: the
// PrimaryBlock followed by each CanonicalBlock.
func (b *Bundle) MarshalCbor(w io.Writer) error {
	if _, err := w.Write([]byte{cboring.IndefiniteArray}); err != nil {
		return err
	}

	if err := cboring.Marshal(&b.PrimaryBlock, w); err != nil {
		return fmt.Errorf("PrimaryBlock failed: %v", err)
	}

	for i := range b.CanonicalBlocks {
		if err := cboring.Marshal(&b.CanonicalBlocks[i], w); err != nil {
			return fmt.Errorf("CanonicalBlock failed: %v", err)
		}
	}

	_, err := w.Write([]byte{cboring.BreakCode})
	return err
}

func (b *Bundle) UnmarshalCbor(r io.Reader) error {
	if err := cboring.ReadExpect(cboring.IndefiniteArray, r); err != nil {
		return err
	}

	if err := cboring.Unmarshal(&b.PrimaryBlock, r); err != nil {
		return fmt.Errorf("PrimaryBlock failed: %v", err)
	}

	b.CanonicalBlocks = nil
	for {
		cb := CanonicalBlock{}
		if err := cboring.Unmarshal(&cb, r); err == cboring.FlagBreakCode {
			break
		} else if err != nil {
			return fmt.Errorf("CanonicalBlock failed: %v", err)
		}
		b.CanonicalBlocks = append(b.CanonicalBlocks, cb)
	}

	return b.CheckValid()
}

func (b Bundle) MarshalJSON() ([]byte, error) {
	canonicals := make([]json.Marshaler, len(b.CanonicalBlocks))
	for i := range b.CanonicalBlocks {
		canonicals[i] = b.CanonicalBlocks[i]
	}

	return json.Marshal(&struct {
		PrimaryBlock    json.Marshaler   `json:"primaryBlock"`
		CanonicalBlocks []json.Marshaler `json:"canonicalBlocks"`
	}{
		PrimaryBlock:    b.PrimaryBlock,
		CanonicalBlocks: canonicals,
	})
}
