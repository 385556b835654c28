// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// BundleAgeBlock implements the Bundle Age Block, block type 7, reporting
// the number of milliseconds elapsed since the bundle's creation. It is
// mandatory for bundles whose source node lacks an accurate clock, i.e.
// whose CreationTimestamp's DtnTime is zero.
type BundleAgeBlock uint64

// NewBundleAgeBlock creates a BundleAgeBlock starting at the given age, in milliseconds.
func NewBundleAgeBlock(age uint64) *BundleAgeBlock {
	bab := BundleAgeBlock(age)
	return &bab
}

// Age returns the current age in milliseconds.
func (bab *BundleAgeBlock) Age() uint64 {
	return uint64(*bab)
}

// Increment adds the given number of milliseconds to this block's age, returning the new value.
func (bab *BundleAgeBlock) Increment(ms uint64) uint64 {
	*bab += BundleAgeBlock(ms)
	return bab.Age()
}

func (bab *BundleAgeBlock) BlockTypeCode() uint64 { return ExtBlockTypeBundleAgeBlock }
func (bab *BundleAgeBlock) BlockTypeName() string { return "Bundle Age Block" }

func (bab *BundleAgeBlock) CheckValid() error { return nil }

// CheckContextValid checks that there is at most one Bundle Age Block.
func (bab *BundleAgeBlock) CheckContextValid(b *Bundle) error {
	cb, err := b.ExtensionBlock(ExtBlockTypeBundleAgeBlock)
	if err != nil {
		return err
	} else if cb.Value != bab {
		return fmt.Errorf("BundleAgeBlock's pointer differs, %p != %p", cb.Value, bab)
	}
	return nil
}

func (bab *BundleAgeBlock) MarshalCbor(w io.Writer) error {
	return cboring.WriteUInt(uint64(*bab), w)
}

func (bab *BundleAgeBlock) UnmarshalCbor(r io.Reader) error {
	age, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}

	*bab = BundleAgeBlock(age)
	return nil
}

// MarshalJSON writes a JSON representation for a Bundle Age Block, e.g., "23 ms".
func (bab *BundleAgeBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("%d ms", bab.Age()))
}
