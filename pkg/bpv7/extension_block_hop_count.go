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

// HopCountBlock implements the Hop Count Block, block type 10, an optional
// loop-detection aid tracking how often a bundle has been forwarded.
type HopCountBlock struct {
	Limit uint8
	Count uint8
}

// NewHopCountBlock creates a HopCountBlock with the given limit and a zero count.
func NewHopCountBlock(limit uint8) *HopCountBlock {
	return &HopCountBlock{Limit: limit, Count: 0}
}

// IsExceeded reports whether the hop count has exceeded its limit.
func (hcb HopCountBlock) IsExceeded() bool {
	return hcb.Count > hcb.Limit
}

// Increment raises the hop count by one, reporting whether the limit is exceeded afterwards.
func (hcb *HopCountBlock) Increment() bool {
	hcb.Count++
	return hcb.IsExceeded()
}

// Decrement lowers the hop count by one.
func (hcb *HopCountBlock) Decrement() {
	hcb.Count--
}

func (hcb *HopCountBlock) BlockTypeCode() uint64 { return ExtBlockTypeHopCountBlock }
func (hcb *HopCountBlock) BlockTypeName() string { return "Hop Count Block" }

func (hcb *HopCountBlock) CheckValid() error {
	if hcb.IsExceeded() {
		return fmt.Errorf("HopCountBlock: hop limit %d exceeded, count is %d", hcb.Limit, hcb.Count)
	}
	return nil
}

// CheckContextValid checks that there is at most one Hop Count Block.
func (hcb *HopCountBlock) CheckContextValid(b *Bundle) error {
	cb, err := b.ExtensionBlock(ExtBlockTypeHopCountBlock)
	if err != nil {
		return err
	} else if cb.Value != hcb {
		return fmt.Errorf("HopCountBlock's pointer differs, %p != %p", cb.Value, hcb)
	}
	return nil
}

func (hcb *HopCountBlock) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(hcb.Limit), w); err != nil {
		return err
	}
	return cboring.WriteUInt(uint64(hcb.Count), w)
}

func (hcb *HopCountBlock) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 2 {
		return fmt.Errorf("HopCountBlock: expected array of length 2, got %d", l)
	}

	if limit, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		hcb.Limit = uint8(limit)
	}

	if count, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		hcb.Count = uint8(count)
	}

	return nil
}

func (hcb *HopCountBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		Limit uint8 `json:"limit"`
		Count uint8 `json:"count"`
	}{hcb.Limit, hcb.Count})
}
