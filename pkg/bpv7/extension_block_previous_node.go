// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"io"
)

// PreviousNodeBlock implements the Previous Node Block, block type 6,
// identifying the node that forwarded this bundle most recently.
type PreviousNodeBlock EndpointID

// NewPreviousNodeBlock creates a PreviousNodeBlock for the given endpoint.
func NewPreviousNodeBlock(eid EndpointID) *PreviousNodeBlock {
	pnb := PreviousNodeBlock(eid)
	return &pnb
}

// Endpoint returns this block's EndpointID.
func (pnb *PreviousNodeBlock) Endpoint() EndpointID {
	return EndpointID(*pnb)
}

func (pnb *PreviousNodeBlock) BlockTypeCode() uint64 { return ExtBlockTypePreviousNodeBlock }
func (pnb *PreviousNodeBlock) BlockTypeName() string { return "Previous Node Block" }

func (pnb *PreviousNodeBlock) CheckValid() error {
	eid := EndpointID(*pnb)
	return eid.CheckValid()
}

func (pnb *PreviousNodeBlock) CheckContextValid(*Bundle) error { return nil }

func (pnb *PreviousNodeBlock) MarshalCbor(w io.Writer) error {
	eid := EndpointID(*pnb)
	return eid.MarshalCbor(w)
}

func (pnb *PreviousNodeBlock) UnmarshalCbor(r io.Reader) error {
	var eid EndpointID
	if err := eid.UnmarshalCbor(r); err != nil {
		return err
	}

	*pnb = PreviousNodeBlock(eid)
	return nil
}

func (pnb *PreviousNodeBlock) MarshalJSON() ([]byte, error) {
	eid := EndpointID(*pnb)
	return eid.MarshalJSON()
}
