// SPDX-FileCopyrightText: 2019, 2020, 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import "encoding/json"

// PayloadBlock implements the Payload Block, block type 1. Each Bundle must
// contain exactly one, holding the application data unit.
type PayloadBlock []byte

func (pb *PayloadBlock) BlockTypeCode() uint64 { return ExtBlockTypePayloadBlock }
func (pb *PayloadBlock) BlockTypeName() string { return "Payload Block" }

// NewPayloadBlock creates a PayloadBlock wrapping the given data.
func NewPayloadBlock(data []byte) *PayloadBlock {
	pb := PayloadBlock(data)
	return &pb
}

// Data returns this PayloadBlock's byte content.
func (pb *PayloadBlock) Data() []byte {
	return *pb
}

func (pb *PayloadBlock) MarshalBinary() ([]byte, error) {
	return *pb, nil
}

func (pb *PayloadBlock) UnmarshalBinary(data []byte) error {
	*pb = data
	return nil
}

// MarshalJSON writes the binary representation of a PayloadBlock.
//
// If this type does not implement json.Marshaler, the CBOR encoding would be returned, which might be misleading.
func (pb *PayloadBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(pb.Data())
}

func (pb *PayloadBlock) CheckValid() error {
	return nil
}

func (pb *PayloadBlock) CheckContextValid(*Bundle) error {
	return nil
}
