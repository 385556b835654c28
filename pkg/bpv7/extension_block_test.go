// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"bytes"
	"reflect"
	"testing"
)

func TestExtensionBlockManager(t *testing.T) {
	var ebm = NewExtensionBlockManager()

	payloadBlock := NewPayloadBlock(nil)
	if err := ebm.Register(payloadBlock); err != nil {
		t.Fatal(err)
	}
	if err := ebm.Register(payloadBlock); err == nil {
		t.Fatal("Registering the PayloadBlock twice did not error")
	}

	extBlock, err := ebm.CreateBlock(payloadBlock.BlockTypeCode())
	if err != nil {
		t.Fatal(err)
	}
	if extBlock.BlockTypeCode() != payloadBlock.BlockTypeCode() {
		t.Fatalf("Block type code differs: %d != %d",
			extBlock.BlockTypeCode(), payloadBlock.BlockTypeCode())
	}

	// An unregistered type code falls back to a GenericExtensionBlock
	// instead of erroring, so unknown application blocks survive a round trip.
	if generic, err := ebm.CreateBlock(9001); err != nil {
		t.Fatalf("CreateBlock for an unknown number errored: %v", err)
	} else if _, ok := generic.(*GenericExtensionBlock); !ok {
		t.Fatalf("CreateBlock for an unknown number returned %T, not a GenericExtensionBlock", generic)
	}

	ebm.Unregister(payloadBlock)
	if generic, err := ebm.CreateBlock(payloadBlock.BlockTypeCode()); err != nil {
		t.Fatalf("CreateBlock for an unregistered number errored: %v", err)
	} else if _, ok := generic.(*GenericExtensionBlock); !ok {
		t.Fatalf("CreateBlock for an unregistered number returned %T, not a GenericExtensionBlock", generic)
	}
}

func TestExtensionBlockManagerSingleton(t *testing.T) {
	var ebm = GetExtensionBlockManager()

	tests := []uint64{
		ExtBlockTypePayloadBlock,
		ExtBlockTypePreviousNodeBlock,
		ExtBlockTypeBundleAgeBlock,
		ExtBlockTypeHopCountBlock,
		ExtBlockTypeBlockIntegrityBlock,
		ExtBlockTypeBlockConfidentialityBlock,
	}

	for _, test := range tests {
		eb, err := ebm.CreateBlock(test)
		if err != nil {
			t.Fatalf("CreateBlock failed for %d: %v", test, err)
		}
		if eb.BlockTypeCode() != test {
			t.Fatalf("CreateBlock(%d) returned a block for type code %d", test, eb.BlockTypeCode())
		}
	}
}

func TestExtensionBlockManagerRWBlock(t *testing.T) {
	var ebm = GetExtensionBlockManager()

	tests := []struct {
		from     ExtensionBlock
		to       []byte
		typeCode uint64
	}{
		// CBOR; wrapped within a CBOR byte string
		{NewBundleAgeBlock(23), []byte{0x41, 0x17}, ExtBlockTypeBundleAgeBlock},
		{NewHopCountBlock(16), []byte{0x43, 0x82, 0x10, 0x00}, ExtBlockTypeHopCountBlock},
		{NewPreviousNodeBlock(MustNewEndpointID("dtn://23/")), []byte{0x48, 0x82, 0x01, 0x65, 0x2F, 0x2F, 0x32, 0x33, 0x2F}, ExtBlockTypePreviousNodeBlock},

		// Binary; also wrapped, of course
		{NewGenericExtensionBlock([]byte{0xFF}, 192), []byte{0x41, 0xFF}, 192},
		{NewPayloadBlock([]byte("lel")), []byte{0x43, 0x6C, 0x65, 0x6C}, ExtBlockTypePayloadBlock},
	}

	for _, test := range tests {
		// Block -> Binary / CBOR
		var buff = new(bytes.Buffer)
		if err := ebm.WriteBlock(test.from, buff); err != nil {
			t.Fatal(err)
		} else if to := buff.Bytes(); !bytes.Equal(to, test.to) {
			t.Fatalf("Bytes are not equal: %x != %x", test.to, to)
		}

		// Binary / CBOR -> Block
		buff = bytes.NewBuffer(test.to)
		if b, err := ebm.ReadBlock(test.typeCode, buff); err != nil {
			t.Fatal(err)
		} else if !reflect.DeepEqual(b, test.from) {
			t.Fatalf("Blocks differ: %v %v", test.from, b)
		}
	}
}
