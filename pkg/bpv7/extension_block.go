// SPDX-FileCopyrightText: 2019, 2020, 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"bytes"
	"encoding"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/dtn7/cboring"
)

// ExtensionBlock is a specific shape of a Canonical Block: the Payload
// Block, one of the Bundle Protocol's administrative extension blocks, or a
// Block Integrity/Confidentiality Block. Its block-type-specific data is
// either CBOR-native, implementing cboring.CborMarshaler, or plain binary,
// implementing encoding.BinaryMarshaler; both forms end up wrapped in a CBOR
// byte string when written to a Canonical Block.
type ExtensionBlock interface {
	Valid

	// BlockTypeCode must return a constant integer, indicating the block type code.
	BlockTypeCode() uint64

	// BlockTypeName must return a constant string, this block's name.
	BlockTypeName() string

	// CheckContextValid checks invariants that require the enclosing Bundle.
	CheckContextValid(*Bundle) error
}

// ExtensionBlockManager keeps a book on the various ExtensionBlock types
// that can be changed at runtime, addressed by their block type code.
//
// A singleton ExtensionBlockManager is fetched by GetExtensionBlockManager.
type ExtensionBlockManager struct {
	mutex sync.RWMutex
	data  map[uint64]reflect.Type
}

// NewExtensionBlockManager creates an empty ExtensionBlockManager.
func NewExtensionBlockManager() *ExtensionBlockManager {
	return &ExtensionBlockManager{data: make(map[uint64]reflect.Type)}
}

// Register a new ExtensionBlock type through an exemplary instance.
func (ebm *ExtensionBlockManager) Register(eb ExtensionBlock) error {
	ebm.mutex.Lock()
	defer ebm.mutex.Unlock()

	extCode := eb.BlockTypeCode()
	extType := reflect.TypeOf(eb).Elem()

	if otherType, exists := ebm.data[extCode]; exists {
		return fmt.Errorf("block type code %d is already registered for %s", extCode, otherType.Name())
	}

	ebm.data[extCode] = extType
	return nil
}

// Unregister an ExtensionBlock type.
func (ebm *ExtensionBlockManager) Unregister(eb ExtensionBlock) {
	ebm.mutex.Lock()
	defer ebm.mutex.Unlock()

	delete(ebm.data, eb.BlockTypeCode())
}

// CreateBlock returns a fresh instance of the ExtensionBlock registered for
// the requested block type code, or a GenericExtensionBlock if none is.
func (ebm *ExtensionBlockManager) CreateBlock(typeCode uint64) (ExtensionBlock, error) {
	ebm.mutex.RLock()
	defer ebm.mutex.RUnlock()

	extType, exists := ebm.data[typeCode]
	if !exists {
		return NewGenericExtensionBlock(nil, typeCode), nil
	}

	return reflect.New(extType).Interface().(ExtensionBlock), nil
}

// WriteBlock writes an ExtensionBlock's block-type-specific data, wrapped as
// a CBOR byte string, as required by section 4.3.2 of RFC 9171.
func (ebm *ExtensionBlockManager) WriteBlock(eb ExtensionBlock, w io.Writer) error {
	buff := new(bytes.Buffer)

	if cm, ok := eb.(cboring.CborMarshaler); ok {
		if err := cboring.Marshal(cm, buff); err != nil {
			return err
		}
	} else if bm, ok := eb.(encoding.BinaryMarshaler); ok {
		data, err := bm.MarshalBinary()
		if err != nil {
			return err
		}
		buff.Write(data)
	} else {
		return fmt.Errorf("ExtensionBlock of type %T implements neither CborMarshaler nor encoding.BinaryMarshaler", eb)
	}

	return cboring.WriteByteString(buff.Bytes(), w)
}

// ReadBlock reads an ExtensionBlock for the given block type code from its
// CBOR byte string wrapper.
func (ebm *ExtensionBlockManager) ReadBlock(typeCode uint64, r io.Reader) (ExtensionBlock, error) {
	data, err := cboring.ReadByteString(r)
	if err != nil {
		return nil, err
	}

	eb, err := ebm.CreateBlock(typeCode)
	if err != nil {
		return nil, err
	}

	if cm, ok := eb.(cboring.CborMarshaler); ok {
		if err := cboring.Unmarshal(cm, bytes.NewReader(data)); err != nil {
			return nil, err
		}
	} else if bu, ok := eb.(encoding.BinaryUnmarshaler); ok {
		if err := bu.UnmarshalBinary(data); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("ExtensionBlock of type %T implements neither CborMarshaler nor encoding.BinaryUnmarshaler", eb)
	}

	return eb, nil
}

var (
	extensionBlockManager     *ExtensionBlockManager
	extensionBlockManagerOnce sync.Once
)

// GetExtensionBlockManager returns the singleton ExtensionBlockManager,
// pre-populated with every ExtensionBlock type this module knows about.
func GetExtensionBlockManager() *ExtensionBlockManager {
	extensionBlockManagerOnce.Do(func() {
		extensionBlockManager = NewExtensionBlockManager()

		_ = extensionBlockManager.Register(NewPayloadBlock(nil))
		_ = extensionBlockManager.Register(NewPreviousNodeBlock(DtnNone()))
		_ = extensionBlockManager.Register(NewBundleAgeBlock(0))
		_ = extensionBlockManager.Register(NewHopCountBlock(0))
		_ = extensionBlockManager.Register(&BIBIOPHMACSHA2{})
		_ = extensionBlockManager.Register(&BCBIOPAESGCM{})
	})

	return extensionBlockManager
}
