// SPDX-FileCopyrightText: 2019, 2020, 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

// GenericExtensionBlock is a dummy ExtensionBlock covering unknown or
// unregistered block type codes, e.g. one owned by an application the
// current policy has never been configured to parse.
type GenericExtensionBlock struct {
	data     []byte
	typeCode uint64
}

// NewGenericExtensionBlock creates a GenericExtensionBlock from raw
// block-type-specific data and its block type code.
func NewGenericExtensionBlock(data []byte, typeCode uint64) *GenericExtensionBlock {
	return &GenericExtensionBlock{
		data:     data,
		typeCode: typeCode,
	}
}

func (geb *GenericExtensionBlock) MarshalBinary() ([]byte, error) {
	return geb.data, nil
}

func (geb *GenericExtensionBlock) UnmarshalBinary(data []byte) error {
	geb.data = data
	return nil
}

func (geb *GenericExtensionBlock) CheckValid() error {
	return nil
}

func (geb *GenericExtensionBlock) CheckContextValid(*Bundle) error {
	return nil
}

func (geb *GenericExtensionBlock) BlockTypeCode() uint64 {
	return geb.typeCode
}

func (geb *GenericExtensionBlock) BlockTypeName() string {
	return "N/A"
}
