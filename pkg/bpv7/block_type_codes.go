// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

// Block type codes for the ExtensionBlock implementations this module
// knows about. 1, 6, 7 and 10 come from RFC 9171; 11 and 12 come from
// RFC 9172, which defines no Go identifiers of its own, so the constants
// are asserted here directly from the RFC's IANA "Bundle Block Types"
// allocations.
const (
	ExtBlockTypePayloadBlock              uint64 = 1
	ExtBlockTypePreviousNodeBlock         uint64 = 6
	ExtBlockTypeBundleAgeBlock            uint64 = 7
	ExtBlockTypeHopCountBlock             uint64 = 10
	ExtBlockTypeBlockIntegrityBlock       uint64 = 11
	ExtBlockTypeBlockConfidentialityBlock uint64 = 12
)
