// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package bpv7 provides the Bundle Protocol Version 7 (RFC 9171) wire format
// this module's policy engine operates on: primary and canonical blocks,
// Endpoint IDs, and the Bundle Security Protocol (RFC 9172/9173) extension
// blocks used to carry integrity and confidentiality results.
//
//	primary := NewPrimaryBlock(MustNotFragmented, destination, source, source, NewCreationTimestamp(DtnTimeNow(), 0), 60*1000)
//	payload := NewCanonicalBlock(1, 0, NewPayloadBlock([]byte("hello world")))
//	b, err := NewBundle(primary, []CanonicalBlock{payload})
package bpv7
