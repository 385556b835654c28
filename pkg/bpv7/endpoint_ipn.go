// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dtn7/cboring"
)

const ipnSchemeNo uint64 = 2

// IpnEndpoint describes an "ipn" URI, addressing a node and a service on that
// node by number, e.g. "ipn:23.42".
type IpnEndpoint struct {
	Node    uint64
	Service uint64
}

// NewIpnEndpoint parses an "ipn:node.service" URI.
func NewIpnEndpoint(uri string) (EndpointType, error) {
	ssp := strings.TrimPrefix(uri, "ipn:")
	if ssp == uri {
		return nil, fmt.Errorf("IpnEndpoint: missing ipn scheme in %q", uri)
	}

	node, service, found := strings.Cut(ssp, ".")
	if !found {
		return nil, fmt.Errorf("IpnEndpoint: missing '.' separator in %q", uri)
	}

	nodeNo, err := strconv.ParseUint(node, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("IpnEndpoint: invalid node number: %v", err)
	}

	serviceNo, err := strconv.ParseUint(service, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("IpnEndpoint: invalid service number: %v", err)
	}

	ep := &IpnEndpoint{Node: nodeNo, Service: serviceNo}
	if err := ep.CheckValid(); err != nil {
		return nil, err
	}
	return ep, nil
}

func (e IpnEndpoint) SchemeName() string { return "ipn" }
func (e IpnEndpoint) SchemeNo() uint64   { return ipnSchemeNo }
func (e IpnEndpoint) Authority() string  { return strconv.FormatUint(e.Node, 10) }
func (e IpnEndpoint) Path() string       { return strconv.FormatUint(e.Service, 10) }

// IsSingleton is always true; every ipn endpoint addresses exactly one node/service pair.
func (e IpnEndpoint) IsSingleton() bool { return true }

// CheckValid requires both node and service numbers to be non-zero, per RFC 9171 appendix.
func (e IpnEndpoint) CheckValid() error {
	if e.Node == 0 || e.Service == 0 {
		return fmt.Errorf("IpnEndpoint: node and service numbers must both be non-zero, got %d.%d", e.Node, e.Service)
	}
	return nil
}

func (e IpnEndpoint) String() string {
	return fmt.Sprintf("ipn:%d.%d", e.Node, e.Service)
}

// MarshalCbor writes the [node, service] CBOR array making up this endpoint's scheme-specific part.
func (e IpnEndpoint) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(e.Node, w); err != nil {
		return err
	}
	return cboring.WriteUInt(e.Service, w)
}

// UnmarshalCbor reads the [node, service] CBOR array.
func (e *IpnEndpoint) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 2 {
		return fmt.Errorf("IpnEndpoint: expected array of length 2, got %d", l)
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		e.Node = n
	}

	if s, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		e.Service = s
	}

	return nil
}
