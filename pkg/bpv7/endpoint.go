// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"
	"strings"

	"github.com/dtn7/cboring"
)

// EndpointType is a Bundle Protocol endpoint scheme, e.g., the "dtn" or "ipn"
// URI scheme. It is addressed by its SchemeNo within the Endpoint ID's CBOR
// representation, an array of [SchemeNo, scheme-specific-part].
type EndpointType interface {
	// SchemeName is this EndpointType's URI scheme name, e.g., "dtn".
	SchemeName() string

	// SchemeNo is this EndpointType's CBOR scheme number, as assigned by IANA.
	SchemeNo() uint64

	// Authority is the URI's authority part, e.g., the node name.
	Authority() string

	// Path is the URI's path part, including its leading slash.
	Path() string

	// IsSingleton returns true if the endpoint identifies exactly one node.
	IsSingleton() bool

	CheckValid() error

	cboring.CborMarshaler

	fmt.Stringer
}

// EndpointID is a Bundle Protocol endpoint identifier, i.e., a URI as
// specified in section 4.2.5. Each known scheme has its own EndpointType
// implementation, e.g., IpnEndpoint or DtnEndpoint.
type EndpointID struct {
	EndpointType
}

// knownSchemes maps a scheme name to a constructor used by NewEndpointID.
var knownSchemes = map[string]func(string) (EndpointType, error){
	"dtn": NewDtnEndpoint,
	"ipn": NewIpnEndpoint,
}

// NewEndpointID creates a new EndpointID by parsing a "scheme:ssp" URI.
func NewEndpointID(uri string) (e EndpointID, err error) {
	schemeName, _, found := strings.Cut(uri, ":")
	if !found {
		err = fmt.Errorf("EndpointID: no scheme separator in %q", uri)
		return
	}

	ctor, ok := knownSchemes[schemeName]
	if !ok {
		err = fmt.Errorf("EndpointID: unknown scheme %q", schemeName)
		return
	}

	et, ctorErr := ctor(uri)
	if ctorErr != nil {
		err = ctorErr
		return
	}

	e = EndpointID{EndpointType: et}
	return
}

// MustNewEndpointID calls NewEndpointID and panics on an error.
func MustNewEndpointID(uri string) EndpointID {
	e, err := NewEndpointID(uri)
	if err != nil {
		panic(err)
	}
	return e
}

// DtnNone is the null endpoint "dtn:none", used when no meaningful source exists.
func DtnNone() EndpointID {
	return EndpointID{EndpointType: &DtnEndpoint{IsDtnNone: true}}
}

// SameNode returns true if both EndpointIDs address the same node, ignoring
// any demultiplexing/service part. A nil EndpointType is only the same node
// as another nil EndpointType.
func (eid EndpointID) SameNode(other EndpointID) bool {
	if eid.EndpointType == nil || other.EndpointType == nil {
		return eid.EndpointType == nil && other.EndpointType == nil
	}
	if eid.SchemeNo() != other.SchemeNo() {
		return false
	}
	return eid.Authority() == other.Authority()
}

func (eid EndpointID) String() string {
	if eid.EndpointType == nil {
		return "<nil>"
	}
	return eid.SchemeName() + ":" + eid.ssp()
}

// ssp reconstructs the scheme-specific part from authority and path, which is
// how dtn and ipn endpoints are able to share a single String implementation.
func (eid EndpointID) ssp() string {
	switch eid.SchemeName() {
	case "dtn":
		if dtn, ok := eid.EndpointType.(*DtnEndpoint); ok && dtn.IsDtnNone {
			return "none"
		}
		return "//" + eid.Authority() + eid.Path()
	case "ipn":
		return eid.Authority() + "." + eid.Path()
	default:
		return eid.Authority() + eid.Path()
	}
}

func (eid EndpointID) CheckValid() error {
	if eid.EndpointType == nil {
		return fmt.Errorf("EndpointID: no EndpointType set")
	}
	return eid.EndpointType.CheckValid()
}

// MarshalCbor writes this EndpointID's CBOR representation: an array of
// [SchemeNo, scheme-specific-part].
func (eid *EndpointID) MarshalCbor(w io.Writer) error {
	if eid.EndpointType == nil {
		return fmt.Errorf("EndpointID: no EndpointType set")
	}

	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}

	if err := cboring.WriteUInt(eid.SchemeNo(), w); err != nil {
		return err
	}

	return eid.EndpointType.MarshalCbor(w)
}

// UnmarshalCbor reads an EndpointID's CBOR representation.
func (eid *EndpointID) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 2 {
		return fmt.Errorf("EndpointID: expected array of length 2, got %d", l)
	}

	schemeNo, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}

	var et EndpointType
	switch schemeNo {
	case dtnSchemeNo:
		et = &DtnEndpoint{}
	case ipnSchemeNo:
		et = &IpnEndpoint{}
	default:
		return fmt.Errorf("EndpointID: unknown scheme number %d", schemeNo)
	}

	if err := et.UnmarshalCbor(r); err != nil {
		return err
	}

	eid.EndpointType = et

	return nil
}

// MarshalJSON writes this EndpointID as its URI string.
func (eid EndpointID) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", eid.String())), nil
}
