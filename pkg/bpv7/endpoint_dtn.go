// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/dtn7/cboring"
)

const dtnSchemeNo uint64 = 1

var dtnNodeNameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// DtnEndpoint describes a "dtn" URI, e.g. "dtn://node/demux" or the null
// endpoint "dtn:none".
type DtnEndpoint struct {
	NodeName  string
	Demux     string
	IsDtnNone bool
}

// NewDtnEndpoint parses a "dtn:" URI.
func NewDtnEndpoint(uri string) (EndpointType, error) {
	ssp := strings.TrimPrefix(uri, "dtn:")
	if ssp == uri {
		return nil, fmt.Errorf("DtnEndpoint: missing dtn scheme in %q", uri)
	}

	if ssp == "none" {
		return &DtnEndpoint{IsDtnNone: true}, nil
	}

	if !strings.HasPrefix(ssp, "//") {
		return nil, fmt.Errorf("DtnEndpoint: missing leading // in %q", uri)
	}
	ssp = ssp[2:]

	slash := strings.IndexByte(ssp, '/')
	if slash < 0 {
		return nil, fmt.Errorf("DtnEndpoint: missing trailing / after node name in %q", uri)
	}

	nodeName, demux := ssp[:slash], ssp[slash+1:]
	if nodeName == "" {
		return nil, fmt.Errorf("DtnEndpoint: empty node name in %q", uri)
	}
	if !dtnNodeNameRe.MatchString(nodeName) {
		return nil, fmt.Errorf("DtnEndpoint: invalid node name %q", nodeName)
	}

	return &DtnEndpoint{NodeName: nodeName, Demux: demux}, nil
}

func (e DtnEndpoint) SchemeName() string { return "dtn" }
func (e DtnEndpoint) SchemeNo() uint64   { return dtnSchemeNo }

func (e DtnEndpoint) Authority() string {
	if e.IsDtnNone {
		return "none"
	}
	return e.NodeName
}

func (e DtnEndpoint) Path() string {
	if e.IsDtnNone {
		return "/"
	}
	return "/" + e.Demux
}

// IsSingleton returns false for dtn:none and for a demux starting with "~",
// the tilde prefix RFC 9171 reserves for multicast-style group endpoints.
func (e DtnEndpoint) IsSingleton() bool {
	if e.IsDtnNone {
		return false
	}
	return !strings.HasPrefix(e.Demux, "~")
}

func (e DtnEndpoint) CheckValid() error {
	if e.IsDtnNone {
		return nil
	}
	if e.NodeName == "" {
		return fmt.Errorf("DtnEndpoint: node name must not be empty unless dtn:none")
	}
	return nil
}

func (e DtnEndpoint) String() string {
	if e.IsDtnNone {
		return "dtn:none"
	}
	return fmt.Sprintf("dtn://%s/%s", e.NodeName, e.Demux)
}

// MarshalCbor writes this endpoint's scheme-specific part: the unsigned
// integer 0 for dtn:none, or the "//node/demux" string otherwise.
func (e DtnEndpoint) MarshalCbor(w io.Writer) error {
	if e.IsDtnNone {
		return cboring.WriteUInt(0, w)
	}
	return cboring.WriteTextString(fmt.Sprintf("//%s/%s", e.NodeName, e.Demux), w)
}

// UnmarshalCbor reads the scheme-specific part, dispatching on the CBOR
// major type: an unsigned integer (0) means dtn:none, a text string is
// "//node/demux".
func (e *DtnEndpoint) UnmarshalCbor(r io.Reader) error {
	major, n, err := cboring.ReadMajors(r)
	if err != nil {
		return err
	}

	switch major {
	case cboring.UInt:
		if n != 0 {
			return fmt.Errorf("DtnEndpoint: expected 0 for dtn:none, got %d", n)
		}
		e.IsDtnNone = true
		return nil

	case cboring.TextString:
		raw, err := cboring.ReadRawBytes(n, r)
		if err != nil {
			return err
		}

		parsed, err := NewDtnEndpoint("dtn:" + string(raw))
		if err != nil {
			return err
		}
		*e = *(parsed.(*DtnEndpoint))
		return nil

	default:
		return fmt.Errorf("DtnEndpoint: unexpected CBOR major type 0x%x", major)
	}
}
