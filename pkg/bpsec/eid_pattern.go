// SPDX-FileCopyrightText: 2022 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpsec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dtn7/dtn7-bpsec/pkg/bpv7"
)

// EID is the policy engine's own lightweight endpoint identifier: a
// (nodeId, serviceId) pair under the "ipn" scheme. The bundle agent's
// richer bpv7.EndpointID is converted at the boundary by EIDFromEndpoint.
type EID struct {
	Node    uint64
	Service uint64
}

func (e EID) String() string {
	return fmt.Sprintf("ipn:%d.%d", e.Node, e.Service)
}

// ToEndpoint converts e into a bpv7.EndpointID under the "ipn" scheme, the
// inverse of EIDFromEndpoint.
func (e EID) ToEndpoint() bpv7.EndpointID {
	return bpv7.EndpointID{EndpointType: &bpv7.IpnEndpoint{Node: e.Node, Service: e.Service}}
}

// EIDFromEndpoint converts a bpv7.EndpointID into an EID. It reports false
// for any endpoint not under the "ipn" scheme, since EidPattern has no
// "dtn"-scheme analogue: such an endpoint can only ever satisfy an Any
// matcher, never an Exact one.
func EIDFromEndpoint(endpoint bpv7.EndpointID) (EID, bool) {
	ipn, ok := endpoint.EndpointType.(*bpv7.IpnEndpoint)
	if !ok {
		return EID{}, false
	}
	return EID{Node: ipn.Node, Service: ipn.Service}, true
}

// axisMatcher is one of the two admitted EidPattern forms: Any or Exact(u64).
type axisMatcher struct {
	exact bool
	value uint64
}

func (m axisMatcher) matches(v uint64) bool {
	return !m.exact || m.value == v
}

// moreSpecificThan reports whether m ranks before other in the per-axis
// specificity ordering: Exact is more specific than Any.
func (m axisMatcher) moreSpecificThan(other axisMatcher) bool {
	return m.exact && !other.exact
}

// EidPattern parses and matches "ipn:<A>.<B>" patterns, where each of A and
// B is independently either "*" or a non-negative decimal integer.
type EidPattern struct {
	nodeMatcher    axisMatcher
	serviceMatcher axisMatcher
	raw            string
}

// ParseEidPattern parses an EidPattern from its textual "ipn:A.B" form.
// Any other form, including embedded "**" or other glob syntax, fails.
func ParseEidPattern(s string) (EidPattern, error) {
	ssp := strings.TrimPrefix(s, "ipn:")
	if ssp == s {
		return EidPattern{}, fmt.Errorf("EidPattern: missing ipn scheme in %q", s)
	}

	node, service, found := strings.Cut(ssp, ".")
	if !found {
		return EidPattern{}, fmt.Errorf("EidPattern: missing '.' separator in %q", s)
	}

	nodeMatcher, err := parseAxis(node)
	if err != nil {
		return EidPattern{}, fmt.Errorf("EidPattern: node component of %q: %v", s, err)
	}

	serviceMatcher, err := parseAxis(service)
	if err != nil {
		return EidPattern{}, fmt.Errorf("EidPattern: service component of %q: %v", s, err)
	}

	return EidPattern{nodeMatcher: nodeMatcher, serviceMatcher: serviceMatcher, raw: s}, nil
}

// MustParseEidPattern calls ParseEidPattern and panics on error.
func MustParseEidPattern(s string) EidPattern {
	p, err := ParseEidPattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

func parseAxis(component string) (axisMatcher, error) {
	if component == "*" {
		return axisMatcher{}, nil
	}
	if component == "" {
		return axisMatcher{}, fmt.Errorf("empty component")
	}
	if strings.ContainsAny(component, "*?[]") {
		return axisMatcher{}, fmt.Errorf("glob syntax %q not admitted, only '*' or a decimal integer", component)
	}

	v, err := strconv.ParseUint(component, 10, 64)
	if err != nil {
		return axisMatcher{}, fmt.Errorf("not a decimal integer: %v", err)
	}
	return axisMatcher{exact: true, value: v}, nil
}

// Matches reports whether both the node and service axes accept eid.
func (p EidPattern) Matches(eid EID) bool {
	return p.nodeMatcher.matches(eid.Node) && p.serviceMatcher.matches(eid.Service)
}

func (p EidPattern) String() string {
	return p.raw
}

// moreSpecificThan orders two patterns over the same axis: exact node,
// then exact service, outranks any wildcard at the same position.
func (p EidPattern) moreSpecificThan(other EidPattern) bool {
	if p.nodeMatcher.exact != other.nodeMatcher.exact {
		return p.nodeMatcher.moreSpecificThan(other.nodeMatcher)
	}
	return p.serviceMatcher.moreSpecificThan(other.serviceMatcher)
}
