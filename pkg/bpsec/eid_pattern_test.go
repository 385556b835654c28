// SPDX-FileCopyrightText: 2022 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpsec

import (
	"testing"

	"github.com/dtn7/dtn7-bpsec/pkg/bpv7"
)

func TestParseEidPatternRejectsNonIpn(t *testing.T) {
	tests := []string{"dtn://foo/bar", "ipn:1", "ipn:1.2.3", "ipn:*.*.*", "ipn:**.1"}

	for _, s := range tests {
		if _, err := ParseEidPattern(s); err == nil {
			t.Errorf("ParseEidPattern(%q) should have failed", s)
		}
	}
}

func TestEidPatternMatches(t *testing.T) {
	tests := []struct {
		pattern string
		eid     EID
		want    bool
	}{
		{"ipn:1.2", EID{1, 2}, true},
		{"ipn:1.2", EID{1, 3}, false},
		{"ipn:*.2", EID{99, 2}, true},
		{"ipn:1.*", EID{1, 99}, true},
		{"ipn:*.*", EID{99, 99}, true},
	}

	for _, test := range tests {
		p := MustParseEidPattern(test.pattern)
		if got := p.Matches(test.eid); got != test.want {
			t.Errorf("%q.Matches(%v) = %v, want %v", test.pattern, test.eid, got, test.want)
		}
	}
}

func TestEidPatternMoreSpecificThan(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"ipn:1.2", "ipn:*.2", true},
		{"ipn:*.2", "ipn:1.2", false},
		{"ipn:1.2", "ipn:1.*", true},
		{"ipn:1.*", "ipn:1.2", false},
		{"ipn:*.*", "ipn:*.*", false},
	}

	for _, test := range tests {
		a, b := MustParseEidPattern(test.a), MustParseEidPattern(test.b)
		if got := a.moreSpecificThan(b); got != test.want {
			t.Errorf("%q.moreSpecificThan(%q) = %v, want %v", test.a, test.b, got, test.want)
		}
	}
}

func TestEIDFromEndpointRoundTrip(t *testing.T) {
	want := EID{Node: 5, Service: 7}
	endpoint := want.ToEndpoint()

	got, ok := EIDFromEndpoint(endpoint)
	if !ok {
		t.Fatalf("EIDFromEndpoint(%v) reported not ok", endpoint)
	}
	if got != want {
		t.Errorf("round trip mismatch: got %v, want %v", got, want)
	}
}

func TestEIDFromEndpointRejectsDtnScheme(t *testing.T) {
	endpoint := bpv7.MustNewEndpointID("dtn://foo/bar")
	if _, ok := EIDFromEndpoint(endpoint); ok {
		t.Errorf("EIDFromEndpoint should reject a dtn-scheme endpoint")
	}
}
