// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// BlockControlFlags is a uint representing the Block Processing Control
// Flags of section 4.1.4. Since dtn-bpbis-24 every bit pattern is a
// syntactically valid value; CheckValid exists for symmetry with the other
// Valid implementations and to leave room for future constraints.
type BlockControlFlags uint64

const (
	// DeleteBundle: Bundle must be deleted if this block can't be processed.
	DeleteBundle BlockControlFlags = 0x08

	// StatusReportBlock: Transmission of a status report is requested if this
	// block can't be processed.
	StatusReportBlock BlockControlFlags = 0x04

	// RemoveBlock: Block must be removed from the bundle if it can't be processed.
	RemoveBlock BlockControlFlags = 0x02

	// ReplicateBlock: This block must be replicated in every fragment.
	ReplicateBlock BlockControlFlags = 0x01
)

// Has returns true if a given flag or mask of flags is set.
func (bcf BlockControlFlags) Has(flag BlockControlFlags) bool {
	return (bcf & flag) != 0
}

func (bcf BlockControlFlags) CheckValid() error {
	return nil
}

func (bcf BlockControlFlags) String() string {
	var fields []string

	checks := []struct {
		field BlockControlFlags
		text  string
	}{
		{DeleteBundle, "DELETE_BUNDLE"},
		{StatusReportBlock, "REQUEST_STATUS_REPORT"},
		{RemoveBlock, "REMOVE_BLOCK"},
		{ReplicateBlock, "REPLICATE_BLOCK"},
	}

	for _, check := range checks {
		if bcf.Has(check.field) {
			fields = append(fields, check.text)
		}
	}

	return strings.Join(fields, ",")
}

// MarshalJSON writes the names of the set flags as a JSON array, or null if
// none of them is set.
func (bcf BlockControlFlags) MarshalJSON() ([]byte, error) {
	if s := bcf.String(); s != "" {
		return json.Marshal(strings.Split(s, ","))
	}
	return json.Marshal(nil)
}

// BundleControlFlags is a uint16 representing the Bundle Processing Control
// Flags of section 4.1.3.
type BundleControlFlags uint16

const (
	// StatusRequestDeletion: Request reporting of bundle deletion.
	StatusRequestDeletion BundleControlFlags = 0x1000

	// StatusRequestDelivery: Request reporting of bundle delivery.
	StatusRequestDelivery BundleControlFlags = 0x0800

	// StatusRequestForward: Request reporting of bundle forwarding.
	StatusRequestForward BundleControlFlags = 0x0400

	// StatusRequestReception: Request reporting of bundle reception.
	StatusRequestReception BundleControlFlags = 0x0100

	// ContainsManifest: The bundle contains a "manifest" extension block.
	ContainsManifest BundleControlFlags = 0x0080

	// RequestStatusTime: Status time is requested in all status reports.
	RequestStatusTime BundleControlFlags = 0x0040

	// RequestUserApplicationAck: Acknowledgment by the user application is requested.
	RequestUserApplicationAck BundleControlFlags = 0x0020

	// MustNotFragmented: The bundle must not be fragmented.
	MustNotFragmented BundleControlFlags = 0x0004

	// AdministrativeRecordPayload: The bundle's payload is an administrative record.
	AdministrativeRecordPayload BundleControlFlags = 0x0002

	// IsFragment: The bundle is a fragment.
	IsFragment BundleControlFlags = 0x0001

	bndlCFReservedFields BundleControlFlags = 0xE218
)

// Has returns true if a given flag or mask of flags is set.
func (bcf BundleControlFlags) Has(flag BundleControlFlags) bool {
	return (bcf & flag) != 0
}

func (bcf BundleControlFlags) CheckValid() (errs error) {
	if bcf.Has(bndlCFReservedFields) {
		errs = multierror.Append(errs, fmt.Errorf("BundleControlFlags: given flag %x contains reserved bits", bcf))
	}

	if bcf.Has(IsFragment) && bcf.Has(MustNotFragmented) {
		errs = multierror.Append(errs, fmt.Errorf(
			"BundleControlFlags: both 'bundle is a fragment' and 'bundle must not be fragmented' flags are set"))
	}

	adminRecCheck := !bcf.Has(AdministrativeRecordPayload) ||
		(!bcf.Has(StatusRequestReception) &&
			!bcf.Has(StatusRequestForward) &&
			!bcf.Has(StatusRequestDelivery) &&
			!bcf.Has(StatusRequestDeletion))
	if !adminRecCheck {
		errs = multierror.Append(errs, fmt.Errorf(
			"BundleControlFlags: payload is administrative record but a status report request flag is set"))
	}

	return
}
