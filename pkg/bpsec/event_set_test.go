// SPDX-FileCopyrightText: 2022 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpsec

import "testing"

func TestEventSetActionsFor(t *testing.T) {
	es := &EventSet{
		Name: "set-a",
		Events: map[EventID][]Action{
			SopMissingAtAcceptor: {{Kind: ActionDoNotForwardBundle}, {Kind: ActionReportReasonCode}},
		},
	}

	actions := es.ActionsFor(SopMissingAtAcceptor)
	if len(actions) != 2 {
		t.Fatalf("ActionsFor returned %d actions, want 2", len(actions))
	}
	if actions[0].Kind != ActionDoNotForwardBundle || actions[1].Kind != ActionReportReasonCode {
		t.Errorf("ActionsFor returned %v in the wrong order", actions)
	}

	if got := es.ActionsFor(SopCorruptedAtAcceptor); got != nil {
		t.Errorf("ActionsFor for an unregistered event = %v, want nil", got)
	}
}

func TestEventSetRegistryRegisterIsNoOpIfNamePresent(t *testing.T) {
	r := NewEventSetRegistry()

	first := &EventSet{Name: "dup", Events: map[EventID][]Action{
		SopMissingAtAcceptor: {{Kind: ActionDoNotForwardBundle}},
	}}
	second := &EventSet{Name: "dup", Events: map[EventID][]Action{
		SopMissingAtAcceptor: {{Kind: ActionFailBundleForwarding}},
	}}

	r.Register(first)
	r.Register(second)

	got, err := r.Resolve("dup")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != first {
		t.Error("a second Register under an already-registered name should be a no-op")
	}
}

func TestEventSetRegistryResolveUnknownName(t *testing.T) {
	r := NewEventSetRegistry()
	if _, err := r.Resolve("missing"); err == nil {
		t.Error("Resolve should fail for an unregistered name")
	}
}

func TestKnownEventIDAndAction(t *testing.T) {
	for _, id := range []EventID{SopMissingAtVerifier, SopMisconfiguredAtVerifier, SopMissingAtAcceptor, SopMisconfiguredAtAcceptor, SopCorruptedAtAcceptor} {
		if !knownEventID(id) {
			t.Errorf("knownEventID(%q) = false, want true", id)
		}
	}
	if knownEventID(EventID("bogus")) {
		t.Error("knownEventID(\"bogus\") = true, want false")
	}

	for _, a := range []ActionKind{
		ActionRemoveSecurityOperation, ActionRemoveSecurityOperationTargetBlock, ActionRemoveAllSecurityTargetOperations,
		ActionDoNotForwardBundle, ActionFailBundleForwarding, ActionRequestBundleStorage, ActionReportReasonCode,
		ActionOverrideSecurityTargetBlockBpcf, ActionOverrideSopBpcf,
	} {
		if !knownAction(a) {
			t.Errorf("knownAction(%q) = false, want true", a)
		}
	}
	if knownAction(ActionKind("bogus")) {
		t.Error("knownAction(\"bogus\") = true, want false")
	}
}
