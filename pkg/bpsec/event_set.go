// SPDX-FileCopyrightText: 2022 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpsec

import (
	"fmt"
	"sync"
)

// EventID names a recognized security operation failure event. The set is
// closed; LoadFromConfig rejects any other identifier.
type EventID string

const (
	SopMissingAtVerifier       EventID = "sopMissingAtVerifier"
	SopMisconfiguredAtVerifier EventID = "sopMisconfiguredAtVerifier"
	SopMissingAtAcceptor       EventID = "sopMissingAtAcceptor"
	SopMisconfiguredAtAcceptor EventID = "sopMisconfiguredAtAcceptor"
	SopCorruptedAtAcceptor     EventID = "sopCorruptedAtAcceptor"
)

func knownEventID(id EventID) bool {
	switch id {
	case SopMissingAtVerifier, SopMisconfiguredAtVerifier, SopMissingAtAcceptor, SopMisconfiguredAtAcceptor, SopCorruptedAtAcceptor:
		return true
	default:
		return false
	}
}

// ActionKind names a recognized event-set action. The set is closed;
// LoadFromConfig rejects any other identifier.
type ActionKind string

const (
	ActionRemoveSecurityOperation            ActionKind = "removeSecurityOperation"
	ActionRemoveSecurityOperationTargetBlock ActionKind = "removeSecurityOperationTargetBlock"
	ActionRemoveAllSecurityTargetOperations  ActionKind = "removeAllSecurityTargetOperations"
	ActionDoNotForwardBundle                 ActionKind = "doNotForwardBundle"
	ActionFailBundleForwarding               ActionKind = "failBundleForwarding"
	ActionRequestBundleStorage               ActionKind = "requestBundleStorage"
	ActionReportReasonCode                   ActionKind = "reportReasonCode"
	ActionOverrideSecurityTargetBlockBpcf    ActionKind = "overrideSecurityTargetBlockBpcf"
	ActionOverrideSopBpcf                    ActionKind = "overrideSopBpcf"
)

func knownAction(a ActionKind) bool {
	switch a {
	case ActionRemoveSecurityOperation, ActionRemoveSecurityOperationTargetBlock, ActionRemoveAllSecurityTargetOperations,
		ActionDoNotForwardBundle, ActionFailBundleForwarding, ActionRequestBundleStorage, ActionReportReasonCode,
		ActionOverrideSecurityTargetBlockBpcf, ActionOverrideSopBpcf:
		return true
	default:
		return false
	}
}

// Action is one configured event-set action. Bpcf carries the replacement
// processing-control-flags value for the two Override* action kinds; it is
// ignored by every other kind.
type Action struct {
	Kind ActionKind
	Bpcf uint64
}

// EventSet is a named map from eventId to that event's ordered action
// list; the Incoming Processor (C7) applies an event's actions in declared
// order when that event fires for a bundle.
type EventSet struct {
	Name        string
	Description string
	Events      map[EventID][]Action
}

// ActionsFor returns the ordered actions registered for id, or nil if this
// EventSet does not define that event.
func (es *EventSet) ActionsFor(id EventID) []Action {
	return es.Events[id]
}

// EventSetRegistry is the Event-Set Registry (C5): a name-to-EventSet
// lookup, populated once at load time and read concurrently afterward.
type EventSetRegistry struct {
	mu   sync.RWMutex
	sets map[string]*EventSet
}

// NewEventSetRegistry returns an empty EventSetRegistry.
func NewEventSetRegistry() *EventSetRegistry {
	return &EventSetRegistry{sets: make(map[string]*EventSet)}
}

// Register adds es under its Name, unless an EventSet by that name is
// already present, in which case it is a no-op and es is discarded in
// favor of the existing entry, matching C8's "register if not present" rule.
func (r *EventSetRegistry) Register(es *EventSet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sets[es.Name]; !ok {
		r.sets[es.Name] = es
	}
}

// Resolve looks up an EventSet by name.
func (r *EventSetRegistry) Resolve(name string) (*EventSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	es, ok := r.sets[name]
	if !ok {
		return nil, fmt.Errorf("bpsec: unresolved securityFailureEventSetReference %q", name)
	}
	return es, nil
}
