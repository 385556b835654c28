// SPDX-FileCopyrightText: 2022 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpsec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtn7-bpsec/pkg/bpv7"
)

// BpSecConfig is the top-level JSON configuration document (§6): a named
// set of policy rules plus the failure event sets they reference.
type BpSecConfig struct {
	BpsecConfigName          string             `json:"bpsecConfigName"`
	PolicyRules              []PolicyRuleConfig `json:"policyRules"`
	SecurityFailureEventSets []EventSetConfig   `json:"securityFailureEventSets"`
}

// ContextParamConfig is one {paramName,value} pair of a policyRule's
// securityContextParams array.
type ContextParamConfig struct {
	ParamName string      `json:"paramName"`
	Value     interface{} `json:"value"`
}

// PolicyRuleConfig mirrors spec.md §6's policyRule object.
type PolicyRuleConfig struct {
	Description                      string               `json:"description"`
	SecurityPolicyRuleId             uint64               `json:"securityPolicyRuleId"`
	SecurityRole                     string               `json:"securityRole"`
	SecuritySource                   string               `json:"securitySource"`
	BundleSource                     []string             `json:"bundleSource"`
	BundleFinalDestination           []string             `json:"bundleFinalDestination"`
	SecurityTargetBlockTypes         []uint64             `json:"securityTargetBlockTypes,omitempty"`
	SecurityService                  string               `json:"securityService"`
	SecurityContext                  string               `json:"securityContext"`
	SecurityFailureEventSetReference string               `json:"securityFailureEventSetReference"`
	SecurityContextParams            []ContextParamConfig `json:"securityContextParams,omitempty"`
}

// ActionConfig is one event-set action entry. Plain string actions decode
// with Bpcf left at zero; the two Override* actions additionally accept
// {"action":"...","bpcf":N}.
type ActionConfig struct {
	Action ActionKind
	Bpcf   uint64
}

func (a *ActionConfig) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		a.Action = ActionKind(plain)
		return nil
	}

	var obj struct {
		Action string `json:"action"`
		Bpcf   uint64 `json:"bpcf"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("bpsec: action entry is neither a string nor an {action,bpcf} object: %v", err)
	}
	a.Action = ActionKind(obj.Action)
	a.Bpcf = obj.Bpcf
	return nil
}

func (a ActionConfig) MarshalJSON() ([]byte, error) {
	if a.Action != ActionOverrideSecurityTargetBlockBpcf && a.Action != ActionOverrideSopBpcf {
		return json.Marshal(string(a.Action))
	}
	return json.Marshal(struct {
		Action string `json:"action"`
		Bpcf   uint64 `json:"bpcf"`
	}{string(a.Action), a.Bpcf})
}

// SecurityOperationEventConfig is one {eventId, actions} entry of an
// eventSet's securityOperationEvents array.
type SecurityOperationEventConfig struct {
	EventId string         `json:"eventId"`
	Actions []ActionConfig `json:"actions"`
}

// EventSetConfig mirrors spec.md §6's eventSet object.
type EventSetConfig struct {
	Name                    string                         `json:"name"`
	Description             string                         `json:"description"`
	SecurityOperationEvents []SecurityOperationEventConfig `json:"securityOperationEvents"`
}

// ToJSON re-serializes this config, matching the original HDTN
// BPSecConfig's ToJson() behavior referenced for Config Watcher diffing
// and bpsecctl inspection.
func (c *BpSecConfig) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}

// Equal reports whether c and other serialize to byte-identical JSON,
// mirroring the original's operator== over the parsed structure.
func (c *BpSecConfig) Equal(other *BpSecConfig) bool {
	a, errA := c.ToJSON()
	b, errB := other.ToJSON()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// LoadResult is the populated C2/C4/C5 state produced by a successful
// LoadFromConfig call.
type LoadResult struct {
	Store            *Store
	EventSets        *EventSetRegistry
	SecurityContexts *SecurityContextRegistry
}

// LoadFromConfig is the Config Loader (C8): it validates cfg and, if every
// rule resolves cleanly, returns a fully populated Store/EventSetRegistry/
// SecurityContextRegistry. Any duplication, unresolved reference, or parse
// failure aborts the whole load; nothing partial is committed.
func LoadFromConfig(cfg *BpSecConfig) (*LoadResult, error) {
	var errs *multierror.Error

	eventSets := NewEventSetRegistry()
	for _, esc := range cfg.SecurityFailureEventSets {
		es, err := buildEventSet(esc)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		eventSets.Register(es)
	}

	secCtx := NewSecurityContextRegistry()
	store := NewStore()

	seenRuleKeys := make(map[PolicyKey]uint64) // detects the "two services, one key" Open Question case

	for _, rule := range cfg.PolicyRules {
		if err := validateRuleReferences(rule, eventSets); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}

		role, err := ParseRole(rule.SecurityRole)
		if err != nil {
			errs = multierror.Append(errs, newError(KindParseError, "rule %d: %v", rule.SecurityPolicyRuleId, err))
			continue
		}

		service, err := ParseService(rule.SecurityService)
		if err != nil {
			errs = multierror.Append(errs, newError(KindParseError, "rule %d: %v", rule.SecurityPolicyRuleId, err))
			continue
		}

		params, paramErr := buildContextParams(rule.SecurityContextParams)
		if paramErr != nil {
			errs = multierror.Append(errs, newError(KindParseError, "rule %d: %v", rule.SecurityPolicyRuleId, paramErr))
			continue
		}

		if !knownContextName(ContextName(rule.SecurityContext)) {
			errs = multierror.Append(errs, newError(KindResolveError, "rule %d: unknown securityContext %q", rule.SecurityPolicyRuleId, rule.SecurityContext))
			continue
		}

		if params.KeyFile != "" {
			if _, err := secCtx.LoadKey(ContextName(rule.SecurityContext), params, params.KeyFile); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("rule %d: %v", rule.SecurityPolicyRuleId, err))
				continue
			}
		}

		targets := make(map[uint64]struct{}, len(rule.SecurityTargetBlockTypes))
		for _, t := range rule.SecurityTargetBlockTypes {
			targets[t] = struct{}{}
		}

		bundleSources := rule.BundleSource
		bundleDests := rule.BundleFinalDestination
		if len(bundleSources) == 0 {
			bundleSources = []string{"ipn:*.*"}
		}
		if len(bundleDests) == 0 {
			bundleDests = []string{"ipn:*.*"}
		}

		for _, bsp := range bundleSources {
			for _, bdp := range bundleDests {
				policy, isNew, ok := store.CreateOrGet(rule.SecuritySource, bsp, bdp, role, func(key PolicyKey) *Policy {
					return &Policy{
						Service:              service,
						ContextID:            rule.SecurityContext,
						TargetBlockTypeCodes: targets,
						ContextParams:        params,
						EventSetRef:          rule.SecurityFailureEventSetReference,
						RuleIDs:              []uint64{rule.SecurityPolicyRuleId},
					}
				})
				if !ok {
					errs = multierror.Append(errs, newError(KindParseError,
						"rule %d: invalid pattern or role (securitySource=%q bundleSource=%q bundleFinalDestination=%q role=%q)",
						rule.SecurityPolicyRuleId, rule.SecuritySource, bsp, bdp, rule.SecurityRole))
					continue
				}

				if !isNew {
					if prevRule, seen := seenRuleKeys[policy.Key]; seen && prevRule != rule.SecurityPolicyRuleId {
						errs = multierror.Append(errs, newError(KindResolveError,
							"rules %d and %d collide on the same PolicyKey with different rule definitions",
							prevRule, rule.SecurityPolicyRuleId))
						continue
					}
					policy.RuleIDs = append(policy.RuleIDs, rule.SecurityPolicyRuleId)
				}
				seenRuleKeys[policy.Key] = rule.SecurityPolicyRuleId
			}
		}
	}

	if errs != nil && errs.Len() > 0 {
		log.WithField("config", cfg.BpsecConfigName).WithError(errs).Warn("Rejecting BpSec config load")
		return nil, errs.ErrorOrNil()
	}

	log.WithFields(log.Fields{
		"config":   cfg.BpsecConfigName,
		"policies": store.Len(),
	}).Info("Loaded BpSec config")

	return &LoadResult{Store: store, EventSets: eventSets, SecurityContexts: secCtx}, nil
}

func validateRuleReferences(rule PolicyRuleConfig, eventSets *EventSetRegistry) error {
	if rule.SecurityFailureEventSetReference == "" {
		return nil
	}
	if _, err := eventSets.Resolve(rule.SecurityFailureEventSetReference); err != nil {
		return fmt.Errorf("rule %d: %v", rule.SecurityPolicyRuleId, err)
	}
	return nil
}

func buildContextParams(raw []ContextParamConfig) (ContextParams, error) {
	var p ContextParams
	for _, kv := range raw {
		switch kv.ParamName {
		case "aesVariant":
			v, err := asUint64(kv.Value)
			if err != nil || (v != 128 && v != 256) {
				return p, fmt.Errorf("aesVariant must be 128 or 256")
			}
			if v == 128 {
				p.AesVariant = bpv7.A128GCM
			} else {
				p.AesVariant = bpv7.A256GCM
			}
		case "shaVariant":
			v, err := asUint64(kv.Value)
			if err != nil || (v != 256 && v != 384 && v != 512) {
				return p, fmt.Errorf("shaVariant must be 256, 384 or 512")
			}
			switch v {
			case 256:
				p.ShaVariant = bpv7.HMAC256SHA256
			case 384:
				p.ShaVariant = bpv7.HMAC384SHA384
			case 512:
				p.ShaVariant = bpv7.HMAC512SHA512
			}
		case "ivSizeBytes":
			v, err := asUint64(kv.Value)
			if err != nil || (v != 12 && v != 16) {
				return p, fmt.Errorf("ivSizeBytes must be 12 or 16")
			}
			p.IvSizeBytes = v
		case "keyFile":
			s, ok := kv.Value.(string)
			if !ok || s == "" {
				return p, fmt.Errorf("keyFile must be a non-empty string")
			}
			p.KeyFile = s
		case "securityBlockCrc":
			v, err := asUint64(kv.Value)
			if err != nil || (v != 0 && v != 16 && v != 32) {
				return p, fmt.Errorf("securityBlockCrc must be 0, 16 or 32")
			}
			p.SecurityBlockCrc = v
		case "scopeFlags":
			v, err := asUint64(kv.Value)
			if err != nil || v > 7 {
				return p, fmt.Errorf("scopeFlags must be in [0,7]")
			}
			p.ScopeFlags = uint16(v)
		default:
			return p, fmt.Errorf("unrecognized securityContextParams paramName %q", kv.ParamName)
		}
	}
	return p, nil
}

func asUint64(v interface{}) (uint64, error) {
	switch n := v.(type) {
	case float64:
		return uint64(n), nil
	case json.Number:
		i, err := n.Int64()
		return uint64(i), err
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

func buildEventSet(cfg EventSetConfig) (*EventSet, error) {
	es := &EventSet{
		Name:        cfg.Name,
		Description: cfg.Description,
		Events:      make(map[EventID][]Action),
	}

	var errs *multierror.Error
	for _, soe := range cfg.SecurityOperationEvents {
		id := EventID(soe.EventId)
		if !knownEventID(id) {
			errs = multierror.Append(errs, fmt.Errorf("eventSet %q: unknown eventId %q", cfg.Name, soe.EventId))
			continue
		}

		actions := make([]Action, 0, len(soe.Actions))
		for _, ac := range soe.Actions {
			if !knownAction(ac.Action) {
				errs = multierror.Append(errs, fmt.Errorf("eventSet %q: unknown action %q", cfg.Name, ac.Action))
				continue
			}
			actions = append(actions, Action{Kind: ac.Action, Bpcf: ac.Bpcf})
		}
		es.Events[id] = actions
	}

	if errs != nil && errs.Len() > 0 {
		return nil, errs.ErrorOrNil()
	}
	return es, nil
}
