// Package policy decides whether a caller may touch a record. Decisions are
// pure functions of the caller, the operation and the configured role sets;
// nothing here performs I/O.
package policy

import (
	"slices"
	"strings"

	"unison-context/internal/domain"
)

// Role names recognised by the default allow-sets.
const (
	RoleAdmin     = "admin"
	RoleOperator  = "operator"
	RoleService   = "service"
	RoleAssistant = "assistant"
)

// DenyReason says why a request was refused.
type DenyReason int

const (
	ReasonNone DenyReason = iota
	// ReasonNoIdentity means the caller presented no role.
	ReasonNoIdentity
	// ReasonRoleNotPermitted means none of the caller's roles may touch the
	// kind.
	ReasonRoleNotPermitted
	// ReasonNoConsent means no consent scope covers the target.
	ReasonNoConsent
)

// String returns a human-readable reason.
func (r DenyReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonNoIdentity:
		return "no identity"
	case ReasonRoleNotPermitted:
		return "role not permitted"
	case ReasonNoConsent:
		return "no consent"
	default:
		return "unknown"
	}
}

// Decision is the outcome of Authorize. Reason is only meaningful when
// Allowed is false.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

var allow = Decision{Allowed: true}

// Caller is the identity attached to a request by the routing layer.
type Caller struct {
	PersonID string
	Roles    []string
	Scopes   []Scope
}

// DefaultRoles returns the allow-set for each kind. Sessions hold raw
// transcripts and get the narrowest set.
func DefaultRoles() map[domain.Kind][]string {
	return map[domain.Kind][]string{
		domain.KindProfile:   {RoleAdmin, RoleOperator, RoleService},
		domain.KindDashboard: {RoleAdmin, RoleOperator, RoleService, RoleAssistant},
		domain.KindSession:   {RoleAdmin, RoleService},
		domain.KindKV:        {RoleAdmin, RoleOperator, RoleService},
	}
}

// Evaluator applies the allow-sets and consent scopes.
type Evaluator struct {
	enforce bool
	roles   map[domain.Kind][]string
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithRoles replaces the allow-set for the kinds present in roles. Kinds
// not mentioned keep their default.
func WithRoles(roles map[domain.Kind][]string) Option {
	return func(e *Evaluator) {
		for kind, set := range roles {
			normalized := make([]string, 0, len(set))
			for _, r := range set {
				normalized = append(normalized, strings.ToLower(strings.TrimSpace(r)))
			}
			e.roles[kind] = normalized
		}
	}
}

// NewEvaluator builds an Evaluator. With enforce false every request is
// allowed.
func NewEvaluator(enforce bool, opts ...Option) *Evaluator {
	e := &Evaluator{enforce: enforce, roles: DefaultRoles()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enforcing reports whether consent checks are on.
func (e *Evaluator) Enforcing() bool { return e.enforce }

// Authorize decides whether caller may perform op on the record of kind
// owned by target. For kv entries target is the namespace.
//
// Rules, in order:
//  1. Enforcement off: allow.
//  2. Caller has no roles: deny, no identity.
//  3. No caller role is in the kind's allow-set: deny, role not permitted.
//  4. No scope covers kind, access and target: deny, no consent.
//
// Delete needs write access.
func (e *Evaluator) Authorize(caller Caller, op domain.Operation, target string, kind domain.Kind) Decision {
	if !e.enforce {
		return allow
	}
	if len(caller.Roles) == 0 {
		return Decision{Reason: ReasonNoIdentity}
	}

	permitted := e.roles[kind]
	roleOK := false
	for _, r := range caller.Roles {
		if slices.Contains(permitted, strings.ToLower(strings.TrimSpace(r))) {
			roleOK = true
			break
		}
	}
	if !roleOK {
		return Decision{Reason: ReasonRoleNotPermitted}
	}

	access := AccessWrite
	if op == domain.OpRead {
		access = AccessRead
	}
	for _, s := range caller.Scopes {
		if s.covers(kind, access, target) {
			return allow
		}
	}
	return Decision{Reason: ReasonNoConsent}
}
