package common

import (
	"errors"

	"collend/crypto"
)

// Role names recognised by the engines. The authorizer decides membership;
// the engines only name the role they require.
const (
	RoleOracleUpdater = "oracle.updater"
	RoleRiskAdmin     = "risk.admin"
)

// ErrUnauthorized is returned when the caller lacks the role an operation
// requires. Not retryable by the same caller.
var ErrUnauthorized = errors.New("caller not authorized")

// Authorizer is the external authorization collaborator. Engines never
// hard-code identity: membership changes without touching engine code.
type Authorizer interface {
	Allow(role string, addr crypto.Address) bool
}

// Authorize rejects the call unless the authorizer admits the caller for the
// role. A nil authorizer denies everything so an unwired engine fails closed.
func Authorize(a Authorizer, role string, addr crypto.Address) error {
	if a == nil || !a.Allow(role, addr) {
		return ErrUnauthorized
	}
	return nil
}

// StaticRoles is a map-backed Authorizer for configuration-driven role sets.
type StaticRoles struct {
	members map[string]map[string]struct{}
}

// NewStaticRoles returns an empty role set.
func NewStaticRoles() *StaticRoles {
	return &StaticRoles{members: make(map[string]map[string]struct{})}
}

// Grant adds the address to the role's membership.
func (s *StaticRoles) Grant(role string, addr crypto.Address) {
	if s == nil || role == "" || addr.IsZero() {
		return
	}
	if s.members == nil {
		s.members = make(map[string]map[string]struct{})
	}
	set, ok := s.members[role]
	if !ok {
		set = make(map[string]struct{})
		s.members[role] = set
	}
	set[string(addr.Bytes())] = struct{}{}
}

// Revoke removes the address from the role's membership.
func (s *StaticRoles) Revoke(role string, addr crypto.Address) {
	if s == nil || s.members == nil {
		return
	}
	if set, ok := s.members[role]; ok {
		delete(set, string(addr.Bytes()))
	}
}

// Allow implements the Authorizer interface.
func (s *StaticRoles) Allow(role string, addr crypto.Address) bool {
	if s == nil || s.members == nil {
		return false
	}
	set, ok := s.members[role]
	if !ok {
		return false
	}
	_, ok = set[string(addr.Bytes())]
	return ok
}
