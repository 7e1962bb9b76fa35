// Package governance holds the privileged escape hatches of the protocol:
// force-confirm, force-revoke, whitelist management and local stake funding.
package governance

import (
	"fmt"
	"strings"
	"sync/atomic"

	"threatmesh/internal/domain"
)

// Capability proves a caller passed the governance check. It can only be
// obtained from Authority.Authorize.
type Capability struct {
	holder string
}

func (c Capability) Holder() string { return c.holder }

// Authority decides who holds governance rights. A caller needs the
// governance role and, when a member list is configured, must be on it.
type Authority struct {
	members atomic.Pointer[map[string]struct{}]
}

func NewAuthority(members ...string) *Authority {
	a := &Authority{}
	a.SetMembers(members)
	return a
}

// SetMembers replaces the member list. An empty list admits every caller that
// carries the governance role.
func (a *Authority) SetMembers(members []string) {
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		if m = strings.TrimSpace(m); m != "" {
			set[m] = struct{}{}
		}
	}
	a.members.Store(&set)
}

func (a *Authority) Authorize(caller domain.Caller) (Capability, error) {
	if caller.Role != domain.RoleGovernance || strings.TrimSpace(caller.ID) == "" {
		return Capability{}, fmt.Errorf("governance: %w: %q", domain.ErrUnauthorized, caller.ID)
	}
	if set := a.members.Load(); set != nil && len(*set) > 0 {
		if _, ok := (*set)[caller.ID]; !ok {
			return Capability{}, fmt.Errorf("governance: %w: %q is not a governance member", domain.ErrUnauthorized, caller.ID)
		}
	}
	return Capability{holder: caller.ID}, nil
}
