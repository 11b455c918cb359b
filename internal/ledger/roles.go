package ledger

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Role is a single capability bit.
type Role uint8

const (
	RoleIssuer Role = 1 << iota
	RoleGatekeeper
	RoleAdministrator
)

// AllRoles lists every role in display order.
var AllRoles = []Role{RoleIssuer, RoleGatekeeper, RoleAdministrator}

func (r Role) String() string {
	switch r {
	case RoleIssuer:
		return "issuer"
	case RoleGatekeeper:
		return "gatekeeper"
	case RoleAdministrator:
		return "administrator"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

func (r Role) valid() bool {
	return r == RoleIssuer || r == RoleGatekeeper || r == RoleAdministrator
}

// ParseRole accepts the names produced by Role.String.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "issuer":
		return RoleIssuer, nil
	case "gatekeeper":
		return RoleGatekeeper, nil
	case "administrator", "admin":
		return RoleAdministrator, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// RoleSet is the set of roles held by one account.
type RoleSet uint8

func (s RoleSet) Has(r Role) bool { return s&RoleSet(r) != 0 }

func (s RoleSet) With(r Role) RoleSet { return s | RoleSet(r) }

func (s RoleSet) Without(r Role) RoleSet { return s &^ RoleSet(r) }

// Roles returns the members of the set.
func (s RoleSet) Roles() []Role {
	var out []Role
	for _, r := range AllRoles {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// HasRole reports whether account holds role.
func (l *Ledger) HasRole(account common.Address, role Role) bool {
	return l.roles[account].Has(role)
}

// RolesOf returns the role set held by account.
func (l *Ledger) RolesOf(account common.Address) RoleSet {
	return l.roles[account]
}

// RoleMembers returns every account holding role, sorted by address.
func (l *Ledger) RoleMembers(role Role) []common.Address {
	var out []common.Address
	for account, set := range l.roles {
		if set.Has(role) {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (l *Ledger) requireRole(caller common.Address, role Role) error {
	if !l.HasRole(caller, role) {
		return fmt.Errorf("%w: %s needs %s", ErrMissingRole, caller.Hex(), role)
	}
	return nil
}

// Grant gives role to account. Administrator only.
func (l *Ledger) Grant(caller common.Address, role Role, account common.Address) error {
	return l.call(func() error {
		if err := l.requireRole(caller, RoleAdministrator); err != nil {
			return err
		}
		if !role.valid() {
			return ErrUnknownRole
		}
		if account == (common.Address{}) {
			return ErrZeroAccount
		}
		current := l.roles[account]
		if current.Has(role) {
			return nil
		}
		setEntry(l, l.roles, account, current.With(role))
		l.emit(RoleGranted{Role: role, Account: account, Sender: caller})
		return nil
	})
}

// Revoke removes role from account. Administrator only. The last
// administrator cannot be revoked.
func (l *Ledger) Revoke(caller common.Address, role Role, account common.Address) error {
	return l.call(func() error {
		if err := l.requireRole(caller, RoleAdministrator); err != nil {
			return err
		}
		if !role.valid() {
			return ErrUnknownRole
		}
		current := l.roles[account]
		if !current.Has(role) {
			return nil
		}
		if role == RoleAdministrator && len(l.RoleMembers(RoleAdministrator)) == 1 {
			return ErrLastAdministrator
		}
		next := current.Without(role)
		if next == 0 {
			deleteEntry(l, l.roles, account)
		} else {
			setEntry(l, l.roles, account, next)
		}
		l.emit(RoleRevoked{Role: role, Account: account, Sender: caller})
		return nil
	})
}
