package opsdeck

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Role is an ordered access level. Higher values strictly contain the access
// of lower ones, so comparisons are plain integer comparisons.
type Role int

const (
	// RoleUser is the portal profile: end-user self-service only.
	RoleUser Role = iota

	// RoleTech is a technician whose module access is scoped by explicit
	// capability grants.
	RoleTech

	// RoleAdmin has every cataloged capability.
	RoleAdmin

	// RoleSuperadmin has unrestricted access, including the reserved
	// operator capabilities that admins never receive.
	RoleSuperadmin
)

var roleNames = map[Role]string{
	RoleUser:       "user",
	RoleTech:       "tech",
	RoleAdmin:      "admin",
	RoleSuperadmin: "superadmin",
}

// String returns the wire name for the role.
func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Valid reports whether r is one of the four defined levels.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// Satisfies reports whether r grants at least the access of required.
// Unknown roles satisfy nothing.
func (r Role) Satisfies(required Role) bool {
	if !r.Valid() || !required.Valid() {
		return false
	}
	return r >= required
}

// ParseRole maps a wire name back to a Role.
func ParseRole(s string) (Role, error) {
	for r, n := range roleNames {
		if n == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("opsdeck: unknown role %q", s)
}

// MarshalJSON encodes the role as its wire name.
func (r Role) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("opsdeck: cannot encode invalid role %d", int(r))
	}
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a wire name into a Role.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Capability is a grantable console module. The set of capabilities is
// closed: values outside Catalog and the reserved pair do not exist, and
// constructing a set from unknown names is an error rather than a lookup
// that silently evaluates false.
type Capability string

const (
	CapIPAM         Capability = "ipam"
	CapInventory    Capability = "inventory"
	CapDCIM         Capability = "dcim"
	CapContracts    Capability = "contracts"
	CapSoftware     Capability = "software"
	CapTopology     Capability = "topology"
	CapKnowledge    Capability = "knowledge"
	CapTicketsAdmin Capability = "tickets_admin"
	CapReports      Capability = "reports"

	// CapScripts and CapSystem are reserved operator capabilities. They are
	// outside the grantable catalog: superadmin holds them implicitly and
	// nobody else can hold them at all.
	CapScripts Capability = "scripts"
	CapSystem  Capability = "system"
)

var catalog = map[Capability]struct{}{
	CapIPAM:         {},
	CapInventory:    {},
	CapDCIM:         {},
	CapContracts:    {},
	CapSoftware:     {},
	CapTopology:     {},
	CapKnowledge:    {},
	CapTicketsAdmin: {},
	CapReports:      {},
}

var reserved = map[Capability]struct{}{
	CapScripts: {},
	CapSystem:  {},
}

// Catalog returns the grantable capabilities in stable order.
func Catalog() []Capability {
	out := make([]Capability, 0, len(catalog))
	for c := range catalog {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// InCatalog reports whether c is a grantable capability.
func (c Capability) InCatalog() bool {
	_, ok := catalog[c]
	return ok
}

// Reserved reports whether c is one of the superadmin-only capabilities.
func (c Capability) Reserved() bool {
	_, ok := reserved[c]
	return ok
}

// Valid reports whether c names any defined capability, grantable or reserved.
func (c Capability) Valid() bool {
	return c.InCatalog() || c.Reserved()
}

// CapabilitySet is an unordered set of granted capabilities.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from grantable capabilities. Unknown or
// reserved names are rejected: reserved capabilities cannot be granted,
// only held implicitly by superadmin.
func NewCapabilitySet(caps ...Capability) (CapabilitySet, error) {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		if !c.InCatalog() {
			return nil, fmt.Errorf("opsdeck: capability %q is not grantable", string(c))
		}
		set[c] = struct{}{}
	}
	return set, nil
}

// ParseCapabilities builds a set from wire names, with the same strictness
// as NewCapabilitySet.
func ParseCapabilities(names []string) (CapabilitySet, error) {
	caps := make([]Capability, len(names))
	for i, n := range names {
		caps[i] = Capability(n)
	}
	return NewCapabilitySet(caps...)
}

// Contains reports set membership.
func (s CapabilitySet) Contains(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Names returns the wire names in stable order.
func (s CapabilitySet) Names() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}

func (s CapabilitySet) clone() CapabilitySet {
	if s == nil {
		return nil
	}
	cp := make(CapabilitySet, len(s))
	for c := range s {
		cp[c] = struct{}{}
	}
	return cp
}

// MarshalJSON encodes the set as a sorted array of names.
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

// UnmarshalJSON decodes an array of names, rejecting unknown ones.
func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	set, err := ParseCapabilities(names)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// SatisfiesRole reports whether the identity holds at least the required
// role. A nil identity satisfies nothing.
func (id *Identity) SatisfiesRole(required Role) bool {
	if id == nil {
		return false
	}
	return id.Role.Satisfies(required)
}

// HasCapability evaluates module access for the identity:
// superadmin holds everything, admin holds the full catalog, tech holds
// exactly its granted set, and the portal user role holds nothing.
func (id *Identity) HasCapability(c Capability) bool {
	if id == nil {
		return false
	}
	switch id.Role {
	case RoleSuperadmin:
		return true
	case RoleAdmin:
		return c.InCatalog()
	case RoleTech:
		return id.Permissions.Contains(c)
	default:
		return false
	}
}
