// Package identity provides the access-control principal used by permission
// and subscription lookups: a node name with an optional profile and device.
package identity

import (
	"fmt"
	"strings"
)

// Identity is the caller principal, formatted "node[/profile[/device]]".
// The node part is always present; profile and device narrow the principal.
type Identity struct {
	Node    string
	Profile string
	Device  string
}

// Parse parses "node", "node/profile", or "node/profile/device".
// Parts must be non-empty and free of whitespace.
func Parse(s string) (Identity, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 1 || len(parts) > 3 {
		return Identity{}, fmt.Errorf("invalid identity: %q", s)
	}
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t\n") {
			return Identity{}, fmt.Errorf("invalid identity part in %q", s)
		}
	}
	id := Identity{Node: parts[0]}
	if len(parts) > 1 {
		id.Profile = parts[1]
	}
	if len(parts) > 2 {
		id.Device = parts[2]
	}
	return id, nil
}

// MustParse parses s and panics on failure. For tests and static identities.
func MustParse(s string) Identity {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String formats the identity back to its parsed form.
func (i Identity) String() string {
	out := i.Node
	if i.Profile != "" {
		out += "/" + i.Profile
		if i.Device != "" {
			out += "/" + i.Device
		}
	}
	return out
}

// IsZero reports whether the identity is empty.
func (i Identity) IsZero() bool {
	return i.Node == ""
}

// ProfileKey returns the node/profile pair without the device, the
// granularity at which VectorFS aggregates are stored.
func (i Identity) ProfileKey() string {
	if i.Profile == "" {
		return i.Node
	}
	return i.Node + "/" + i.Profile
}

// Covers reports whether a grant to i also covers other: a node-level
// identity covers all its profiles and devices, and a profile-level identity
// covers its devices.
func (i Identity) Covers(other Identity) bool {
	if i.Node != other.Node {
		return false
	}
	if i.Profile == "" {
		return true
	}
	if i.Profile != other.Profile {
		return false
	}
	if i.Device == "" {
		return true
	}
	return i.Device == other.Device
}

// MarshalText encodes the identity as its string form.
func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText decodes the identity from its string form.
func (i *Identity) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
