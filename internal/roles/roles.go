package roles

import (
	"fmt"
	"strings"
)

// Role is a position in the platform's privilege hierarchy. Higher values
// include every permission of lower ones.
type Role int

const (
	Unknown Role = iota
	Client
	Support
	Admin
	SuperAdmin
)

var names = map[Role]string{
	Client:     "client",
	Support:    "support",
	Admin:      "admin",
	SuperAdmin: "super_admin",
}

func (r Role) String() string {
	if n, ok := names[r]; ok {
		return n
	}
	return "unknown"
}

// Parse maps a stored role name to a Role.
func Parse(s string) (Role, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for r, n := range names {
		if n == needle {
			return r, nil
		}
	}
	return Unknown, fmt.Errorf("unknown role %q", s)
}

// AtLeast reports whether role grants everything required grants.
func AtLeast(role, required Role) bool {
	if role == Unknown || required == Unknown {
		return false
	}
	return role >= required
}

// NameAtLeast is AtLeast for stored role names; unknown names never qualify.
func NameAtLeast(role string, required Role) bool {
	r, err := Parse(role)
	if err != nil {
		return false
	}
	return AtLeast(r, required)
}
