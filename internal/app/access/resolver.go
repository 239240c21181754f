package access

import (
	"errors"
	"net/http"
)

// ErrNoRole is returned by a RoleResolver when the request carries no role.
var ErrNoRole = errors.New("no role")

// RoleResolver extracts the caller's role from a request authenticated upstream.
type RoleResolver func(r *http.Request) (Role, error)

// HeaderResolver trusts the role set in header by the fronting auth proxy.
func HeaderResolver(header string) RoleResolver {
	if header == "" {
		header = "X-Role"
	}
	return func(r *http.Request) (Role, error) {
		raw := r.Header.Get(header)
		if raw == "" {
			return "", ErrNoRole
		}
		return ParseRole(raw)
	}
}

// StaticResolver grants every request the same role; used by embedded and test setups.
func StaticResolver(role Role) RoleResolver {
	return func(*http.Request) (Role, error) { return role, nil }
}
