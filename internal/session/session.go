// Package session carries the tenant and device identity that scopes every
// local and remote store operation.
//
// The session is passed explicitly into each call rather than read from
// ambient state, so two coordinators for different tenants can share a
// process without leaking records across them.
package session

import "fmt"

// Session identifies the tenant (account) and originating device for a
// store operation. Tenant is mandatory; Device is informational and appears
// in logs and remote audit fields.
type Session struct {
	Tenant string
	Device string
}

// New returns a session for the given tenant and device.
func New(tenant, device string) Session {
	return Session{Tenant: tenant, Device: device}
}

// Valid reports whether the session carries a usable tenant identifier.
func (s Session) Valid() bool {
	return s.Tenant != ""
}

// String returns a log-friendly representation.
func (s Session) String() string {
	if s.Device == "" {
		return s.Tenant
	}
	return fmt.Sprintf("%s@%s", s.Tenant, s.Device)
}
