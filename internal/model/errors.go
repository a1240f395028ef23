package model

import "fmt"

// ValidationError reports a record that lacks a usable identity or violates
// a field invariant. Records failing validation are skipped and logged by
// the sync engine, never stored with placeholder identifiers.
type ValidationError struct {
	Entity string // shipment, box, product, dimension
	Key    string // best available identifier for the offending record
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("invalid %s: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Entity, e.Key, e.Reason)
}
