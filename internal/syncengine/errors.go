package syncengine

import "fmt"

// AmbiguousIdentityError reports that the canonical business key of a
// shipment could not be determined because the remote probes failed
// transiently. The engine falls back to the invoice-number key for the
// rest of the pass and does not persist the resolution.
type AmbiguousIdentityError struct {
	ShipmentKey string
	Cause       error
}

func (e *AmbiguousIdentityError) Error() string {
	return fmt.Sprintf("canonical key for shipment %s is ambiguous: %v", e.ShipmentKey, e.Cause)
}

func (e *AmbiguousIdentityError) Unwrap() error {
	return e.Cause
}
