package sentinel

import "errors"

// Sentinel errors shared by every stage of the pipeline. Clients, stores and services
// return these (optionally wrapped) so callers can branch with errors.Is.
//
// Lookup facts:
// - ErrNotFound: an upstream lookup or a cache returned no match
// - ErrUpstreamUnavailable: transient network/5xx failure, retryable
//
// Pipeline outcomes:
// - ErrUnresolvableAddress: geocoding or geography lookup found nothing
// - ErrUnsupportedJurisdiction: the address resolved but no office mapping exists
// - ErrIncompleteProfile: the household profile lacks fields the simulator needs
// - ErrSimulationFailed: the simulator answered with unusable data
//
// Caller mistakes:
// - ErrInvalidInput: malformed request values
// - ErrInvalidState: a deadline stage transition is not allowed
var (
	ErrNotFound                = errors.New("not found")
	ErrUpstreamUnavailable     = errors.New("upstream unavailable")
	ErrUnresolvableAddress     = errors.New("unresolvable address")
	ErrUnsupportedJurisdiction = errors.New("unsupported jurisdiction")
	ErrIncompleteProfile       = errors.New("incomplete profile")
	ErrSimulationFailed        = errors.New("simulation failed")
	ErrInvalidInput            = errors.New("invalid input")
	ErrInvalidState            = errors.New("invalid state")
)
