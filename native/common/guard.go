package common

import "errors"

// ErrOperationProhibited is returned when an operation targets a suspended
// section or tribe.
var ErrOperationProhibited = errors.New("operation prohibited")

// Suspension sections understood by the status registry. SectionSystem
// overrides everything else.
const (
	SectionSystem   = "system"
	SectionIssuance = "issuance"
	SectionExchange = "exchange"
)

// StatusView exposes the operational status flags consulted before every
// mutating operation.
type StatusView interface {
	IsSuspended(section string) bool
	IsTribeSuspended(key string) bool
}

// Guard returns ErrOperationProhibited when the system or the requested
// section is suspended. A nil view means no suspensions are configured.
func Guard(view StatusView, section string) error {
	if view == nil {
		return nil
	}
	if view.IsSuspended(SectionSystem) {
		return ErrOperationProhibited
	}
	if section != "" && section != SectionSystem && view.IsSuspended(section) {
		return ErrOperationProhibited
	}
	return nil
}

// GuardTribe returns ErrOperationProhibited when the given tribe key is
// individually suspended.
func GuardTribe(view StatusView, key string) error {
	if view == nil || key == "" {
		return nil
	}
	if view.IsTribeSuspended(key) {
		return ErrOperationProhibited
	}
	return nil
}
