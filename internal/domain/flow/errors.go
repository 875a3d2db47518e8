package flow

import (
	"errors"
	"fmt"
	"strings"
)

// Errors
var (
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrSyncViolation        = errors.New("cross-entity sync violation")
	ErrForbiddenTransition  = errors.New("forbidden transition")
	ErrStaleState           = errors.New("stale state")
	ErrVerificationMismatch = errors.New("verification mismatch")
	ErrVerificationTimeout  = errors.New("gateway verification timed out")
)

// Reason codes carried by ForbiddenTransitionError.
const (
	ReasonPaymentRequired   = "PAYMENT_REQUIRED"
	ReasonFormsRequired     = "FORMS_REQUIRED"
	ReasonRetroactiveChange = "RETROACTIVE_CHANGE"
	ReasonUnpaidAccess      = "UNPAID_ACCESS"
)

// InvalidTransitionError is returned when a single entity's table has no edge from From to To.
type InvalidTransitionError struct {
	Entity  EntityType
	From    string
	To      string
	Allowed []string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s (allowed: [%s])",
		strings.ToLower(string(e.Entity)), e.From, e.To, strings.Join(e.Allowed, ", "))
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// SyncViolationError is returned when the joint state of a booking breaks a compatibility rule.
type SyncViolationError struct {
	Payment PaymentState
	Session SessionState
	Video   VideoState
	Rule    string
}

func (e *SyncViolationError) Error() string {
	video := string(e.Video)
	if video == "" {
		video = "none"
	}
	return fmt.Sprintf("sync violation (payment=%s session=%s video=%s): %s", e.Payment, e.Session, video, e.Rule)
}

func (e *SyncViolationError) Is(target error) bool { return target == ErrSyncViolation }

// ForbiddenTransitionError is returned for explicitly blacklisted attempts.
type ForbiddenTransitionError struct {
	Reason string
	Entity EntityType
	From   string
	To     string
}

func (e *ForbiddenTransitionError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("forbidden %s attempt from %s: %s", strings.ToLower(string(e.Entity)), e.From, e.Reason)
	}
	return fmt.Sprintf("forbidden %s transition %s -> %s: %s", strings.ToLower(string(e.Entity)), e.From, e.To, e.Reason)
}

func (e *ForbiddenTransitionError) Is(target error) bool { return target == ErrForbiddenTransition }

// StaleStateError is returned when the persisted state no longer matches the expected from-state.
type StaleStateError struct {
	Entity   EntityType
	EntityID string
	Expected string
	Actual   string
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("stale %s %s: expected %s, found %s", strings.ToLower(string(e.Entity)), e.EntityID, e.Expected, e.Actual)
}

func (e *StaleStateError) Is(target error) bool { return target == ErrStaleState }

// VerificationMismatchError is returned when an external callback disagrees with the record on file.
type VerificationMismatchError struct {
	ExternalTransactionID string
	BookingRef            string
	Detail                string
}

func (e *VerificationMismatchError) Error() string {
	return fmt.Sprintf("verification mismatch for %s (booking %s): %s", e.ExternalTransactionID, e.BookingRef, e.Detail)
}

func (e *VerificationMismatchError) Is(target error) bool { return target == ErrVerificationMismatch }

// ForbiddenReason extracts the reason code from a forbidden-transition error.
func ForbiddenReason(err error) (string, bool) {
	var fe *ForbiddenTransitionError
	if errors.As(err, &fe) {
		return fe.Reason, true
	}
	return "", false
}
