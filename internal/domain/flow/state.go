package flow

import "fmt"

// EntityType identifies one of the coupled entities of a booking.
type EntityType string

const (
	EntityPayment EntityType = "PAYMENT"
	EntitySession EntityType = "SESSION"
	EntityVideo   EntityType = "VIDEO_CALL"
)

// EntityTypes lists every entity type in a stable order.
var EntityTypes = []EntityType{EntityPayment, EntitySession, EntityVideo}

// ParseEntityType parses a string to EntityType
func ParseEntityType(s string) (EntityType, error) {
	switch EntityType(s) {
	case EntityPayment, EntitySession, EntityVideo:
		return EntityType(s), nil
	default:
		return "", fmt.Errorf("invalid entity type: %s", s)
	}
}

// PaymentState represents payment status.
type PaymentState string

const (
	PaymentPending   PaymentState = "PENDING"
	PaymentInitiated PaymentState = "INITIATED"
	PaymentConfirmed PaymentState = "CONFIRMED"
	PaymentFailed    PaymentState = "FAILED"
	PaymentRefunded  PaymentState = "REFUNDED"
	PaymentCancelled PaymentState = "CANCELLED"
)

// PaymentStates lists every payment state in table order.
var PaymentStates = []PaymentState{
	PaymentPending, PaymentInitiated, PaymentConfirmed, PaymentFailed, PaymentRefunded, PaymentCancelled,
}

// Next returns the states a payment may move to. Unknown states return ok=false.
func (s PaymentState) Next() ([]PaymentState, bool) {
	switch s {
	case PaymentPending:
		return []PaymentState{PaymentInitiated, PaymentCancelled}, true
	case PaymentInitiated:
		return []PaymentState{PaymentConfirmed, PaymentFailed, PaymentCancelled}, true
	case PaymentConfirmed:
		return []PaymentState{PaymentRefunded}, true
	case PaymentFailed:
		return []PaymentState{PaymentInitiated, PaymentCancelled}, true
	case PaymentRefunded, PaymentCancelled:
		return []PaymentState{}, true
	}
	return nil, false
}

// SessionState represents session status.
type SessionState string

const (
	SessionRequested       SessionState = "REQUESTED"
	SessionApproved        SessionState = "APPROVED"
	SessionPaymentPending  SessionState = "PAYMENT_PENDING"
	SessionPaid            SessionState = "PAID"
	SessionFormsRequired   SessionState = "FORMS_REQUIRED"
	SessionReady           SessionState = "READY"
	SessionInProgress      SessionState = "IN_PROGRESS"
	SessionCompleted       SessionState = "COMPLETED"
	SessionCancelled       SessionState = "CANCELLED"
	SessionNoShowClient    SessionState = "NO_SHOW_CLIENT"
	SessionNoShowTherapist SessionState = "NO_SHOW_THERAPIST"
)

// SessionStates lists every session state in table order.
var SessionStates = []SessionState{
	SessionRequested, SessionApproved, SessionPaymentPending, SessionPaid, SessionFormsRequired,
	SessionReady, SessionInProgress, SessionCompleted, SessionCancelled, SessionNoShowClient, SessionNoShowTherapist,
}

// Next returns the states a session may move to. Unknown states return ok=false.
func (s SessionState) Next() ([]SessionState, bool) {
	switch s {
	case SessionRequested:
		return []SessionState{SessionApproved, SessionCancelled}, true
	case SessionApproved:
		return []SessionState{SessionPaymentPending, SessionCancelled}, true
	case SessionPaymentPending:
		return []SessionState{SessionPaid, SessionCancelled}, true
	case SessionPaid:
		return []SessionState{SessionFormsRequired, SessionReady, SessionCancelled}, true
	case SessionFormsRequired:
		return []SessionState{SessionReady, SessionCancelled}, true
	case SessionReady:
		return []SessionState{SessionInProgress, SessionNoShowClient, SessionNoShowTherapist, SessionCancelled}, true
	case SessionInProgress:
		return []SessionState{SessionCompleted, SessionCancelled}, true
	case SessionCompleted, SessionCancelled, SessionNoShowClient, SessionNoShowTherapist:
		return []SessionState{}, true
	}
	return nil, false
}

// VideoState represents video call status.
type VideoState string

const (
	VideoNotStarted VideoState = "NOT_STARTED"
	VideoWaiting    VideoState = "WAITING_FOR_PARTICIPANTS"
	VideoActive     VideoState = "ACTIVE"
	VideoEnded      VideoState = "ENDED"
	VideoFailed     VideoState = "FAILED"
)

// VideoStates lists every video call state in table order.
var VideoStates = []VideoState{VideoNotStarted, VideoWaiting, VideoActive, VideoEnded, VideoFailed}

// Next returns the states a video call may move to. Unknown states return ok=false.
func (s VideoState) Next() ([]VideoState, bool) {
	switch s {
	case VideoNotStarted:
		return []VideoState{VideoWaiting}, true
	case VideoWaiting:
		return []VideoState{VideoActive, VideoFailed, VideoEnded}, true
	case VideoActive:
		return []VideoState{VideoEnded, VideoFailed}, true
	case VideoEnded:
		return []VideoState{}, true
	case VideoFailed:
		return []VideoState{VideoWaiting}, true
	}
	return nil, false
}

// IsTerminal reports whether the payment accepts no further transitions.
func (s PaymentState) IsTerminal() bool {
	next, ok := s.Next()
	return ok && len(next) == 0
}

// IsTerminal reports whether the session accepts no further transitions.
func (s SessionState) IsTerminal() bool {
	next, ok := s.Next()
	return ok && len(next) == 0
}

// IsTerminal reports whether the video call accepts no further transitions.
func (s VideoState) IsTerminal() bool {
	next, ok := s.Next()
	return ok && len(next) == 0
}
