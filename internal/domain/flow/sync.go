package flow

import "fmt"

// Joint is the combined state of one booking. Video is empty when no call exists.
type Joint struct {
	Payment PaymentState `json:"payment"`
	Session SessionState `json:"session"`
	Video   VideoState   `json:"video,omitempty"`
}

// Apply returns the joint state after the given changes.
func (j Joint) Apply(changes []Change) Joint {
	out := j
	for _, c := range changes {
		switch c.Entity {
		case EntityPayment:
			out.Payment = PaymentState(c.To)
		case EntitySession:
			out.Session = SessionState(c.To)
		case EntityVideo:
			out.Video = VideoState(c.To)
		}
	}
	return out
}

// SessionsAllowedWith returns the session states compatible with a payment state.
func SessionsAllowedWith(p PaymentState) []SessionState {
	switch p {
	case PaymentPending:
		return []SessionState{SessionRequested, SessionApproved}
	case PaymentInitiated:
		return []SessionState{SessionPaymentPending}
	case PaymentConfirmed:
		// A client no-show keeps the payment.
		return []SessionState{SessionPaid, SessionFormsRequired, SessionReady, SessionInProgress, SessionCompleted, SessionNoShowClient}
	case PaymentFailed:
		return []SessionState{SessionPaymentPending, SessionCancelled}
	case PaymentRefunded:
		return []SessionState{SessionCancelled, SessionNoShowTherapist}
	case PaymentCancelled:
		return []SessionState{SessionCancelled}
	}
	return nil
}

// VideosAllowedWith returns the video call states compatible with a session state.
// A booking without a video call is compatible with every session state.
//
// FAILED can only be left by a rejoin, so a failed call is kept as-is by every
// session state it can be carried into. A no-show ends a call the attending
// party was waiting in.
func VideosAllowedWith(s SessionState) []VideoState {
	switch s {
	case SessionReady:
		return []VideoState{VideoNotStarted, VideoWaiting, VideoFailed}
	case SessionInProgress:
		return []VideoState{VideoWaiting, VideoActive, VideoFailed}
	case SessionCompleted:
		return []VideoState{VideoEnded, VideoFailed}
	case SessionCancelled, SessionNoShowClient, SessionNoShowTherapist:
		return []VideoState{VideoNotStarted, VideoEnded, VideoFailed}
	case SessionRequested, SessionApproved, SessionPaymentPending, SessionPaid, SessionFormsRequired:
		return []VideoState{VideoNotStarted}
	}
	return nil
}

// JoinPermitted reports whether participants may join the call in the given session state.
func JoinPermitted(s SessionState) bool {
	switch s {
	case SessionReady, SessionInProgress:
		return true
	}
	return false
}

// CheckJoint validates a joint state against both compatibility matrices.
func CheckJoint(j Joint) error {
	if !contains(SessionsAllowedWith(j.Payment), j.Session) {
		return &SyncViolationError{
			Payment: j.Payment, Session: j.Session, Video: j.Video,
			Rule: fmt.Sprintf("payment %s allows session in %v", j.Payment, SessionsAllowedWith(j.Payment)),
		}
	}
	if j.Video == "" {
		return nil
	}
	if !contains(VideosAllowedWith(j.Session), j.Video) {
		return &SyncViolationError{
			Payment: j.Payment, Session: j.Session, Video: j.Video,
			Rule: fmt.Sprintf("session %s allows video call in %v", j.Session, VideosAllowedWith(j.Session)),
		}
	}
	return nil
}

func contains[S comparable](set []S, v S) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
