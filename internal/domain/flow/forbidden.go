package flow

// Forms reports the state of the intake forms for a booking when it was looked up.
type Forms int

const (
	FormsUnknown Forms = iota
	FormsIncomplete
	FormsComplete
)

// CheckForbidden rejects blacklisted transition attempts. It runs before the
// per-entity tables are consulted so the named reason wins over a generic
// invalid-transition error.
func CheckForbidden(c Change, forms Forms) error {
	switch c.Entity {
	case EntitySession:
		from, to := SessionState(c.From), SessionState(c.To)
		switch {
		case (from == SessionRequested || from == SessionApproved) && (to == SessionReady || to == SessionInProgress):
			return forbidden(ReasonPaymentRequired, c)
		case from == SessionCompleted && isBefore(to, SessionCompleted):
			return forbidden(ReasonRetroactiveChange, c)
		case to == SessionReady && forms == FormsIncomplete:
			return forbidden(ReasonFormsRequired, c)
		}
	case EntityPayment:
		from, to := PaymentState(c.From), PaymentState(c.To)
		if from == PaymentConfirmed && (to == PaymentPending || to == PaymentInitiated) {
			return forbidden(ReasonRetroactiveChange, c)
		}
	}
	return nil
}

// CheckJoinAttempt rejects a participant trying to join the call of a session
// that is not joinable.
func CheckJoinAttempt(session SessionState, forms Forms) error {
	attempt := Change{Entity: EntityVideo, From: string(session)}
	switch session {
	case SessionRequested, SessionApproved, SessionPaymentPending:
		return forbidden(ReasonUnpaidAccess, attempt)
	case SessionFormsRequired:
		return forbidden(ReasonFormsRequired, attempt)
	case SessionPaid, SessionReady, SessionInProgress:
		if forms == FormsIncomplete {
			return forbidden(ReasonFormsRequired, attempt)
		}
	}
	if !JoinPermitted(session) {
		return &SyncViolationError{Session: session, Rule: "join not permitted in session state " + string(session)}
	}
	return nil
}

// IsJoin reports whether the change opens or reopens a call for participants.
func IsJoin(c Change) bool {
	return c.Entity == EntityVideo && (VideoState(c.To) == VideoWaiting || VideoState(c.To) == VideoActive)
}

func forbidden(reason string, c Change) error {
	return &ForbiddenTransitionError{Reason: reason, Entity: c.Entity, From: c.From, To: c.To}
}

// isBefore reports whether s precedes ref on the session's forward path.
func isBefore(s, ref SessionState) bool {
	order := []SessionState{
		SessionRequested, SessionApproved, SessionPaymentPending, SessionPaid,
		SessionFormsRequired, SessionReady, SessionInProgress, SessionCompleted,
	}
	si, ri := -1, -1
	for i, o := range order {
		if o == s {
			si = i
		}
		if o == ref {
			ri = i
		}
	}
	return si >= 0 && ri >= 0 && si < ri
}
