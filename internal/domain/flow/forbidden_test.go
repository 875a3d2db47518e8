package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckForbidden(t *testing.T) {
	tests := []struct {
		name   string
		change Change
		forms  Forms
		reason string
	}{
		{"requested to ready", Change{Entity: EntitySession, From: "REQUESTED", To: "READY"}, FormsComplete, ReasonPaymentRequired},
		{"approved to in progress", Change{Entity: EntitySession, From: "APPROVED", To: "IN_PROGRESS"}, FormsUnknown, ReasonPaymentRequired},
		{"completed back to payment pending", Change{Entity: EntitySession, From: "COMPLETED", To: "PAYMENT_PENDING"}, FormsUnknown, ReasonRetroactiveChange},
		{"confirmed back to pending", Change{Entity: EntityPayment, From: "CONFIRMED", To: "PENDING"}, FormsUnknown, ReasonRetroactiveChange},
		{"ready without forms", Change{Entity: EntitySession, From: "PAID", To: "READY"}, FormsIncomplete, ReasonFormsRequired},
		{"paid to ready with forms", Change{Entity: EntitySession, From: "PAID", To: "READY"}, FormsComplete, ""},
		{"ordinary invalid transition", Change{Entity: EntitySession, From: "REQUESTED", To: "PAID"}, FormsUnknown, ""},
		{"completed to cancelled", Change{Entity: EntitySession, From: "COMPLETED", To: "CANCELLED"}, FormsUnknown, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckForbidden(tt.change, tt.forms)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrForbiddenTransition)
			reason, ok := ForbiddenReason(err)
			assert.True(t, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestRequestedToReadyIsAlwaysPaymentRequired(t *testing.T) {
	for _, forms := range []Forms{FormsUnknown, FormsIncomplete, FormsComplete} {
		reason, ok := ForbiddenReason(CheckForbidden(Change{Entity: EntitySession, From: "REQUESTED", To: "READY"}, forms))
		assert.True(t, ok)
		assert.Equal(t, ReasonPaymentRequired, reason)
	}
}

func TestCheckJoinAttempt(t *testing.T) {
	tests := []struct {
		session SessionState
		forms   Forms
		reason  string
		sync    bool
	}{
		{SessionPaymentPending, FormsComplete, ReasonUnpaidAccess, false},
		{SessionApproved, FormsComplete, ReasonUnpaidAccess, false},
		{SessionFormsRequired, FormsIncomplete, ReasonFormsRequired, false},
		{SessionReady, FormsIncomplete, ReasonFormsRequired, false},
		{SessionReady, FormsComplete, "", false},
		{SessionInProgress, FormsComplete, "", false},
		{SessionCompleted, FormsComplete, "", true},
		{SessionPaid, FormsComplete, "", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.session), func(t *testing.T) {
			err := CheckJoinAttempt(tt.session, tt.forms)
			switch {
			case tt.reason != "":
				reason, _ := ForbiddenReason(err)
				assert.Equal(t, tt.reason, reason)
			case tt.sync:
				assert.ErrorIs(t, err, ErrSyncViolation)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsJoin(t *testing.T) {
	assert.True(t, IsJoin(Change{Entity: EntityVideo, From: "NOT_STARTED", To: "WAITING_FOR_PARTICIPANTS"}))
	assert.True(t, IsJoin(Change{Entity: EntityVideo, From: "WAITING_FOR_PARTICIPANTS", To: "ACTIVE"}))
	assert.False(t, IsJoin(Change{Entity: EntityVideo, From: "ACTIVE", To: "ENDED"}))
	assert.False(t, IsJoin(Change{Entity: EntitySession, From: "READY", To: "IN_PROGRESS"}))
}
