package flow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckJointPaymentSessionMatrix(t *testing.T) {
	tests := []struct {
		name    string
		joint   Joint
		wantErr bool
	}{
		{"pending requested", Joint{Payment: PaymentPending, Session: SessionRequested}, false},
		{"pending approved", Joint{Payment: PaymentPending, Session: SessionApproved}, false},
		{"initiated payment pending", Joint{Payment: PaymentInitiated, Session: SessionPaymentPending}, false},
		{"confirmed paid", Joint{Payment: PaymentConfirmed, Session: SessionPaid}, false},
		{"confirmed no show client", Joint{Payment: PaymentConfirmed, Session: SessionNoShowClient}, false},
		{"failed payment pending", Joint{Payment: PaymentFailed, Session: SessionPaymentPending}, false},
		{"refunded no show therapist", Joint{Payment: PaymentRefunded, Session: SessionNoShowTherapist}, false},
		{"cancelled cancelled", Joint{Payment: PaymentCancelled, Session: SessionCancelled}, false},
		{"confirmed still payment pending", Joint{Payment: PaymentConfirmed, Session: SessionPaymentPending}, true},
		{"pending in progress", Joint{Payment: PaymentPending, Session: SessionInProgress}, true},
		{"refunded completed", Joint{Payment: PaymentRefunded, Session: SessionCompleted}, true},
		{"initiated approved", Joint{Payment: PaymentInitiated, Session: SessionApproved}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckJoint(tt.joint)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSyncViolation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestVideoGating(t *testing.T) {
	for _, s := range SessionStates {
		for _, v := range []VideoState{VideoWaiting, VideoActive} {
			payment := anyPaymentFor(s)
			err := CheckJoint(Joint{Payment: payment, Session: s, Video: v})
			if s == SessionReady || s == SessionInProgress {
				if s == SessionReady && v == VideoActive {
					assert.Error(t, err)
				}
				continue
			}
			assert.ErrorIs(t, err, ErrSyncViolation, "session %s video %s", s, v)
		}
	}
}

func TestSessionVideoMatrix(t *testing.T) {
	tests := []struct {
		session SessionState
		video   VideoState
		ok      bool
	}{
		{SessionReady, VideoNotStarted, true},
		{SessionReady, VideoWaiting, true},
		{SessionReady, VideoFailed, true},
		{SessionReady, VideoActive, false},
		{SessionReady, VideoEnded, false},
		{SessionInProgress, VideoWaiting, true},
		{SessionInProgress, VideoActive, true},
		{SessionInProgress, VideoFailed, true},
		{SessionInProgress, VideoNotStarted, false},
		{SessionInProgress, VideoEnded, false},
		{SessionCompleted, VideoEnded, true},
		{SessionCompleted, VideoFailed, true},
		{SessionCompleted, VideoActive, false},
		{SessionCompleted, VideoNotStarted, false},
		{SessionCancelled, VideoNotStarted, true},
		{SessionCancelled, VideoEnded, true},
		{SessionCancelled, VideoFailed, true},
		{SessionCancelled, VideoWaiting, false},
		{SessionNoShowClient, VideoEnded, true},
		{SessionNoShowClient, VideoFailed, true},
		{SessionNoShowClient, VideoActive, false},
		{SessionNoShowTherapist, VideoNotStarted, true},
		{SessionNoShowTherapist, VideoEnded, true},
		{SessionNoShowTherapist, VideoWaiting, false},
		{SessionPaid, VideoNotStarted, true},
		{SessionPaid, VideoFailed, false},
		{SessionFormsRequired, VideoEnded, false},
		{SessionPaymentPending, VideoWaiting, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.session)+"/"+string(tt.video), func(t *testing.T) {
			err := CheckJoint(Joint{Payment: anyPaymentFor(tt.session), Session: tt.session, Video: tt.video})
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrSyncViolation)
		})
	}
}

func TestNoVideoIsAlwaysCompatible(t *testing.T) {
	for _, s := range SessionStates {
		assert.NoError(t, CheckJoint(Joint{Payment: anyPaymentFor(s), Session: s}), "session %s", s)
	}
}

func TestJoinPermitted(t *testing.T) {
	assert.True(t, JoinPermitted(SessionReady))
	assert.True(t, JoinPermitted(SessionInProgress))
	assert.False(t, JoinPermitted(SessionCompleted))
	assert.False(t, JoinPermitted(SessionPaymentPending))
}

func TestSynchronizerActions(t *testing.T) {
	s, err := NewSynchronizer(nil)
	require.NoError(t, err)

	actions, err := s.Check(
		Joint{Payment: PaymentFailed, Session: SessionPaymentPending},
		Joint{Payment: PaymentInitiated, Session: SessionPaymentPending},
	)
	require.NoError(t, err)
	assert.Equal(t, []Action{ActionAlertClientRetryPayment}, actions)

	actions, err = s.Check(
		Joint{Payment: PaymentInitiated, Session: SessionPaymentPending},
		Joint{Payment: PaymentFailed, Session: SessionPaymentPending},
	)
	require.NoError(t, err)
	assert.Equal(t, []Action{ActionAlertClientRetryPayment}, actions)

	actions, err = s.Check(
		Joint{Payment: PaymentFailed, Session: SessionPaymentPending},
		Joint{Payment: PaymentFailed, Session: SessionCancelled},
	)
	require.NoError(t, err)
	assert.Equal(t, []Action{ActionNotifyBookingCancelled}, actions)

	actions, err = s.Check(
		Joint{Payment: PaymentConfirmed, Session: SessionReady, Video: VideoWaiting},
		Joint{Payment: PaymentRefunded, Session: SessionCancelled, Video: VideoEnded},
	)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Action{ActionProcessRefund, ActionNotifyBookingCancelled}, actions)

	actions, err = s.Check(
		Joint{Payment: PaymentPending, Session: SessionRequested},
		Joint{Payment: PaymentPending, Session: SessionApproved},
	)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestSynchronizerRejectsBeforeDerivingActions(t *testing.T) {
	s, err := NewSynchronizer(nil)
	require.NoError(t, err)

	actions, err := s.Check(
		Joint{Payment: PaymentInitiated, Session: SessionPaymentPending},
		Joint{Payment: PaymentConfirmed, Session: SessionPaymentPending},
	)
	var sve *SyncViolationError
	require.True(t, errors.As(err, &sve))
	assert.Equal(t, PaymentConfirmed, sve.Payment)
	assert.Nil(t, actions)
}

func TestSynchronizerCustomRules(t *testing.T) {
	_, err := NewSynchronizer([]ActionRule{{Action: "BROKEN", Condition: `payment ==`}})
	assert.Error(t, err)

	s, err := NewSynchronizer([]ActionRule{{Action: "VIDEO_OPENED", Condition: `video == "WAITING_FOR_PARTICIPANTS" && video_from == ""`}})
	require.NoError(t, err)
	actions, err := s.Check(
		Joint{Payment: PaymentConfirmed, Session: SessionReady},
		Joint{Payment: PaymentConfirmed, Session: SessionReady, Video: VideoWaiting},
	)
	require.NoError(t, err)
	assert.Equal(t, []Action{"VIDEO_OPENED"}, actions)
}

func TestJointApply(t *testing.T) {
	j := Joint{Payment: PaymentInitiated, Session: SessionPaymentPending}
	got := j.Apply([]Change{
		{Entity: EntityPayment, From: "INITIATED", To: "CONFIRMED"},
		{Entity: EntitySession, From: "PAYMENT_PENDING", To: "PAID"},
	})
	assert.Equal(t, Joint{Payment: PaymentConfirmed, Session: SessionPaid}, got)
	assert.Equal(t, PaymentInitiated, j.Payment)
}

// anyPaymentFor picks a payment state the payment/session matrix accepts for s.
func anyPaymentFor(s SessionState) PaymentState {
	for _, p := range PaymentStates {
		if contains(SessionsAllowedWith(p), s) {
			return p
		}
	}
	return ""
}
