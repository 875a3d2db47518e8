package booking

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionflow/flowguard/internal/domain/flow"
)

func TestValidateRef(t *testing.T) {
	ok := []string{"SS-20250101-0007", "SS-19991231-9999"}
	for _, v := range ok {
		assert.NoError(t, ValidateRef(v), v)
	}
	bad := []string{"", "SS-2025011-0007", "ss-20250101-0007", "SS-20250101-007", "SS-20250101-00071", "XX-20250101-0007", " SS-20250101-0007"}
	for _, v := range bad {
		err := ValidateRef(v)
		assert.True(t, errors.Is(err, ErrInvalidReference), v)
	}
}

func TestNewBookingInitialState(t *testing.T) {
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	req := NewBooking{
		Ref: "SS-20250101-0007", ClientID: "client-1", TherapistID: "therapist-1",
		ScheduledAt: now.Add(48 * time.Hour), Amount: 2500,
	}
	require.NoError(t, req.Validate())

	b := New(req, now)
	assert.Equal(t, flow.PaymentPending, b.Payment.State)
	assert.Equal(t, flow.SessionRequested, b.Session.State)
	assert.Equal(t, int64(2500), b.Payment.Amount)
	assert.Equal(t, "KES", b.Payment.Currency)
	assert.Nil(t, b.Video)
	assert.NoError(t, flow.CheckJoint(b.Joint()))
	assert.Equal(t, "NOT_STARTED", b.StateOf(flow.EntityVideo))
	assert.Empty(t, b.EntityID(flow.EntityVideo))
}

func TestNewBookingValidate(t *testing.T) {
	base := NewBooking{Ref: "SS-20250101-0007", ClientID: "c", TherapistID: "t", ScheduledAt: time.Now(), Amount: 100}
	assert.NoError(t, base.Validate())

	noAmount := base
	noAmount.Amount = 0
	assert.Error(t, noAmount.Validate())

	badRef := base
	badRef.Ref = "SS-1"
	assert.ErrorIs(t, badRef.Validate(), ErrInvalidReference)
}

func TestCloneIsDeep(t *testing.T) {
	b := New(NewBooking{Ref: "SS-20250101-0007", ClientID: "c", TherapistID: "t", ScheduledAt: time.Now(), Amount: 100}, time.Now())
	tx := "TX1"
	b.Payment.ExternalTransactionID = &tx
	v := b.EnsureVideo(time.Now())
	v.AddParticipant("client-1")

	c := b.Clone()
	c.Video.AddParticipant("therapist-1")
	*c.Payment.ExternalTransactionID = "TX2"
	c.Session.State = flow.SessionApproved

	assert.Equal(t, []string{"client-1"}, b.Video.Participants)
	assert.Equal(t, "TX1", *b.Payment.ExternalTransactionID)
	assert.Equal(t, flow.SessionRequested, b.Session.State)
}

func TestParticipants(t *testing.T) {
	v := &VideoCall{}
	v.AddParticipant("a")
	v.AddParticipant("a")
	v.AddParticipant("b")
	assert.Equal(t, []string{"a", "b"}, v.Participants)
	v.RemoveParticipant("a")
	assert.Equal(t, []string{"b"}, v.Participants)
	assert.False(t, v.HasParticipant("a"))
}
