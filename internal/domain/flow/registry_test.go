package flow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryStateHasATable(t *testing.T) {
	for _, s := range PaymentStates {
		_, ok := s.Next()
		assert.True(t, ok, "payment %s", s)
	}
	for _, s := range SessionStates {
		_, ok := s.Next()
		assert.True(t, ok, "session %s", s)
	}
	for _, s := range VideoStates {
		_, ok := s.Next()
		assert.True(t, ok, "video %s", s)
	}
}

func TestValidateAllowed(t *testing.T) {
	tests := []struct {
		entity   EntityType
		from, to string
	}{
		{EntityPayment, "PENDING", "INITIATED"},
		{EntityPayment, "INITIATED", "CONFIRMED"},
		{EntityPayment, "FAILED", "INITIATED"},
		{EntityPayment, "CONFIRMED", "REFUNDED"},
		{EntitySession, "REQUESTED", "APPROVED"},
		{EntitySession, "PAID", "FORMS_REQUIRED"},
		{EntitySession, "READY", "NO_SHOW_THERAPIST"},
		{EntitySession, "IN_PROGRESS", "COMPLETED"},
		{EntityVideo, "NOT_STARTED", "WAITING_FOR_PARTICIPANTS"},
		{EntityVideo, "WAITING_FOR_PARTICIPANTS", "ACTIVE"},
		{EntityVideo, "FAILED", "WAITING_FOR_PARTICIPANTS"},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			assert.NoError(t, Validate(tt.entity, tt.from, tt.to))
		})
	}
}

func TestValidateRejectsWithAllowedSet(t *testing.T) {
	err := Validate(EntityPayment, "PENDING", "CONFIRMED")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	var ite *InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, []string{"INITIATED", "CANCELLED"}, ite.Allowed)
	assert.Equal(t, "PENDING", ite.From)
	assert.Equal(t, "CONFIRMED", ite.To)
}

func TestVideoActiveOnlyFromWaiting(t *testing.T) {
	for _, s := range VideoStates {
		err := Validate(EntityVideo, string(s), string(VideoActive))
		if s == VideoWaiting {
			assert.NoError(t, err)
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidTransition, "from %s", s)
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	terminal := map[EntityType][]string{
		EntityPayment: {"REFUNDED", "CANCELLED"},
		EntitySession: {"COMPLETED", "CANCELLED", "NO_SHOW_CLIENT", "NO_SHOW_THERAPIST"},
		EntityVideo:   {"ENDED"},
	}
	for entity, states := range terminal {
		for _, s := range states {
			allowed, err := AllowedNext(entity, s)
			require.NoError(t, err)
			assert.Empty(t, allowed, "%s %s", entity, s)

			err = Validate(entity, s, "PENDING")
			var ite *InvalidTransitionError
			require.True(t, errors.As(err, &ite))
			assert.Empty(t, ite.Allowed)
		}
	}
	assert.True(t, PaymentRefunded.IsTerminal())
	assert.False(t, PaymentFailed.IsTerminal())
}

func TestUnknownStateIsInvalid(t *testing.T) {
	_, err := AllowedNext(EntitySession, "ARCHIVED")
	assert.Error(t, err)
	assert.ErrorIs(t, Validate(EntitySession, "ARCHIVED", "READY"), ErrInvalidTransition)
	assert.False(t, IsKnownState(EntityVideo, "PAUSED"))

	_, err = ParseEntityType("INVOICE")
	assert.Error(t, err)
}
