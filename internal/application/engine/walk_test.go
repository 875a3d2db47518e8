package engine

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sessionflow/flowguard/internal/domain/audit"
	"github.com/sessionflow/flowguard/internal/domain/booking"
	bookingmocks "github.com/sessionflow/flowguard/internal/domain/booking/mocks"
	"github.com/sessionflow/flowguard/internal/domain/callback"
	"github.com/sessionflow/flowguard/internal/domain/flow"
	"github.com/sessionflow/flowguard/internal/infrastructure/memory"
)

var walkParticipants = []string{"client-1", "therapist-1"}

type walkStep struct {
	name string
	run  func(ctx context.Context) error
}

// TestRandomWalkKeepsJointStateConsistent drives a booking through random
// operations and raw transition requests. Every commit must leave a joint
// state both matrices accept, and every rejection must leave the store as it was.
func TestRandomWalkKeepsJointStateConsistent(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			walk(t, seed, 60)
		})
	}
}

func walk(t *testing.T, seed int64, steps int) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(seed))

	ctrl := gomock.NewController(t)
	forms := bookingmocks.NewMockFormsChecker(ctrl)
	forms.EXPECT().FormsComplete(gomock.Any(), testRef).DoAndReturn(func(context.Context, string) (bool, error) {
		return rng.Intn(4) != 0, nil
	}).AnyTimes()

	svc, store := newTestService(t, Deps{Forms: forms}, Options{})
	createBooking(t, svc)

	ops := walkOps(svc, store, rng)
	for i := 0; i < steps; i++ {
		before, beforeCount := store.Snapshot()
		step := ops[rng.Intn(len(ops))]
		err := step.run(ctx)

		after, afterCount := store.Snapshot()
		require.Len(t, after, 1)
		b := after[0]
		if err != nil {
			assert.Equal(t, before[0].Joint(), b.Joint(), "step %d %s changed state on error: %v", i, step.name, err)
			assert.Equal(t, beforeCount, afterCount, "step %d %s wrote audit entries on error: %v", i, step.name, err)
		}
		requireConsistent(t, b, fmt.Sprintf("step %d %s", i, step.name))
	}

	b, err := store.GetBooking(ctx, testRef)
	require.NoError(t, err)
	ids := map[flow.EntityType]string{
		flow.EntityPayment: b.Payment.ID.String(),
		flow.EntitySession: b.Session.ID.String(),
	}
	if b.Video != nil {
		ids[flow.EntityVideo] = b.Video.ID.String()
	}
	for entity, id := range ids {
		entries, err := store.ListAuditEntries(ctx, string(entity), id)
		require.NoError(t, err)
		assert.Empty(t, audit.VerifyChain(entries), "%s audit chain", entity)
		if len(entries) > 0 {
			assert.Equal(t, b.StateOf(entity), entries[len(entries)-1].ToState, "%s last audit entry", entity)
		}
	}
}

func requireConsistent(t *testing.T, b *booking.Booking, at string) {
	t.Helper()
	j := b.Joint()
	require.NoError(t, flow.CheckJoint(j), at)
	if b.Video == nil {
		return
	}
	require.Contains(t, []flow.PaymentState{flow.PaymentConfirmed, flow.PaymentRefunded}, j.Payment,
		"%s: video call exists for payment %s", at, j.Payment)
	switch b.Video.State {
	case flow.VideoWaiting, flow.VideoActive:
		require.True(t, flow.JoinPermitted(j.Session), "%s: open call in session %s", at, j.Session)
	}
	if b.Video.State == flow.VideoActive {
		require.Equal(t, flow.SessionInProgress, j.Session, at)
	}
	if b.Video.State == flow.VideoFailed {
		require.Empty(t, b.Video.Participants, at)
	}
}

func walkOps(svc *Service, store *memory.Store, rng *rand.Rand) []walkStep {
	participant := func() string { return walkParticipants[rng.Intn(len(walkParticipants))] }
	txID := func() string { return fmt.Sprintf("TX%d", 1+rng.Intn(3)) }

	return []walkStep{
		{"approve", func(ctx context.Context) error {
			_, err := svc.Approve(ctx, testRef, "therapist-1")
			return err
		}},
		{"initiate payment", func(ctx context.Context) error {
			_, err := svc.InitiatePayment(ctx, testRef, txID(), "client-1")
			return err
		}},
		{"callback", func(ctx context.Context) error {
			cb := successCallback(txID())
			if rng.Intn(3) == 0 {
				cb.Status = callback.StatusFailed
			}
			if rng.Intn(8) == 0 {
				cb.Amount = 999
			}
			_, err := svc.IngestCallback(ctx, cb)
			return err
		}},
		{"prepare session", func(ctx context.Context) error {
			_, err := svc.PrepareSession(ctx, testRef, "system")
			return err
		}},
		{"complete forms", func(ctx context.Context) error {
			_, err := svc.CompleteForms(ctx, testRef, "client-1")
			return err
		}},
		{"join", func(ctx context.Context) error {
			_, err := svc.JoinVideo(ctx, testRef, participant())
			return err
		}},
		{"leave", func(ctx context.Context) error {
			_, err := svc.LeaveVideo(ctx, testRef, participant())
			return err
		}},
		{"video failure", func(ctx context.Context) error {
			_, err := svc.ReportVideoFailure(ctx, testRef, "provider outage")
			return err
		}},
		{"complete session", func(ctx context.Context) error {
			_, err := svc.CompleteSession(ctx, testRef, "therapist-1")
			return err
		}},
		{"no-show", func(ctx context.Context) error {
			party := PartyClient
			if rng.Intn(2) == 0 {
				party = PartyTherapist
			}
			_, err := svc.MarkNoShow(ctx, testRef, party, "system")
			return err
		}},
		{"cancel", func(ctx context.Context) error {
			_, err := svc.Cancel(ctx, testRef, "client-1", "changed plans")
			return err
		}},
		{"raw transition", func(ctx context.Context) error {
			b, err := store.GetBooking(ctx, testRef)
			if err != nil {
				return err
			}
			_, err = svc.Execute(ctx, randomRequest(rng, b))
			return err
		}},
		{"raw transition", func(ctx context.Context) error {
			b, err := store.GetBooking(ctx, testRef)
			if err != nil {
				return err
			}
			_, err = svc.Execute(ctx, randomRequest(rng, b))
			return err
		}},
	}
}

// randomRequest builds a request touching one to three distinct entities.
// Most changes start from the persisted state so some of them commit.
func randomRequest(rng *rand.Rand, b *booking.Booking) Request {
	entities := []flow.EntityType{flow.EntityPayment, flow.EntitySession, flow.EntityVideo}
	rng.Shuffle(len(entities), func(i, j int) { entities[i], entities[j] = entities[j], entities[i] })

	req := Request{
		BookingRef:  testRef,
		TriggeredBy: "operator",
		Reason:      "manual transition",
		JoinAttempt: rng.Intn(5) == 0,
	}
	for _, entity := range entities[:1+rng.Intn(len(entities))] {
		states := statesOf(entity)
		from := b.StateOf(entity)
		if rng.Intn(4) == 0 {
			from = states[rng.Intn(len(states))]
		}
		req.Changes = append(req.Changes, flow.Change{
			Entity: entity,
			From:   from,
			To:     states[rng.Intn(len(states))],
		})
	}
	if rng.Intn(6) == 0 {
		req.Presence = &Presence{
			Participant: walkParticipants[rng.Intn(len(walkParticipants))],
			Leave:       rng.Intn(2) == 0,
		}
	}
	return req
}

func statesOf(entity flow.EntityType) []string {
	var out []string
	switch entity {
	case flow.EntityPayment:
		for _, s := range flow.PaymentStates {
			out = append(out, string(s))
		}
	case flow.EntitySession:
		for _, s := range flow.SessionStates {
			out = append(out, string(s))
		}
	case flow.EntityVideo:
		for _, s := range flow.VideoStates {
			out = append(out, string(s))
		}
	}
	return out
}

func TestPresenceOnlyJoinIsGated(t *testing.T) {
	svc, store := newTestService(t, Deps{}, Options{})
	toPaymentPending(t, svc)

	_, err := svc.Execute(context.Background(), Request{
		BookingRef:  testRef,
		TriggeredBy: "client-1",
		Presence:    &Presence{Participant: "client-1"},
	})
	var fe *flow.ForbiddenTransitionError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, flow.ReasonUnpaidAccess, fe.Reason)

	b, err := store.GetBooking(context.Background(), testRef)
	require.NoError(t, err)
	assert.Nil(t, b.Video)
}

func TestPresenceCannotEnterFailedCall(t *testing.T) {
	svc, store := newTestService(t, Deps{}, Options{})
	toInProgress(t, svc)
	ctx := context.Background()
	_, err := svc.ReportVideoFailure(ctx, testRef, "provider outage")
	require.NoError(t, err)

	_, err = svc.Execute(ctx, Request{
		BookingRef:  testRef,
		TriggeredBy: "client-1",
		JoinAttempt: true,
		Presence:    &Presence{Participant: "client-1"},
	})
	assert.ErrorIs(t, err, flow.ErrSyncViolation)

	b, err := store.GetBooking(ctx, testRef)
	require.NoError(t, err)
	assert.Equal(t, flow.VideoFailed, b.Video.State)
	assert.Empty(t, b.Video.Participants)

	res, err := svc.JoinVideo(ctx, testRef, "client-1")
	require.NoError(t, err)
	assert.Equal(t, flow.VideoWaiting, res.Booking.Video.State)
	assert.Equal(t, []string{"client-1"}, res.Booking.Video.Participants)
}
