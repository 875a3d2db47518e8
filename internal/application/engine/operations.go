package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/sessionflow/flowguard/internal/domain/booking"
	"github.com/sessionflow/flowguard/internal/domain/callback"
	"github.com/sessionflow/flowguard/internal/domain/flow"
)

// Party identifies who failed to show up.
type Party string

const (
	PartyClient    Party = "client"
	PartyTherapist Party = "therapist"
)

// CreateBooking opens a booking with the session requested and the payment
// pending at the locked amount.
func (s *Service) CreateBooking(ctx context.Context, nb booking.NewBooking, actor string) (*Result, error) {
	if err := nb.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	now := s.now()
	b := booking.New(nb, now)
	if err := flow.CheckJoint(b.Joint()); err != nil {
		return nil, err
	}
	genesis := []flow.Change{
		{Entity: flow.EntitySession, EntityID: b.Session.ID.String(), To: string(b.Session.State)},
		{Entity: flow.EntityPayment, EntityID: b.Payment.ID.String(), To: string(b.Payment.State)},
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		existing, err := tx.LockBooking(ctx, b.Ref)
		if err != nil {
			return fmt.Errorf("failed to lock booking: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", booking.ErrAlreadyExists, b.Ref)
		}
		if err := tx.InsertBooking(ctx, b); err != nil {
			return fmt.Errorf("failed to insert booking: %w", err)
		}
		for _, c := range genesis {
			if err := s.appendAudit(ctx, tx, b.Ref, c, actor, "booking requested", now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("bookingRef", b.Ref).Int64("amount", b.Payment.Amount).Msg("booking created")
	return &Result{BookingRef: b.Ref, Applied: genesis, Booking: b}, nil
}

// Approve moves the session from requested to approved.
func (s *Service) Approve(ctx context.Context, ref, actor string) (*Result, error) {
	return s.ExecuteWithRetry(ctx, ref, func(b *booking.Booking) (Request, error) {
		return Request{
			BookingRef:  ref,
			Changes:     []flow.Change{sessionChange(b, flow.SessionApproved)},
			TriggeredBy: actor,
			Reason:      "booking approved",
		}, nil
	})
}

// InitiatePayment starts (or retries) collection. A first attempt moves the
// session to payment pending in the same unit.
func (s *Service) InitiatePayment(ctx context.Context, ref, externalTxID, actor string) (*Result, error) {
	return s.ExecuteWithRetry(ctx, ref, func(b *booking.Booking) (Request, error) {
		req := Request{
			BookingRef:            ref,
			Changes:               []flow.Change{paymentChange(b, flow.PaymentInitiated)},
			TriggeredBy:           actor,
			Reason:                "payment initiated",
			ExternalTransactionID: externalTxID,
		}
		if b.Payment.State == flow.PaymentFailed {
			req.Reason = "payment retried"
			return req, nil
		}
		req.Changes = append(req.Changes, sessionChange(b, flow.SessionPaymentPending))
		return req, nil
	})
}

// IngestCallback applies a payment gateway callback exactly once.
func (s *Service) IngestCallback(ctx context.Context, cb callback.GatewayCallback) (*Result, error) {
	cb.ExternalTransactionID = strings.TrimSpace(cb.ExternalTransactionID)
	req := Request{
		BookingRef:  cb.BookingRef,
		TriggeredBy: "gateway",
		Callback:    &cb,
	}
	switch cb.Status {
	case callback.StatusSuccess:
		req.Reason = "payment confirmed by gateway"
		req.Changes = []flow.Change{
			{Entity: flow.EntityPayment, From: string(flow.PaymentInitiated), To: string(flow.PaymentConfirmed)},
			{Entity: flow.EntitySession, From: string(flow.SessionPaymentPending), To: string(flow.SessionPaid)},
		}
	case callback.StatusFailed:
		req.Reason = "payment failed at gateway"
		req.Changes = []flow.Change{
			{Entity: flow.EntityPayment, From: string(flow.PaymentInitiated), To: string(flow.PaymentFailed)},
		}
	default:
		return nil, fmt.Errorf("%w: callback status %q", ErrInvalidInput, cb.Status)
	}
	return s.Execute(ctx, req)
}

// PrepareSession moves a paid session to ready, or to forms required when the
// intake forms are not complete.
func (s *Service) PrepareSession(ctx context.Context, ref, actor string) (*Result, error) {
	complete := true
	if s.forms != nil {
		ok, err := s.forms.FormsComplete(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to check forms: %w", err)
		}
		complete = ok
	}
	target := flow.SessionReady
	if !complete {
		target = flow.SessionFormsRequired
	}
	return s.ExecuteWithRetry(ctx, ref, func(b *booking.Booking) (Request, error) {
		return Request{
			BookingRef:  ref,
			Changes:     []flow.Change{sessionChange(b, target)},
			TriggeredBy: actor,
			Reason:      "session prepared",
		}, nil
	})
}

// CompleteForms moves the session from forms required to ready.
func (s *Service) CompleteForms(ctx context.Context, ref, actor string) (*Result, error) {
	return s.ExecuteWithRetry(ctx, ref, func(b *booking.Booking) (Request, error) {
		if b.Session.State == flow.SessionReady {
			return Request{}, ErrNothingToDo
		}
		return Request{
			BookingRef:  ref,
			Changes:     []flow.Change{sessionChange(b, flow.SessionReady)},
			TriggeredBy: actor,
			Reason:      "intake forms completed",
		}, nil
	})
}

// JoinVideo admits a participant to the session's call, creating the call on
// first join. The second distinct participant activates the call and starts
// the session.
func (s *Service) JoinVideo(ctx context.Context, ref, participant string) (*Result, error) {
	return s.ExecuteWithRetry(ctx, ref, func(b *booking.Booking) (Request, error) {
		req := Request{
			BookingRef:  ref,
			TriggeredBy: participant,
			Reason:      "participant joined",
			JoinAttempt: true,
			Presence:    &Presence{Participant: participant},
		}
		state := flow.VideoState(b.StateOf(flow.EntityVideo))
		present := 0
		if b.Video != nil {
			present = len(b.Video.Participants)
			if b.Video.HasParticipant(participant) {
				present--
			}
		}
		switch state {
		case flow.VideoNotStarted, flow.VideoFailed:
			req.Changes = append(req.Changes, videoChange(b, flow.VideoWaiting))
			if state == flow.VideoFailed {
				req.Reason = "participant rejoined after failure"
			}
		case flow.VideoWaiting:
			if present >= 1 {
				req.Changes = append(req.Changes, videoChange(b, flow.VideoActive))
				if b.Session.State == flow.SessionReady {
					req.Changes = append(req.Changes, sessionChange(b, flow.SessionInProgress))
				}
			}
		case flow.VideoActive:
		default:
			// Let the validator reject joins to an ended call with the allowed set.
			req.Changes = append(req.Changes, videoChange(b, flow.VideoWaiting))
		}
		return req, nil
	})
}

// LeaveVideo removes a participant. When the last participant leaves an
// active call the call ends and the session completes with it.
func (s *Service) LeaveVideo(ctx context.Context, ref, participant string) (*Result, error) {
	return s.ExecuteWithRetry(ctx, ref, func(b *booking.Booking) (Request, error) {
		if b.Video == nil || !b.Video.HasParticipant(participant) {
			return Request{}, ErrNothingToDo
		}
		req := Request{
			BookingRef:  ref,
			TriggeredBy: participant,
			Reason:      "participant left",
			Presence:    &Presence{Participant: participant, Leave: true},
		}
		if len(b.Video.Participants) == 1 && b.Video.State == flow.VideoActive {
			req.Reason = "last participant left"
			req.Changes = []flow.Change{videoChange(b, flow.VideoEnded)}
			if b.Session.State == flow.SessionInProgress {
				req.Changes = append(req.Changes, sessionChange(b, flow.SessionCompleted))
			}
		}
		return req, nil
	})
}

// ReportVideoFailure marks the call failed. Participants may rejoin.
func (s *Service) ReportVideoFailure(ctx context.Context, ref, reason string) (*Result, error) {
	return s.ExecuteWithRetry(ctx, ref, func(b *booking.Booking) (Request, error) {
		if b.Video == nil {
			return Request{}, fmt.Errorf("booking %s has no video call", ref)
		}
		if b.Video.State == flow.VideoFailed {
			return Request{}, ErrNothingToDo
		}
		return Request{
			BookingRef:  ref,
			Changes:     []flow.Change{videoChange(b, flow.VideoFailed)},
			TriggeredBy: "video-provider",
			Reason:      reason,
		}, nil
	})
}

// CompleteSession completes an in-progress session and ends its call.
func (s *Service) CompleteSession(ctx context.Context, ref, actor string) (*Result, error) {
	return s.ExecuteWithRetry(ctx, ref, func(b *booking.Booking) (Request, error) {
		if b.Session.State == flow.SessionCompleted {
			return Request{}, ErrNothingToDo
		}
		req := Request{
			BookingRef:  ref,
			Changes:     []flow.Change{sessionChange(b, flow.SessionCompleted)},
			TriggeredBy: actor,
			Reason:      "session completed",
		}
		if c, ok := endOpenCall(b); ok {
			req.Changes = append(req.Changes, c)
		}
		return req, nil
	})
}

// MarkNoShow records that one party did not attend. A therapist no-show
// refunds the client in the same unit.
func (s *Service) MarkNoShow(ctx context.Context, ref string, party Party, actor string) (*Result, error) {
	var target flow.SessionState
	switch party {
	case PartyClient:
		target = flow.SessionNoShowClient
	case PartyTherapist:
		target = flow.SessionNoShowTherapist
	default:
		return nil, fmt.Errorf("invalid party: %q", party)
	}
	return s.ExecuteWithRetry(ctx, ref, func(b *booking.Booking) (Request, error) {
		req := Request{
			BookingRef:  ref,
			Changes:     []flow.Change{sessionChange(b, target)},
			TriggeredBy: actor,
			Reason:      string(party) + " did not attend",
		}
		if party == PartyTherapist {
			req.Changes = append(req.Changes, paymentChange(b, flow.PaymentRefunded))
		}
		if c, ok := endOpenCall(b); ok {
			req.Changes = append(req.Changes, c)
		}
		return req, nil
	})
}

// Cancel force-cancels a booking. The payment is refunded when confirmed and
// cancelled otherwise, and an open call is ended in the same unit.
func (s *Service) Cancel(ctx context.Context, ref, actor, reason string) (*Result, error) {
	if reason == "" {
		reason = "booking cancelled"
	}
	return s.ExecuteWithRetry(ctx, ref, func(b *booking.Booking) (Request, error) {
		if b.Session.State == flow.SessionCancelled {
			return Request{}, ErrNothingToDo
		}
		req := Request{
			BookingRef:  ref,
			Changes:     []flow.Change{sessionChange(b, flow.SessionCancelled)},
			TriggeredBy: actor,
			Reason:      reason,
		}
		switch b.Payment.State {
		case flow.PaymentConfirmed:
			req.Changes = append(req.Changes, paymentChange(b, flow.PaymentRefunded))
		case flow.PaymentPending, flow.PaymentInitiated, flow.PaymentFailed:
			req.Changes = append(req.Changes, paymentChange(b, flow.PaymentCancelled))
		}
		if c, ok := endOpenCall(b); ok {
			req.Changes = append(req.Changes, c)
		}
		return req, nil
	})
}

func endOpenCall(b *booking.Booking) (flow.Change, bool) {
	if b.Video == nil {
		return flow.Change{}, false
	}
	switch b.Video.State {
	case flow.VideoWaiting, flow.VideoActive:
		return videoChange(b, flow.VideoEnded), true
	}
	return flow.Change{}, false
}

func paymentChange(b *booking.Booking, to flow.PaymentState) flow.Change {
	return flow.Change{Entity: flow.EntityPayment, EntityID: b.EntityID(flow.EntityPayment), From: string(b.Payment.State), To: string(to)}
}

func sessionChange(b *booking.Booking, to flow.SessionState) flow.Change {
	return flow.Change{Entity: flow.EntitySession, EntityID: b.EntityID(flow.EntitySession), From: string(b.Session.State), To: string(to)}
}

func videoChange(b *booking.Booking, to flow.VideoState) flow.Change {
	return flow.Change{Entity: flow.EntityVideo, EntityID: b.EntityID(flow.EntityVideo), From: b.StateOf(flow.EntityVideo), To: string(to)}
}
