package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sessionflow/flowguard/internal/domain/audit"
	"github.com/sessionflow/flowguard/internal/domain/booking"
	"github.com/sessionflow/flowguard/internal/domain/callback"
	"github.com/sessionflow/flowguard/internal/domain/flow"
)

// Execute applies the request as one atomic unit: every change, the resulting
// entity writes, one audit entry per change and, for callbacks, the receipt
// commit together or not at all.
func (s *Service) Execute(ctx context.Context, req Request) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "engine.Execute", trace.WithAttributes(
		attribute.String("booking.ref", req.BookingRef),
		attribute.String("triggered_by", req.TriggeredBy),
		attribute.Int("changes", len(req.Changes)),
	))
	defer span.End()

	res, err := s.execute(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logRejection(req, err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("duplicate", res.Duplicate))
	if res.Duplicate {
		s.logger.Info().
			Str("bookingRef", req.BookingRef).
			Str("externalTxId", req.Callback.ExternalTransactionID).
			Msg("duplicate callback ignored")
		return res, nil
	}

	s.afterCommit(ctx, req, res)
	s.logger.Info().
		Str("bookingRef", req.BookingRef).
		Str("triggeredBy", req.TriggeredBy).
		Int("changes", len(res.Applied)).
		Strs("actions", actionStrings(res.Actions)).
		Msg("transition committed")
	return res, nil
}

func (s *Service) execute(ctx context.Context, req Request) (*Result, error) {
	if len(req.Changes) == 0 && req.Presence == nil && req.ExternalTransactionID == "" {
		return nil, ErrEmptyRequest
	}
	if err := checkDistinct(req.Changes); err != nil {
		return nil, err
	}

	if req.Callback != nil {
		if res, ok := s.cachedResult(ctx, req); ok {
			return res, nil
		}
		if err := s.preVerify(ctx, req.Callback); err != nil {
			return nil, err
		}
	} else if err := booking.ValidateRef(req.BookingRef); err != nil {
		return nil, err
	}

	forms, err := s.lookupForms(ctx, req)
	if err != nil {
		return nil, err
	}

	var res *Result
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		r, err := s.apply(ctx, tx, req, forms)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) apply(ctx context.Context, tx booking.Tx, req Request, forms flow.Forms) (*Result, error) {
	b, err := tx.LockBooking(ctx, req.BookingRef)
	if err != nil {
		return nil, fmt.Errorf("failed to lock booking: %w", err)
	}
	if b == nil {
		if req.Callback != nil {
			return nil, mismatch(req.Callback, "unknown booking")
		}
		return nil, fmt.Errorf("%w: %s", booking.ErrNotFound, req.BookingRef)
	}

	if req.Callback != nil {
		prior, err := s.admit(ctx, tx, b, req.Callback)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return &Result{BookingRef: b.Ref, Duplicate: true, AppliedResult: prior.AppliedResult, Booking: b}, nil
		}
	}

	now := s.now()
	before := b.Joint()
	next := b.Clone()

	joinChecked := false
	checkJoin := func() error {
		if joinChecked {
			return nil
		}
		joinChecked = true
		return flow.CheckJoinAttempt(before.Session, forms)
	}
	if req.joins() {
		if err := checkJoin(); err != nil {
			return nil, err
		}
	}

	for i := range req.Changes {
		c := &req.Changes[i]
		if actual := b.StateOf(c.Entity); actual != c.From {
			return nil, &flow.StaleStateError{Entity: c.Entity, EntityID: b.EntityID(c.Entity), Expected: c.From, Actual: actual}
		}
		if id := b.EntityID(c.Entity); c.EntityID != "" && id != "" && c.EntityID != id {
			return nil, fmt.Errorf("%s %s does not belong to booking %s", c.Entity, c.EntityID, b.Ref)
		}
		if flow.IsJoin(*c) {
			if err := checkJoin(); err != nil {
				return nil, err
			}
		}
		if err := flow.CheckForbidden(*c, forms); err != nil {
			return nil, err
		}
		if err := flow.Validate(c.Entity, c.From, c.To); err != nil {
			return nil, err
		}
		setState(next, *c, now)
	}

	if req.Presence != nil {
		if err := applyPresence(next, *req.Presence, now); err != nil {
			return nil, err
		}
	}
	if req.ExternalTransactionID != "" {
		id := req.ExternalTransactionID
		next.Payment.ExternalTransactionID = &id
	}
	if req.Callback != nil && req.Callback.Status == callback.StatusSuccess {
		id := req.Callback.ExternalTransactionID
		next.Payment.ExternalTransactionID = &id
	}

	actions, err := s.sync.Check(before, next.Joint())
	if err != nil {
		return nil, err
	}

	if err := writeEntities(ctx, tx, b, next); err != nil {
		return nil, err
	}

	applied := make([]flow.Change, 0, len(req.Changes))
	for _, c := range req.Changes {
		c.EntityID = next.EntityID(c.Entity)
		if err := s.appendAudit(ctx, tx, b.Ref, c, req.TriggeredBy, req.Reason, now); err != nil {
			return nil, err
		}
		applied = append(applied, c)
	}

	res := &Result{BookingRef: b.Ref, Applied: applied, Actions: actions, Booking: next}
	if req.Callback != nil {
		raw, err := json.Marshal(callback.AppliedResult{
			BookingRef:            b.Ref,
			ExternalTransactionID: req.Callback.ExternalTransactionID,
			Status:                req.Callback.Status,
			PaymentState:          string(next.Payment.State),
			SessionState:          string(next.Session.State),
			Actions:               actionStrings(actions),
			AppliedAt:             now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to serialize applied result: %w", err)
		}
		if err := tx.CompleteReceipt(ctx, req.Callback.ExternalTransactionID, raw, now); err != nil {
			return nil, fmt.Errorf("failed to complete receipt: %w", err)
		}
		res.AppliedResult = raw
	}
	return res, nil
}

func (s *Service) appendAudit(ctx context.Context, tx booking.Tx, ref string, c flow.Change, triggeredBy, reason string, now time.Time) error {
	prev, err := tx.LastAuditEntry(ctx, string(c.Entity), c.EntityID)
	if err != nil {
		return fmt.Errorf("failed to read audit chain: %w", err)
	}
	entry, err := audit.NewEntry(audit.Input{
		BookingRef:  ref,
		EntityType:  string(c.Entity),
		EntityID:    c.EntityID,
		FromState:   c.From,
		ToState:     c.To,
		TriggeredBy: triggeredBy,
		Reason:      reason,
		Timestamp:   now,
	}, prev)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}
	if len(s.opts.SigningKey) > 0 {
		sig, err := audit.SignEntry(entry, s.opts.SigningKey)
		if err != nil {
			return fmt.Errorf("failed to sign audit entry: %w", err)
		}
		entry.Signature = sig
	}
	if err := tx.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ExecuteWithRetry builds a request from fresh state and executes it, retrying
// on StaleState. build may return ErrNothingToDo once the fresh state shows the
// work is already done.
func (s *Service) ExecuteWithRetry(ctx context.Context, ref string, build func(b *booking.Booking) (Request, error)) (*Result, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.StaleRetries; attempt++ {
		b, err := s.GetBooking(ctx, ref)
		if err != nil {
			return nil, err
		}
		req, err := build(b)
		if errors.Is(err, ErrNothingToDo) {
			return &Result{BookingRef: ref, NoOp: true, Booking: b}, nil
		}
		if err != nil {
			return nil, err
		}
		res, err := s.Execute(ctx, req)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, flow.ErrStaleState) {
			return nil, err
		}
		lastErr = err
		s.logger.Debug().Err(err).Str("bookingRef", ref).Int("attempt", attempt).Msg("stale state, retrying")
	}
	return nil, lastErr
}

func (s *Service) lookupForms(ctx context.Context, req Request) (flow.Forms, error) {
	needed := req.joins()
	for _, c := range req.Changes {
		if flow.IsJoin(c) || (c.Entity == flow.EntitySession && flow.SessionState(c.To) == flow.SessionReady) {
			needed = true
		}
	}
	if !needed || s.forms == nil {
		return flow.FormsUnknown, nil
	}
	ok, err := s.forms.FormsComplete(ctx, req.BookingRef)
	if err != nil {
		return flow.FormsUnknown, fmt.Errorf("failed to check forms: %w", err)
	}
	if ok {
		return flow.FormsComplete, nil
	}
	return flow.FormsIncomplete, nil
}

func (s *Service) logRejection(req Request, err error) {
	ev := s.logger.Warn()
	switch {
	case errors.Is(err, flow.ErrVerificationMismatch):
		ev = s.logger.Error()
	case errors.Is(err, flow.ErrStaleState):
		ev = s.logger.Info()
	}
	ev.Err(err).
		Str("bookingRef", req.BookingRef).
		Str("triggeredBy", req.TriggeredBy).
		Msg("transition rejected")
}

func checkDistinct(changes []flow.Change) error {
	seen := map[flow.EntityType]bool{}
	for _, c := range changes {
		if _, err := flow.ParseEntityType(string(c.Entity)); err != nil {
			return err
		}
		if seen[c.Entity] {
			return fmt.Errorf("more than one change for %s", c.Entity)
		}
		seen[c.Entity] = true
	}
	return nil
}

func setState(b *booking.Booking, c flow.Change, now time.Time) {
	switch c.Entity {
	case flow.EntityPayment:
		b.Payment.State = flow.PaymentState(c.To)
		b.Payment.LastTransitionAt = now
	case flow.EntitySession:
		b.Session.State = flow.SessionState(c.To)
		b.Session.LastTransitionAt = now
	case flow.EntityVideo:
		v := b.EnsureVideo(now)
		v.State = flow.VideoState(c.To)
		v.LastTransitionAt = now
		if v.State == flow.VideoFailed {
			v.Participants = nil
		}
	}
}

func applyPresence(b *booking.Booking, p Presence, now time.Time) error {
	if p.Participant == "" {
		return errors.New("participant is required")
	}
	if p.Leave {
		if b.Video == nil || !b.Video.HasParticipant(p.Participant) {
			return fmt.Errorf("participant %s is not in the call", p.Participant)
		}
		b.Video.RemoveParticipant(p.Participant)
		return nil
	}
	v := b.EnsureVideo(now)
	if v.State != flow.VideoWaiting && v.State != flow.VideoActive {
		return &flow.SyncViolationError{
			Payment: b.Payment.State, Session: b.Session.State, Video: v.State,
			Rule: "participants join only a waiting or active call",
		}
	}
	v.AddParticipant(p.Participant)
	return nil
}

func writeEntities(ctx context.Context, tx booking.Tx, before, after *booking.Booking) error {
	if paymentChanged(before.Payment, after.Payment) {
		if err := tx.SavePayment(ctx, &after.Payment); err != nil {
			return fmt.Errorf("failed to save payment: %w", err)
		}
	}
	if before.Session != after.Session {
		if err := tx.SaveSession(ctx, &after.Session); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
	}
	if after.Video != nil && videoChanged(before.Video, after.Video) {
		if err := tx.SaveVideoCall(ctx, after.Video); err != nil {
			return fmt.Errorf("failed to save video call: %w", err)
		}
	}
	return nil
}

func paymentChanged(a, b booking.Payment) bool {
	if a.State != b.State || !a.LastTransitionAt.Equal(b.LastTransitionAt) {
		return true
	}
	if (a.ExternalTransactionID == nil) != (b.ExternalTransactionID == nil) {
		return true
	}
	return a.ExternalTransactionID != nil && *a.ExternalTransactionID != *b.ExternalTransactionID
}

func videoChanged(a, b *booking.VideoCall) bool {
	if a == nil {
		return true
	}
	if a.State != b.State || len(a.Participants) != len(b.Participants) {
		return true
	}
	for i := range a.Participants {
		if a.Participants[i] != b.Participants[i] {
			return true
		}
	}
	return false
}
