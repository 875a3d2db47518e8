package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sessionflow/flowguard/internal/domain/booking"
	"github.com/sessionflow/flowguard/internal/domain/callback"
	"github.com/sessionflow/flowguard/internal/domain/flow"
)

var (
	ErrEmptyRequest = errors.New("transition request has no changes")
	ErrNothingToDo  = errors.New("nothing to apply")
	ErrInvalidInput = errors.New("invalid input")
)

// Options tunes the engine.
type Options struct {
	// VerifyTimeout bounds a gateway verification call.
	VerifyTimeout time.Duration
	// VerifyAll sends every fresh callback to the gateway, not only ambiguous ones.
	VerifyAll bool
	// StaleRetries is the number of attempts ExecuteWithRetry makes.
	StaleRetries int
	// SigningKey, when set, HMAC-signs every audit entry.
	SigningKey []byte
	// ActionRules replaces the default required-action rules.
	ActionRules []flow.ActionRule
}

// Service applies booking transitions atomically.
type Service struct {
	store    booking.Store
	sync     *flow.Synchronizer
	forms    booking.FormsChecker
	notifier booking.Notifier
	verifier booking.GatewayVerifier
	cache    callback.ResultCache
	listener Listener
	opts     Options
	logger   zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Listener observes every committed unit of work.
type Listener interface {
	TransitionCommitted(ref string, applied []flow.Change, actions []flow.Action)
}

// Deps are the collaborators of the engine. Everything but Store may be nil.
type Deps struct {
	Store    booking.Store
	Forms    booking.FormsChecker
	Notifier booking.Notifier
	Verifier booking.GatewayVerifier
	Cache    callback.ResultCache
	Listener Listener
}

// NewService creates a new engine service
func NewService(deps Deps, opts Options, logger zerolog.Logger) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	sync, err := flow.NewSynchronizer(opts.ActionRules)
	if err != nil {
		return nil, err
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = 5 * time.Second
	}
	if opts.StaleRetries <= 0 {
		opts.StaleRetries = 3
	}
	return &Service{
		store:    deps.Store,
		sync:     sync,
		forms:    deps.Forms,
		notifier: deps.Notifier,
		verifier: deps.Verifier,
		cache:    deps.Cache,
		listener: deps.Listener,
		opts:     opts,
		logger:   logger.With().Str("service", "engine").Logger(),
		tracer:   otel.Tracer("github.com/sessionflow/flowguard/engine"),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Request names the changes that must commit together for one booking.
type Request struct {
	BookingRef  string        `json:"bookingId"`
	Changes     []flow.Change `json:"changes"`
	TriggeredBy string        `json:"triggeredBy"`
	Reason      string        `json:"reason,omitempty"`

	// Callback is set when the trigger is a payment gateway callback.
	Callback *callback.GatewayCallback `json:"-"`
	// JoinAttempt marks a participant trying to enter the call.
	JoinAttempt bool `json:"joinAttempt,omitempty"`
	// Presence updates the call's participant list in the same unit.
	Presence *Presence `json:"presence,omitempty"`
	// ExternalTransactionID is recorded on the payment when set. Only
	// InitiatePayment sets it; raw transition requests cannot.
	ExternalTransactionID string `json:"-"`
}

// joins reports whether the request lets a participant into the call.
func (r Request) joins() bool {
	return r.JoinAttempt || (r.Presence != nil && !r.Presence.Leave)
}

// Presence is a participant entering or leaving the call.
type Presence struct {
	Participant string `json:"participant"`
	Leave       bool   `json:"leave,omitempty"`
}

// Result is the outcome of a committed (or replayed) request.
type Result struct {
	BookingRef    string           `json:"bookingId"`
	Applied       []flow.Change    `json:"applied"`
	Actions       []flow.Action    `json:"actions,omitempty"`
	Duplicate     bool             `json:"duplicate,omitempty"`
	NoOp          bool             `json:"noop,omitempty"`
	AppliedResult json.RawMessage  `json:"appliedResult,omitempty"`
	Booking       *booking.Booking `json:"booking,omitempty"`
}

// GetBooking returns the current booking aggregate.
func (s *Service) GetBooking(ctx context.Context, ref string) (*booking.Booking, error) {
	if err := booking.ValidateRef(ref); err != nil {
		return nil, err
	}
	b, err := s.store.GetBooking(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if b == nil {
		return nil, booking.ErrNotFound
	}
	return b, nil
}

func (s *Service) afterCommit(ctx context.Context, req Request, res *Result) {
	if s.listener != nil {
		s.listener.TransitionCommitted(req.BookingRef, res.Applied, res.Actions)
	}
	if len(res.Actions) > 0 && s.notifier != nil {
		if err := s.notifier.Notify(ctx, req.BookingRef, res.Actions); err != nil {
			s.logger.Error().Err(err).
				Str("bookingRef", req.BookingRef).
				Strs("actions", actionStrings(res.Actions)).
				Msg("failed to deliver required actions")
		}
	}
	if req.Callback != nil && s.cache != nil && len(res.AppliedResult) > 0 {
		if err := s.cache.Put(ctx, cacheKey(req.Callback), res.AppliedResult); err != nil {
			s.logger.Warn().Err(err).Str("externalTxId", req.Callback.ExternalTransactionID).Msg("failed to cache applied result")
		}
	}
}

func actionStrings(actions []flow.Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, string(a))
	}
	return out
}
