package booking

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/sessionflow/flowguard/internal/domain/flow"
)

var (
	ErrNotFound         = errors.New("booking not found")
	ErrInvalidReference = errors.New("invalid booking reference")
	ErrAlreadyExists    = errors.New("booking already exists")
)

var refPattern = regexp.MustCompile(`^SS-\d{8}-\d{4}$`)

// ValidateRef checks a booking reference has the SS-YYYYMMDD-NNNN shape.
func ValidateRef(ref string) error {
	if !refPattern.MatchString(ref) {
		return fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return nil
}

// Payment is the monetary transaction tied to a booking.
type Payment struct {
	ID                    uuid.UUID         `json:"id"`
	BookingRef            string            `json:"bookingId"`
	State                 flow.PaymentState `json:"state"`
	Amount                int64             `json:"amount"`
	Currency              string            `json:"currency"`
	ExternalTransactionID *string           `json:"externalTransactionId,omitempty"`
	LastTransitionAt      time.Time         `json:"lastTransitionAt"`
}

// Session is the scheduled appointment of a booking.
type Session struct {
	ID               uuid.UUID         `json:"id"`
	BookingRef       string            `json:"bookingId"`
	State            flow.SessionState `json:"state"`
	ScheduledAt      time.Time         `json:"scheduledAt"`
	LastTransitionAt time.Time         `json:"lastTransitionAt"`
}

// VideoCall is the meeting instance of a session. It is created on first join.
type VideoCall struct {
	ID               uuid.UUID       `json:"id"`
	SessionID        uuid.UUID       `json:"sessionId"`
	BookingRef       string          `json:"bookingId"`
	State            flow.VideoState `json:"state"`
	Participants     []string        `json:"participants"`
	LastTransitionAt time.Time       `json:"lastTransitionAt"`
}

// Booking groups one session, one payment and at most one video call.
type Booking struct {
	Ref         string     `json:"bookingId"`
	ClientID    string     `json:"clientId"`
	TherapistID string     `json:"therapistId"`
	Payment     Payment    `json:"payment"`
	Session     Session    `json:"session"`
	Video       *VideoCall `json:"videoCall,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// NewBooking carries the fields needed to open a booking.
type NewBooking struct {
	Ref         string    `json:"bookingId"`
	ClientID    string    `json:"clientId"`
	TherapistID string    `json:"therapistId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
}

// Validate checks the request before a booking is created.
func (n NewBooking) Validate() error {
	if err := ValidateRef(n.Ref); err != nil {
		return err
	}
	if n.ClientID == "" || n.TherapistID == "" {
		return errors.New("clientId and therapistId are required")
	}
	if n.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	if n.ScheduledAt.IsZero() {
		return errors.New("scheduledAt is required")
	}
	return nil
}

// New builds a booking in its initial state: session requested, payment pending at the locked amount.
func New(n NewBooking, now time.Time) *Booking {
	currency := n.Currency
	if currency == "" {
		currency = "KES"
	}
	return &Booking{
		Ref:         n.Ref,
		ClientID:    n.ClientID,
		TherapistID: n.TherapistID,
		Payment: Payment{
			ID:               uuid.New(),
			BookingRef:       n.Ref,
			State:            flow.PaymentPending,
			Amount:           n.Amount,
			Currency:         currency,
			LastTransitionAt: now,
		},
		Session: Session{
			ID:               uuid.New(),
			BookingRef:       n.Ref,
			State:            flow.SessionRequested,
			ScheduledAt:      n.ScheduledAt.UTC(),
			LastTransitionAt: now,
		},
		CreatedAt: now,
	}
}

// Joint returns the booking's combined state.
func (b *Booking) Joint() flow.Joint {
	j := flow.Joint{Payment: b.Payment.State, Session: b.Session.State}
	if b.Video != nil {
		j.Video = b.Video.State
	}
	return j
}

// StateOf returns the persisted state of an entity. A missing video call reads as NOT_STARTED.
func (b *Booking) StateOf(entity flow.EntityType) string {
	switch entity {
	case flow.EntityPayment:
		return string(b.Payment.State)
	case flow.EntitySession:
		return string(b.Session.State)
	case flow.EntityVideo:
		if b.Video == nil {
			return string(flow.VideoNotStarted)
		}
		return string(b.Video.State)
	}
	return ""
}

// EntityID returns the id of an entity of the booking, or "" when it does not exist.
func (b *Booking) EntityID(entity flow.EntityType) string {
	switch entity {
	case flow.EntityPayment:
		return b.Payment.ID.String()
	case flow.EntitySession:
		return b.Session.ID.String()
	case flow.EntityVideo:
		if b.Video != nil {
			return b.Video.ID.String()
		}
	}
	return ""
}

// EnsureVideo creates the video call lazily in NOT_STARTED.
func (b *Booking) EnsureVideo(now time.Time) *VideoCall {
	if b.Video == nil {
		b.Video = &VideoCall{
			ID:               uuid.New(),
			SessionID:        b.Session.ID,
			BookingRef:       b.Ref,
			State:            flow.VideoNotStarted,
			Participants:     []string{},
			LastTransitionAt: now,
		}
	}
	return b.Video
}

// Clone returns a deep copy of the booking.
func (b *Booking) Clone() *Booking {
	out := *b
	if b.Payment.ExternalTransactionID != nil {
		id := *b.Payment.ExternalTransactionID
		out.Payment.ExternalTransactionID = &id
	}
	if b.Video != nil {
		v := *b.Video
		v.Participants = append([]string(nil), b.Video.Participants...)
		out.Video = &v
	}
	return &out
}

// HasParticipant reports whether p is currently in the call.
func (v *VideoCall) HasParticipant(p string) bool {
	for _, x := range v.Participants {
		if x == p {
			return true
		}
	}
	return false
}

// AddParticipant adds p if not already present.
func (v *VideoCall) AddParticipant(p string) {
	if !v.HasParticipant(p) {
		v.Participants = append(v.Participants, p)
	}
}

// RemoveParticipant removes p if present.
func (v *VideoCall) RemoveParticipant(p string) {
	out := v.Participants[:0]
	for _, x := range v.Participants {
		if x != p {
			out = append(out, x)
		}
	}
	v.Participants = out
}
