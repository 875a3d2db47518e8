package callback

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Status is the outcome the gateway reports.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// GatewayCallback is the payload the payment gateway delivers.
type GatewayCallback struct {
	ExternalTransactionID string    `json:"externalTransactionId" yaml:"externalTransactionId"`
	BookingRef            string    `json:"bookingId" yaml:"bookingId"`
	Amount                int64     `json:"amount" yaml:"amount"`
	Status                Status    `json:"status" yaml:"status"`
	ReceivedAt            time.Time `json:"receivedAt" yaml:"receivedAt"`
}

// Validate checks the payload shape.
func (c *GatewayCallback) Validate() error {
	if strings.TrimSpace(c.ExternalTransactionID) == "" {
		return errors.New("externalTransactionId is required")
	}
	if c.BookingRef == "" {
		return errors.New("bookingId is required")
	}
	if c.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	switch c.Status {
	case StatusSuccess, StatusFailed:
	default:
		return fmt.Errorf("invalid status: %q", c.Status)
	}
	return nil
}

// Digest fingerprints the fields that decide what a callback does. ReceivedAt
// is excluded because redeliveries carry a new timestamp.
func (c *GatewayCallback) Digest() string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", c.ExternalTransactionID, c.BookingRef, c.Amount, c.Status)))
	return hex.EncodeToString(sum[:])
}

// Receipt records that a callback was admitted. One row per external transaction id.
type Receipt struct {
	ExternalTransactionID string          `json:"externalTransactionId"`
	BookingRef            string          `json:"bookingId"`
	PayloadDigest         string          `json:"payloadDigest"`
	AppliedResult         json.RawMessage `json:"appliedResult,omitempty"`
	FirstSeenAt           time.Time       `json:"firstSeenAt"`
	AppliedAt             *time.Time      `json:"appliedAt,omitempty"`
}

// NewReceipt creates the receipt for a fresh callback.
func NewReceipt(c *GatewayCallback, now time.Time) *Receipt {
	return &Receipt{
		ExternalTransactionID: c.ExternalTransactionID,
		BookingRef:            c.BookingRef,
		PayloadDigest:         c.Digest(),
		FirstSeenAt:           now.UTC().Truncate(time.Microsecond),
	}
}

// AppliedResult is the serialized outcome stored on a receipt and returned verbatim on replay.
type AppliedResult struct {
	BookingRef            string    `json:"bookingId"`
	ExternalTransactionID string    `json:"externalTransactionId"`
	Status                Status    `json:"status"`
	PaymentState          string    `json:"paymentState"`
	SessionState          string    `json:"sessionState"`
	Actions               []string  `json:"actions,omitempty"`
	AppliedAt             time.Time `json:"appliedAt"`
}

// GatewayStatus is what the gateway reports when asked about a transaction directly.
type GatewayStatus struct {
	ExternalTransactionID string `json:"externalTransactionId"`
	Amount                int64  `json:"amount"`
	Status                Status `json:"status"`
}

// ResultCache is a best-effort cache of applied results keyed by external transaction id.
type ResultCache interface {
	Get(ctx context.Context, externalTransactionID string) (json.RawMessage, bool, error)
	Put(ctx context.Context, externalTransactionID string, result json.RawMessage) error
}
