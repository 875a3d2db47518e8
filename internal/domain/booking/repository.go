package booking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sessionflow/flowguard/internal/domain/audit"
	"github.com/sessionflow/flowguard/internal/domain/callback"
)

// Store is the durable home of bookings, their audit chains and callback receipts.
// All mutation goes through WithinTx; fn's writes commit together or not at all.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetBooking(ctx context.Context, ref string) (*Booking, error)
	ListAuditEntries(ctx context.Context, entityType, entityID string) ([]*audit.Entry, error)
	GetReceipt(ctx context.Context, externalTransactionID string) (*callback.Receipt, error)
	Close() error
}

// Tx is the unit of work handed to WithinTx.
type Tx interface {
	// LockBooking loads the booking and holds it against concurrent writers
	// until the transaction ends. Returns nil, nil when absent.
	LockBooking(ctx context.Context, ref string) (*Booking, error)
	InsertBooking(ctx context.Context, b *Booking) error
	SavePayment(ctx context.Context, p *Payment) error
	SaveSession(ctx context.Context, s *Session) error
	SaveVideoCall(ctx context.Context, v *VideoCall) error

	LastAuditEntry(ctx context.Context, entityType, entityID string) (*audit.Entry, error)
	AppendAudit(ctx context.Context, e *audit.Entry) error

	// InsertReceipt returns false when a receipt for the id already exists.
	InsertReceipt(ctx context.Context, r *callback.Receipt) (bool, error)
	GetReceipt(ctx context.Context, externalTransactionID string) (*callback.Receipt, error)
	CompleteReceipt(ctx context.Context, externalTransactionID string, result json.RawMessage, appliedAt time.Time) error
}
