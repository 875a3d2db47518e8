package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sessionflow/flowguard/internal/domain/audit"
	"github.com/sessionflow/flowguard/internal/domain/booking"
	"github.com/sessionflow/flowguard/internal/domain/callback"
)

// Store implements booking.Store on postgres. A booking is locked with
// SELECT ... FOR UPDATE for the lifetime of the transaction.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// querier is the subset of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.Background())
		}
	}()
	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) GetBooking(ctx context.Context, ref string) (*booking.Booking, error) {
	return loadBooking(ctx, s.pool, ref, false)
}

func (s *Store) ListAuditEntries(ctx context.Context, entityType, entityID string) ([]*audit.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+auditColumns+`
		FROM audit_entries WHERE entity_type=$1 AND entity_id=$2 ORDER BY seq ASC
	`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []*audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) GetReceipt(ctx context.Context, externalTransactionID string) (*callback.Receipt, error) {
	return getReceipt(ctx, s.pool, externalTransactionID)
}

type pgTx struct {
	q querier
}

func (t *pgTx) LockBooking(ctx context.Context, ref string) (*booking.Booking, error) {
	return loadBooking(ctx, t.q, ref, true)
}

func (t *pgTx) InsertBooking(ctx context.Context, b *booking.Booking) error {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO bookings (ref, client_id, therapist_id, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (ref) DO NOTHING
	`, b.Ref, b.ClientID, b.TherapistID, b.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrAlreadyExists
	}
	if _, err := t.q.Exec(ctx, `
		INSERT INTO payments (id, booking_ref, state, amount, currency, external_transaction_id, last_transition_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, b.Payment.ID, b.Ref, b.Payment.State, b.Payment.Amount, b.Payment.Currency, b.Payment.ExternalTransactionID, b.Payment.LastTransitionAt); err != nil {
		return err
	}
	if _, err := t.q.Exec(ctx, `
		INSERT INTO sessions (id, booking_ref, state, scheduled_at, last_transition_at)
		VALUES ($1,$2,$3,$4,$5)
	`, b.Session.ID, b.Ref, b.Session.State, b.Session.ScheduledAt, b.Session.LastTransitionAt); err != nil {
		return err
	}
	if b.Video != nil {
		return t.SaveVideoCall(ctx, b.Video)
	}
	return nil
}

func (t *pgTx) SavePayment(ctx context.Context, p *booking.Payment) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE payments SET state=$1, external_transaction_id=$2, last_transition_at=$3
		WHERE id=$4 AND booking_ref=$5
	`, p.State, p.ExternalTransactionID, p.LastTransitionAt, p.ID, p.BookingRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func (t *pgTx) SaveSession(ctx context.Context, sess *booking.Session) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE sessions SET state=$1, last_transition_at=$2
		WHERE id=$3 AND booking_ref=$4
	`, sess.State, sess.LastTransitionAt, sess.ID, sess.BookingRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func (t *pgTx) SaveVideoCall(ctx context.Context, v *booking.VideoCall) error {
	participants := v.Participants
	if participants == nil {
		participants = []string{}
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO video_calls (id, session_id, booking_ref, state, participants, last_transition_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET state=EXCLUDED.state, participants=EXCLUDED.participants, last_transition_at=EXCLUDED.last_transition_at
	`, v.ID, v.SessionID, v.BookingRef, v.State, participants, v.LastTransitionAt)
	return err
}

func (t *pgTx) LastAuditEntry(ctx context.Context, entityType, entityID string) (*audit.Entry, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+auditColumns+`
		FROM audit_entries WHERE entity_type=$1 AND entity_id=$2 ORDER BY seq DESC LIMIT 1
	`, entityType, entityID)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (t *pgTx) AppendAudit(ctx context.Context, e *audit.Entry) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO audit_entries
		(id, seq, booking_ref, entity_type, entity_id, from_state, to_state, triggered_by, reason, ts, previous_entry_hash, entry_hash, signature)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, e.ID, e.Seq, e.BookingRef, e.EntityType, e.EntityID, e.FromState, e.ToState, e.TriggeredBy, e.Reason, e.Timestamp, e.PreviousEntryHash, e.EntryHash, e.Signature)
	return err
}

func (t *pgTx) InsertReceipt(ctx context.Context, r *callback.Receipt) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO callback_receipts (external_transaction_id, booking_ref, payload_digest, first_seen_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (external_transaction_id) DO NOTHING
	`, r.ExternalTransactionID, r.BookingRef, r.PayloadDigest, r.FirstSeenAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) GetReceipt(ctx context.Context, externalTransactionID string) (*callback.Receipt, error) {
	return getReceipt(ctx, t.q, externalTransactionID)
}

func (t *pgTx) CompleteReceipt(ctx context.Context, externalTransactionID string, result json.RawMessage, appliedAt time.Time) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE callback_receipts SET applied_result=$1, applied_at=$2
		WHERE external_transaction_id=$3 AND applied_at IS NULL
	`, []byte(result), appliedAt, externalTransactionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("receipt %s not pending", externalTransactionID)
	}
	return nil
}

func loadBooking(ctx context.Context, q querier, ref string, forUpdate bool) (*booking.Booking, error) {
	query := `SELECT ref, client_id, therapist_id, created_at FROM bookings WHERE ref=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var b booking.Booking
	if err := q.QueryRow(ctx, query, ref).Scan(&b.Ref, &b.ClientID, &b.TherapistID, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	b.CreatedAt = b.CreatedAt.UTC()

	p := &b.Payment
	if err := q.QueryRow(ctx, `
		SELECT id, booking_ref, state, amount, currency, external_transaction_id, last_transition_at
		FROM payments WHERE booking_ref=$1
	`, ref).Scan(&p.ID, &p.BookingRef, &p.State, &p.Amount, &p.Currency, &p.ExternalTransactionID, &p.LastTransitionAt); err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	p.LastTransitionAt = p.LastTransitionAt.UTC()

	sess := &b.Session
	if err := q.QueryRow(ctx, `
		SELECT id, booking_ref, state, scheduled_at, last_transition_at
		FROM sessions WHERE booking_ref=$1
	`, ref).Scan(&sess.ID, &sess.BookingRef, &sess.State, &sess.ScheduledAt, &sess.LastTransitionAt); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	sess.ScheduledAt = sess.ScheduledAt.UTC()
	sess.LastTransitionAt = sess.LastTransitionAt.UTC()

	var v booking.VideoCall
	err := q.QueryRow(ctx, `
		SELECT id, session_id, booking_ref, state, participants, last_transition_at
		FROM video_calls WHERE booking_ref=$1
	`, ref).Scan(&v.ID, &v.SessionID, &v.BookingRef, &v.State, &v.Participants, &v.LastTransitionAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to load video call: %w", err)
	default:
		v.LastTransitionAt = v.LastTransitionAt.UTC()
		b.Video = &v
	}
	return &b, nil
}

func getReceipt(ctx context.Context, q querier, externalTransactionID string) (*callback.Receipt, error) {
	var r callback.Receipt
	var result []byte
	if err := q.QueryRow(ctx, `
		SELECT external_transaction_id, booking_ref, payload_digest, applied_result, first_seen_at, applied_at
		FROM callback_receipts WHERE external_transaction_id=$1
	`, externalTransactionID).Scan(&r.ExternalTransactionID, &r.BookingRef, &r.PayloadDigest, &result, &r.FirstSeenAt, &r.AppliedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.AppliedResult = result
	r.FirstSeenAt = r.FirstSeenAt.UTC()
	if r.AppliedAt != nil {
		at := r.AppliedAt.UTC()
		r.AppliedAt = &at
	}
	return &r, nil
}

const auditColumns = `id, seq, booking_ref, entity_type, entity_id, from_state, to_state, triggered_by, reason, ts, previous_entry_hash, entry_hash, signature`

func scanEntry(row pgx.Row) (*audit.Entry, error) {
	var e audit.Entry
	if err := row.Scan(&e.ID, &e.Seq, &e.BookingRef, &e.EntityType, &e.EntityID, &e.FromState, &e.ToState, &e.TriggeredBy, &e.Reason, &e.Timestamp, &e.PreviousEntryHash, &e.EntryHash, &e.Signature); err != nil {
		return nil, err
	}
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}
