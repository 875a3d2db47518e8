package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sessionflow/flowguard/internal/domain/audit"
	"github.com/sessionflow/flowguard/internal/domain/booking"
	"github.com/sessionflow/flowguard/internal/domain/callback"
	"github.com/sessionflow/flowguard/internal/domain/flow"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - initial schema
// 1 - index on payments.external_transaction_id
const currentSchemaVersion = 1

const timeLayout = time.RFC3339Nano

// Store implements booking.Store on a single SQLite file. Transactions begin
// IMMEDIATE so the write lock is taken before the booking is read.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_txlock=immediate", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_payments_external_tx ON payments(external_transaction_id)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(ctx, &sqliteTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) GetBooking(ctx context.Context, ref string) (*booking.Booking, error) {
	return loadBooking(ctx, s.db, ref)
}

func (s *Store) ListAuditEntries(ctx context.Context, entityType, entityID string) ([]*audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+auditColumns+`
		FROM audit_entries WHERE entity_type = ? AND entity_id = ? ORDER BY seq ASC
	`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()
	var entries []*audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("list audit entries: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) GetReceipt(ctx context.Context, externalTransactionID string) (*callback.Receipt, error) {
	return getReceipt(ctx, s.db, externalTransactionID)
}

type sqliteTx struct {
	q queryer
}

// LockBooking reads the booking. The IMMEDIATE transaction already holds the
// database write lock.
func (t *sqliteTx) LockBooking(ctx context.Context, ref string) (*booking.Booking, error) {
	return loadBooking(ctx, t.q, ref)
}

func (t *sqliteTx) InsertBooking(ctx context.Context, b *booking.Booking) error {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO bookings (ref, client_id, therapist_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ref) DO NOTHING
	`, b.Ref, b.ClientID, b.TherapistID, fmtTime(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return booking.ErrAlreadyExists
	}
	if _, err := t.q.ExecContext(ctx, `
		INSERT INTO payments (id, booking_ref, state, amount, currency, external_transaction_id, last_transition_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.Payment.ID.String(), b.Ref, string(b.Payment.State), b.Payment.Amount, b.Payment.Currency, b.Payment.ExternalTransactionID, fmtTime(b.Payment.LastTransitionAt)); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	if _, err := t.q.ExecContext(ctx, `
		INSERT INTO sessions (id, booking_ref, state, scheduled_at, last_transition_at)
		VALUES (?, ?, ?, ?, ?)
	`, b.Session.ID.String(), b.Ref, string(b.Session.State), fmtTime(b.Session.ScheduledAt), fmtTime(b.Session.LastTransitionAt)); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if b.Video != nil {
		return t.SaveVideoCall(ctx, b.Video)
	}
	return nil
}

func (t *sqliteTx) SavePayment(ctx context.Context, p *booking.Payment) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE payments SET state = ?, external_transaction_id = ?, last_transition_at = ?
		WHERE id = ? AND booking_ref = ?
	`, string(p.State), p.ExternalTransactionID, fmtTime(p.LastTransitionAt), p.ID.String(), p.BookingRef)
	if err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	return requireOne(res)
}

func (t *sqliteTx) SaveSession(ctx context.Context, sess *booking.Session) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE sessions SET state = ?, last_transition_at = ?
		WHERE id = ? AND booking_ref = ?
	`, string(sess.State), fmtTime(sess.LastTransitionAt), sess.ID.String(), sess.BookingRef)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return requireOne(res)
}

func (t *sqliteTx) SaveVideoCall(ctx context.Context, v *booking.VideoCall) error {
	participants := v.Participants
	if participants == nil {
		participants = []string{}
	}
	data, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("save video call: %w", err)
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO video_calls (id, session_id, booking_ref, state, participants, last_transition_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, participants = excluded.participants, last_transition_at = excluded.last_transition_at
	`, v.ID.String(), v.SessionID.String(), v.BookingRef, string(v.State), string(data), fmtTime(v.LastTransitionAt))
	if err != nil {
		return fmt.Errorf("save video call: %w", err)
	}
	return nil
}

func (t *sqliteTx) LastAuditEntry(ctx context.Context, entityType, entityID string) (*audit.Entry, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT `+auditColumns+`
		FROM audit_entries WHERE entity_type = ? AND entity_id = ? ORDER BY seq DESC LIMIT 1
	`, entityType, entityID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (t *sqliteTx) AppendAudit(ctx context.Context, e *audit.Entry) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO audit_entries
		(id, seq, booking_ref, entity_type, entity_id, from_state, to_state, triggered_by, reason, ts, previous_entry_hash, entry_hash, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID.String(), e.Seq, e.BookingRef, e.EntityType, e.EntityID, e.FromState, e.ToState, e.TriggeredBy, e.Reason, fmtTime(e.Timestamp), e.PreviousEntryHash, e.EntryHash, e.Signature)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (t *sqliteTx) InsertReceipt(ctx context.Context, r *callback.Receipt) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO callback_receipts (external_transaction_id, booking_ref, payload_digest, first_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(external_transaction_id) DO NOTHING
	`, r.ExternalTransactionID, r.BookingRef, r.PayloadDigest, fmtTime(r.FirstSeenAt))
	if err != nil {
		return false, fmt.Errorf("insert receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *sqliteTx) GetReceipt(ctx context.Context, externalTransactionID string) (*callback.Receipt, error) {
	return getReceipt(ctx, t.q, externalTransactionID)
}

func (t *sqliteTx) CompleteReceipt(ctx context.Context, externalTransactionID string, result json.RawMessage, appliedAt time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE callback_receipts SET applied_result = ?, applied_at = ?
		WHERE external_transaction_id = ? AND applied_at IS NULL
	`, string(result), fmtTime(appliedAt), externalTransactionID)
	if err != nil {
		return fmt.Errorf("complete receipt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("receipt %s not pending", externalTransactionID)
	}
	return nil
}

func loadBooking(ctx context.Context, q queryer, ref string) (*booking.Booking, error) {
	var b booking.Booking
	var createdAt string
	err := q.QueryRowContext(ctx, `SELECT ref, client_id, therapist_id, created_at FROM bookings WHERE ref = ?`, ref).
		Scan(&b.Ref, &b.ClientID, &b.TherapistID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	var (
		paymentID, paymentState, paymentAt string
		extID                              sql.NullString
	)
	if err := q.QueryRowContext(ctx, `
		SELECT id, state, amount, currency, external_transaction_id, last_transition_at
		FROM payments WHERE booking_ref = ?
	`, ref).Scan(&paymentID, &paymentState, &b.Payment.Amount, &b.Payment.Currency, &extID, &paymentAt); err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}
	b.Payment.BookingRef = ref
	b.Payment.State = flow.PaymentState(paymentState)
	if b.Payment.ID, err = uuid.Parse(paymentID); err != nil {
		return nil, err
	}
	if extID.Valid {
		id := extID.String
		b.Payment.ExternalTransactionID = &id
	}
	if b.Payment.LastTransitionAt, err = parseTime(paymentAt); err != nil {
		return nil, err
	}

	var sessionID, sessionState, scheduledAt, sessionAt string
	if err := q.QueryRowContext(ctx, `
		SELECT id, state, scheduled_at, last_transition_at FROM sessions WHERE booking_ref = ?
	`, ref).Scan(&sessionID, &sessionState, &scheduledAt, &sessionAt); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	b.Session.BookingRef = ref
	b.Session.State = flow.SessionState(sessionState)
	if b.Session.ID, err = uuid.Parse(sessionID); err != nil {
		return nil, err
	}
	if b.Session.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return nil, err
	}
	if b.Session.LastTransitionAt, err = parseTime(sessionAt); err != nil {
		return nil, err
	}

	var videoID, videoSession, videoState, participants, videoAt string
	err = q.QueryRowContext(ctx, `
		SELECT id, session_id, state, participants, last_transition_at FROM video_calls WHERE booking_ref = ?
	`, ref).Scan(&videoID, &videoSession, &videoState, &participants, &videoAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load video call: %w", err)
	}
	v := &booking.VideoCall{BookingRef: ref, State: flow.VideoState(videoState)}
	if v.ID, err = uuid.Parse(videoID); err != nil {
		return nil, err
	}
	if v.SessionID, err = uuid.Parse(videoSession); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(participants), &v.Participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	if v.LastTransitionAt, err = parseTime(videoAt); err != nil {
		return nil, err
	}
	b.Video = v
	return &b, nil
}

func getReceipt(ctx context.Context, q queryer, externalTransactionID string) (*callback.Receipt, error) {
	var (
		r           callback.Receipt
		result      sql.NullString
		firstSeenAt string
		appliedAt   sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT external_transaction_id, booking_ref, payload_digest, applied_result, first_seen_at, applied_at
		FROM callback_receipts WHERE external_transaction_id = ?
	`, externalTransactionID).Scan(&r.ExternalTransactionID, &r.BookingRef, &r.PayloadDigest, &result, &firstSeenAt, &appliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	if result.Valid {
		r.AppliedResult = json.RawMessage(result.String)
	}
	if r.FirstSeenAt, err = parseTime(firstSeenAt); err != nil {
		return nil, err
	}
	if appliedAt.Valid {
		at, err := parseTime(appliedAt.String)
		if err != nil {
			return nil, err
		}
		r.AppliedAt = &at
	}
	return &r, nil
}

const auditColumns = `id, seq, booking_ref, entity_type, entity_id, from_state, to_state, triggered_by, reason, ts, previous_entry_hash, entry_hash, signature`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*audit.Entry, error) {
	var (
		e      audit.Entry
		id, ts string
	)
	if err := row.Scan(&id, &e.Seq, &e.BookingRef, &e.EntityType, &e.EntityID, &e.FromState, &e.ToState, &e.TriggeredBy, &e.Reason, &ts, &e.PreviousEntryHash, &e.EntryHash, &e.Signature); err != nil {
		return nil, err
	}
	var err error
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if e.Timestamp, err = parseTime(ts); err != nil {
		return nil, err
	}
	return &e, nil
}

func requireOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}
