package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sessionflow/flowguard/internal/domain/audit"
	"github.com/sessionflow/flowguard/internal/domain/booking"
	"github.com/sessionflow/flowguard/internal/domain/callback"
)

// Store is an in-process booking.Store. Each booking has its own lock, held by
// the transaction that locked it until commit or rollback; there is no global
// lock across bookings. Writes are staged on the transaction and swapped in on
// commit.
type Store struct {
	mu       sync.Mutex
	bookings map[string]*booking.Booking
	locks    map[string]chan struct{}
	entries  map[string][]*audit.Entry
	receipts map[string]*callback.Receipt
	reserved map[string]bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		bookings: map[string]*booking.Booking{},
		locks:    map[string]chan struct{}{},
		entries:  map[string][]*audit.Entry{},
		receipts: map[string]*callback.Receipt{},
		reserved: map[string]bool{},
	}
}

func (s *Store) Close() error { return nil }

// WithinTx runs fn in a unit of work.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	tx := &memTx{
		store:    s,
		bookings: map[string]*booking.Booking{},
		entries:  map[string][]*audit.Entry{},
		receipts: map[string]*callback.Receipt{},
	}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) GetBooking(ctx context.Context, ref string) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[ref]
	if !ok {
		return nil, nil
	}
	return b.Clone(), nil
}

func (s *Store) ListAuditEntries(ctx context.Context, entityType, entityID string) ([]*audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[entryKey(entityType, entityID)]
	out := make([]*audit.Entry, 0, len(list))
	for _, e := range list {
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *Store) GetReceipt(ctx context.Context, externalTransactionID string) (*callback.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[externalTransactionID]
	if !ok {
		return nil, nil
	}
	return cloneReceipt(r), nil
}

// Snapshot returns every booking and audit entry, for before/after comparisons.
func (s *Store) Snapshot() ([]*booking.Booking, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make([]string, 0, len(s.bookings))
	for ref := range s.bookings {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	out := make([]*booking.Booking, 0, len(refs))
	for _, ref := range refs {
		out = append(out, s.bookings[ref].Clone())
	}
	count := 0
	for _, list := range s.entries {
		count += len(list)
	}
	return out, count
}

func (s *Store) lockFor(ref string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[ref]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[ref] = l
	}
	return l
}

type memTx struct {
	store    *Store
	held     []chan struct{}
	heldRefs map[string]bool
	bookings map[string]*booking.Booking
	entries  map[string][]*audit.Entry
	receipts map[string]*callback.Receipt
	reserved []string
}

func (t *memTx) acquire(ctx context.Context, ref string) error {
	if t.heldRefs[ref] {
		return nil
	}
	l := t.store.lockFor(ref)
	select {
	case l <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if t.heldRefs == nil {
		t.heldRefs = map[string]bool{}
	}
	t.heldRefs[ref] = true
	t.held = append(t.held, l)
	return nil
}

func (t *memTx) release() {
	t.store.mu.Lock()
	for _, id := range t.reserved {
		delete(t.store.reserved, id)
	}
	t.store.mu.Unlock()
	for i := len(t.held) - 1; i >= 0; i-- {
		<-t.held[i]
	}
}

func (t *memTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for ref, b := range t.bookings {
		s.bookings[ref] = b
	}
	for key, list := range t.entries {
		s.entries[key] = append(s.entries[key], list...)
	}
	for id, r := range t.receipts {
		s.receipts[id] = r
	}
}

func (t *memTx) current(ref string) *booking.Booking {
	if b, ok := t.bookings[ref]; ok {
		return b
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.bookings[ref]
}

func (t *memTx) LockBooking(ctx context.Context, ref string) (*booking.Booking, error) {
	if err := t.acquire(ctx, ref); err != nil {
		return nil, err
	}
	b := t.current(ref)
	if b == nil {
		return nil, nil
	}
	return b.Clone(), nil
}

func (t *memTx) InsertBooking(ctx context.Context, b *booking.Booking) error {
	if err := t.acquire(ctx, b.Ref); err != nil {
		return err
	}
	if t.current(b.Ref) != nil {
		return booking.ErrAlreadyExists
	}
	t.bookings[b.Ref] = b.Clone()
	return nil
}

func (t *memTx) staged(ref string) (*booking.Booking, error) {
	if !t.heldRefs[ref] {
		return nil, fmt.Errorf("booking %s is not locked by this transaction", ref)
	}
	b := t.current(ref)
	if b == nil {
		return nil, booking.ErrNotFound
	}
	if _, ok := t.bookings[ref]; !ok {
		b = b.Clone()
		t.bookings[ref] = b
	}
	return b, nil
}

func (t *memTx) SavePayment(ctx context.Context, p *booking.Payment) error {
	b, err := t.staged(p.BookingRef)
	if err != nil {
		return err
	}
	b.Payment = *p
	if p.ExternalTransactionID != nil {
		id := *p.ExternalTransactionID
		b.Payment.ExternalTransactionID = &id
	}
	return nil
}

func (t *memTx) SaveSession(ctx context.Context, sess *booking.Session) error {
	b, err := t.staged(sess.BookingRef)
	if err != nil {
		return err
	}
	b.Session = *sess
	return nil
}

func (t *memTx) SaveVideoCall(ctx context.Context, v *booking.VideoCall) error {
	b, err := t.staged(v.BookingRef)
	if err != nil {
		return err
	}
	cp := *v
	cp.Participants = append([]string{}, v.Participants...)
	b.Video = &cp
	return nil
}

func (t *memTx) LastAuditEntry(ctx context.Context, entityType, entityID string) (*audit.Entry, error) {
	key := entryKey(entityType, entityID)
	if list := t.entries[key]; len(list) > 0 {
		return cloneEntry(list[len(list)-1]), nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	list := t.store.entries[key]
	if len(list) == 0 {
		return nil, nil
	}
	return cloneEntry(list[len(list)-1]), nil
}

func (t *memTx) AppendAudit(ctx context.Context, e *audit.Entry) error {
	key := entryKey(e.EntityType, e.EntityID)
	t.entries[key] = append(t.entries[key], cloneEntry(e))
	return nil
}

func (t *memTx) InsertReceipt(ctx context.Context, r *callback.Receipt) (bool, error) {
	if _, ok := t.receipts[r.ExternalTransactionID]; ok {
		return false, nil
	}
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receipts[r.ExternalTransactionID]; ok {
		return false, nil
	}
	if s.reserved[r.ExternalTransactionID] {
		return false, nil
	}
	s.reserved[r.ExternalTransactionID] = true
	t.reserved = append(t.reserved, r.ExternalTransactionID)
	t.receipts[r.ExternalTransactionID] = cloneReceipt(r)
	return true, nil
}

func (t *memTx) GetReceipt(ctx context.Context, externalTransactionID string) (*callback.Receipt, error) {
	if r, ok := t.receipts[externalTransactionID]; ok {
		return cloneReceipt(r), nil
	}
	return t.store.GetReceipt(ctx, externalTransactionID)
}

func (t *memTx) CompleteReceipt(ctx context.Context, externalTransactionID string, result json.RawMessage, appliedAt time.Time) error {
	r, ok := t.receipts[externalTransactionID]
	if !ok {
		return fmt.Errorf("receipt %s not admitted in this transaction", externalTransactionID)
	}
	r.AppliedResult = append(json.RawMessage(nil), result...)
	at := appliedAt.UTC()
	r.AppliedAt = &at
	return nil
}

func entryKey(entityType, entityID string) string {
	return entityType + "|" + entityID
}

func cloneEntry(e *audit.Entry) *audit.Entry {
	cp := *e
	cp.Signature = append([]byte(nil), e.Signature...)
	return &cp
}

func cloneReceipt(r *callback.Receipt) *callback.Receipt {
	cp := *r
	cp.AppliedResult = append(json.RawMessage(nil), r.AppliedResult...)
	if r.AppliedAt != nil {
		at := *r.AppliedAt
		cp.AppliedAt = &at
	}
	return &cp
}
