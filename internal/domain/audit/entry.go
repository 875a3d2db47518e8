package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one append-only transition log record. Entries for the same
// entity form a hash chain through PreviousEntryHash.
type Entry struct {
	ID                uuid.UUID `json:"id"`
	Seq               int64     `json:"seq"`
	BookingRef        string    `json:"bookingId"`
	EntityType        string    `json:"entityType"`
	EntityID          string    `json:"entityId"`
	FromState         string    `json:"fromState"`
	ToState           string    `json:"toState"`
	TriggeredBy       string    `json:"triggeredBy"`
	Reason            string    `json:"reason,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	PreviousEntryHash string    `json:"previousEntryHash"`
	EntryHash         string    `json:"entryHash"`
	Signature         []byte    `json:"signature,omitempty"`
}

// Input describes a transition to be recorded.
type Input struct {
	BookingRef  string
	EntityType  string
	EntityID    string
	FromState   string
	ToState     string
	TriggeredBy string
	Reason      string
	Timestamp   time.Time
}

type contentPayload struct {
	ID          string `json:"id"`
	Seq         int64  `json:"seq"`
	BookingRef  string `json:"bookingId"`
	EntityType  string `json:"entityType"`
	EntityID    string `json:"entityId"`
	FromState   string `json:"fromState"`
	ToState     string `json:"toState"`
	TriggeredBy string `json:"triggeredBy"`
	Reason      string `json:"reason,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// ComputeContentHash computes the SHA-256 hash of the entry's own fields.
func ComputeContentHash(e *Entry) (string, error) {
	data, err := json.Marshal(contentPayload{
		ID:          e.ID.String(),
		Seq:         e.Seq,
		BookingRef:  e.BookingRef,
		EntityType:  e.EntityType,
		EntityID:    e.EntityID,
		FromState:   e.FromState,
		ToState:     e.ToState,
		TriggeredBy: e.TriggeredBy,
		Reason:      e.Reason,
		Timestamp:   e.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize entry for hashing: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// ComputeChainHash computes the chain hash from content hash and previous hash
func ComputeChainHash(contentHash, prevHash string) string {
	hash := sha256.Sum256([]byte(contentHash + prevHash))
	return hex.EncodeToString(hash[:])
}

// NewEntry creates the next entry of an entity's chain. prev is nil for the genesis entry.
func NewEntry(in Input, prev *Entry) (*Entry, error) {
	if in.EntityType == "" || in.EntityID == "" {
		return nil, errors.New("entity type and id are required")
	}
	e := &Entry{
		ID:          uuid.New(),
		Seq:         1,
		BookingRef:  in.BookingRef,
		EntityType:  in.EntityType,
		EntityID:    in.EntityID,
		FromState:   in.FromState,
		ToState:     in.ToState,
		TriggeredBy: in.TriggeredBy,
		Reason:      in.Reason,
		Timestamp:   in.Timestamp,
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	// Postgres keeps microseconds; hashing must survive a round trip.
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Microsecond)
	if prev != nil {
		e.Seq = prev.Seq + 1
		e.PreviousEntryHash = prev.EntryHash
	}
	content, err := ComputeContentHash(e)
	if err != nil {
		return nil, err
	}
	e.EntryHash = ComputeChainHash(content, e.PreviousEntryHash)
	return e, nil
}

// Verify recomputes the entry hash.
func (e *Entry) Verify() bool {
	content, err := ComputeContentHash(e)
	if err != nil {
		return false
	}
	return e.EntryHash == ComputeChainHash(content, e.PreviousEntryHash)
}

// ChainBreak represents a break in the hash chain
type ChainBreak struct {
	Seq          int64  `json:"seq"`
	EntryID      string `json:"entryId"`
	Problem      string `json:"problem"`
	ExpectedHash string `json:"expectedHash,omitempty"`
	ActualHash   string `json:"actualHash,omitempty"`
}

// VerifyChain checks a single entity's entries, ordered by Seq ascending.
func VerifyChain(entries []*Entry) []ChainBreak {
	var breaks []ChainBreak
	prevHash := ""
	var prevSeq int64
	for _, e := range entries {
		if e.Seq != prevSeq+1 {
			breaks = append(breaks, ChainBreak{Seq: e.Seq, EntryID: e.ID.String(), Problem: fmt.Sprintf("sequence gap after %d", prevSeq)})
		}
		if e.PreviousEntryHash != prevHash {
			breaks = append(breaks, ChainBreak{
				Seq: e.Seq, EntryID: e.ID.String(), Problem: "previous hash mismatch",
				ExpectedHash: prevHash, ActualHash: e.PreviousEntryHash,
			})
		}
		if !e.Verify() {
			breaks = append(breaks, ChainBreak{Seq: e.Seq, EntryID: e.ID.String(), Problem: "entry hash mismatch", ActualHash: e.EntryHash})
		}
		prevHash = e.EntryHash
		prevSeq = e.Seq
	}
	return breaks
}

var ErrChainBroken = errors.New("hash chain is broken")
