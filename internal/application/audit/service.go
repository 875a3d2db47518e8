package audit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sessionflow/flowguard/internal/domain/audit"
	"github.com/sessionflow/flowguard/internal/domain/booking"
	"github.com/sessionflow/flowguard/internal/domain/flow"
)

// ErrInvalidCursor is returned for a pagination cursor that does not decode.
var ErrInvalidCursor = errors.New("invalid cursor")

// Reader is the read side of the booking store the audit service needs.
type Reader interface {
	GetBooking(ctx context.Context, ref string) (*booking.Booking, error)
	ListAuditEntries(ctx context.Context, entityType, entityID string) ([]*audit.Entry, error)
}

// Service handles audit log queries and chain verification
type Service struct {
	store   Reader
	logger  zerolog.Logger
	signKey []byte
}

// NewService creates a new audit service
func NewService(store Reader, logger zerolog.Logger, signKey []byte) *Service {
	return &Service{
		store:   store,
		signKey: signKey,
		logger:  logger.With().Str("service", "audit").Logger(),
	}
}

// HistoryParams represents query parameters for an entity history
type HistoryParams struct {
	EntityType flow.EntityType
	EntityID   string
	Cursor     *string
	Limit      int
}

// HistoryResult represents one page of an entity history
type HistoryResult struct {
	Entries    []*audit.Entry `json:"entries"`
	Pagination Pagination     `json:"pagination"`
	TraceID    string         `json:"traceId,omitempty"`
}

// Pagination holds pagination information
type Pagination struct {
	Cursor  *string `json:"cursor,omitempty"`
	HasMore bool    `json:"hasMore"`
	Count   int     `json:"count"`
}

type cursor struct {
	AfterSeq int64 `json:"afterSeq"`
}

// History returns an entity's audit entries in chain order, a page at a time.
func (s *Service) History(ctx context.Context, params HistoryParams, traceID string) (*HistoryResult, error) {
	if params.Limit <= 0 {
		params.Limit = 50
	}
	if params.Limit > 200 {
		params.Limit = 200
	}
	var after int64
	if params.Cursor != nil && *params.Cursor != "" {
		c, err := decodeCursor(*params.Cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
		}
		after = c.AfterSeq
	}

	entries, err := s.store.ListAuditEntries(ctx, string(params.EntityType), params.EntityID)
	if err != nil {
		s.logger.Error().Err(err).
			Str("traceId", traceID).
			Str("entityType", string(params.EntityType)).
			Str("entityId", params.EntityID).
			Msg("failed to get entity history")
		return nil, fmt.Errorf("failed to get entity history: %w", err)
	}

	page := make([]*audit.Entry, 0, params.Limit)
	hasMore := false
	for _, e := range entries {
		if e.Seq <= after {
			continue
		}
		if len(page) == params.Limit {
			hasMore = true
			break
		}
		page = append(page, e)
	}

	result := &HistoryResult{
		Entries: page,
		TraceID: traceID,
		Pagination: Pagination{
			Count:   len(page),
			HasMore: hasMore,
		},
	}
	if hasMore {
		encoded, err := encodeCursor(cursor{AfterSeq: page[len(page)-1].Seq})
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to encode cursor")
		} else {
			result.Pagination.Cursor = &encoded
		}
	}
	return result, nil
}

// ChainReport is the outcome of verifying one entity's audit chain.
type ChainReport struct {
	EntityType      string             `json:"entityType"`
	EntityID        string             `json:"entityId"`
	Entries         int                `json:"entries"`
	Verified        bool               `json:"verified"`
	Breaks          []audit.ChainBreak `json:"breaks,omitempty"`
	SignatureFailed []string           `json:"signatureFailed,omitempty"`
	Message         string             `json:"message"`
}

// VerifyChain recomputes an entity's hash chain and, when a signing key is
// configured, every entry signature.
func (s *Service) VerifyChain(ctx context.Context, entityType flow.EntityType, entityID string) (*ChainReport, error) {
	entries, err := s.store.ListAuditEntries(ctx, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit chain: %w", err)
	}

	report := &ChainReport{
		EntityType: string(entityType),
		EntityID:   entityID,
		Entries:    len(entries),
		Breaks:     audit.VerifyChain(entries),
	}
	if len(s.signKey) > 0 {
		for _, e := range entries {
			ok, err := audit.VerifyEntrySignature(e, s.signKey)
			if err != nil {
				return nil, fmt.Errorf("failed to verify signature: %w", err)
			}
			if !ok {
				report.SignatureFailed = append(report.SignatureFailed, e.ID.String())
			}
		}
	}

	report.Verified = len(report.Breaks) == 0 && len(report.SignatureFailed) == 0
	switch {
	case len(entries) == 0:
		report.Message = "No audit entries for entity"
	case report.Verified:
		report.Message = "Audit chain integrity verified"
	default:
		report.Message = "Audit chain mismatch - possible tampering detected"
		s.logger.Warn().
			Str("entityType", report.EntityType).
			Str("entityId", entityID).
			Int("breaks", len(report.Breaks)).
			Int("badSignatures", len(report.SignatureFailed)).
			Msg("audit chain verification failed")
	}
	return report, nil
}

// VerifyBooking verifies the chains of every entity of a booking.
func (s *Service) VerifyBooking(ctx context.Context, ref string) ([]*ChainReport, error) {
	b, err := s.store.GetBooking(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if b == nil {
		return nil, booking.ErrNotFound
	}
	reports := make([]*ChainReport, 0, len(flow.EntityTypes))
	for _, et := range flow.EntityTypes {
		id := b.EntityID(et)
		if id == "" {
			continue
		}
		r, err := s.VerifyChain(ctx, et, id)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// encodeCursor encodes a cursor to base64 string
func encodeCursor(c cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// decodeCursor decodes a base64 string to cursor
func decodeCursor(s string) (*cursor, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}

	var c cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}

	return &c, nil
}
