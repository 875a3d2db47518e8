package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/sessionflow/flowguard/internal/domain/booking"
	"github.com/sessionflow/flowguard/internal/domain/callback"
	"github.com/sessionflow/flowguard/internal/domain/flow"
)

// admit records the callback's receipt inside tx. It returns the prior receipt
// when the callback was already applied. A fresh receipt is rolled back with
// the rest of the transaction if anything after it fails.
func (s *Service) admit(ctx context.Context, tx booking.Tx, b *booking.Booking, cb *callback.GatewayCallback) (*callback.Receipt, error) {
	receipt := callback.NewReceipt(cb, s.now())
	inserted, err := tx.InsertReceipt(ctx, receipt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert receipt: %w", err)
	}
	if !inserted {
		prior, err := tx.GetReceipt(ctx, cb.ExternalTransactionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load receipt: %w", err)
		}
		if prior == nil {
			return nil, fmt.Errorf("callback %s is being applied concurrently: %w", cb.ExternalTransactionID, flow.ErrStaleState)
		}
		if prior.PayloadDigest != receipt.PayloadDigest || prior.BookingRef != cb.BookingRef {
			return nil, mismatch(cb, "payload differs from the first delivery of this transaction")
		}
		return prior, nil
	}
	if b.Payment.Amount != cb.Amount {
		return nil, mismatch(cb, fmt.Sprintf("amount %d does not match payment amount %d", cb.Amount, b.Payment.Amount))
	}
	// The payload never changes, so no amount of re-reading makes it apply.
	if b.Payment.State != flow.PaymentInitiated {
		return nil, mismatch(cb, fmt.Sprintf("callback for payment in state %s", b.Payment.State))
	}
	return nil, nil
}

// preVerify rejects malformed callbacks and confirms ambiguous ones with the
// gateway before any transaction is opened.
func (s *Service) preVerify(ctx context.Context, cb *callback.GatewayCallback) error {
	if err := cb.Validate(); err != nil {
		return fmt.Errorf("%w: callback: %w", ErrInvalidInput, err)
	}
	if err := booking.ValidateRef(cb.BookingRef); err != nil {
		return mismatch(cb, err.Error())
	}
	receipt, err := s.store.GetReceipt(ctx, cb.ExternalTransactionID)
	if err != nil {
		return fmt.Errorf("failed to load receipt: %w", err)
	}
	if receipt != nil {
		// Already admitted; the transaction decides between duplicate and mismatch.
		return nil
	}
	b, err := s.store.GetBooking(ctx, cb.BookingRef)
	if err != nil {
		return fmt.Errorf("failed to get booking: %w", err)
	}
	if b == nil {
		return mismatch(cb, "unknown booking")
	}
	known := b.Payment.ExternalTransactionID
	ambiguous := s.opts.VerifyAll || (known != nil && *known != cb.ExternalTransactionID)
	if !ambiguous {
		return nil
	}
	return s.verifyWithGateway(ctx, cb)
}

func (s *Service) verifyWithGateway(ctx context.Context, cb *callback.GatewayCallback) error {
	if s.verifier == nil {
		return mismatch(cb, "ambiguous callback and no gateway verifier configured")
	}
	vctx, cancel := context.WithTimeout(ctx, s.opts.VerifyTimeout)
	defer cancel()

	status, err := s.verifier.Verify(vctx, cb.ExternalTransactionID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(vctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %s", flow.ErrVerificationTimeout, cb.ExternalTransactionID, s.opts.VerifyTimeout)
		}
		return fmt.Errorf("gateway verification failed: %w", err)
	}
	if status == nil {
		return mismatch(cb, "gateway does not know the transaction")
	}
	if status.Status != cb.Status || status.Amount != cb.Amount {
		return mismatch(cb, fmt.Sprintf("gateway reports %s/%d", status.Status, status.Amount))
	}
	s.logger.Info().
		Str("bookingRef", cb.BookingRef).
		Str("externalTxId", cb.ExternalTransactionID).
		Msg("ambiguous callback confirmed by gateway")
	return nil
}

func (s *Service) cachedResult(ctx context.Context, req Request) (*Result, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, ok, err := s.cache.Get(ctx, cacheKey(req.Callback))
	if err != nil {
		s.logger.Warn().Err(err).Str("externalTxId", req.Callback.ExternalTransactionID).Msg("result cache unavailable")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &Result{BookingRef: req.BookingRef, Duplicate: true, AppliedResult: raw}, true
}

// cacheKey includes the payload digest so a replay with altered fields misses
// the cache and reaches the mismatch check.
func cacheKey(cb *callback.GatewayCallback) string {
	return cb.ExternalTransactionID + ":" + cb.Digest()
}

func mismatch(cb *callback.GatewayCallback, detail string) error {
	return &flow.VerificationMismatchError{
		ExternalTransactionID: cb.ExternalTransactionID,
		BookingRef:            cb.BookingRef,
		Detail:                detail,
	}
}
