package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	appAudit "github.com/sessionflow/flowguard/internal/application/audit"
	"github.com/sessionflow/flowguard/internal/application/engine"
	"github.com/sessionflow/flowguard/internal/domain/booking"
	"github.com/sessionflow/flowguard/internal/domain/flow"
	"github.com/sessionflow/flowguard/internal/infrastructure/sse"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	engineSvc *engine.Service
	auditSvc  *appAudit.Service
	sseHub    *sse.Hub
	logger    zerolog.Logger
}

func NewServer(engineSvc *engine.Service, auditSvc *appAudit.Service, sseHub *sse.Hub, logger zerolog.Logger) *Server {
	return &Server{
		engineSvc: engineSvc,
		auditSvc:  auditSvc,
		sseHub:    sseHub,
		logger:    logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", s.createBooking)
			r.Route("/{bookingId}", func(r chi.Router) {
				r.Get("/", s.getBooking)
				r.Post("/approve", s.approveBooking)
				r.Post("/payment", s.initiatePayment)
				r.Post("/prepare", s.prepareSession)
				r.Post("/forms/complete", s.completeForms)
				r.Post("/video/join", s.joinVideo)
				r.Post("/video/leave", s.leaveVideo)
				r.Post("/video/failure", s.reportVideoFailure)
				r.Post("/complete", s.completeSession)
				r.Post("/no-show", s.markNoShow)
				r.Post("/cancel", s.cancelBooking)
				r.Get("/audit/verify", s.verifyBookingAudit)
				r.Get("/events", s.streamBookingEvents)
			})
		})

		r.Post("/transitions", s.executeTransition)
		r.Post("/callbacks/payment", s.paymentCallback)

		r.Route("/audit/{entityType}/{entityId}", func(r chi.Router) {
			r.Get("/", s.auditHistory)
			r.Get("/verify", s.verifyAuditChain)
		})
	})

	return r
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondEngineError maps engine and domain errors onto HTTP statuses.
func (s *Server) respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, booking.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, booking.ErrAlreadyExists):
		status, code = http.StatusConflict, "ALREADY_EXISTS"
	case errors.Is(err, booking.ErrInvalidReference),
		errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, engine.ErrEmptyRequest):
		status, code = http.StatusBadRequest, "INVALID_PARAM"
	case errors.Is(err, flow.ErrInvalidTransition):
		status, code = http.StatusBadRequest, "INVALID_TRANSITION"
	case errors.Is(err, flow.ErrForbiddenTransition):
		status, code = http.StatusBadRequest, "FORBIDDEN_TRANSITION"
		if reason, ok := flow.ForbiddenReason(err); ok {
			code = reason
		}
	case errors.Is(err, flow.ErrSyncViolation):
		status, code = http.StatusUnprocessableEntity, "SYNC_VIOLATION"
	case errors.Is(err, flow.ErrVerificationMismatch):
		status, code = http.StatusUnprocessableEntity, "VERIFICATION_MISMATCH"
	case errors.Is(err, flow.ErrStaleState):
		status, code = http.StatusConflict, "STALE_STATE"
	case errors.Is(err, engine.ErrNothingToDo):
		status, code = http.StatusConflict, "NOTHING_TO_DO"
	case errors.Is(err, flow.ErrVerificationTimeout), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "VERIFICATION_TIMEOUT"
	}
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("requestId", middleware.GetReqID(r.Context())).Msg("request failed")
	}
	respondError(w, status, code, err.Error())
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeOptionalBody accepts an empty body for endpoints whose fields are all optional.
func decodeOptionalBody(r *http.Request, v interface{}) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decodeBody(r, v)
}

func actorFromRequest(r *http.Request) string {
	actor := r.Header.Get("X-Actor")
	if actor == "" {
		actor = "system"
	}
	return actor
}

func parseLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			return l
		}
	}
	return 0
}
