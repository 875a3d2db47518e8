package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sessionflow/flowguard/internal/application/engine"
	"github.com/sessionflow/flowguard/internal/domain/booking"
)

type createBookingRequest struct {
	BookingID   string    `json:"bookingId"`
	ClientID    string    `json:"clientId"`
	TherapistID string    `json:"therapistId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
}

type initiatePaymentRequest struct {
	ExternalTransactionID string `json:"externalTransactionId"`
}

type participantRequest struct {
	Participant string `json:"participant"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type noShowRequest struct {
	Party string `json:"party"`
}

func (s *Server) createBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	res, err := s.engineSvc.CreateBooking(r.Context(), booking.NewBooking{
		Ref:         req.BookingID,
		ClientID:    req.ClientID,
		TherapistID: req.TherapistID,
		ScheduledAt: req.ScheduledAt,
		Amount:      req.Amount,
		Currency:    req.Currency,
	}, actorFromRequest(r))
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) getBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.engineSvc.GetBooking(r.Context(), chi.URLParam(r, "bookingId"))
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (s *Server) approveBooking(w http.ResponseWriter, r *http.Request) {
	res, err := s.engineSvc.Approve(r.Context(), chi.URLParam(r, "bookingId"), actorFromRequest(r))
	s.respondResult(w, r, res, err)
}

func (s *Server) initiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	res, err := s.engineSvc.InitiatePayment(r.Context(), chi.URLParam(r, "bookingId"), req.ExternalTransactionID, actorFromRequest(r))
	s.respondResult(w, r, res, err)
}

func (s *Server) prepareSession(w http.ResponseWriter, r *http.Request) {
	res, err := s.engineSvc.PrepareSession(r.Context(), chi.URLParam(r, "bookingId"), actorFromRequest(r))
	s.respondResult(w, r, res, err)
}

func (s *Server) completeForms(w http.ResponseWriter, r *http.Request) {
	res, err := s.engineSvc.CompleteForms(r.Context(), chi.URLParam(r, "bookingId"), actorFromRequest(r))
	s.respondResult(w, r, res, err)
}

func (s *Server) joinVideo(w http.ResponseWriter, r *http.Request) {
	participant, ok := participantFromRequest(w, r)
	if !ok {
		return
	}
	res, err := s.engineSvc.JoinVideo(r.Context(), chi.URLParam(r, "bookingId"), participant)
	s.respondResult(w, r, res, err)
}

func (s *Server) leaveVideo(w http.ResponseWriter, r *http.Request) {
	participant, ok := participantFromRequest(w, r)
	if !ok {
		return
	}
	res, err := s.engineSvc.LeaveVideo(r.Context(), chi.URLParam(r, "bookingId"), participant)
	s.respondResult(w, r, res, err)
}

func (s *Server) reportVideoFailure(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	res, err := s.engineSvc.ReportVideoFailure(r.Context(), chi.URLParam(r, "bookingId"), req.Reason)
	s.respondResult(w, r, res, err)
}

func (s *Server) completeSession(w http.ResponseWriter, r *http.Request) {
	res, err := s.engineSvc.CompleteSession(r.Context(), chi.URLParam(r, "bookingId"), actorFromRequest(r))
	s.respondResult(w, r, res, err)
}

func (s *Server) markNoShow(w http.ResponseWriter, r *http.Request) {
	var req noShowRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	party := engine.Party(req.Party)
	if party != engine.PartyClient && party != engine.PartyTherapist {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "party must be client or therapist")
		return
	}
	res, err := s.engineSvc.MarkNoShow(r.Context(), chi.URLParam(r, "bookingId"), party, actorFromRequest(r))
	s.respondResult(w, r, res, err)
}

func (s *Server) cancelBooking(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	res, err := s.engineSvc.Cancel(r.Context(), chi.URLParam(r, "bookingId"), actorFromRequest(r), req.Reason)
	s.respondResult(w, r, res, err)
}

func participantFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req participantRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return "", false
	}
	if req.Participant == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "participant is required")
		return "", false
	}
	return req.Participant, true
}

func (s *Server) respondResult(w http.ResponseWriter, r *http.Request, res *engine.Result, err error) {
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
