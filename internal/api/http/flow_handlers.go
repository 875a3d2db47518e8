package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	appAudit "github.com/sessionflow/flowguard/internal/application/audit"
	"github.com/sessionflow/flowguard/internal/application/engine"
	"github.com/sessionflow/flowguard/internal/domain/callback"
	"github.com/sessionflow/flowguard/internal/domain/flow"
)

// executeTransition applies a caller-assembled set of changes as one unit.
func (s *Server) executeTransition(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = actorFromRequest(r)
	}
	res, err := s.engineSvc.Execute(r.Context(), req)
	s.respondResult(w, r, res, err)
}

// paymentCallback ingests a gateway callback. Redeliveries answer 200 with the
// result of the first application.
func (s *Server) paymentCallback(w http.ResponseWriter, r *http.Request) {
	var cb callback.GatewayCallback
	if err := decodeBody(r, &cb); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	res, err := s.engineSvc.IngestCallback(r.Context(), cb)
	s.respondResult(w, r, res, err)
}

func (s *Server) auditHistory(w http.ResponseWriter, r *http.Request) {
	entityType, err := flow.ParseEntityType(chi.URLParam(r, "entityType"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	var cursor *string
	if c := r.URL.Query().Get("cursor"); c != "" {
		cursor = &c
	}
	res, err := s.auditSvc.History(r.Context(), appAudit.HistoryParams{
		EntityType: entityType,
		EntityID:   chi.URLParam(r, "entityId"),
		Cursor:     cursor,
		Limit:      parseLimit(r),
	}, middleware.GetReqID(r.Context()))
	if err != nil {
		if errors.Is(err, appAudit.ErrInvalidCursor) {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) verifyAuditChain(w http.ResponseWriter, r *http.Request) {
	entityType, err := flow.ParseEntityType(chi.URLParam(r, "entityType"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	report, err := s.auditSvc.VerifyChain(r.Context(), entityType, chi.URLParam(r, "entityId"))
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) verifyBookingAudit(w http.ResponseWriter, r *http.Request) {
	reports, err := s.auditSvc.VerifyBooking(r.Context(), chi.URLParam(r, "bookingId"))
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	verified := true
	for _, rep := range reports {
		verified = verified && rep.Verified
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"bookingId": chi.URLParam(r, "bookingId"),
		"verified":  verified,
		"chains":    reports,
	})
}

// streamBookingEvents streams committed transitions of one booking as server-sent events.
func (s *Server) streamBookingEvents(w http.ResponseWriter, r *http.Request) {
	if s.sseHub == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "event stream disabled")
		return
	}
	ref := chi.URLParam(r, "bookingId")
	if _, err := s.engineSvc.GetBooking(r.Context(), ref); err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}
	client := s.sseHub.Subscribe(ref)
	defer s.sseHub.Unsubscribe(client.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case ev, ok := <-client.Events:
			if !ok {
				return
			}
			payload, _ := json.Marshal(ev)
			_, _ = w.Write([]byte("event: transition\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
