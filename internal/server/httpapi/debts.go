package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/dmitrijs2005/debtkeeper/internal/server/auth"
	"github.com/dmitrijs2005/debtkeeper/internal/server/models"
	"github.com/dmitrijs2005/debtkeeper/internal/server/services"
	"github.com/go-chi/chi/v5"
)

const maxJSONBodyBytes = 64 << 10

func callerID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", err.Error())
		return false
	}
	return true
}

func (s *Server) writeDebt(w http.ResponseWriter, r *http.Request, status int, d *models.Debt, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, toDebtResponse(d))
}

func (s *Server) createOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := s.debts.CreateOffer(r.Context(), callerID(r), services.OfferInput{
		BorrowerRef:  req.Borrower,
		Amount:       req.Amount,
		CurrencyCode: req.Currency,
		DueDateUTC:   req.DueDate.UTC(),
		Description:  req.Description,
	})
	s.writeDebt(w, r, http.StatusCreated, d, err)
}

func (s *Server) listDebts(w http.ResponseWriter, r *http.Request) {
	list, err := s.debts.ListDebts(r.Context(), callerID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]debtResponse, 0, len(list))
	for _, d := range list {
		out = append(out, toDebtResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getDebt(w http.ResponseWriter, r *http.Request) {
	d, err := s.debts.GetDebt(r.Context(), chi.URLParam(r, "id"), callerID(r))
	s.writeDebt(w, r, http.StatusOK, d, err)
}

func (s *Server) respondToOffer(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Accepted == nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", "accepted is required")
		return
	}
	d, err := s.debts.RespondToOffer(r.Context(), chi.URLParam(r, "id"), callerID(r), *req.Accepted)
	s.writeDebt(w, r, http.StatusOK, d, err)
}

func (s *Server) markDefaulted(w http.ResponseWriter, r *http.Request) {
	d, err := s.debts.MarkDefaulted(r.Context(), chi.URLParam(r, "id"), callerID(r))
	s.writeDebt(w, r, http.StatusOK, d, err)
}

func (s *Server) markPaid(w http.ResponseWriter, r *http.Request) {
	d, err := s.debts.MarkPaid(r.Context(), chi.URLParam(r, "id"), callerID(r))
	s.writeDebt(w, r, http.StatusOK, d, err)
}

func (s *Server) reviewDebt(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Approved == nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", "approved is required")
		return
	}
	d, err := s.debts.ReviewDebt(r.Context(), chi.URLParam(r, "id"), callerID(r), *req.Approved)
	s.writeDebt(w, r, http.StatusOK, d, err)
}
