package httpapi

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/dmitrijs2005/debtkeeper/internal/common"
	"github.com/dmitrijs2005/debtkeeper/internal/server/models"
	"github.com/dmitrijs2005/debtkeeper/internal/server/services"
	"github.com/go-chi/chi/v5"
)

const (
	evidenceKeyHeader = common.EvidenceKeyHeaderName
	uploadFormField   = "file"
	// multipartSlack leaves room for part headers so the service's own size
	// check trips before the body limit does.
	multipartSlack = 1 << 20
)

// uploadEvidence streams the "file" part of a multipart body straight into
// the evidence service. The body is never buffered in full.
func (s *Server) uploadEvidence(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartSlack)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", err.Error())
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "BAD_BODY", "file part is required")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_BODY", err.Error())
			return
		}
		if part.FormName() != uploadFormField {
			_ = part.Close()
			continue
		}

		v, err := s.evidence.Upload(r.Context(), services.UploadInput{
			DebtID:      chi.URLParam(r, "id"),
			UploaderID:  callerID(r),
			FileName:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Body:        part,
		})
		_ = part.Close()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toVideoResponse(v))
		return
	}
}

func (s *Server) listEvidence(w http.ResponseWriter, r *http.Request) {
	views, err := s.evidence.ListEvidence(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]evidenceResponse, 0, len(views))
	for i := range views {
		out = append(out, evidenceResponse{
			LinkID:    views[i].Link.ID,
			DebtID:    views[i].Link.DebtID,
			Status:    views[i].Link.Status,
			CreatedAt: views[i].Link.CreatedAt,
			Video:     toVideoResponse(&views[i].Video),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) approveEvidence(w http.ResponseWriter, r *http.Request) {
	v, err := s.evidence.Approve(r.Context(), chi.URLParam(r, "id"), callerID(r))
	s.writeEncryptionResult(w, r, v, err)
}

func (s *Server) retryEncryption(w http.ResponseWriter, r *http.Request) {
	v, err := s.evidence.RetryEncryption(r.Context(), chi.URLParam(r, "id"), callerID(r))
	s.writeEncryptionResult(w, r, v, err)
}

// writeEncryptionResult reports a finished encryption run. A failed key
// delivery still returns the encrypted evidence alongside the error.
func (s *Server) writeEncryptionResult(w http.ResponseWriter, r *http.Request, v *models.VideoEvidence, err error) {
	if err != nil {
		if errors.Is(err, common.ErrorDependency) && v != nil {
			status, code := statusFor(err)
			writeJSON(w, status, approveResponse{
				Error:    errorBody{Code: code, Message: "evidence encrypted but the key could not be delivered"},
				Evidence: toVideoResponse(v),
			})
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVideoResponse(v))
}

func (s *Server) rejectEvidence(w http.ResponseWriter, r *http.Request) {
	v, err := s.evidence.Reject(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVideoResponse(v))
}

// streamEvidence decrypts evidence on the fly. The key travels in a header
// so it stays out of URLs and access logs.
func (s *Server) streamEvidence(w http.ResponseWriter, r *http.Request) {
	st, err := s.evidence.StreamEvidence(r.Context(), chi.URLParam(r, "id"), callerID(r), r.Header.Get(evidenceKeyHeader))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer st.Close()

	w.Header().Set("Content-Type", st.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": st.FileName}))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, st); err != nil {
		s.logger.Warn(r.Context(), "evidence stream interrupted", "video_id", chi.URLParam(r, "id"), "error", err)
		// headers are gone; drop the connection so the client cannot
		// mistake a truncated body for a complete one
		panic(http.ErrAbortHandler)
	}
}
