package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// createSessionRequest is the optional JSON body for session creation.
type createSessionRequest struct {
	// Source labels where the session's audio comes from. Defaults to "api".
	Source string `json:"source"`
}

// handleCreateSession starts a recognition session. Fails with 409 when no
// profiles are enrolled yet.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	ms, err := s.app.Sessions().Create(r.Context(), req.Source)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, ms.Info())
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": s.app.Sessions().List(),
	})
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	ms, err := s.app.Sessions().Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ms.Stats())
}

func (s *Server) handleSessionLevels(w http.ResponseWriter, r *http.Request) {
	ms, err := s.app.Sessions().Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ms.Levels())
}

// handleStopSession stops the session and returns its final summary. The
// session stays queryable until DELETE evicts it; stopping again returns the
// same summary.
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	summary, err := s.app.Sessions().Stop(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Sessions().Remove(r.PathValue("id")); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// recapResponse carries the generated session recap.
type recapResponse struct {
	Recap string `json:"recap"`
}

func (s *Server) handleSessionRecap(w http.ResponseWriter, r *http.Request) {
	text, err := s.app.Sessions().Recap(r.Context(), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, recapResponse{Recap: text})
}

// thresholdRequest is the JSON body for threshold retuning.
type thresholdRequest struct {
	Threshold float64 `json:"threshold"`
}

// handleSetThreshold retunes the similarity threshold for all live sessions
// and all sessions created afterwards. Chunks already in flight keep the
// threshold they started with.
func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.app.Sessions().SetThreshold(req.Threshold); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
