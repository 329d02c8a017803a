package server

import (
	"net/http"

	"github.com/me/cotask/pkg/model"
)

var errNoExecutor = &model.APIError{Code: model.ErrNotFound, Message: "no run is draining in this process"}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.progress == nil {
		respondError(w, reqID, http.StatusNotFound, errNoExecutor)
		return
	}
	respondOK(w, reqID, s.progress.Snapshot())
}
