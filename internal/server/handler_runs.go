package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/me/cotask/pkg/model"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}

	respondList(w, reqID, runs, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	respondOK(w, reqID, run)
}

func (s *Server) handleListRunTasks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	tasks := run.Tasks
	if tasks == nil {
		tasks = []model.TaskRecord{}
	}
	respondOK(w, reqID, tasks)
}

type pruneResponse struct {
	Before time.Time `json:"before"`
	Pruned int64     `json:"pruned"`
}

// handlePruneRuns deletes runs started more than ?older_than ago.
func (s *Server) handlePruneRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	raw := r.URL.Query().Get("older_than")
	if raw == "" {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("older_than is required",
			model.FieldError{Field: "older_than", Message: "expected a duration such as 72h"}))
		return
	}
	age, err := time.ParseDuration(raw)
	if err != nil || age < 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid older_than",
			model.FieldError{Field: "older_than", Message: "expected a non-negative duration such as 72h"}))
		return
	}

	before := time.Now().Add(-age).UTC()
	n, err := s.store.PruneRuns(r.Context(), before)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	s.logger.Info("runs pruned", "before", before, "count", n)
	respondOK(w, reqID, pruneResponse{Before: before, Pruned: n})
}

// listOptions reads limit, offset and state from the query string.
func listOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()

	var details []model.FieldError
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			details = append(details, model.FieldError{Field: "limit", Message: "must be an integer"})
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			details = append(details, model.FieldError{Field: "offset", Message: "must be an integer"})
		}
		opts.Offset = n
	}
	if v := q.Get("state"); v != "" {
		st := model.RunState(v)
		if !st.IsTerminal() && st != model.RunStateRunning {
			details = append(details, model.FieldError{Field: "state", Message: "unknown run state " + strconv.Quote(v)})
		}
		opts.State = st
	}
	if len(details) > 0 {
		return opts, model.NewValidationError("invalid list parameters", details...)
	}
	opts.Clamp()
	return opts, nil
}
