package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "cotask API",
		Version:     "v1",
		Description: "Cooperative task executor: live progress and run journal",
		Endpoints: []endpointInfo{
			{"/api/v1/progress", []string{"GET"}, "Snapshot of the run currently draining"},
			{"/api/v1/sse/progress", []string{"GET"}, "Server-Sent Events stream of progress snapshots"},
			{"/api/v1/runs", []string{"GET", "DELETE"}, "List recorded runs. DELETE prunes runs older than ?older_than"},
			{"/api/v1/runs/{id}", []string{"GET"}, "Single run with its retired tasks"},
			{"/api/v1/runs/{id}/tasks", []string{"GET"}, "Retired task records of a run"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
