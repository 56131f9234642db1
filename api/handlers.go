package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response is the envelope for every JSON reply.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo describes a failed request.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: code, Message: message},
		Timestamp: time.Now(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]string{"status": "ok"})
}

func (s *Server) handleMeshHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, s.system.Topology().Health())
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, s.system.Topology().Nodes())
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, ok := s.system.Topology().GetNode(id)
	if !ok {
		writeError(w, http.StatusNotFound, "node_not_found", "unknown node: "+id)
		return
	}
	writeSuccess(w, state)
}

// handleFindPath resolves the lowest-latency route between two nodes.
// Query params: from, to.
func (s *Server) handleFindPath(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "from and to query params are required")
		return
	}

	path := s.system.Topology().FindPath(from, to)
	if path == nil {
		writeError(w, http.StatusNotFound, "no_path", "no route between nodes")
		return
	}

	writeSuccess(w, map[string]any{"from": from, "to": to, "path": path})
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	engine := s.system.Consensus()
	switch r.URL.Query().Get("status") {
	case "", "open":
		writeSuccess(w, engine.OpenProposals())
	case "closed":
		writeSuccess(w, engine.History())
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "status must be open or closed")
	}
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, ok := s.system.Consensus().GetProposal(id)
	if !ok {
		writeError(w, http.StatusNotFound, "proposal_not_found", "unknown proposal: "+id)
		return
	}
	writeSuccess(w, p)
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	coord := s.system.Coordinator()
	switch r.URL.Query().Get("status") {
	case "", "active":
		writeSuccess(w, coord.ActiveOperations())
	case "finished":
		writeSuccess(w, coord.History())
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "status must be active or finished")
	}
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	op, ok := s.system.Coordinator().GetOperation(id)
	if !ok {
		writeError(w, http.StatusNotFound, "operation_not_found", "unknown operation: "+id)
		return
	}
	writeSuccess(w, op)
}
