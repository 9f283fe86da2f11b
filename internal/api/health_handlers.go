package api

import (
	"net/http"

	"github.com/tomeapp/tome-server/internal/http/response"
)

// handleHealthCheck reports server liveness.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	response.Success(w, map[string]string{"status": "ok"}, s.logger)
}
