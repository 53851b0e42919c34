package httpapi

import (
	"net/http"
	"time"

	"github.com/ent0n29/mnemo/internal/observability"
)

// handlePerfOperations serves the rolling latency window per façade operation.
func (s *Server) handlePerfOperations(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, observability.OperationSnapshot{
			GeneratedAt: time.Now().UTC(),
			Operations:  []observability.OperationStats{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.Snapshot())
}
