package handlers

import (
	"net/http"

	"github.com/autoanosis/ai-relay-go/internal/models"
)

const serviceName = "autoanosis-ai-backend"

var features = []string{
	"identity_verification",
	"rate_limiting",
	"conversation_memory",
	"medical_context",
}

// HealthHandler serves GET /health
type HealthHandler struct {
	version string
}

func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:   "healthy",
		Service:  serviceName,
		Version:  h.version,
		Features: features,
	})
}
