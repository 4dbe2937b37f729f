package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/sliceorch/placement/internal/domain"
	metricsservice "github.com/sliceorch/placement/internal/services/metrics"
	placementservice "github.com/sliceorch/placement/internal/services/placement"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// PlacementHandler serves the placement REST API.
type PlacementHandler struct {
	placement *placementservice.Service
	metrics   *metricsservice.Service
	logger    *zap.Logger
}

// NewPlacementHandler creates a new placement handler. metrics may be nil,
// in which case sample ingestion is not served.
func NewPlacementHandler(placement *placementservice.Service, metrics *metricsservice.Service, logger *zap.Logger) *PlacementHandler {
	return &PlacementHandler{
		placement: placement,
		metrics:   metrics,
		logger:    logger.With(zap.String("handler", "placement")),
	}
}

// RegisterRoutes registers the placement routes on the given mux.
func (h *PlacementHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/placement", h.handlePlacement)
	mux.HandleFunc("/api/v1/zones", h.handleZones)
	if h.metrics != nil {
		mux.HandleFunc("/api/v1/metrics", h.handleMetrics)
	}
}

// handlePlacement handles POST /api/v1/placement.
//
// Every decision the engine reaches, including an infeasible slice, is a 200.
// Only malformed requests and internal faults map to error statuses.
func (h *PlacementHandler) handlePlacement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	var req placementservice.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		resp := h.placement.Reject(fmt.Sprintf("invalid request body: %v", err))
		h.writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	resp := h.placement.Place(r.Context(), &req)
	h.writeJSON(w, statusFor(resp.Failure), resp)
}

func statusFor(kind domain.FailureKind) int {
	switch kind {
	case domain.FailureInvalidRequest:
		return http.StatusBadRequest
	case domain.FailureInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// handleZones handles GET /api/v1/zones.
func (h *PlacementHandler) handleZones(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"zones": h.placement.Zones(),
	})
}

// handleMetrics handles POST /api/v1/metrics.
func (h *PlacementHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}
	if !h.metrics.Writable() {
		h.writeError(w, http.StatusMethodNotAllowed, metricsservice.ErrReadOnly.Error(), nil)
		return
	}

	var samples []metricsservice.Sample
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&samples); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err), nil)
		return
	}

	n, err := h.metrics.Ingest(r.Context(), samples)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument):
			h.writeError(w, http.StatusBadRequest, err.Error(), nil)
		case errors.Is(err, metricsservice.ErrReadOnly):
			h.writeError(w, http.StatusMethodNotAllowed, err.Error(), nil)
		default:
			h.writeError(w, http.StatusInternalServerError, "Failed to ingest samples", err)
		}
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]int{"ingested": n})
}

func (h *PlacementHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (h *PlacementHandler) writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		h.logger.Error(message, zap.Error(err))
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
