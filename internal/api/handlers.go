package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carelingo/edgecache/internal/connectivity"
	"github.com/carelingo/edgecache/internal/engine"
	"github.com/carelingo/edgecache/internal/governor"
	"github.com/carelingo/edgecache/internal/usage"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encode response", zap.Error(err))
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg, reason string) {
	s.writeJSON(w, status, errorResponse{Error: msg, Reason: reason})
}

func statusForReason(reason engine.FailureReason) int {
	switch reason {
	case engine.ReasonInsufficientData:
		return http.StatusConflict
	case engine.ReasonPersistenceFailure:
		return http.StatusInternalServerError
	case engine.ReasonResourceExhaustion:
		return http.StatusInsufficientStorage
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	// Without query parameters, serve the published list as-is.
	if len(params) == 0 {
		preds := s.engine.Predictions()
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"count":       len(preds),
			"predictions": preds,
		})
		return
	}

	q := engine.PredictionQuery{
		Pair:    params.Get("pair"),
		Context: params.Get("context"),
	}
	if at := params.Get("at"); at != "" {
		ts, err := time.Parse(time.RFC3339, at)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid at timestamp", "")
			return
		}
		q.At = ts
	}
	if agg := params.Get("aggressiveness"); agg != "" {
		v, err := strconv.ParseFloat(agg, 64)
		if err != nil || v < 0 || v > 1 {
			s.writeError(w, http.StatusBadRequest, "invalid aggressiveness", "")
			return
		}
		q.Aggressiveness = v
	}
	if limit := params.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit", "")
			return
		}
		q.Limit = n
	}

	preds := s.engine.PredictionsFor(q)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(preds),
		"predictions": preds,
	})
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	q := connectivity.RiskQuery{
		LocationID:     r.URL.Query().Get("location"),
		UserID:         r.URL.Query().Get("user"),
		ConnectionType: r.URL.Query().Get("connection"),
	}
	if h := r.URL.Query().Get("horizon_hours"); h != "" {
		n, err := strconv.Atoi(h)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid horizon_hours", "")
			return
		}
		q.HorizonHours = n
	}
	s.writeJSON(w, http.StatusOK, s.engine.OfflineRisk(q))
}

func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var ev usage.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid event body", "")
		return
	}
	if ev.SourceLang == "" || ev.TargetLang == "" {
		s.writeError(w, http.StatusBadRequest, "source_lang and target_lang are required", "")
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.engine.RecordEvent(ev)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": ev.ID})
}

func (s *Server) handlePostSample(w http.ResponseWriter, r *http.Request) {
	var sample connectivity.Sample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid sample body", "")
		return
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}
	s.engine.RecordSample(sample)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"state": string(sample.StateOf())})
}

func (s *Server) handlePostDevice(w http.ResponseWriter, r *http.Request) {
	var ds governor.DeviceState
	if err := json.NewDecoder(r.Body).Decode(&ds); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid device state body", "")
		return
	}
	s.engine.UpdateDeviceState(ds)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.UpdateModels(r.Context())
	if err != nil {
		reason := engine.ReasonOf(err)
		s.writeError(w, statusForReason(reason), err.Error(), string(reason))
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.RunPrefetchCycle(r.Context())
	if err != nil {
		reason := engine.ReasonOf(err)
		s.writeError(w, statusForReason(reason), err.Error(), string(reason))
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}
