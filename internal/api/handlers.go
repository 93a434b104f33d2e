package api

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"tracehub/internal/domain"
	"tracehub/internal/export"
)

type listResponse struct {
	Count      int                `json:"count"`
	Operations []domain.Operation `json:"operations"`
}

func (s *server) listOperations(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	ops := s.reader.ListOperations(limit, filterFromQuery(r))
	writeJSON(w, http.StatusOK, listResponse{Count: len(ops), Operations: ops})
}

func (s *server) operationTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reader.OperationsByType())
}

func (s *server) getOperation(w http.ResponseWriter, r *http.Request) {
	op, ok := s.reader.Operation(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (s *server) search(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	text := r.URL.Query().Get("q")
	if text == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	ops := s.reader.Search(text, limit)
	writeJSON(w, http.StatusOK, listResponse{Count: len(ops), Operations: ops})
}

func (s *server) statistics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reader.Statistics())
}

func (s *server) countries(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reader.StatisticsByCountry())
}

func (s *server) corridors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reader.ActiveCorridors())
}

func (s *server) trends(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r, "period", defaultTrendPeriod)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.reader.TrendDelta(period, filterFromQuery(r)))
}

type alertsResponse struct {
	Count  int            `json:"count"`
	Alerts []domain.Alert `json:"alerts"`
}

func (s *server) alerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	includeCleared, _ := strconv.ParseBool(r.URL.Query().Get("include_cleared"))
	list := s.reader.Alerts(includeCleared, limit)
	writeJSON(w, http.StatusOK, alertsResponse{Count: len(list), Alerts: list})
}

func (s *server) clearAlert(w http.ResponseWriter, r *http.Request) {
	alertType := domain.AlertType(r.PathValue("type"))
	if !s.reader.ClearAlert(alertType) {
		writeError(w, http.StatusNotFound, "no active alert of type "+string(alertType))
		return
	}
	s.logger.Info("alert cleared", "alert_type", string(alertType))
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "type": string(alertType)})
}

func (s *server) dashboard(w http.ResponseWriter, r *http.Request) {
	timeframe, ok := periodParam(w, r, "timeframe", defaultDashboardTimeframe)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.reader.Dashboard(timeframe))
}

func (s *server) report(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r, "period", defaultReportPeriod)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.reader.SupervisionReport(period))
}

// export streams the bundle as an attachment.
// Params: format query parameter (csv or json).
// Returns: 400 for unknown formats.
func (s *server) export(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bundle := s.reader.Export()
	var body bytes.Buffer
	if err := export.Write(&body, format, bundle); err != nil {
		s.logger.Error("export failed", "format", string(format), "error", err.Error())
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+format.FileName(bundle.ExportedAt)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body.Bytes())
}

func (s *server) brokerHealth(w http.ResponseWriter, r *http.Request) {
	if s.prober == nil {
		writeError(w, http.StatusNotFound, "broker probing is disabled")
		return
	}
	health := s.prober.Probe(r.Context())
	status := http.StatusOK
	if !health.Accessible {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, health)
}

type healthBody struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthBody{Status: "ok", Time: time.Now().UTC()})
}

func (s *server) readiness(w http.ResponseWriter, _ *http.Request) {
	if !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, healthBody{Status: "starting", Time: time.Now().UTC()})
		return
	}
	writeJSON(w, http.StatusOK, healthBody{Status: "ready", Time: time.Now().UTC()})
}
