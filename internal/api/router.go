// Package api serves the query API, the ingestion endpoint and the probe routes.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tracehub/internal/analytics"
	"tracehub/internal/broker"
	"tracehub/internal/domain"
	"tracehub/internal/export"
	"tracehub/internal/hub"
	"tracehub/internal/query"
)

const (
	defaultDashboardTimeframe = 24 * time.Hour
	defaultReportPeriod       = 7 * 24 * time.Hour
	defaultTrendPeriod        = 24 * time.Hour
)

// Reader is the hub surface the query routes need.
type Reader interface {
	Operation(id string) (domain.Operation, bool)
	ListOperations(limit int, filter query.Filter) []domain.Operation
	Search(text string, limit int) []domain.Operation
	Statistics() domain.GlobalStats
	StatisticsByCountry() []domain.CountryActivity
	ActiveCorridors() []query.CorridorView
	OperationsByType() map[string]int64
	TrendDelta(period time.Duration, filter query.Filter) query.Trend
	Alerts(includeCleared bool, limit int) []domain.Alert
	ClearAlert(alertType domain.AlertType) bool
	Performance(period time.Duration) analytics.Performance
	Dashboard(timeframe time.Duration) hub.Dashboard
	SupervisionReport(period time.Duration) hub.Report
	Export() export.Bundle
}

// Prober runs an on-demand broker health check.
type Prober interface {
	Probe(ctx context.Context) broker.Health
}

// Options wires the router.
// Params: hub reader, ingestion handler, optional prober and metrics handler, route paths and readiness.
// Returns: router settings.
type Options struct {
	Reader      Reader
	Ingest      http.Handler
	Prober      Prober
	Metrics     http.Handler
	MetricsPath string
	Prefix      string
	HealthPath  string
	ReadyPath   string
	Ready       func() bool
	Logger      *slog.Logger
}

type server struct {
	reader Reader
	prober Prober
	ready  func() bool
	logger *slog.Logger
}

// NewRouter builds the HTTP handler.
// Params: options.
// Returns: mux with every route registered.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Ready == nil {
		opts.Ready = func() bool { return true }
	}
	s := &server{reader: opts.Reader, prober: opts.Prober, ready: opts.Ready, logger: opts.Logger}
	p := strings.TrimRight(opts.Prefix, "/")

	mux := http.NewServeMux()
	if opts.Ingest != nil {
		mux.Handle("POST "+p+"/operations", opts.Ingest)
	}
	mux.HandleFunc("GET "+p+"/operations", s.listOperations)
	mux.HandleFunc("GET "+p+"/operations/types", s.operationTypes)
	mux.HandleFunc("GET "+p+"/operations/{id}", s.getOperation)
	mux.HandleFunc("GET "+p+"/search", s.search)
	mux.HandleFunc("GET "+p+"/statistics", s.statistics)
	mux.HandleFunc("GET "+p+"/statistics/countries", s.countries)
	mux.HandleFunc("GET "+p+"/corridors", s.corridors)
	mux.HandleFunc("GET "+p+"/trends", s.trends)
	mux.HandleFunc("GET "+p+"/alerts", s.alerts)
	mux.HandleFunc("POST "+p+"/alerts/{type}/clear", s.clearAlert)
	mux.HandleFunc("GET "+p+"/dashboard", s.dashboard)
	mux.HandleFunc("GET "+p+"/report", s.report)
	mux.HandleFunc("GET "+p+"/export", s.export)
	mux.HandleFunc("GET "+p+"/broker/health", s.brokerHealth)
	if opts.HealthPath != "" {
		mux.HandleFunc("GET "+opts.HealthPath, s.health)
	}
	if opts.ReadyPath != "" {
		mux.HandleFunc("GET "+opts.ReadyPath, s.readiness)
	}
	if opts.Metrics != nil && opts.MetricsPath != "" {
		mux.Handle("GET "+opts.MetricsPath, opts.Metrics)
	}
	return mux
}

// filterFromQuery reads listing filters from URL parameters.
// Params: request.
// Returns: filter; type accepts a comma-separated list.
func filterFromQuery(r *http.Request) query.Filter {
	values := r.URL.Query()
	filter := query.Filter{
		OriginCountry:      strings.ToUpper(strings.TrimSpace(values.Get("origin"))),
		DestinationCountry: strings.ToUpper(strings.TrimSpace(values.Get("destination"))),
		WorkflowStage:      domain.WorkflowStage(strings.TrimSpace(values.Get("stage"))),
		Text:               strings.TrimSpace(values.Get("q")),
	}
	for _, raw := range strings.Split(values.Get("type"), ",") {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			filter.OperationTypes = append(filter.OperationTypes, trimmed)
		}
	}
	return filter
}

// intParam parses a non-negative integer parameter.
// Params: request, name and fallback for empty values.
// Returns: value and ok=false for malformed input.
func intParam(r *http.Request, name string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}

// periodParam parses a 24h/7d style parameter.
// Params: writer for the 400 response, request, name and fallback.
// Returns: duration and ok=false when a response was already written.
func periodParam(w http.ResponseWriter, r *http.Request, name string, fallback time.Duration) (time.Duration, bool) {
	period, err := query.ParsePeriod(strings.TrimSpace(r.URL.Query().Get(name)), fallback)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return period, true
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
