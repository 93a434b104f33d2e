package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"tracehub/internal/domain"
	"tracehub/internal/hub"
)

// Sink receives decoded operations from ingest interfaces.
// Params: context and decoded inputs.
// Returns: stored result or validation/processing error.
type Sink interface {
	Ingest(ctx context.Context, input domain.OperationInput) (hub.IngestResult, error)
	IngestBatch(ctx context.Context, inputs []domain.OperationInput) []hub.BatchItem
}

// Response statuses written in ingest bodies.
const (
	StatusRecorded = "recorded"
	StatusRejected = "rejected"
	StatusInvalid  = "invalid"
	StatusFailed   = "failed"
	StatusBatch    = "batch"
)

// RecordedResponse is the 201 body for a single stored operation.
type RecordedResponse struct {
	Status     string             `json:"status"`
	Operation  domain.Operation   `json:"operation"`
	Statistics domain.GlobalStats `json:"statistics"`
	Alerts     []domain.Alert     `json:"alerts"`
}

// ErrorResponse is the body for rejected, malformed or failed requests.
type ErrorResponse struct {
	Status     string             `json:"status"`
	Error      string             `json:"error"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

// BatchEntry is one per-item outcome inside a batch response.
type BatchEntry struct {
	Index      int                `json:"index"`
	Status     string             `json:"status"`
	Operation  *domain.Operation  `json:"operation,omitempty"`
	Error      string             `json:"error,omitempty"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

// BatchResponse is the 200 body for array submissions.
type BatchResponse struct {
	Status     string              `json:"status"`
	Accepted   int                 `json:"accepted"`
	Rejected   int                 `json:"rejected"`
	Statistics *domain.GlobalStats `json:"statistics,omitempty"`
	Results    []BatchEntry        `json:"results"`
}

// HTTPHandler decodes JSON operations and forwards them to sink.
// Params: sink receives decoded inputs, max body limits payload size.
// Returns: HTTP handler for the ingestion endpoint.
type HTTPHandler struct {
	sink        Sink
	maxBodySize int64
	logger      *slog.Logger
}

// NewHTTPHandler creates ingest HTTP handler.
// Params: sink, max request body size in bytes and optional logger.
// Returns: configured handler.
func NewHTTPHandler(sink Sink, maxBodySize int64, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HTTPHandler{sink: sink, maxBodySize: maxBodySize, logger: logger}
}

// ServeHTTP handles one ingestion request.
// Params: HTTP request/response writer pair.
// Returns: writes status code and body according to decode/ingest result.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.Header().Set("Allow", http.MethodPost)
		writeJSON(writer, http.StatusMethodNotAllowed, ErrorResponse{Status: StatusInvalid, Error: "method not allowed"})
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(writer, http.StatusRequestEntityTooLarge, ErrorResponse{Status: StatusInvalid, Error: "request body too large"})
			return
		}
		writeJSON(writer, http.StatusBadRequest, ErrorResponse{Status: StatusInvalid, Error: err.Error()})
		return
	}

	inputs, batch, err := decodePayload(body)
	if err != nil {
		writeJSON(writer, http.StatusBadRequest, ErrorResponse{Status: StatusInvalid, Error: err.Error()})
		return
	}
	applyProvenance(inputs, request.Header.Get)

	if batch {
		h.serveBatch(request.Context(), writer, inputs)
		return
	}

	result, err := h.sink.Ingest(request.Context(), inputs[0])
	if err != nil {
		status, response := errorResponse(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("ingest failed", "operation_number", inputs[0].OperationNumber, "error", err.Error())
		}
		writeJSON(writer, status, response)
		return
	}
	alerts := result.Alerts
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	writeJSON(writer, http.StatusCreated, RecordedResponse{
		Status:     StatusRecorded,
		Operation:  result.Operation,
		Statistics: result.Statistics,
		Alerts:     alerts,
	})
}

// serveBatch ingests an array item by item and reports per-item outcomes.
// Params: request context, writer and decoded inputs.
// Returns: writes 200 with a BatchResponse.
func (h *HTTPHandler) serveBatch(ctx context.Context, writer http.ResponseWriter, inputs []domain.OperationInput) {
	items := h.sink.IngestBatch(ctx, inputs)
	response := BatchResponse{Status: StatusBatch, Results: make([]BatchEntry, 0, len(items))}
	for _, item := range items {
		entry := BatchEntry{Index: item.Index}
		if item.Err != nil {
			_, failure := errorResponse(item.Err)
			entry.Status = failure.Status
			entry.Error = failure.Error
			entry.Violations = failure.Violations
			response.Rejected++
		} else {
			op := item.Result.Operation
			stats := item.Result.Statistics
			entry.Status = StatusRecorded
			entry.Operation = &op
			response.Statistics = &stats
			response.Accepted++
		}
		response.Results = append(response.Results, entry)
	}
	if response.Rejected > 0 {
		h.logger.Warn("batch ingest partially rejected", "accepted", response.Accepted, "rejected", response.Rejected)
	}
	writeJSON(writer, http.StatusOK, response)
}

// errorResponse maps an ingest error to HTTP status and body.
// Params: error returned by the sink.
// Returns: status code and response body.
func errorResponse(err error) (int, ErrorResponse) {
	if validation, ok := domain.AsValidation(err); ok {
		return http.StatusBadRequest, ErrorResponse{Status: StatusRejected, Error: validation.Error(), Violations: validation.Violations}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, ErrorResponse{Status: StatusFailed, Error: err.Error()}
	}
	return http.StatusInternalServerError, ErrorResponse{Status: StatusFailed, Error: err.Error()}
}

// writeJSON writes one JSON body with status.
// Params: writer, status code and value.
// Returns: nothing.
func writeJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(value)
}
