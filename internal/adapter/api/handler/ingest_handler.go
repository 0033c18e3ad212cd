package handler

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/draw-your-dream/logflare/internal/ingestion"
)

// IngestHandler accepts raw log parameters for one source, identified by
// its token in the request path, and hands them to the Ingestion Pipeline
// (C6) after lazily resolving (and if needed starting) that source's
// runtime.
type IngestHandler struct {
	pipeline     *ingestion.Pipeline
	resolver     ingestion.RuntimeResolver
	logger       *slog.Logger
	maxEventSize int64
}

// NewIngestHandler creates an IngestHandler.
func NewIngestHandler(pipeline *ingestion.Pipeline, resolver ingestion.RuntimeResolver, logger *slog.Logger, maxEventSize int64) *IngestHandler {
	return &IngestHandler{pipeline: pipeline, resolver: resolver, logger: logger, maxEventSize: maxEventSize}
}

// ServeHTTP handles POST /sources/{token}/ingest. Accepts a single JSON
// object, a JSON array of objects, or application/x-ndjson, one event per
// line.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" {
		http.Error(w, "source token is required", http.StatusBadRequest)
		return
	}

	runtime, err := h.resolver.Resolve(r.Context(), token)
	if err != nil {
		h.logger.Warn("failed to resolve source", "source_token", token, "error", err)
		http.Error(w, "unknown source", http.StatusNotFound)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxEventSize)

	var raw []map[string]any
	switch r.Header.Get("Content-Type") {
	case "application/x-ndjson":
		raw, err = readNDJSON(r.Body, h.logger)
	default:
		raw, err = readSingleOrArrayJSON(r.Body)
	}

	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.Error("failed to parse ingest request", "source_token", token, "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := h.pipeline.Ingest(r.Context(), raw, runtime); err != nil {
		h.logger.Error("pipeline ingest failed unexpectedly", "source_token", token, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func readSingleOrArrayJSON(body io.Reader) ([]map[string]any, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var arr []map[string]any
	if err := json.Unmarshal(data, &arr); err == nil {
		return arr, nil
	}

	var single map[string]any
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	return []map[string]any{single}, nil
}

func readNDJSON(body io.Reader, logger *slog.Logger) ([]map[string]any, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var raw []map[string]any
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			logger.Warn("failed to unmarshal ndjson line", "error", err)
			continue
		}
		raw = append(raw, m)
	}
	return raw, scanner.Err()
}
