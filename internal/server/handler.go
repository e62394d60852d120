package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/harshithgowdakt/partdb/internal/engine"
	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/metrics"
	"github.com/harshithgowdakt/partdb/internal/parser"
)

// QueryHandler handles HTTP query requests.
type QueryHandler struct {
	exec *engine.Executor
	m    *metrics.Metrics
	log  *logrus.Entry
}

// NewQueryHandler creates a new query handler. m may be nil.
func NewQueryHandler(exec *engine.Executor, m *metrics.Metrics, log *logrus.Entry) *QueryHandler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &QueryHandler{exec: exec, m: m, log: log.WithField("component", "http")}
}

// HandleQuery processes SQL queries received via HTTP.
func (h *QueryHandler) HandleQuery(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	query := r.URL.Query().Get("query")
	if query == "" && r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		query = strings.TrimSpace(string(body))
	}
	if query == "" {
		http.Error(w, "empty query", http.StatusBadRequest)
		return
	}

	format := ParseFormat(r.URL.Query().Get("format"))
	defer h.m.Served(string(format), time.Now())

	stmt, err := parser.ParseSQL(query)
	if err != nil {
		http.Error(w, fmt.Sprintf("parse error: %v", err), http.StatusBadRequest)
		return
	}

	result, err := h.exec.Execute(r.Context(), stmt)
	if err != nil {
		h.fail(w, err)
		return
	}

	if result.Columns == nil {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, result.Message)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	if err := FormatResult(w, result, format); err != nil {
		h.log.WithError(err).Warn("writing result")
	}
}

// HandlePartitions returns the leaf partitions of a table as JSON.
func (h *QueryHandler) HandlePartitions(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	infos, err := h.exec.Partitions(r.Context(), ps.ByName("name"))
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(infos); err != nil {
		h.log.WithError(err).Warn("writing partitions")
	}
}

// HandlePing responds with "Ok." for health checks.
func (h *QueryHandler) HandlePing(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "Ok.")
}

func (h *QueryHandler) fail(w http.ResponseWriter, err error) {
	code := StatusOf(err)
	if code >= http.StatusInternalServerError {
		h.log.WithError(err).Error("statement failed")
	}
	http.Error(w, fmt.Sprintf("execution error: %v", err), code)
}

// StatusOf maps an execution error to an HTTP status code.
func StatusOf(err error) int {
	switch {
	case errkind.Is(err, errkind.ErrDefinition):
		return http.StatusBadRequest
	case errkind.Is(err, errkind.ErrTableNotFound):
		return http.StatusNotFound
	case errkind.Is(err, errkind.ErrNoMatchingPartition), errkind.Is(err, errkind.ErrOutOfRange):
		return http.StatusUnprocessableEntity
	case errkind.Is(err, errkind.ErrConcurrencyConflict), errkind.Is(err, errkind.ErrTableExists):
		return http.StatusConflict
	case errkind.Is(err, errkind.ErrTableDisabled), errkind.Is(err, errkind.ErrLogReplay):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
