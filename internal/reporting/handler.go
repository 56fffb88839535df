package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/audit"
	"coldchain-cloud/internal/observability/metrics"
)

// HistorySource reads the alert history window to export.
type HistorySource interface {
	ListHistory(ctx context.Context, orgID string, from, to time.Time) ([]alerts.ActiveAlert, error)
}

// Handler serves alert history exports.
type Handler struct {
	source      HistorySource
	orgID       string
	orgName     string
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(source HistorySource, orgID, orgName string, auditLogger audit.Logger) (*Handler, error) {
	if source == nil {
		return nil, errors.New("reporting handler: nil source")
	}
	return &Handler{source: source, orgID: orgID, orgName: orgName, auditLogger: auditLogger}, nil
}

// ServeHTTP routes export endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch r.URL.Path {
	case "/api/v1/alerts/history/export.xlsx":
		h.handleExport(w, r, "xlsx")
	case "/api/v1/alerts/history/export.pdf":
		h.handleExport(w, r, "pdf")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, format string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport(format, result, time.Since(start))
	}()

	from, to, err := parseWindow(r)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	records, err := h.source.ListHistory(r.Context(), h.orgID, from, to)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "query history error", http.StatusInternalServerError)
		return
	}
	export := HistoryExport{OrgName: h.orgName, From: from, To: to, Alerts: records}

	var data []byte
	var contentType string
	switch format {
	case "xlsx":
		data, err = BuildHistoryXLSX(export)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		data, err = BuildHistoryPDF(export)
		contentType = "application/pdf"
	}
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "export "+format+" error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, format, from, to)
}

func (h *Handler) logAudit(r *http.Request, format string, from, to time.Time) {
	if h.auditLogger == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"format": format,
		"from":   from.Format(time.RFC3339),
		"to":     to.Format(time.RFC3339),
	})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		OrgID:        h.orgID,
		Action:       "alert_history.export",
		ResourceType: "alert_history",
		Metadata:     meta,
		IP:           r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	})
}

func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	return from, to, nil
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
