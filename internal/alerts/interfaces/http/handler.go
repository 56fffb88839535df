package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/audit"
	"coldchain-cloud/internal/engine"
)

const timeLayout = time.RFC3339

// AlertReader reads alert lifecycle records.
type AlertReader interface {
	ListActive(ctx context.Context, orgID string) ([]alerts.ActiveAlert, error)
	ListActiveBySite(ctx context.Context, siteID string) ([]alerts.ActiveAlert, error)
	ListHistory(ctx context.Context, orgID string, from, to time.Time) ([]alerts.ActiveAlert, error)
}

// Acknowledger records operator acknowledgements.
type Acknowledger interface {
	Acknowledge(ctx context.Context, alertID, actor string) (bool, error)
}

// StatusSource derives the unit status board.
type StatusSource interface {
	StatusBoard(ctx context.Context) ([]engine.UnitStatus, error)
}

// Handler provides alert APIs.
type Handler struct {
	reader       AlertReader
	acknowledger Acknowledger
	statuses     StatusSource
	orgID        string
	auditLogger  audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(reader AlertReader, acknowledger Acknowledger, statuses StatusSource, orgID string, auditLogger audit.Logger) (*Handler, error) {
	if reader == nil || acknowledger == nil {
		return nil, errors.New("alert handler: nil dependency")
	}
	return &Handler{
		reader:       reader,
		acknowledger: acknowledger,
		statuses:     statuses,
		orgID:        orgID,
		auditLogger:  auditLogger,
	}, nil
}

// ServeHTTP routes alert endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/alerts" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case r.URL.Path == "/api/v1/alerts/history" && r.Method == http.MethodGet:
		h.handleHistory(w, r)
	case r.URL.Path == "/api/v1/units/status" && r.Method == http.MethodGet:
		h.handleStatusBoard(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/alerts/") && strings.HasSuffix(r.URL.Path, "/ack"):
		h.handleAck(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	var (
		records []alerts.ActiveAlert
		err     error
	)
	if siteID := r.URL.Query().Get("site_id"); siteID != "" {
		records, err = h.reader.ListActiveBySite(r.Context(), siteID)
	} else {
		records, err = h.reader.ListActive(r.Context(), h.orgID)
	}
	if err != nil {
		http.Error(w, "query alerts error", http.StatusInternalServerError)
		return
	}
	sortActive(records)

	critical, warning := 0, 0
	for _, record := range records {
		switch record.Severity {
		case alerts.SeverityCritical:
			critical++
		case alerts.SeverityWarning:
			warning++
		}
	}
	resp := map[string]any{
		"alerts":         records,
		"critical_count": critical,
		"warning_count":  warning,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}
	records, err := h.reader.ListHistory(r.Context(), h.orgID, from, to)
	if err != nil {
		http.Error(w, "query history error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleStatusBoard(w http.ResponseWriter, r *http.Request) {
	if h.statuses == nil {
		http.Error(w, "status board not ready", http.StatusServiceUnavailable)
		return
	}
	board, err := h.statuses.StatusBoard(r.Context())
	if err != nil {
		http.Error(w, "status board error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *Handler) handleAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	alertID := strings.TrimSuffix(path, "/ack")
	if alertID == "" || strings.Contains(alertID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req struct {
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Actor == "" {
		http.Error(w, "actor required", http.StatusBadRequest)
		return
	}

	ctx := audit.WithActor(r.Context(), req.Actor)
	acked, err := h.acknowledger.Acknowledge(ctx, alertID, req.Actor)
	if err != nil {
		http.Error(w, "acknowledge error", http.StatusInternalServerError)
		return
	}
	if !acked {
		http.Error(w, "alert not active or already acknowledged", http.StatusConflict)
		return
	}
	h.logAck(ctx, alertID, req.Actor, r)
	writeJSON(w, http.StatusOK, map[string]any{"id": alertID, "acknowledged": true})
}

func (h *Handler) logAck(ctx context.Context, alertID, actor string, r *http.Request) {
	if h.auditLogger == nil {
		return
	}
	meta, _ := json.Marshal(map[string]string{"alert_id": alertID})
	_ = h.auditLogger.Log(ctx, audit.Entry{
		OrgID:        h.orgID,
		Actor:        actor,
		Action:       "alert.acknowledge",
		ResourceType: "alert",
		ResourceID:   alertID,
		Metadata:     meta,
		IP:           r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	})
}

func sortActive(records []alerts.ActiveAlert) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Severity.Rank() > records[j].Severity.Rank()
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
