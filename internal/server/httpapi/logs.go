package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/qvault/internal/server/services"
)

type logJSON struct {
	ID         string    `json:"id"`
	User       string    `json:"user"`
	ActionType string    `json:"action_type"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail"`
	Level      string    `json:"level"`
	Timestamp  time.Time `json:"timestamp"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
}

type paginationJSON struct {
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
	Pages   int   `json:"pages"`
}

// queryInt parses an integer query parameter; anything unparsable counts
// as absent.
func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}

func (h *Handler) handleListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.audit.List(r.Context(), principal(r), services.LogFilter{
		Page:       queryInt(r, "page"),
		PerPage:    queryInt(r, "per_page"),
		Level:      q.Get("level"),
		ActionType: q.Get("action_type"),
		UserName:   q.Get("user"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	logs := make([]logJSON, 0, len(page.Logs))
	for _, l := range page.Logs {
		logs = append(logs, logJSON{
			ID:         l.ID,
			User:       l.UserName,
			ActionType: l.ActionType,
			Message:    l.Message,
			Detail:     l.Detail,
			Level:      l.Level,
			Timestamp:  l.Timestamp,
			IPAddress:  l.IPAddress,
			UserAgent:  l.UserAgent,
		})
	}

	writeJSON(w, http.StatusOK, struct {
		Success    bool           `json:"success"`
		Logs       []logJSON      `json:"logs"`
		Pagination paginationJSON `json:"pagination"`
	}{
		Success:    true,
		Logs:       logs,
		Pagination: paginationJSON{Page: page.Page, PerPage: page.PerPage, Total: page.Total, Pages: page.Pages},
	})
}

type reportRequest struct {
	ActionType string `json:"action_type" validate:"max=50"`
	Message    string `json:"message"`
	Detail     string `json:"detail"`
	Level      string `json:"level"`
}

func (h *Handler) handleReportLog(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	id, err := h.audit.Report(r.Context(), principal(r), services.ReportInput{
		ActionType: req.ActionType,
		Message:    req.Message,
		Detail:     req.Detail,
		Level:      req.Level,
	}, requestMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}{true, id})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	res, err := h.maintenance.Reset(r.Context(), principal(r), requestMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success   bool   `json:"success"`
		Message   string `json:"message"`
		Records   int64  `json:"records"`
		AuditLogs int64  `json:"audit_logs"`
	}{true, "Database reset (users kept)", res.Records, res.AuditLogs})
}
