package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/auth"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
)

// past tense for response messages
var actionDone = map[data.ActionType]string{
	data.ActionAcknowledge: "acknowledged",
	data.ActionResolve:     "resolved",
	data.ActionDismiss:     "dismissed",
	data.ActionEscalate:    "escalated",
}

func (h *Handler) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, page, err := paging(r, defaultPageSize, maxPageSize)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	list, total, err := h.alerts.List(r.Context(), data.AlertFilter{
		Owner:  auth.IdentityFromContext(r.Context()),
		Status: data.AlertStatus(q.Get("status")),
		Type:   data.AlertType(q.Get("type")),
		NodeID: q.Get("nodeId"),
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	summaries := make([]data.AlertSummary, 0, len(list))
	for _, a := range list {
		summaries = append(summaries, a.Summary())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": summaries,
		"pagination": map[string]int{
			"page":  page,
			"limit": limit,
			"total": total,
			"pages": pages(total, limit),
		},
	})
}

func (h *Handler) HandleUnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.alerts.UnreadCount(r.Context(), auth.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unreadCount": n})
}

// HandleGetAlert returns the full alert with its audit trail and
// notification records.
func (h *Handler) HandleGetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.alerts.Get(r.Context(), chi.URLParam(r, "alertId"), auth.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type actionRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) HandleAlertAction(w http.ResponseWriter, r *http.Request) {
	action := data.ActionType(chi.URLParam(r, "action"))
	done, ok := actionDone[action]
	if !ok {
		h.fail(w, r, validationf("unknown action %q", action))
		return
	}
	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if len(req.Notes) > 500 {
		h.fail(w, r, validationf("notes must be at most 500 characters"))
		return
	}
	a, err := h.alerts.Apply(r.Context(), chi.URLParam(r, "alertId"), action, auth.IdentityFromContext(r.Context()), req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Alert " + done + " successfully",
		"alert":   a.Summary(),
	})
}

func (h *Handler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.alerts.MarkAllRead(r.Context(), auth.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "All alerts marked as read",
		"updatedCount": n,
	})
}
