package audit

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/repo"
)

// Handler exposes the audit trail to administrators.
type Handler struct {
	Store Store
	Log   zerolog.Logger
}

// LogView is the API representation of one audit entry.
type LogView struct {
	ID           string          `json:"id"`
	ActorUserID  string          `json:"actorUserId,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Status       int32           `json:"status"`
	IP           string          `json:"ip,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	OccurredAt   time.Time       `json:"occurredAt"`
}

// List returns audit entries newest first, optionally filtered by ?resource=.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeInternal, "audit store not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 50)
	rows, err := h.Store.ListAuditLogs(r.Context(), repo.ListAuditLogsParams{
		ResourceType: strings.TrimSpace(r.URL.Query().Get("resource")),
		Limit:        int32(perPage),
		Offset:       common.Offset(page, perPage),
	})
	if err != nil {
		h.Log.Error().Err(err).Msg("audit_list_failed")
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "unable to fetch audit logs", nil)
		return
	}
	out := make([]LogView, 0, len(rows))
	for _, row := range rows {
		out = append(out, LogView{
			ID:           repo.UUIDString(row.ID),
			ActorUserID:  repo.UUIDString(row.ActorUserID),
			Action:       row.Action,
			ResourceType: row.ResourceType,
			ResourceID:   row.ResourceID.String,
			Method:       row.Method,
			Path:         row.Path,
			Status:       row.Status,
			IP:           row.Ip.String,
			RequestID:    row.RequestID.String,
			Metadata:     json.RawMessage(row.Metadata),
			OccurredAt:   row.OccurredAt.Time,
		})
	}
	common.Data(w, http.StatusOK, out)
}
