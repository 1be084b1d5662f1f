package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/obs"
	"github.com/cs350892/market-server/internal/repo"
)

// Store defines the database operations required for auditing.
type Store interface {
	InsertAuditLog(ctx context.Context, arg repo.InsertAuditLogParams) (pgtype.UUID, error)
	ListAuditLogs(ctx context.Context, arg repo.ListAuditLogsParams) ([]repo.AuditLog, error)
}

// Entry is what a caller knows about an audited action beyond the request itself.
type Entry struct {
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Status       int
	Metadata     map[string]any
}

// Service persists audit logs for admin mutations.
type Service struct {
	Store   Store
	Enabled bool
}

// Record stores one audit entry derived from req and e.
func (s Service) Record(ctx context.Context, req *http.Request, e Entry) error {
	if !s.Enabled {
		return nil
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := obs.RoutePatternFromContext(req.Context())
	if route == "" {
		route = strings.TrimSpace(req.URL.Path)
	}
	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}
	actor, _ := repo.ParseUUID(e.ActorID)

	_, err := s.Store.InsertAuditLog(ctx, repo.InsertAuditLogParams{
		ActorUserID:  actor,
		Action:       actionFor(e.Action, req.Method, route),
		ResourceType: resourceFor(e.ResourceType, route),
		ResourceID:   repo.Text(e.ResourceID),
		Method:       req.Method,
		Path:         req.URL.Path,
		Route:        repo.Text(route),
		Status:       int32(status),
		Ip:           repo.Text(common.ClientIP(req)),
		UserAgent:    repo.Text(req.UserAgent()),
		RequestID:    repo.Text(req.Header.Get("X-Request-ID")),
		Metadata:     metadataFor(e.Metadata, req.URL.RawQuery),
	})
	return err
}

func actionFor(action, method, route string) string {
	if a := strings.TrimSpace(action); a != "" {
		return a
	}
	if route == "" {
		route = "/"
	}
	return strings.ToUpper(method) + " " + route
}

// resourceFor derives "admin.offers.{code}" style names from /api/v1/admin/offers/{code}.
func resourceFor(resourceType, route string) string {
	if r := strings.TrimSpace(resourceType); r != "" {
		return r
	}
	route = strings.Trim(strings.TrimSpace(route), "/")
	if route == "" {
		return "unknown"
	}
	segments := strings.Split(route, "/")
	if len(segments) >= 3 && segments[0] == "api" && segments[1] == "v1" {
		segments = segments[2:]
	}
	return strings.Join(segments, ".")
}

func metadataFor(meta map[string]any, query string) []byte {
	if len(meta) == 0 && strings.TrimSpace(query) == "" {
		return nil
	}
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	if query != "" {
		out["query"] = query
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil
	}
	return data
}
