package queue

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/cs350892/market-server/internal/common"
)

// Inspector is the subset of *asynq.Inspector used by the admin endpoints.
type Inspector interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	RunTask(queue, id string) error
	DeleteTask(queue, id string) error
}

// AdminHandler exposes queue stats and dead-letter (archived task) management.
type AdminHandler struct {
	Inspector Inspector
	PageSize  int
	Logger    zerolog.Logger
}

type queueStats struct {
	Queue     string `json:"queue"`
	Size      int    `json:"size"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Processed int    `json:"processedToday"`
	Failed    int    `json:"failedToday"`
	Paused    bool   `json:"paused"`
}

type archivedTask struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Payload      string     `json:"payload"`
	Retried      int        `json:"retried"`
	MaxRetry     int        `json:"maxRetry"`
	LastError    string     `json:"lastError,omitempty"`
	LastFailedAt *time.Time `json:"lastFailedAt,omitempty"`
}

// Stats returns per-queue counters and refreshes the queue_depth gauge.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	names, err := h.Inspector.Queues()
	if err != nil {
		h.internal(w, "queue_list_failed", err)
		return
	}
	out := make([]queueStats, 0, len(names))
	for _, name := range names {
		info, err := h.Inspector.GetQueueInfo(name)
		if errors.Is(err, asynq.ErrQueueNotFound) {
			continue
		}
		if err != nil {
			h.internal(w, "queue_info_failed", err)
			return
		}
		recordDepth(info)
		out = append(out, queueStats{
			Queue:     info.Queue,
			Size:      info.Size,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
			Processed: info.Processed,
			Failed:    info.Failed,
			Paused:    info.Paused,
		})
	}
	common.Data(w, http.StatusOK, out)
}

// ListArchived pages through tasks that exhausted their retries.
func (h *AdminHandler) ListArchived(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	queue := strings.TrimSpace(chi.URLParam(r, "queue"))
	page, perPage := common.ParsePagination(r, h.pageSize())
	tasks, err := h.Inspector.ListArchivedTasks(queue, asynq.Page(page), asynq.PageSize(perPage))
	if errors.Is(err, asynq.ErrQueueNotFound) {
		common.WriteError(w, common.NotFound("queue not found", err))
		return
	}
	if err != nil {
		h.internal(w, "queue_archived_list_failed", err)
		return
	}
	items := make([]archivedTask, 0, len(tasks))
	for _, t := range tasks {
		item := archivedTask{
			ID:        t.ID,
			Type:      t.Type,
			Payload:   string(t.Payload),
			Retried:   t.Retried,
			MaxRetry:  t.MaxRetry,
			LastError: t.LastErr,
		}
		if !t.LastFailedAt.IsZero() {
			at := t.LastFailedAt.UTC()
			item.LastFailedAt = &at
		}
		items = append(items, item)
	}
	total := len(items)
	if info, err := h.Inspector.GetQueueInfo(queue); err == nil {
		total = info.Archived
	}
	common.Page(w, items, common.Pagination{Page: page, PerPage: perPage, TotalItems: total})
}

// Retry moves an archived task back to pending.
func (h *AdminHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.taskAction(w, r, "retried", func(i Inspector, q, id string) error { return i.RunTask(q, id) })
}

// Discard deletes an archived task for good.
func (h *AdminHandler) Discard(w http.ResponseWriter, r *http.Request) {
	h.taskAction(w, r, "deleted", func(i Inspector, q, id string) error { return i.DeleteTask(q, id) })
}

func (h *AdminHandler) taskAction(w http.ResponseWriter, r *http.Request, verb string, fn func(i Inspector, queue, id string) error) {
	if !h.ready(w) {
		return
	}
	queue := strings.TrimSpace(chi.URLParam(r, "queue"))
	id := strings.TrimSpace(chi.URLParam(r, "taskId"))
	if id == "" {
		common.WriteError(w, common.InvalidInput("task id is required", nil))
		return
	}
	err := fn(h.Inspector, queue, id)
	switch {
	case errors.Is(err, asynq.ErrQueueNotFound), errors.Is(err, asynq.ErrTaskNotFound):
		common.WriteError(w, common.NotFound("task not found", err))
		return
	case err != nil:
		h.internal(w, "queue_task_action_failed", err)
		return
	}
	h.Logger.Info().Str("queue", queue).Str("task_id", id).Str("action", verb).Msg("queue_task_admin")
	common.Data(w, http.StatusOK, map[string]string{"id": id, "status": verb})
}

func (h *AdminHandler) ready(w http.ResponseWriter) bool {
	if h == nil || h.Inspector == nil {
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeInternal, "queue inspector unavailable", nil)
		return false
	}
	return true
}

func (h *AdminHandler) internal(w http.ResponseWriter, msg string, err error) {
	h.Logger.Error().Err(err).Msg(msg)
	common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "queue backend error", nil)
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize > 0 {
		return h.PageSize
	}
	return 20
}
