package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"jirasync/internal/repository"
)

type TasksHandler struct {
	Repo repository.Repository
}

func (h *TasksHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/tasks")
	g.GET("", h.listSubs)
	g.GET("/parents", h.listParents)
}

func (h *TasksHandler) listSubs(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListSubTasksWithParents(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	limit := intQuery(c, "limit", 200)
	offset := intQuery(c, "offset", 0)
	total := int64(len(items))
	items = window(items, limit, offset)
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *TasksHandler) listParents(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListParentTasks(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	limit := intQuery(c, "limit", 200)
	offset := intQuery(c, "offset", 0)
	total := int64(len(items))
	items = window(items, limit, offset)
	Ok(c, items, paginationMeta(limit, offset, total))
}

func window[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func paginationMeta(limit, offset int, total int64) map[string]any {
	if limit <= 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	hasNext := int64(offset+limit) < total
	return map[string]any{
		"limit":    limit,
		"offset":   offset,
		"total":    total,
		"has_next": hasNext,
	}
}
