package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"jirasync/internal/config"
	"jirasync/internal/syncer"
)

type SyncHandler struct {
	Orchestrator *syncer.Orchestrator
}

func (h *SyncHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/sync")
	g.GET("/status", h.status)
	g.POST("/run", h.run)
	g.POST("/start", h.start)
	g.POST("/stop", h.stop)
}

func (h *SyncHandler) status(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	Ok(c, h.Orchestrator.Snapshot(), nil)
}

func (h *SyncHandler) run(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	res, err := h.Orchestrator.RunOnce(c.Request.Context())
	if err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			Error(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if res.Skipped {
		Ok(c, gin.H{"skipped": true}, nil)
		return
	}
	Ok(c, res.Summary, nil)
}

type startSyncRequest struct {
	ParentListURL   string `json:"parent_list_url"`
	SubListURL      string `json:"sub_list_url"`
	IntervalMinutes int    `json:"interval_minutes"`
}

func (h *SyncHandler) start(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	var req startSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if err := h.Orchestrator.Start(c.Request.Context(), req.ParentListURL, req.SubListURL, req.IntervalMinutes); err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			Error(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, h.Orchestrator.Snapshot(), nil)
}

func (h *SyncHandler) stop(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	h.Orchestrator.Stop()
	Ok(c, h.Orchestrator.Snapshot(), nil)
}
