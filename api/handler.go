package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"patreonviewer/config"
	"patreonviewer/embedconf"
	"patreonviewer/task"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidURL      = "Invalid URL. Provide a Patreon post, collection, or creator URL."
	msgJobActive       = "A download is already in progress."
	msgNoActiveJob     = "No active download to abort."
	msgInvalidSettings = "Invalid settings object."
)

type Handler struct {
	jobs *task.Manager
	cfg  *config.Config
}

func NewHandler(jobs *task.Manager, cfg *config.Config) *Handler {
	return &Handler{
		jobs: jobs,
		cfg:  cfg,
	}
}

type StartRequest struct {
	URL string `json:"url" binding:"required"`
}

// handleStart accepts a new download job.
func (h *Handler) handleStart(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidURL})
		return
	}

	id, err := h.jobs.Accept(req.URL)
	switch {
	case errors.Is(err, task.ErrInvalidURL):
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidURL})
		return
	case errors.Is(err, task.ErrJobActive):
		c.JSON(http.StatusConflict, gin.H{"error": msgJobActive})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start download", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "id": id})
}

// handleAbort cancels the running job.
func (h *Handler) handleAbort(c *gin.Context) {
	if err := h.jobs.Abort(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoActiveJob})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleState returns the job snapshot for polling clients.
func (h *Handler) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, h.jobs.Snapshot())
}

func (h *Handler) handleGetSettings(c *gin.Context) {
	settings, err := embedconf.Load(h.cfg.DataDir)
	if err != nil {
		log.Printf("Failed to read settings: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read settings"})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// handleSaveSettings replaces embed.conf with the posted settings object.
func (h *Handler) handleSaveSettings(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidSettings})
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidSettings})
		return
	}

	settings := embedconf.Defaults()
	if err := json.Unmarshal(body, &settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidSettings, "details": err.Error()})
		return
	}

	if err := embedconf.Validate(settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidSettings, "details": err.Error()})
		return
	}

	if err := embedconf.Save(h.cfg.DataDir, settings); err != nil {
		log.Printf("Failed to save settings: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
