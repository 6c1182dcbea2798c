package api

import (
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultKeepAlive = 15 * time.Second

// handleProgress streams job events. The first event is always the state
// snapshot; a comment line keeps idle connections open.
func (h *Handler) handleProgress(c *gin.Context) {
	sub, err := h.jobs.Subscribe()
	if err != nil {
		log.Printf("Failed to subscribe to job events: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read job state"})
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	interval := h.cfg.SSEKeepAlive
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Ready():
			for _, ev := range sub.Drain() {
				c.SSEvent(ev.Name, string(ev.Data))
			}
			c.Writer.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(c.Writer, ": keepalive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
