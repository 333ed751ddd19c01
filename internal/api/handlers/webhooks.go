package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quill/printhold/internal/api/middleware"
	"github.com/quill/printhold/internal/auth"
	"github.com/quill/printhold/internal/core"
	"github.com/quill/printhold/internal/db"
)

type CreateWebhookRequest struct {
	Name   string   `json:"name" binding:"required"`
	URL    string   `json:"url" binding:"required"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

// WebhookHandler manages outbound webhook subscriptions. Admin-only.
type WebhookHandler struct{}

func NewWebhookHandler() *WebhookHandler {
	return &WebhookHandler{}
}

var knownEvents = map[string]bool{
	core.EventJobSubmitted: true,
	core.EventJobClaimed:   true,
	core.EventJobReleased:  true,
	core.EventJobCanceled:  true,
	core.EventJobExpired:   true,
	core.EventJobCompleted: true,
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	hooks, err := db.Webhooks.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list webhooks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": hooks, "total": len(hooks)})
}

func (h *WebhookHandler) CreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and url are required"})
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be http or https"})
		return
	}
	for _, ev := range req.Events {
		if !knownEvents[ev] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event: " + ev})
			return
		}
	}
	if len(req.Events) == 0 {
		for ev := range knownEvents {
			req.Events = append(req.Events, ev)
		}
	}

	eventsJSON, err := json.Marshal(req.Events)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode events"})
		return
	}

	hook := &db.Webhook{
		Name:       req.Name,
		URL:        req.URL,
		Secret:     req.Secret,
		EventsJSON: string(eventsJSON),
		Enabled:    true,
	}
	if err := db.Webhooks.Create(c.Request.Context(), hook); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create webhook"})
		return
	}

	p := middleware.Principal(c)
	db.Audit.Record(c.Request.Context(), &db.AuditLog{
		Action:     "webhook_created",
		EntityType: "webhook",
		EntityID:   hook.ID,
		Actor:      p.Account,
		IPAddress:  c.ClientIP(),
	})
	c.JSON(http.StatusCreated, hook)
}

func (h *WebhookHandler) DeleteWebhook(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook id"})
		return
	}
	if err := db.Webhooks.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete webhook"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup, gate *auth.Gate) {
	admin := r.Group("", middleware.RequireAdmin(gate))
	admin.GET("/webhooks", h.ListWebhooks)
	admin.POST("/webhooks", h.CreateWebhook)
	admin.DELETE("/webhooks/:id", h.DeleteWebhook)
}
