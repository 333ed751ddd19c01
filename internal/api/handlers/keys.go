package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/quill/printhold/internal/api/middleware"
	"github.com/quill/printhold/internal/auth"
	"github.com/quill/printhold/internal/db"
)

type CreateKeyRequest struct {
	Name      string   `json:"name" binding:"required"`
	Owner     string   `json:"owner"`
	Scopes    []string `json:"scopes"`
	RateLimit int      `json:"rate_limit"`
}

type CreateKioskRequest struct {
	Name    string `json:"name" binding:"required"`
	BoundIP string `json:"bound_ip"`
}

// KeyHandler manages API keys and kiosk devices. All routes are
// admin-only. The raw secret appears exactly once, in the creation
// response.
type KeyHandler struct {
	keys   *auth.KeyService
	kiosks *auth.KioskService
}

func NewKeyHandler(keys *auth.KeyService, kiosks *auth.KioskService) *KeyHandler {
	return &KeyHandler{keys: keys, kiosks: kiosks}
}

func (h *KeyHandler) ListKeys(c *gin.Context) {
	keys, err := db.Keys.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list api keys"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "total": len(keys)})
}

func (h *KeyHandler) CreateKey(c *gin.Context) {
	var req CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	raw, key, err := h.keys.Issue(c.Request.Context(), req.Name, req.Owner, req.Scopes, req.RateLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.audit(c, "key_created", "api_key", key.ID)
	c.JSON(http.StatusCreated, gin.H{
		"key":     key,
		"secret":  raw,
		"warning": "store this secret now, it will not be shown again",
	})
}

func (h *KeyHandler) RevokeKey(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key id"})
		return
	}
	if err := h.keys.Revoke(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke api key"})
		return
	}
	h.audit(c, "key_revoked", "api_key", id)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *KeyHandler) ListKiosks(c *gin.Context) {
	devices, err := db.Kiosks.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list kiosk devices"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"kiosks": devices, "total": len(devices)})
}

func (h *KeyHandler) CreateKiosk(c *gin.Context) {
	var req CreateKioskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	raw, device, err := h.kiosks.Register(c.Request.Context(), req.Name, req.BoundIP)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.audit(c, "kiosk_registered", "kiosk_device", device.ID)
	c.JSON(http.StatusCreated, gin.H{
		"kiosk":   device,
		"token":   raw,
		"warning": "store this token now, it will not be shown again",
	})
}

func (h *KeyHandler) RevokeKiosk(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid kiosk id"})
		return
	}
	if err := h.kiosks.Revoke(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke kiosk device"})
		return
	}
	h.audit(c, "kiosk_revoked", "kiosk_device", id)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *KeyHandler) audit(c *gin.Context, action, entity string, id int64) {
	p := middleware.Principal(c)
	db.Audit.Record(c.Request.Context(), &db.AuditLog{
		Action:     action,
		EntityType: entity,
		EntityID:   id,
		Actor:      p.Account,
		IPAddress:  c.ClientIP(),
	})
}

func (h *KeyHandler) RegisterRoutes(r *gin.RouterGroup, gate *auth.Gate) {
	admin := r.Group("", middleware.RequireAdmin(gate))
	admin.GET("/keys", h.ListKeys)
	admin.POST("/keys", h.CreateKey)
	admin.DELETE("/keys/:id", h.RevokeKey)
	admin.GET("/kiosks", h.ListKiosks)
	admin.POST("/kiosks", h.CreateKiosk)
	admin.DELETE("/kiosks/:id", h.RevokeKiosk)
}
