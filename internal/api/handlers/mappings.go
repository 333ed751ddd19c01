package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/quill/printhold/internal/api/middleware"
	"github.com/quill/printhold/internal/auth"
	"github.com/quill/printhold/internal/db"
)

type DeviceMappingRequest struct {
	RawSubmitter string `json:"raw_submitter" binding:"required"`
	Account      string `json:"account" binding:"required"`
	AutoMatch    *bool  `json:"auto_match"`
}

type EmailMappingRequest struct {
	Email   string `json:"email" binding:"required"`
	Account string `json:"account" binding:"required"`
}

// MappingHandler manages the device and email mapping tables the
// resolver and mail ingestor consult. Admin-only. Removing a device
// mapping only stops future resolution; jobs already owned through it
// keep their owner.
type MappingHandler struct{}

func NewMappingHandler() *MappingHandler {
	return &MappingHandler{}
}

func (h *MappingHandler) ListDevices(c *gin.Context) {
	mappings, err := db.Mappings.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list device mappings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mappings": mappings, "total": len(mappings)})
}

func (h *MappingHandler) UpsertDevice(c *gin.Context) {
	var req DeviceMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "raw_submitter and account are required"})
		return
	}
	autoMatch := true
	if req.AutoMatch != nil {
		autoMatch = *req.AutoMatch
	}
	if err := db.Mappings.Upsert(c.Request.Context(), req.RawSubmitter, req.Account, autoMatch); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save device mapping"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

func (h *MappingHandler) DeleteDevice(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mapping id"})
		return
	}
	if err := db.Mappings.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete device mapping"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *MappingHandler) ListEmails(c *gin.Context) {
	mappings, err := db.Emails.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list email mappings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mappings": mappings, "total": len(mappings)})
}

func (h *MappingHandler) UpsertEmail(c *gin.Context) {
	var req EmailMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and account are required"})
		return
	}
	if err := db.Emails.Upsert(c.Request.Context(), req.Email, req.Account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save email mapping"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

func (h *MappingHandler) DeleteEmail(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mapping id"})
		return
	}
	if err := db.Emails.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete email mapping"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *MappingHandler) RegisterRoutes(r *gin.RouterGroup, gate *auth.Gate) {
	admin := r.Group("", middleware.RequireAdmin(gate))
	admin.GET("/devices", h.ListDevices)
	admin.POST("/devices", h.UpsertDevice)
	admin.DELETE("/devices/:id", h.DeleteDevice)
	admin.GET("/emails", h.ListEmails)
	admin.POST("/emails", h.UpsertEmail)
	admin.DELETE("/emails/:id", h.DeleteEmail)
}
