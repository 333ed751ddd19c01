package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/quill/printhold/internal/api/middleware"
	"github.com/quill/printhold/internal/auth"
	"github.com/quill/printhold/internal/db"
)

// AuditHandler exposes the audit trail and the archive index to admins.
type AuditHandler struct{}

func NewAuditHandler() *AuditHandler {
	return &AuditHandler{}
}

func (h *AuditHandler) ListAudit(c *gin.Context) {
	limit, offset := pagination(c)
	logs, err := db.Audit.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs, "total": len(logs)})
}

func (h *AuditHandler) ListArchives(c *gin.Context) {
	limit, offset := pagination(c)
	archives, err := db.Archive.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list archived jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"archives": archives, "total": len(archives)})
}

func pagination(c *gin.Context) (limit, offset int) {
	limit = 100
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func (h *AuditHandler) RegisterRoutes(r *gin.RouterGroup, gate *auth.Gate) {
	admin := r.Group("", middleware.RequireAdmin(gate))
	admin.GET("/audit", h.ListAudit)
	admin.GET("/archives", h.ListArchives)
}
