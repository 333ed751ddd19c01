package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/quill/printhold/internal/api/middleware"
	"github.com/quill/printhold/internal/auth"
	"github.com/quill/printhold/internal/core"
	"github.com/quill/printhold/internal/db"
	"github.com/quill/printhold/internal/mail"
	"github.com/quill/printhold/internal/spooler"
)

// PrintHandler accepts document uploads for the web and API submission
// paths and the admin-only hand-off from the mail poller. Jobs submitted
// here arrive pre-stamped with their owner and skip identity resolution.
// A nil ingestor means mail ingestion is disabled and its route is not
// registered.
type PrintHandler struct {
	submitter *core.Submitter
	ingestor  *mail.Ingestor
}

func NewPrintHandler(submitter *core.Submitter, ingestor *mail.Ingestor) *PrintHandler {
	return &PrintHandler{submitter: submitter, ingestor: ingestor}
}

func (h *PrintHandler) SubmitJob(c *gin.Context) {
	p := middleware.Principal(c)
	if p.Kind == auth.KindKiosk {
		c.JSON(http.StatusForbidden, gin.H{"error": "kiosks cannot submit jobs"})
		return
	}
	if p.Account == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "key has no owner account to submit as"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	via := db.ViaWeb
	if p.Kind == auth.KindAPIKey {
		via = db.ViaAPI
	}

	jobID, err := h.submitter.Submit(c.Request.Context(), core.SubmitInput{
		Filename:     header.Filename,
		Data:         file,
		Owner:        p.Account,
		RawSubmitter: p.Account,
		Via:          via,
		Options:      parseOptions(c),
	})
	if err != nil {
		respondSubmitError(c, err)
		return
	}

	h.auditSubmit(c, jobID, p, via)
	c.JSON(http.StatusCreated, gin.H{"success": true, "job_id": jobID})
}

// IngestEmail receives one decoded attachment from the mail poller. Only
// admin credentials (the poller runs with an admin key) may call it.
func (h *PrintHandler) IngestEmail(c *gin.Context) {
	sender := c.PostForm("sender")
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	jobID, err := h.ingestor.Ingest(c.Request.Context(), sender, header.Filename, file)
	if err != nil {
		respondSubmitError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "job_id": jobID})
}

func parseOptions(c *gin.Context) spooler.Options {
	opts := spooler.Options{Copies: 1}
	if v, err := strconv.Atoi(c.PostForm("copies")); err == nil && v > 0 {
		opts.Copies = v
	}
	opts.Duplex = c.PostForm("duplex") == "true"
	opts.Grayscale = c.PostForm("color") != "true"
	opts.PageRanges = c.PostForm("page_range")
	return opts
}

func respondSubmitError(c *gin.Context, err error) {
	if core.IsValidation(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if errors.Is(err, spooler.ErrUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "spooler unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit job"})
}

func (h *PrintHandler) auditSubmit(c *gin.Context, jobID int64, p *auth.Principal, via string) {
	db.Audit.Record(c.Request.Context(), &db.AuditLog{
		Action:      "submit",
		EntityType:  "job",
		EntityID:    jobID,
		Actor:       p.Account,
		DetailsJSON: `{"via":"` + via + `"}`,
		IPAddress:   c.ClientIP(),
	})
}

func (h *PrintHandler) RegisterRoutes(r *gin.RouterGroup, gate *auth.Gate) {
	r.POST("/print", middleware.RequireScope(auth.ScopeWrite), h.SubmitJob)
	if h.ingestor != nil {
		r.POST("/ingest/email", middleware.RequireAdmin(gate), h.IngestEmail)
	}
}
