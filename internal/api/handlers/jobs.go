package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/quill/printhold/internal/api/middleware"
	"github.com/quill/printhold/internal/auth"
	"github.com/quill/printhold/internal/core"
	"github.com/quill/printhold/internal/db"
	"github.com/quill/printhold/internal/spooler"
)

type ClaimRequest struct {
	Username string `json:"username"`
}

// JobHandler exposes the job listings and the guarded control
// operations. Every mutation goes through the gate first; the handler
// itself never decides authority.
type JobHandler struct {
	ledger     *core.Ledger
	gate       *auth.Gate
	adapter    spooler.Adapter
	status     spooler.StatusSource
	reconciler *core.Reconciler
	events     core.Notifier
}

func NewJobHandler(ledger *core.Ledger, gate *auth.Gate, adapter spooler.Adapter, status spooler.StatusSource, reconciler *core.Reconciler, events core.Notifier) *JobHandler {
	return &JobHandler{
		ledger:     ledger,
		gate:       gate,
		adapter:    adapter,
		status:     status,
		reconciler: reconciler,
		events:     events,
	}
}

func (h *JobHandler) Health(c *gin.Context) {
	status := "healthy"
	if !h.reconciler.Healthy() {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"service": "printhold",
	})
}

// ListJobs returns the principal's own jobs. Admins see everything and
// may narrow with ?owner=; kiosks see every live job. A key without an
// owner account sees nothing.
func (h *JobHandler) ListJobs(c *gin.Context) {
	p := middleware.Principal(c)
	if !canRead(p) {
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
		return
	}
	ctx := c.Request.Context()

	var jobs []*db.Job
	var err error
	switch {
	case h.gate.IsAdmin(p):
		if owner := c.Query("owner"); owner != "" {
			jobs, err = h.ledger.ListForOwner(ctx, owner)
		} else {
			jobs, err = h.ledger.ListAll(ctx)
		}
	case p.Kind == auth.KindKiosk:
		jobs, err = h.ledger.ListAll(ctx)
	case p.Account != "":
		jobs, err = h.ledger.ListForOwner(ctx, p.Account)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": len(jobs)})
}

func (h *JobHandler) ListUnclaimed(c *gin.Context) {
	if !canRead(middleware.Principal(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
		return
	}
	jobs, err := h.ledger.ListUnclaimed(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list unclaimed jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": len(jobs)})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	if !h.gate.CanView(middleware.Principal(c), job) {
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) HoldJob(c *gin.Context) {
	h.controlJob(c, auth.OpHold)
}

func (h *JobHandler) ReleaseJob(c *gin.Context) {
	h.controlJob(c, auth.OpRelease)
}

func (h *JobHandler) CancelJob(c *gin.Context) {
	h.controlJob(c, auth.OpCancel)
}

func (h *JobHandler) controlJob(c *gin.Context, op auth.Operation) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	p := middleware.Principal(c)
	ctx := c.Request.Context()

	if err := h.gate.Authorize(p, job, op); err != nil {
		h.audit(c, string(op)+"_denied", job.JobID, p)
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
		return
	}

	var err error
	switch op {
	case auth.OpHold:
		err = h.adapter.Hold(ctx, job.JobID)
	case auth.OpRelease:
		err = h.adapter.Release(ctx, job.JobID)
	case auth.OpCancel:
		err = h.adapter.Cancel(ctx, job.JobID)
	}

	switch {
	case err == nil:
	case errors.Is(err, spooler.ErrJobNotFound):
		// The job left the spooler before we acted. Already resolved;
		// the next reconciliation pass retires the ledger entry.
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "job already finished"})
		return
	case errors.Is(err, spooler.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "spooler unavailable"})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "spooler operation failed"})
		return
	}

	switch op {
	case auth.OpHold:
		h.ledger.SetSpoolerState(ctx, job.JobID, db.SpoolHeld)
	case auth.OpRelease:
		h.ledger.SetSpoolerState(ctx, job.JobID, db.SpoolPending)
		if h.events != nil {
			h.events.JobEvent(core.EventJobReleased, job)
		}
	case auth.OpCancel:
		h.ledger.MarkTerminal(ctx, job.JobID, db.SpoolCanceled)
	}

	h.audit(c, string(op), job.JobID, p)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ClaimJob asserts ownership over an unclaimed job. Admins may claim on
// behalf of another user via the request body; everyone else claims as
// themselves.
func (h *JobHandler) ClaimJob(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	p := middleware.Principal(c)

	if err := h.gate.Authorize(p, job, auth.OpClaim); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
		return
	}

	claimant := p.Account
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.Username != "" {
		if !h.gate.IsAdmin(p) {
			c.JSON(http.StatusForbidden, gin.H{"error": "only admins may claim for another user"})
			return
		}
		claimant = req.Username
	}
	if claimant == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no account to claim as"})
		return
	}

	err := h.ledger.Claim(c.Request.Context(), job.JobID, claimant)
	switch {
	case err == nil:
		h.audit(c, "claim", job.JobID, p)
		c.JSON(http.StatusOK, gin.H{"success": true, "owner": claimant})
	case errors.Is(err, core.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "job already claimed"})
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to claim job"})
	}
}

func (h *JobHandler) PrinterStatus(c *gin.Context) {
	status, err := h.status.PrinterStatus(c.Request.Context())
	if err != nil {
		if errors.Is(err, spooler.ErrUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "spooler unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get printer status"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *JobHandler) loadJob(c *gin.Context) (*db.Job, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return nil, false
	}
	job, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return nil, false
	}
	return job, true
}

func (h *JobHandler) audit(c *gin.Context, action string, jobID int64, p *auth.Principal) {
	details, _ := json.Marshal(gin.H{"principal_kind": p.Kind})
	db.Audit.Record(c.Request.Context(), &db.AuditLog{
		Action:      action,
		EntityType:  "job",
		EntityID:    jobID,
		Actor:       p.Account,
		DetailsJSON: string(details),
		IPAddress:   c.ClientIP(),
	})
}

// canRead mirrors the read scope check for routes kiosks may also use.
// Kiosks carry no scopes; their listing access is part of the walk-up
// surface.
func canRead(p *auth.Principal) bool {
	return p.Kind == auth.KindKiosk || p.HasScope(auth.ScopeRead)
}

func (h *JobHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/unclaimed", h.ListUnclaimed)
	r.GET("/jobs/:id", h.GetJob)
	r.POST("/jobs/:id/hold", h.HoldJob)
	r.POST("/jobs/:id/release", h.ReleaseJob)
	r.POST("/jobs/:id/cancel", h.CancelJob)
	r.POST("/jobs/:id/claim", h.ClaimJob)
	r.GET("/printer/status", h.PrinterStatus)
}
