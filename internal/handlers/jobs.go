package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/ledgercat/internal/catalog"
	"github.com/charlesng35/ledgercat/internal/resubmit"
	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
	"github.com/charlesng35/ledgercat/pkg/response"
)

// JobHandler triggers the background catalog jobs on demand.
type JobHandler struct {
	sync      *catalog.Synchronizer
	scheduler *resubmit.Scheduler
}

// NewJobHandler constructs a job handler. scheduler may be nil when no
// ephemeral backend is configured.
func NewJobHandler(sync *catalog.Synchronizer, scheduler *resubmit.Scheduler) *JobHandler {
	return &JobHandler{sync: sync, scheduler: scheduler}
}

// Sync runs a full registry sync and returns its counts.
//
// POST /api/sync
func (h *JobHandler) Sync(c *gin.Context) {
	if h.sync == nil {
		response.Error(c, apperrors.ErrNotFound.WithMessage("catalog sync is disabled"))
		return
	}
	result, err := h.sync.SyncNow(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"synced":      result.Synced,
		"errors":      result.Errors,
		"duration_ms": result.Duration.Milliseconds(),
	})
}

// Resubmit renews ephemeral content past its threshold.
//
// POST /api/resubmissions
func (h *JobHandler) Resubmit(c *gin.Context) {
	if h.scheduler == nil {
		response.Error(c, apperrors.ErrProviderNotImplemented.WithMessage("ephemeral storage is not configured"))
		return
	}
	result, err := h.scheduler.CheckAndResubmit(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// ResubmissionStats reports the expiry state of ephemeral content.
//
// GET /api/resubmissions/stats
func (h *JobHandler) ResubmissionStats(c *gin.Context) {
	if h.scheduler == nil {
		response.Error(c, apperrors.ErrProviderNotImplemented.WithMessage("ephemeral storage is not configured"))
		return
	}
	stats, err := h.scheduler.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}
