package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	v1 "github.com/kubev2v/qemu-backup-harness/api/v1"
	"github.com/kubev2v/qemu-backup-harness/internal/store"
	srvErrors "github.com/kubev2v/qemu-backup-harness/pkg/errors"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// GetHealth reports liveness.
// (GET /health)
func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetRuns returns the run history, newest first.
// (GET /runs)
func (h *Handler) GetRuns(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
		if limit > maxListLimit {
			limit = maxListLimit
		}
	}

	opts := []store.ListOption{store.WithLimit(uint64(limit))}
	if c.Query("failed") == "true" {
		opts = append(opts, store.WithFailuresOnly())
	}

	runs, err := h.store.Runs().List(c.Request.Context(), opts...)
	if err != nil {
		zap.S().Named("runs_handler").Errorw("failed to list runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	reports := make([]v1.RunReport, 0, len(runs))
	for _, r := range runs {
		reports = append(reports, v1.NewRunReportFromSummary(r))
	}

	c.JSON(http.StatusOK, v1.RunListResponse{
		Total: len(reports),
		Runs:  reports,
	})
}

// GetRun returns one run with its case results.
// (GET /runs/{id})
func (h *Handler) GetRun(c *gin.Context) {
	id := c.Param("id")

	run, err := h.store.Runs().Get(c.Request.Context(), id)
	if err != nil {
		if srvErrors.IsResourceNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		zap.S().Named("runs_handler").Errorw("failed to get run", "run", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get run"})
		return
	}

	c.JSON(http.StatusOK, v1.NewRunReportFromModel(run))
}
