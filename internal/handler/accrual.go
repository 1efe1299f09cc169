package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"minevest/internal/accrual"
	"minevest/internal/repository"
)

type AccrualRunner interface {
	Run(ctx context.Context, now time.Time) (accrual.RunResult, error)
}

type BalanceReconciler interface {
	Reconcile(ctx context.Context, owner string) (accrual.Report, error)
	Apply(ctx context.Context, owner string) (accrual.Report, error)
}

// AccrualHandler is the operational surface of the engine: the run
// trigger shared by cron and on-demand callers, and the reconciliation
// diagnostic.
type AccrualHandler struct {
	Runner     AccrualRunner
	Reconciler BalanceReconciler
	Repo       repository.Repository
	Logger     *zap.Logger
}

func (h *AccrualHandler) Register(r *gin.Engine) {
	g := r.Group("/internal/accrual")
	g.POST("/run", h.run)
	g.GET("/reconcile", h.reconcile)
	g.GET("/runs", h.runs)
}

type runRequest struct {
	// Now overrides the scan time, for testability.
	Now *time.Time `json:"now"`
}

func (h *AccrualHandler) run(c *gin.Context) {
	if h.Runner == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	var req runRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, "invalid body: "+err.Error(), nil)
			return
		}
	}
	now := time.Time{}
	if req.Now != nil {
		now = *req.Now
	}
	result, err := h.Runner.Run(c.Request.Context(), now)
	if err != nil {
		// Only a scan that could not start lands here.
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, result, nil)
}

func (h *AccrualHandler) reconcile(c *gin.Context) {
	if h.Reconciler == nil {
		Error(c, http.StatusInternalServerError, "reconciler unavailable", nil)
		return
	}
	owner := strings.TrimSpace(c.Query("user"))
	if owner == "" {
		Error(c, http.StatusBadRequest, "user query param required", nil)
		return
	}
	apply := strings.EqualFold(strings.TrimSpace(c.Query("apply")), "true")

	var (
		report accrual.Report
		err    error
	)
	if apply {
		report, err = h.Reconciler.Apply(c.Request.Context(), owner)
	} else {
		report, err = h.Reconciler.Reconcile(c.Request.Context(), owner)
	}
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, report, nil)
}

func (h *AccrualHandler) runs(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	items, err := h.Repo.ListAccrualRuns(c.Request.Context(), limit)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}
