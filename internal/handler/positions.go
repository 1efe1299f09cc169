package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"minevest/internal/repository"
	"minevest/internal/service"
)

// PositionHandler exposes the position store. POST is the hook the
// purchase flow calls; everything else is read-only.
type PositionHandler struct {
	Repo     repository.Repository
	Purchase *service.PurchaseService
	Logger   *zap.Logger
}

func (h *PositionHandler) Register(r *gin.Engine) {
	g := r.Group("/internal/positions")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
}

type createPositionRequest struct {
	Owner           string          `json:"owner" binding:"required"`
	Principal       decimal.Decimal `json:"principal"`
	Rate            decimal.Decimal `json:"rate"`
	DurationPeriods int             `json:"durationPeriods"`
}

func (h *PositionHandler) create(c *gin.Context) {
	if h.Purchase == nil {
		Error(c, http.StatusInternalServerError, "purchase service unavailable", nil)
		return
	}
	var req createPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body: "+err.Error(), nil)
		return
	}
	pos, err := h.Purchase.Purchase(c.Request.Context(), service.PurchaseInput{
		Owner:           req.Owner,
		Principal:       req.Principal,
		Rate:            req.Rate,
		DurationPeriods: req.DurationPeriods,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidTerms):
			Error(c, http.StatusBadRequest, err.Error(), nil)
		case errors.Is(err, service.ErrInsufficientFunds):
			Error(c, http.StatusUnprocessableEntity, err.Error(), nil)
		default:
			Error(c, http.StatusBadGateway, err.Error(), nil)
		}
		return
	}
	Ok(c, pos, nil)
}

func (h *PositionHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	params := repository.ListPositionsParams{
		Limit:  intQuery(c, "limit", 100),
		Offset: intQuery(c, "offset", 0),
	}
	if v := strings.TrimSpace(c.Query("owner")); v != "" {
		params.Owner = &v
	}
	if v := strings.TrimSpace(c.Query("status")); v != "" {
		params.Status = &v
	}
	items, err := h.Repo.ListPositions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountPositions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{
		"total":  total,
		"limit":  params.Limit,
		"offset": params.Offset,
	})
}

func (h *PositionHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id == 0 {
		Error(c, http.StatusBadRequest, "invalid position id", nil)
		return
	}
	pos, err := h.Repo.GetPositionByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if pos == nil {
		Error(c, http.StatusNotFound, "position not found", nil)
		return
	}
	Ok(c, pos, nil)
}
