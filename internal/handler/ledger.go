package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"minevest/internal/models"
	"minevest/internal/repository"
	"minevest/internal/service"
)

// LedgerHandler exposes the append-only ledger and the derived balance
// cache. POST accepts the external-event kinds only; engine-owned kinds
// are rejected by the service.
type LedgerHandler struct {
	Repo   repository.Repository
	Ledger *service.LedgerService
	Logger *zap.Logger
}

func (h *LedgerHandler) Register(r *gin.Engine) {
	g := r.Group("/internal/ledger")
	g.POST("", h.append)
	g.GET("", h.list)

	r.GET("/internal/balances/:owner", h.balance)
}

type appendRequest struct {
	Owner  string          `json:"owner" binding:"required"`
	Kind   string          `json:"kind" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

func (h *LedgerHandler) append(c *gin.Context) {
	if h.Ledger == nil {
		Error(c, http.StatusInternalServerError, "ledger service unavailable", nil)
		return
	}
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body: "+err.Error(), nil)
		return
	}
	entry, err := h.Ledger.Append(c.Request.Context(), service.AppendInput{
		Owner:  req.Owner,
		Kind:   req.Kind,
		Amount: req.Amount,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidKind), errors.Is(err, service.ErrInvalidAmount):
			Error(c, http.StatusBadRequest, err.Error(), nil)
		case errors.Is(err, service.ErrInsufficientFunds):
			Error(c, http.StatusUnprocessableEntity, err.Error(), nil)
		default:
			Error(c, http.StatusBadGateway, err.Error(), nil)
		}
		return
	}
	Ok(c, entry, nil)
}

func (h *LedgerHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	params := repository.ListLedgerParams{
		Limit:  intQuery(c, "limit", 200),
		Offset: intQuery(c, "offset", 0),
	}
	if v := strings.TrimSpace(c.Query("owner")); v != "" {
		params.Owner = &v
	}
	if v := strings.TrimSpace(c.Query("kind")); v != "" {
		params.Kind = &v
	}
	if v := strings.TrimSpace(c.Query("position")); v != "" {
		if ref, err := strconv.ParseUint(v, 10, 64); err == nil && ref > 0 {
			params.PositionRef = &ref
		}
	}
	items, err := h.Repo.ListLedgerEntries(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountLedgerEntries(c.Request.Context(), params)
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

func (h *LedgerHandler) balance(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	owner := strings.TrimSpace(c.Param("owner"))
	if owner == "" {
		Error(c, http.StatusBadRequest, "owner required", nil)
		return
	}
	bal, err := h.Repo.GetBalance(c.Request.Context(), owner)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if bal == nil {
		// No financial history yet: report a zero balance rather than 404,
		// matching the lazy-create lifecycle.
		bal = &models.Balance{Owner: owner}
	}
	Ok(c, bal, nil)
}
