package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"adledger/internal/model"
	"adledger/internal/service"
	"adledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	accounts  *service.AccountService
	campaigns *service.CampaignService
	health    map[string]HealthCheck
	logger    zerolog.Logger
}

func NewHandler(accounts *service.AccountService, campaigns *service.CampaignService, health map[string]HealthCheck, logger zerolog.Logger) *Handler {
	return &Handler{
		accounts:  accounts,
		campaigns: campaigns,
		health:    health,
		logger:    logger,
	}
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func campaignIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "invalid campaign id")
		return 0, false
	}
	return id, true
}

// ============================================================
// Ledger
// ============================================================

// GetBalance GET /api/v1/ledger/balance
func (h *Handler) GetBalance(c *gin.Context) {
	view, err := h.accounts.GetBalance(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, view)
}

// ListTransactions GET /api/v1/ledger/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page, pageSize := pageParams(c)
	rows, total, err := h.accounts.ListTransactions(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      rows,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// Campaigns
// ============================================================

// CreateCampaign POST /api/v1/campaigns
func (h *Handler) CreateCampaign(c *gin.Context) {
	var req service.CampaignSpec
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	campaign, err := h.campaigns.Create(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, campaign)
}

// ListCampaigns GET /api/v1/campaigns
func (h *Handler) ListCampaigns(c *gin.Context) {
	page, pageSize := pageParams(c)
	rows, total, err := h.campaigns.List(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      rows,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetCampaign GET /api/v1/campaigns/:id
func (h *Handler) GetCampaign(c *gin.Context) {
	id, ok := campaignIDParam(c)
	if !ok {
		return
	}
	campaign, err := h.campaigns.Get(c.Request.Context(), currentUserID(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, campaign)
}

// DeleteCampaign DELETE /api/v1/campaigns/:id
func (h *Handler) DeleteCampaign(c *gin.Context) {
	id, ok := campaignIDParam(c)
	if !ok {
		return
	}
	receipt, err := h.campaigns.Delete(c.Request.Context(), currentUserID(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, receipt)
}

// CancelCampaign POST /api/v1/campaigns/:id/cancel
func (h *Handler) CancelCampaign(c *gin.Context) {
	h.userTransition(c, h.campaigns.Cancel)
}

// ResubmitCampaign POST /api/v1/campaigns/:id/resubmit
func (h *Handler) ResubmitCampaign(c *gin.Context) {
	h.userTransition(c, h.campaigns.Resubmit)
}

type userTransitionFunc func(ctx context.Context, userID, id int64) (*model.Campaign, error)

func (h *Handler) userTransition(c *gin.Context, fn userTransitionFunc) {
	id, ok := campaignIDParam(c)
	if !ok {
		return
	}
	campaign, err := fn(c.Request.Context(), currentUserID(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, campaign)
}

// ============================================================
// Admin
// ============================================================

// ReviewCampaign POST /api/v1/admin/campaigns/:id/review
func (h *Handler) ReviewCampaign(c *gin.Context) {
	h.adminTransition(c, h.campaigns.StartReview)
}

// ApproveCampaign POST /api/v1/admin/campaigns/:id/approve
func (h *Handler) ApproveCampaign(c *gin.Context) {
	h.adminTransition(c, h.campaigns.Approve)
}

type RejectRequest struct {
	Reason string `json:"reason" binding:"required,max=256"`
}

// RejectCampaign POST /api/v1/admin/campaigns/:id/reject
func (h *Handler) RejectCampaign(c *gin.Context) {
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	h.adminTransition(c, func(ctx context.Context, id int64) (*model.Campaign, error) {
		return h.campaigns.Reject(ctx, id, req.Reason)
	})
}

func (h *Handler) adminTransition(c *gin.Context, fn func(ctx context.Context, id int64) (*model.Campaign, error)) {
	id, ok := campaignIDParam(c)
	if !ok {
		return
	}
	campaign, err := fn(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.Info().Int64("operator", currentUserID(c)).Int64("campaign_id", id).Str("status", campaign.Status).Msg("campaign reviewed")
	response.Success(c, campaign)
}

// RecordAdjustment POST /api/v1/admin/ledger/adjustments
func (h *Handler) RecordAdjustment(c *gin.Context) {
	var req service.AdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	req.Operator = currentUserID(c)

	result, err := h.accounts.RecordAdjustment(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// Webhooks
// ============================================================

// PaymentWebhook POST /api/v1/webhooks/payments
// The gateway retries until it gets code 0, so replays must succeed.
func (h *Handler) PaymentWebhook(c *gin.Context) {
	var req service.ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.accounts.RecordCharge(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// Health GET /health
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	for name, check := range h.health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "checks": checks})
}
