package handler

import (
	"errors"

	"adledger/internal/infrastructure/lock"
	"adledger/internal/ledger"
	"adledger/internal/service"
	"adledger/internal/store"
	"adledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// writeError maps service errors onto response codes. Anything unknown is
// logged and hidden behind a generic message.
func (h *Handler) writeError(c *gin.Context, err error) {
	var insufficient *ledger.InsufficientFundsError
	var partial *ledger.PartialWriteFailureError

	switch {
	case errors.As(err, &insufficient):
		response.ErrorWithData(c, response.CodeInsufficientFunds, "insufficient funds", gin.H{
			"required":         insufficient.Required,
			"available_points": insufficient.AvailablePoints,
			"available_credit": insufficient.AvailableCredit,
			"shortfall":        insufficient.Shortfall,
			"top_up_required":  insufficient.TopUpRequired(),
		})
	case errors.As(err, &partial):
		response.ErrorWithData(c, response.CodePartialWrite, "campaign could not be saved", gin.H{
			"campaign_id":          partial.CampaignID,
			"reservation_released": partial.Compensated(),
		})
	case errors.Is(err, service.ErrCampaignNotFound), errors.Is(err, store.ErrNotFound):
		response.BusinessError(c, response.CodeCampaignNotFound, "campaign not found")
	case errors.Is(err, service.ErrForbiddenState):
		response.BusinessError(c, response.CodeCampaignStatusInvalid, err.Error())
	case errors.Is(err, ledger.ErrInvalidAmount):
		response.BusinessError(c, response.CodeInvalidAmount, err.Error())
	case errors.Is(err, service.ErrInvalidCampaign), errors.Is(err, service.ErrInvalidRequest):
		response.ParamError(c, err.Error())
	case errors.Is(err, ledger.ErrAlreadyReserved), errors.Is(err, service.ErrReferenceConflict):
		response.BusinessError(c, response.CodeDuplicateRequest, err.Error())
	case errors.Is(err, store.ErrConcurrentModification), errors.Is(err, lock.ErrLockFailed):
		response.BusinessError(c, response.CodeConcurrentRequest, "account busy, please retry")
	case errors.Is(err, ledger.ErrInconsistentLedger):
		h.logger.Error().Err(err).Str("request_id", c.GetString(ctxRequestID)).Msg("inconsistent ledger state")
		response.BusinessError(c, response.CodeReleaseFailed, "ledger state requires manual review")
	default:
		h.logger.Error().Err(err).Str("request_id", c.GetString(ctxRequestID)).Str("path", c.Request.URL.Path).Msg("request failed")
		response.ServerError(c, "internal server error")
	}
}
