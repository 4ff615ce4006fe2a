package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"adledger/internal/ledger"
	"adledger/internal/model"
	"adledger/internal/store"
	"adledger/pkg/idgen"

	"github.com/rs/zerolog"
)

const cancelledByUserReason = "cancelled by user"

// CampaignService drives the campaign state machine and its ledger effects.
//
//	create           Reserve(total cost), then write the campaign
//	delete           delete the campaign (status guarded), then Release(full hold)
//	cancel/resubmit  status change only, the hold stays
//	approve          terminal here, consumption happens elsewhere
type CampaignService struct {
	campaigns    store.CampaignStore
	reservations *ReservationService
	incidents    *IncidentReporter
	opts         Options
	logger       zerolog.Logger

	// nextID is replaced in tests.
	nextID func() int64
}

func NewCampaignService(campaigns store.CampaignStore, reservations *ReservationService, incidents *IncidentReporter, opts Options, logger zerolog.Logger) *CampaignService {
	return &CampaignService{
		campaigns:    campaigns,
		reservations: reservations,
		incidents:    incidents,
		opts:         opts.withDefaults(),
		logger:       logger.With().Str("component", "campaign").Logger(),
		nextID:       idgen.NextID,
	}
}

type CampaignSpec struct {
	Name               string   `json:"name" binding:"required,max=128"`
	Message            string   `json:"message"`
	Budget             int64    `json:"budget" binding:"gte=0"`
	EstimatedTotalCost int64    `json:"estimated_total_cost" binding:"gte=0"`
	Targets            []string `json:"targets"`
}

func (s *CampaignService) validate(spec *CampaignSpec) error {
	spec.Name = strings.TrimSpace(spec.Name)
	switch {
	case spec.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidCampaign)
	case spec.Budget < 0 || spec.EstimatedTotalCost < 0:
		return fmt.Errorf("%w: amounts must not be negative", ErrInvalidCampaign)
	case len(spec.Targets) > s.opts.MaxTargetCount:
		return fmt.Errorf("%w: at most %d targets", ErrInvalidCampaign, s.opts.MaxTargetCount)
	}
	for _, segment := range spec.Targets {
		if strings.TrimSpace(segment) == "" {
			return fmt.Errorf("%w: empty target segment", ErrInvalidCampaign)
		}
	}
	return nil
}

// Create reserves the estimated cost and only then persists the campaign.
// If the campaign write fails the hold is released again; if that release
// also fails the caller gets a *ledger.PartialWriteFailureError and an
// incident is raised.
func (s *CampaignService) Create(ctx context.Context, userID int64, spec CampaignSpec) (*model.Campaign, error) {
	if err := s.validate(&spec); err != nil {
		return nil, err
	}

	campaign := &model.Campaign{
		ID:                 s.nextID(),
		UserID:             userID,
		Name:               spec.Name,
		Message:            spec.Message,
		Status:             model.CampaignStatusPendingApproval,
		Budget:             spec.Budget,
		EstimatedTotalCost: spec.EstimatedTotalCost,
	}
	for _, segment := range spec.Targets {
		campaign.Targets = append(campaign.Targets, model.CampaignTarget{Segment: strings.TrimSpace(segment)})
	}

	var receipt *ReservationReceipt
	if campaign.EstimatedTotalCost > 0 {
		var err error
		receipt, err = s.reservations.Reserve(ctx, userID, campaign.ID, campaign.Name, campaign.EstimatedTotalCost)
		if err != nil {
			return nil, err
		}
	}

	msg := newEvent(s.opts.Topics.CampaignEvents, campaign.ID, model.EventCampaignCreated, map[string]interface{}{
		"campaign_id": campaign.ID,
		"user_id":     userID,
		"name":        campaign.Name,
		"status":      campaign.Status,
		"cost":        campaign.EstimatedTotalCost,
	})

	writeErr := s.campaigns.Create(ctx, campaign, msg)
	if writeErr == nil {
		s.logger.Info().Int64("user_id", userID).Int64("campaign_id", campaign.ID).Int64("cost", campaign.EstimatedTotalCost).Msg("campaign created")
		return campaign, nil
	}

	// The write may have landed before the error surfaced. Only a confirmed
	// absence allows releasing the hold.
	existing, readErr := s.confirmCreated(ctx, campaign.ID, userID)
	switch {
	case readErr == nil:
		s.logger.Warn().Err(writeErr).Int64("campaign_id", campaign.ID).Msg("campaign found after write error")
		return existing, nil
	case receipt == nil:
		return nil, fmt.Errorf("create campaign: %w", writeErr)
	case !errors.Is(readErr, store.ErrNotFound):
		return nil, s.deferToReconciler(ctx, campaign, receipt, writeErr, readErr)
	}
	return nil, s.compensate(ctx, campaign, receipt, writeErr)
}

// confirmCreated returns store.ErrNotFound only when the campaign is known
// not to exist.
func (s *CampaignService) confirmCreated(ctx context.Context, id, userID int64) (*model.Campaign, error) {
	readCtx, cancel := detached(ctx, s.opts.StoreTimeout)
	defer cancel()

	c, err := s.campaigns.Get(readCtx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, store.ErrNotFound
	}
	return c, nil
}

// deferToReconciler keeps the hold when the campaign write outcome cannot be
// read back. If the campaign really is missing, the reservation reconciler
// releases the hold once it is past the grace period.
func (s *CampaignService) deferToReconciler(ctx context.Context, campaign *model.Campaign, receipt *ReservationReceipt, cause, readErr error) error {
	partial := &ledger.PartialWriteFailureError{
		UserID:          campaign.UserID,
		CampaignID:      campaign.ID,
		Amount:          receipt.Amount,
		PointsHeld:      receipt.PointsUsed,
		CreditHeld:      receipt.CreditUsed,
		Cause:           cause,
		CompensationErr: fmt.Errorf("campaign state unknown, hold kept: %w", readErr),
	}
	s.incidents.Report(ctx, Incident{
		Kind:       "unconfirmed_campaign_write",
		UserID:     campaign.UserID,
		CampaignID: campaign.ID,
		Amount:     receipt.Amount,
		PointsHeld: receipt.PointsUsed,
		CreditHeld: receipt.CreditUsed,
		Err:        partial,
	})
	return partial
}

func (s *CampaignService) compensate(ctx context.Context, campaign *model.Campaign, receipt *ReservationReceipt, cause error) error {
	releaseCtx, cancel := detached(ctx, s.opts.StoreTimeout)
	defer cancel()

	partial := &ledger.PartialWriteFailureError{
		UserID:     campaign.UserID,
		CampaignID: campaign.ID,
		Amount:     receipt.Amount,
		PointsHeld: receipt.PointsUsed,
		CreditHeld: receipt.CreditUsed,
		Cause:      cause,
	}

	_, err := s.reservations.Release(releaseCtx, campaign.UserID, campaign.ID, model.PurposeCampaignCompensation)
	if err != nil {
		partial.CompensationErr = err
		s.incidents.Report(ctx, Incident{
			Kind:       "compensation_failed",
			UserID:     campaign.UserID,
			CampaignID: campaign.ID,
			Amount:     receipt.Amount,
			PointsHeld: receipt.PointsUsed,
			CreditHeld: receipt.CreditUsed,
			Err:        partial,
		})
		return partial
	}

	s.logger.Warn().
		Err(cause).
		Int64("user_id", campaign.UserID).
		Int64("campaign_id", campaign.ID).
		Int64("amount", receipt.Amount).
		Msg("campaign write failed, reservation released")
	return partial
}

// owned loads a campaign and hides it from everyone but its owner.
func (s *CampaignService) owned(ctx context.Context, userID, id int64) (*model.Campaign, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrCampaignNotFound
	}
	return c, nil
}

func (s *CampaignService) load(ctx context.Context, id int64) (*model.Campaign, error) {
	c, err := s.campaigns.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	return c, nil
}

func (s *CampaignService) Get(ctx context.Context, userID, id int64) (*model.Campaign, error) {
	return s.owned(ctx, userID, id)
}

func (s *CampaignService) List(ctx context.Context, userID int64, page, pageSize int) ([]*model.Campaign, int64, error) {
	return s.campaigns.ListByUser(ctx, userID, page, pageSize)
}

// Delete removes the campaign and then releases its hold. Approved campaigns
// cannot be deleted. The store re-checks the status when it deletes, so an
// approval that lands after the read wins and the campaign keeps its hold.
func (s *CampaignService) Delete(ctx context.Context, userID, id int64) (*ReleaseReceipt, error) {
	c, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !model.IsDeletable(c.Status) {
		return nil, ErrForbiddenState
	}

	msg := newEvent(s.opts.Topics.CampaignEvents, id, model.EventCampaignDeleted, map[string]interface{}{
		"campaign_id": id,
		"user_id":     userID,
		"status":      c.Status,
		"cost":        c.EstimatedTotalCost,
	})
	err = s.campaigns.Delete(ctx, id, model.DeletableStatuses, msg)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrCampaignNotFound
	case errors.Is(err, store.ErrStatusConflict):
		return nil, ErrForbiddenState
	case err != nil:
		return nil, fmt.Errorf("delete campaign: %w", err)
	}

	// The campaign row is gone. A hold that fails to release here is an
	// orphan and the reservation reconciler releases it after the grace period.
	receipt, err := s.reservations.Release(ctx, userID, id, model.PurposeCampaignRelease)
	if err != nil {
		s.logger.Error().
			Err(err).
			Int64("user_id", userID).
			Int64("campaign_id", id).
			Int64("cost", c.EstimatedTotalCost).
			Msg("campaign deleted but hold not released, left for the reconciler")
		return nil, fmt.Errorf("release hold of deleted campaign: %w", err)
	}

	if receipt.NothingHeld && c.EstimatedTotalCost > 0 {
		hold, herr := s.reservations.HoldOf(ctx, userID, id)
		if herr == nil && !hold.Reserved {
			s.incidents.Report(ctx, Incident{
				Kind:       "missing_reservation",
				UserID:     userID,
				CampaignID: id,
				Amount:     c.EstimatedTotalCost,
				Err: &ledger.InconsistentLedgerStateError{
					UserID:     userID,
					CampaignID: id,
					Detail:     "campaign has a cost but no reserve rows",
				},
			})
		}
	}

	s.logger.Info().Int64("user_id", userID).Int64("campaign_id", id).Int64("released", receipt.Total()).Msg("campaign deleted")
	return receipt, nil
}

// Cancel moves a pending or reviewing campaign to REJECTED. The hold stays
// so the campaign can be resubmitted without reserving again.
func (s *CampaignService) Cancel(ctx context.Context, userID, id int64) (*model.Campaign, error) {
	c, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignStatusPendingApproval && c.Status != model.CampaignStatusReviewing {
		return nil, ErrForbiddenState
	}
	return s.transition(ctx, c, model.CampaignStatusRejected, cancelledByUserReason)
}

// Resubmit moves a rejected campaign back to PENDING_APPROVAL.
func (s *CampaignService) Resubmit(ctx context.Context, userID, id int64) (*model.Campaign, error) {
	c, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, c, model.CampaignStatusPendingApproval, "")
}

func (s *CampaignService) StartReview(ctx context.Context, id int64) (*model.Campaign, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, c, model.CampaignStatusReviewing, "")
}

func (s *CampaignService) Approve(ctx context.Context, id int64) (*model.Campaign, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, c, model.CampaignStatusApproved, "")
}

func (s *CampaignService) Reject(ctx context.Context, id int64, reason string) (*model.Campaign, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrInvalidCampaign)
	}
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, c, model.CampaignStatusRejected, reason)
}

func (s *CampaignService) transition(ctx context.Context, c *model.Campaign, to, reason string) (*model.Campaign, error) {
	if !model.CanTransitionTo(c.Status, to) {
		return nil, ErrForbiddenState
	}

	msg := newEvent(s.opts.Topics.CampaignEvents, c.ID, model.EventCampaignStatus, map[string]interface{}{
		"campaign_id": c.ID,
		"user_id":     c.UserID,
		"from":        c.Status,
		"to":          to,
		"reason":      reason,
	})
	err := s.campaigns.UpdateStatus(ctx, c.ID, c.Status, to, reason, msg)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrCampaignNotFound
	case errors.Is(err, store.ErrStatusConflict):
		return nil, ErrForbiddenState
	case err != nil:
		return nil, fmt.Errorf("update campaign status: %w", err)
	}

	s.logger.Info().Int64("campaign_id", c.ID).Str("from", c.Status).Str("to", to).Msg("campaign status changed")
	c.Status = to
	c.RejectionReason = reason
	return c, nil
}
