package service

import (
	"context"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-batch-sender/internal/errors"
	"github.com/unclebandit/campaign-batch-sender/internal/logger"
	"github.com/unclebandit/campaign-batch-sender/internal/model"
)

// Pause stops a campaign without waiting for an in-flight batch; that batch's
// commit keeps the paused status. Drafts have no execution to stop and are
// rejected with ErrInvalidState; every other status moves to paused.
func (s *CampaignService) Pause(ctx context.Context, actor model.Actor, id int64) (err error) {
	ctx, span := startSpan(ctx, "Pause", actor, id)
	defer func() { endSpan(span, err) }()

	if err := authorize(actor, model.PermSendCampaigns); err != nil {
		return err
	}

	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == model.StatusDraft {
		return appErrors.NewInvalidState(id, c.Status.String(), "pause")
	}

	if err := s.CampaignRepo.UpdateStatus(ctx, id, model.StatusPaused); err != nil {
		return s.persistFailed("pause", id, err)
	}

	s.log().Info("campaign paused", logger.CampaignID(id), zap.String("actor", actor.ID))
	return nil
}

// Resume continues a paused or completed campaign, in retry mode when every
// snapshot recipient has already been attempted. After a quota pause the
// quota is topped up by QuotaIncrement, or lifted when the increment is zero.
func (s *CampaignService) Resume(ctx context.Context, actor model.Actor, id int64) (err error) {
	ctx, span := startSpan(ctx, "Resume", actor, id)
	defer func() { endSpan(span, err) }()

	if err := authorize(actor, model.PermSendCampaigns); err != nil {
		return err
	}

	unlock, err := s.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	var resumed *model.Campaign
	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		c, err := s.CampaignRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}

		switch c.Status {
		case model.StatusDraft, model.StatusPending:
			return appErrors.NewInvalidState(id, c.Status.String(), "resume")
		case model.StatusSending, model.StatusRetryMode:
			return nil
		}

		if c.IsNormalDone() {
			c.Status = model.StatusRetryMode
			c.ResetRetryPass()
		} else {
			c.Status = model.StatusSending
		}

		if c.QuotaHitAt != nil {
			c.QuotaHitAt = nil
			if c.QuotaIncrement > 0 {
				c.StopAtCount = c.SentCount + c.QuotaIncrement
			} else {
				c.StopAtCount = 0
			}
		}

		resumed = c
		return s.CampaignRepo.Update(ctx, c)
	})
	if err != nil {
		return s.persistFailed("resume", id, err)
	}

	if resumed != nil {
		s.log().Info("campaign resumed",
			logger.CampaignID(id),
			zap.String("status", resumed.Status.String()),
			zap.Int("stop_at_count", resumed.StopAtCount),
			zap.String("actor", actor.ID))
	}
	return nil
}
