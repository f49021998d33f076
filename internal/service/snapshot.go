package service

import (
	"context"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-batch-sender/internal/errors"
	"github.com/unclebandit/campaign-batch-sender/internal/logger"
	"github.com/unclebandit/campaign-batch-sender/internal/model"
)

// Initiate fixes the recipient snapshot for a campaign and moves it to
// pending. Recipients created afterwards are never enrolled.
func (s *CampaignService) Initiate(ctx context.Context, actor model.Actor, id int64) (total int, err error) {
	ctx, span := startSpan(ctx, "Initiate", actor, id)
	defer func() { endSpan(span, err) }()

	if err := authorize(actor, model.PermSendCampaigns); err != nil {
		return 0, err
	}

	unlock, err := s.acquire(ctx, id)
	if err != nil {
		return 0, err
	}
	defer unlock()

	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		c, err := s.CampaignRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}

		switch c.Status {
		case model.StatusCompleted:
			return appErrors.ErrAlreadyCompleted
		case model.StatusSending, model.StatusPaused, model.StatusRetryMode:
			return appErrors.NewInvalidState(id, c.Status.String(), "initiate")
		}

		if err := s.snapshot(ctx, c); err != nil {
			return err
		}
		total = c.TotalRecipients
		return nil
	})
	if err != nil {
		return 0, s.persistFailed("initiate", id, err)
	}

	s.log().Info("campaign initiated",
		logger.CampaignID(id),
		zap.Int("total_recipients", total),
		zap.String("actor", actor.ID))
	return total, nil
}

// snapshot records the recipient high-water mark and resets execution state.
// It must run inside a transaction that holds the campaign row.
func (s *CampaignService) snapshot(ctx context.Context, c *model.Campaign) error {
	maxID, err := s.RecipientRepo.MaxID(ctx)
	if err != nil {
		return err
	}
	count, err := s.RecipientRepo.CountUpTo(ctx, maxID)
	if err != nil {
		return err
	}

	c.MaxRecipientID = maxID
	c.TotalRecipients = count
	c.LastProcessedID = 0
	c.SentCount = 0
	c.ErrorCount = 0
	c.QuotaHitAt = nil
	c.ResetRetryPass()
	c.Status = model.StatusPending
	return s.CampaignRepo.Update(ctx, c)
}

// Launch copies a draft into a new execution and initiates it in the same
// transaction, so the draft stays reusable as a template.
func (s *CampaignService) Launch(ctx context.Context, actor model.Actor, draftID int64, opts model.LaunchOptions) (c *model.Campaign, err error) {
	ctx, span := startSpan(ctx, "Launch", actor, draftID)
	defer func() { endSpan(span, err) }()

	if err := authorize(actor, model.PermSendCampaigns); err != nil {
		return nil, err
	}
	if opts.StopAtCount < 0 {
		return nil, appErrors.NewInvalidInput("stop_at_count", "must not be negative")
	}
	if opts.QuotaIncrement < 0 {
		return nil, appErrors.NewInvalidInput("quota_increment", "must not be negative")
	}
	if opts.QuotaIncrement == 0 {
		opts.QuotaIncrement = opts.StopAtCount
	}

	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		draft, err := s.CampaignRepo.GetByID(ctx, draftID)
		if err != nil {
			return err
		}
		if draft.Status != model.StatusDraft {
			return appErrors.NewInvalidState(draftID, draft.Status.String(), "launch")
		}

		source := draft.ID
		c = &model.Campaign{
			SourceCampaignID: &source,
			Subject:          draft.Subject,
			Body:             draft.Body,
			Status:           model.StatusPending,
			StopAtCount:      opts.StopAtCount,
			QuotaIncrement:   opts.QuotaIncrement,
		}
		if err := s.CampaignRepo.Create(ctx, c); err != nil {
			return err
		}
		return s.snapshot(ctx, c)
	})
	if err != nil {
		return nil, s.persistFailed("launch", draftID, err)
	}

	s.log().Info("campaign launched",
		logger.CampaignID(c.ID),
		zap.Int64("draft_id", draftID),
		zap.Int("total_recipients", c.TotalRecipients),
		zap.Int("stop_at_count", c.StopAtCount),
		zap.String("actor", actor.ID))
	return c, nil
}
