package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-batch-sender/internal/logger"
	"github.com/unclebandit/campaign-batch-sender/internal/model"
)

// ProcessBatch sends the next slice of the snapshot. Per-recipient failures
// and quota exhaustion are reported through the result status, not as errors.
func (s *CampaignService) ProcessBatch(ctx context.Context, actor model.Actor, id int64, requested int) (result *model.BatchResult, err error) {
	ctx, span := startSpan(ctx, "ProcessBatch", actor, id)
	defer func() { endSpan(span, err) }()

	if err := authorize(actor, model.PermSendCampaigns); err != nil {
		return nil, err
	}

	unlock, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// from here on the batch runs to completion even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.AcceptsNormalBatch() {
		return model.ResultFor(c, 0), nil
	}

	if c.Status == model.StatusPending {
		moved, err := s.CampaignRepo.TransitionStatus(ctx, id, model.StatusPending, model.StatusSending)
		if err != nil {
			return nil, s.persistFailed("process batch", id, err)
		}
		if !moved {
			// paused (or otherwise moved) since the read above
			if c, err = s.CampaignRepo.GetByID(ctx, id); err != nil {
				return nil, err
			}
			if !c.Status.AcceptsNormalBatch() {
				return model.ResultFor(c, 0), nil
			}
		}
		c.Status = model.StatusSending
	}

	size := RemainingBatchSize(c, s.batchSize(requested))
	if size == 0 {
		return s.pauseForQuota(ctx, id)
	}

	recipients, err := s.RecipientRepo.Range(ctx, c.LastProcessedID, c.MaxRecipientID, size)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return s.completeNormal(ctx, id)
	}

	sent, failures := s.sendAll(ctx, c, recipients)
	lastID := recipients[len(recipients)-1].ID

	var fresh *model.Campaign
	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		fresh, err = s.CampaignRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.FailureRepo.CreateMany(ctx, failures); err != nil {
			return err
		}

		if lastID > fresh.LastProcessedID {
			fresh.LastProcessedID = lastID
		}
		fresh.SentCount += sent
		fresh.ErrorCount += len(failures)

		quotaHit := s.markQuota(fresh)
		switch {
		case fresh.IsNormalDone():
			fresh.Status = model.StatusCompleted
		case quotaHit:
			fresh.Status = model.StatusPaused
		case fresh.Status == model.StatusPaused:
			// paused by an operator while this batch was sending
		default:
			fresh.Status = model.StatusSending
		}
		return s.CampaignRepo.Update(ctx, fresh)
	})
	if err != nil {
		return nil, s.persistFailed("process batch", id, err)
	}

	s.log().Info("batch processed",
		logger.CampaignID(id),
		zap.Int("processed", len(recipients)),
		zap.Int("sent", sent),
		zap.Int("failed", len(failures)),
		zap.Int64("last_processed_id", fresh.LastProcessedID),
		zap.String("status", fresh.Status.String()))
	return model.ResultFor(fresh, len(recipients)), nil
}

// sendAll delivers to recipients in ascending ID order and collects failures.
func (s *CampaignService) sendAll(ctx context.Context, c *model.Campaign, recipients []model.Recipient) (int, []model.FailureLog) {
	sent := 0
	var failures []model.FailureLog
	for _, r := range recipients {
		if err := s.Mailer.Send(ctx, r, c.Subject, c.Body); err != nil {
			failures = append(failures, model.FailureLog{
				CampaignID:   c.ID,
				RecipientID:  r.ID,
				Status:       model.FailureStatusFailed,
				ErrorMessage: model.TruncateDiagnostic(err.Error()),
			})
			continue
		}
		sent++
	}
	return sent, failures
}

// markQuota stamps QuotaHitAt the first time sent reaches the quota and
// reports whether the quota is exhausted.
func (s *CampaignService) markQuota(c *model.Campaign) bool {
	if !IsQuotaHit(c, c.SentCount) {
		return false
	}
	if c.QuotaHitAt == nil {
		hit := s.now()
		c.QuotaHitAt = &hit
	}
	return true
}

func (s *CampaignService) pauseForQuota(ctx context.Context, id int64) (*model.BatchResult, error) {
	var fresh *model.Campaign
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		fresh, err = s.CampaignRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		s.markQuota(fresh)
		fresh.Status = model.StatusPaused
		return s.CampaignRepo.Update(ctx, fresh)
	})
	if err != nil {
		return nil, s.persistFailed("pause for quota", id, err)
	}

	s.log().Info("send quota reached, campaign paused",
		logger.CampaignID(id),
		zap.Int("sent", fresh.SentCount),
		zap.Int("stop_at_count", fresh.StopAtCount))
	return model.ResultFor(fresh, 0), nil
}

func (s *CampaignService) completeNormal(ctx context.Context, id int64) (*model.BatchResult, error) {
	var fresh *model.Campaign
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		fresh, err = s.CampaignRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		fresh.Status = model.StatusCompleted
		return s.CampaignRepo.Update(ctx, fresh)
	})
	if err != nil {
		return nil, s.persistFailed("complete campaign", id, err)
	}

	s.log().Info("campaign completed", logger.CampaignID(id),
		zap.Int("sent", fresh.SentCount),
		zap.Int("failed", fresh.ErrorCount))

	result := model.ResultFor(fresh, 0)
	// the range is exhausted even when recipients vanished after the snapshot
	result.Progress = 100
	return result, nil
}
