package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-batch-sender/internal/logger"
	"github.com/unclebandit/campaign-batch-sender/internal/model"
)

// ProcessRetryBatch resends to the next logged failures of the current retry
// pass. It never moves the recipient cursor; resolved failures shift one count
// from errors to sent. A pass walks the failure log once in ID order. When it
// ends, a new pass starts if the last one resolved anything; otherwise the
// campaign pauses so rows that keep failing are not resent forever.
func (s *CampaignService) ProcessRetryBatch(ctx context.Context, actor model.Actor, id int64, requested int) (result *model.BatchResult, err error) {
	ctx, span := startSpan(ctx, "ProcessRetryBatch", actor, id)
	defer func() { endSpan(span, err) }()

	if err := authorize(actor, model.PermSendCampaigns); err != nil {
		return nil, err
	}

	unlock, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)

	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.StatusRetryMode {
		return model.ResultFor(c, 0), nil
	}

	size := RemainingBatchSize(c, s.batchSize(requested))
	if size == 0 {
		return s.pauseForQuota(ctx, id)
	}

	logs, err := s.FailureRepo.ListAfter(ctx, id, c.RetryCursor, size)
	if err != nil {
		return nil, err
	}
	newPass := false
	if len(logs) == 0 && c.RetryCursor > 0 {
		if logs, err = s.FailureRepo.ListAfter(ctx, id, 0, size); err != nil {
			return nil, err
		}
		if len(logs) > 0 && c.RetryPassResolved == 0 {
			return s.stallRetry(ctx, id, c.RetryCursor)
		}
		newPass = true
	}
	if len(logs) == 0 {
		return s.completeRetry(ctx, id)
	}

	ids := make([]int64, 0, len(logs))
	for _, l := range logs {
		ids = append(ids, l.RecipientID)
	}
	found, err := s.RecipientRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]model.Recipient, len(found))
	for _, r := range found {
		byID[r.ID] = r
	}

	var resolved, orphaned int
	var drop []int64
	for _, l := range logs {
		r, ok := byID[l.RecipientID]
		if !ok {
			// the recipient is gone; the failure stays counted but can never be retried
			orphaned++
			drop = append(drop, l.ID)
			continue
		}
		if err := s.Mailer.Send(ctx, r, c.Subject, c.Body); err != nil {
			continue
		}
		resolved++
		drop = append(drop, l.ID)
	}

	var fresh *model.Campaign
	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		fresh, err = s.CampaignRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.FailureRepo.DeleteMany(ctx, drop); err != nil {
			return err
		}

		fresh.SentCount += resolved
		fresh.ErrorCount -= resolved
		if fresh.ErrorCount < 0 {
			fresh.ErrorCount = 0
		}
		if newPass {
			fresh.ResetRetryPass()
		}
		fresh.RetryCursor = logs[len(logs)-1].ID
		fresh.RetryPassResolved += resolved

		quotaHit := s.markQuota(fresh)
		switch {
		case quotaHit:
			fresh.Status = model.StatusPaused
		case fresh.Status == model.StatusPaused:
		default:
			fresh.Status = model.StatusRetryMode
		}
		return s.CampaignRepo.Update(ctx, fresh)
	})
	if err != nil {
		return nil, s.persistFailed("process retry batch", id, err)
	}

	s.log().Info("retry batch processed",
		logger.CampaignID(id),
		zap.Int("attempted", len(logs)),
		zap.Int("resolved", resolved),
		zap.Int("orphaned", orphaned),
		zap.Bool("new_pass", newPass),
		zap.String("status", fresh.Status.String()))
	return model.ResultFor(fresh, len(logs)), nil
}

func (s *CampaignService) completeRetry(ctx context.Context, id int64) (*model.BatchResult, error) {
	var fresh *model.Campaign
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		fresh, err = s.CampaignRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if fresh.Status == model.StatusPaused {
			return nil
		}
		fresh.Status = model.StatusCompleted
		return s.CampaignRepo.Update(ctx, fresh)
	})
	if err != nil {
		return nil, s.persistFailed("complete retry", id, err)
	}

	s.log().Info("failure log drained", logger.CampaignID(id), zap.String("status", fresh.Status.String()))
	return model.ResultFor(fresh, 0), nil
}

// stallRetry pauses a campaign whose last full retry pass resolved nothing.
// Resume starts a fresh pass.
func (s *CampaignService) stallRetry(ctx context.Context, id, cursor int64) (*model.BatchResult, error) {
	var fresh *model.Campaign
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		fresh, err = s.CampaignRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if fresh.Status != model.StatusRetryMode {
			return nil
		}
		fresh.Status = model.StatusPaused
		return s.CampaignRepo.Update(ctx, fresh)
	})
	if err != nil {
		return nil, s.persistFailed("stall retry", id, err)
	}

	s.log().Warn("retry pass resolved no failures, pausing",
		logger.CampaignID(id),
		zap.Int64("retry_cursor", cursor),
		zap.Int("errors", fresh.ErrorCount))
	return model.ResultFor(fresh, 0), nil
}
