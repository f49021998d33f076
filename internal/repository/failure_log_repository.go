package repository

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/unclebandit/campaign-batch-sender/internal/db"
	"github.com/unclebandit/campaign-batch-sender/internal/model"
)

const failureLogTable = "campaign_failure_log"

type FailureLogRepositoryInterface interface {
	CreateMany(ctx context.Context, logs []model.FailureLog) error
	// ListByCampaign returns failed rows oldest first.
	ListByCampaign(ctx context.Context, campaignID int64, limit, offset int) ([]model.FailureLog, error)
	// ListAfter returns failed rows with id > afterID, oldest first.
	ListAfter(ctx context.Context, campaignID, afterID int64, limit int) ([]model.FailureLog, error)
	DeleteMany(ctx context.Context, ids []int64) error
	CountByCampaign(ctx context.Context, campaignID int64) (int, error)
}

type FailureLogRepository struct {
	DB *db.Client
}

func NewFailureLogRepository(client *db.Client) *FailureLogRepository {
	return &FailureLogRepository{DB: client}
}

func (r *FailureLogRepository) CreateMany(ctx context.Context, logs []model.FailureLog) error {
	if len(logs) == 0 {
		return nil
	}

	rows := make([]any, 0, len(logs))
	for _, l := range logs {
		status := l.Status
		if status == "" {
			status = model.FailureStatusFailed
		}
		rows = append(rows, goqu.Record{
			"campaign_id":   l.CampaignID,
			"recipient_id":  l.RecipientID,
			"status":        status,
			"error_message": model.TruncateDiagnostic(l.ErrorMessage),
		})
	}

	if _, err := r.DB.Insert(ctx, goqu.Insert(failureLogTable).Rows(rows...)); err != nil {
		return fmt.Errorf("error inserting %d failure logs: %w", len(logs), err)
	}
	return nil
}

func (r *FailureLogRepository) ListByCampaign(ctx context.Context, campaignID int64, limit, offset int) ([]model.FailureLog, error) {
	logs := []model.FailureLog{}
	ds := goqu.From(failureLogTable).
		Where(goqu.Ex{
			"campaign_id": campaignID,
			"status":      model.FailureStatusFailed,
		}).
		Order(goqu.C("id").Asc()).
		Limit(uint(limit)).
		Offset(uint(offset))

	if err := r.DB.Select(ctx, &logs, ds); err != nil {
		return nil, fmt.Errorf("error listing failure logs for campaign %d: %w", campaignID, err)
	}
	return logs, nil
}

func (r *FailureLogRepository) ListAfter(ctx context.Context, campaignID, afterID int64, limit int) ([]model.FailureLog, error) {
	logs := []model.FailureLog{}
	ds := goqu.From(failureLogTable).
		Where(
			goqu.C("campaign_id").Eq(campaignID),
			goqu.C("status").Eq(model.FailureStatusFailed),
			goqu.C("id").Gt(afterID),
		).
		Order(goqu.C("id").Asc()).
		Limit(uint(limit))

	if err := r.DB.Select(ctx, &logs, ds); err != nil {
		return nil, fmt.Errorf("error listing failure logs for campaign %d after %d: %w", campaignID, afterID, err)
	}
	return logs, nil
}

func (r *FailureLogRepository) DeleteMany(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.DB.Delete(ctx, goqu.Delete(failureLogTable).Where(goqu.C("id").In(ids))); err != nil {
		return fmt.Errorf("error deleting failure logs: %w", err)
	}
	return nil
}

func (r *FailureLogRepository) CountByCampaign(ctx context.Context, campaignID int64) (int, error) {
	var count int
	ds := goqu.From(failureLogTable).
		Select(goqu.COUNT("*")).
		Where(goqu.Ex{
			"campaign_id": campaignID,
			"status":      model.FailureStatusFailed,
		})
	if err := r.DB.Get(ctx, &count, ds); err != nil {
		return 0, fmt.Errorf("error counting failure logs for campaign %d: %w", campaignID, err)
	}
	return count, nil
}

var _ FailureLogRepositoryInterface = (*FailureLogRepository)(nil)
