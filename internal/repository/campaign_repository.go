package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/unclebandit/campaign-batch-sender/internal/db"
	appErrors "github.com/unclebandit/campaign-batch-sender/internal/errors"
	"github.com/unclebandit/campaign-batch-sender/internal/model"
)

const campaignsTable = "campaigns"

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	// GetByIDForUpdate row-locks the campaign; it must run inside a transaction.
	GetByIDForUpdate(ctx context.Context, id int64) (*model.Campaign, error)
	Update(ctx context.Context, c *model.Campaign) error
	UpdateStatus(ctx context.Context, id int64, status model.CampaignStatus) error
	// TransitionStatus sets status to `to` only while it is still `from`, and
	// reports whether the row changed.
	TransitionStatus(ctx context.Context, id int64, from, to model.CampaignStatus) (bool, error)
	UpdateContent(ctx context.Context, id int64, subject, body string) error
	Delete(ctx context.Context, id int64) error
	ListCampaigns(ctx context.Context, offset, limit int, status model.CampaignStatus) ([]*model.Campaign, int, error)
	ListIDsByStatus(ctx context.Context, statuses []model.CampaignStatus, updatedBefore time.Time) ([]int64, error)
}

type CampaignRepository struct {
	DB  *db.Client
	Now func() time.Time
}

func NewCampaignRepository(client *db.Client) *CampaignRepository {
	return &CampaignRepository{DB: client, Now: time.Now}
}

func (r *CampaignRepository) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	now := r.now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = model.StatusDraft
	}

	ds := goqu.Insert(campaignsTable).Rows(goqu.Record{
		"source_campaign_id": c.SourceCampaignID,
		"subject":            c.Subject,
		"body":               c.Body,
		"status":             c.Status,
		"last_processed_id":  c.LastProcessedID,
		"sent_count":         c.SentCount,
		"error_count":        c.ErrorCount,
		"total_recipients":   c.TotalRecipients,
		"max_recipient_id":   c.MaxRecipientID,
		"stop_at_count":      c.StopAtCount,
		"quota_increment":    c.QuotaIncrement,
		"quota_hit_at":       c.QuotaHitAt,
		"created_at":         c.CreatedAt,
		"updated_at":         c.UpdatedAt,
	})

	id, err := r.DB.InsertReturningID(ctx, ds)
	if err != nil {
		return fmt.Errorf("error creating campaign: %w", err)
	}
	c.ID = id
	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	return r.get(ctx, goqu.From(campaignsTable).Where(goqu.C("id").Eq(id)), id)
}

func (r *CampaignRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.Campaign, error) {
	return r.get(ctx, goqu.From(campaignsTable).Where(goqu.C("id").Eq(id)).ForUpdate(exp.Wait), id)
}

func (r *CampaignRepository) get(ctx context.Context, ds *goqu.SelectDataset, id int64) (*model.Campaign, error) {
	var c model.Campaign
	if err := r.DB.Get(ctx, &c, ds); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("error getting campaign %d: %w", id, err)
	}
	return &c, nil
}

// Update writes the execution state columns. Subject and body are left alone;
// drafts change them through UpdateContent.
func (r *CampaignRepository) Update(ctx context.Context, c *model.Campaign) error {
	c.UpdatedAt = r.now()

	ds := goqu.Update(campaignsTable).
		Set(goqu.Record{
			"status":              c.Status,
			"last_processed_id":   c.LastProcessedID,
			"sent_count":          c.SentCount,
			"error_count":         c.ErrorCount,
			"total_recipients":    c.TotalRecipients,
			"max_recipient_id":    c.MaxRecipientID,
			"stop_at_count":       c.StopAtCount,
			"quota_increment":     c.QuotaIncrement,
			"quota_hit_at":        c.QuotaHitAt,
			"retry_cursor":        c.RetryCursor,
			"retry_pass_resolved": c.RetryPassResolved,
			"updated_at":          c.UpdatedAt,
		}).
		Where(goqu.C("id").Eq(c.ID))

	return r.expectOne(ctx, ds, c.ID)
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, id int64, status model.CampaignStatus) error {
	ds := goqu.Update(campaignsTable).
		Set(goqu.Record{"status": status, "updated_at": r.now()}).
		Where(goqu.C("id").Eq(id))

	return r.expectOne(ctx, ds, id)
}

func (r *CampaignRepository) TransitionStatus(ctx context.Context, id int64, from, to model.CampaignStatus) (bool, error) {
	ds := goqu.Update(campaignsTable).
		Set(goqu.Record{"status": to, "updated_at": r.now()}).
		Where(goqu.C("id").Eq(id), goqu.C("status").Eq(from))

	result, err := r.DB.Update(ctx, ds)
	if err != nil {
		return false, fmt.Errorf("error moving campaign %d from %s to %s: %w", id, from, to, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error moving campaign %d from %s to %s: %w", id, from, to, err)
	}
	return rows > 0, nil
}

func (r *CampaignRepository) UpdateContent(ctx context.Context, id int64, subject, body string) error {
	ds := goqu.Update(campaignsTable).
		Set(goqu.Record{"subject": subject, "body": body, "updated_at": r.now()}).
		Where(goqu.C("id").Eq(id))

	return r.expectOne(ctx, ds, id)
}

func (r *CampaignRepository) expectOne(ctx context.Context, ds *goqu.UpdateDataset, id int64) error {
	result, err := r.DB.Update(ctx, ds)
	if err != nil {
		return fmt.Errorf("error updating campaign %d: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return appErrors.NewCampaignNotFound(id)
	}
	return nil
}

func (r *CampaignRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.DB.Delete(ctx, goqu.Delete(campaignsTable).Where(goqu.C("id").Eq(id)))
	if err != nil {
		return fmt.Errorf("error deleting campaign %d: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return appErrors.NewCampaignNotFound(id)
	}
	return nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status model.CampaignStatus) ([]*model.Campaign, int, error) {
	filter := goqu.Ex{}
	if status != "" {
		filter["status"] = status
	}

	campaigns := []*model.Campaign{}
	ds := goqu.From(campaignsTable).
		Where(filter).
		Order(goqu.C("id").Desc()).
		Limit(uint(limit)).
		Offset(uint(offset))
	if err := r.DB.Select(ctx, &campaigns, ds); err != nil {
		return nil, 0, fmt.Errorf("error listing campaigns: %w", err)
	}

	var total int
	countDs := goqu.From(campaignsTable).Select(goqu.COUNT("*")).Where(filter)
	if err := r.DB.Get(ctx, &total, countDs); err != nil {
		return nil, 0, fmt.Errorf("error counting campaigns: %w", err)
	}

	return campaigns, total, nil
}

func (r *CampaignRepository) ListIDsByStatus(ctx context.Context, statuses []model.CampaignStatus, updatedBefore time.Time) ([]int64, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = s.String()
	}

	ids := []int64{}
	ds := goqu.From(campaignsTable).
		Select("id").
		Where(
			goqu.C("status").In(values),
			goqu.C("updated_at").Lt(updatedBefore),
		).
		Order(goqu.C("updated_at").Asc())
	if err := r.DB.Select(ctx, &ids, ds); err != nil {
		return nil, fmt.Errorf("error listing campaign ids: %w", err)
	}
	return ids, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
