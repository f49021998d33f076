// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-batch-sender/internal/errors"
	"github.com/unclebandit/campaign-batch-sender/internal/lock"
	"github.com/unclebandit/campaign-batch-sender/internal/logger"
	"github.com/unclebandit/campaign-batch-sender/internal/mailer"
	"github.com/unclebandit/campaign-batch-sender/internal/model"
	"github.com/unclebandit/campaign-batch-sender/internal/repository"
)

const (
	DefaultBatchSize = 50
	DefaultPageSize  = 20
	MaxPageSize      = 100
)

var tracer = otel.Tracer("github.com/unclebandit/campaign-batch-sender/internal/service")

// Transactor runs fn in one database transaction carried by ctx.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CampaignService is the entry point for every campaign operation. Calls that
// send or mutate execution state hold the per-campaign lock for their whole
// duration.
type CampaignService struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	FailureRepo   repository.FailureLogRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	Tx            Transactor
	Mailer        mailer.Mailer
	Locker        lock.Locker
	Logger        *zap.Logger
	Now           func() time.Time
	BatchSize     int

	fallbackOnce sync.Once
	fallbackLock lock.Locker
}

func (s *CampaignService) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *CampaignService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *CampaignService) locker() lock.Locker {
	if s.Locker != nil {
		return s.Locker
	}
	s.fallbackOnce.Do(func() { s.fallbackLock = lock.NewKeyedMutex() })
	return s.fallbackLock
}

func (s *CampaignService) batchSize(requested int) int {
	if requested > 0 {
		return requested
	}
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return DefaultBatchSize
}

func authorize(actor model.Actor, perm model.Permission) error {
	if !actor.Can(perm) {
		return appErrors.NewForbidden(actor.ID, string(perm))
	}
	return nil
}

func (s *CampaignService) acquire(ctx context.Context, campaignID int64) (func(), error) {
	unlock, err := s.locker().Lock(ctx, campaignID)
	if err != nil {
		if errors.Is(err, appErrors.ErrLockNotAcquired) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to lock campaign %d: %w", campaignID, err)
	}
	return unlock, nil
}

func startSpan(ctx context.Context, name string, actor model.Actor, campaignID int64) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("actor.id", actor.ID)}
	if campaignID > 0 {
		attrs = append(attrs, attribute.Int64("campaign.id", campaignID))
	}
	return tracer.Start(ctx, "CampaignService."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func isDomainError(err error) bool {
	return appErrors.IsNotFound(err) ||
		appErrors.IsInvalidState(err) ||
		appErrors.IsInvalidInput(err) ||
		appErrors.IsForbidden(err) ||
		errors.Is(err, appErrors.ErrAlreadyCompleted) ||
		errors.Is(err, appErrors.ErrLockNotAcquired)
}

// persistFailed logs a failed state write at critical severity and hides the
// cause behind ErrPersistence. Domain errors pass through unchanged.
func (s *CampaignService) persistFailed(op string, campaignID int64, err error) error {
	if isDomainError(err) {
		return err
	}
	s.log().Error("failed to persist campaign state",
		logger.Critical(),
		logger.CampaignID(campaignID),
		zap.String("op", op),
		zap.Error(err))
	return appErrors.NewPersistence(op, err)
}

// ====================== Drafts ======================

func validateContent(subject, body string) error {
	if strings.TrimSpace(subject) == "" {
		return appErrors.NewInvalidInput("subject", "must not be empty")
	}
	if strings.TrimSpace(body) == "" {
		return appErrors.NewInvalidInput("body", "must not be empty")
	}
	return nil
}

func (s *CampaignService) CreateDraft(ctx context.Context, actor model.Actor, subject, body string) (c *model.Campaign, err error) {
	ctx, span := startSpan(ctx, "CreateDraft", actor, 0)
	defer func() { endSpan(span, err) }()

	if err := authorize(actor, model.PermManageCampaigns); err != nil {
		return nil, err
	}
	if err := validateContent(subject, body); err != nil {
		return nil, err
	}

	c = &model.Campaign{Subject: subject, Body: body, Status: model.StatusDraft}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, s.persistFailed("create draft", 0, err)
	}

	s.log().Info("draft created", logger.CampaignID(c.ID), zap.String("actor", actor.ID))
	return c, nil
}

// UpdateDraft replaces subject and body. Content is frozen once a campaign
// leaves draft.
func (s *CampaignService) UpdateDraft(ctx context.Context, actor model.Actor, id int64, subject, body string) (c *model.Campaign, err error) {
	ctx, span := startSpan(ctx, "UpdateDraft", actor, id)
	defer func() { endSpan(span, err) }()

	if err := authorize(actor, model.PermManageCampaigns); err != nil {
		return nil, err
	}
	if err := validateContent(subject, body); err != nil {
		return nil, err
	}

	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.CampaignRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != model.StatusDraft {
			return appErrors.NewInvalidState(id, current.Status.String(), "update")
		}
		if err := s.CampaignRepo.UpdateContent(ctx, id, subject, body); err != nil {
			return err
		}
		current.Subject, current.Body = subject, body
		c = current
		return nil
	})
	if err != nil {
		return nil, s.persistFailed("update draft", id, err)
	}
	return c, nil
}

func (s *CampaignService) DeleteDraft(ctx context.Context, actor model.Actor, id int64) (err error) {
	ctx, span := startSpan(ctx, "DeleteDraft", actor, id)
	defer func() { endSpan(span, err) }()

	if err := authorize(actor, model.PermManageCampaigns); err != nil {
		return err
	}

	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.CampaignRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != model.StatusDraft {
			return appErrors.NewInvalidState(id, current.Status.String(), "delete")
		}
		return s.CampaignRepo.Delete(ctx, id)
	})
	if err != nil {
		return s.persistFailed("delete draft", id, err)
	}
	return nil
}

// ====================== Read side ======================

func pageBounds(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize, (page - 1) * pageSize
}

func paginate(page, pageSize, total int) model.Pagination {
	return model.Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}
}

// ListCampaigns fetches campaigns newest first, optionally filtered by status.
func (s *CampaignService) ListCampaigns(ctx context.Context, actor model.Actor, page, pageSize int, status model.CampaignStatus) ([]model.Campaign, model.Pagination, error) {
	if err := authorize(actor, model.PermViewCampaigns); err != nil {
		return nil, model.Pagination{}, err
	}
	if status != "" && !status.IsValid() {
		return nil, model.Pagination{}, appErrors.NewInvalidInput("status", fmt.Sprintf("unknown status %q", status))
	}

	page, pageSize, offset := pageBounds(page, pageSize)
	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, model.Pagination{}, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}
	return campaigns, paginate(page, pageSize, total), nil
}

func (s *CampaignService) GetCampaignDetails(ctx context.Context, actor model.Actor, id int64) (*model.CampaignDetails, error) {
	if err := authorize(actor, model.PermViewCampaigns); err != nil {
		return nil, err
	}

	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	pending, err := s.FailureRepo.CountByCampaign(ctx, id)
	if err != nil {
		return nil, err
	}

	remaining := c.TotalRecipients - c.Processed()
	if remaining < 0 || c.Status == model.StatusDraft {
		remaining = 0
	}

	return &model.CampaignDetails{
		Campaign:        *c,
		Progress:        c.Progress(),
		PendingFailures: pending,
		Remaining:       remaining,
	}, nil
}

// ListFailures pages through the campaign's outstanding failure log, oldest first.
func (s *CampaignService) ListFailures(ctx context.Context, actor model.Actor, id int64, page, pageSize int) ([]model.FailureLog, model.Pagination, error) {
	if err := authorize(actor, model.PermViewCampaigns); err != nil {
		return nil, model.Pagination{}, err
	}
	if _, err := s.CampaignRepo.GetByID(ctx, id); err != nil {
		return nil, model.Pagination{}, err
	}

	page, pageSize, offset := pageBounds(page, pageSize)
	logs, err := s.FailureRepo.ListByCampaign(ctx, id, pageSize, offset)
	if err != nil {
		return nil, model.Pagination{}, err
	}
	total, err := s.FailureRepo.CountByCampaign(ctx, id)
	if err != nil {
		return nil, model.Pagination{}, err
	}
	return logs, paginate(page, pageSize, total), nil
}

// Advance runs whichever batch kind the campaign's status calls for.
func (s *CampaignService) Advance(ctx context.Context, actor model.Actor, id int64, size int) (*model.BatchResult, error) {
	if err := authorize(actor, model.PermSendCampaigns); err != nil {
		return nil, err
	}

	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch c.Status {
	case model.StatusPending, model.StatusSending:
		return s.ProcessBatch(ctx, actor, id, size)
	case model.StatusRetryMode:
		return s.ProcessRetryBatch(ctx, actor, id, size)
	default:
		return model.ResultFor(c, 0), nil
	}
}
