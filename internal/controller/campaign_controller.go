// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-batch-sender/internal/errors"
	"github.com/unclebandit/campaign-batch-sender/internal/handler"
	"github.com/unclebandit/campaign-batch-sender/internal/logger"
	"github.com/unclebandit/campaign-batch-sender/internal/model"
)

// CampaignEngine is the write side of the campaign engine.
type CampaignEngine interface {
	CreateDraft(ctx context.Context, actor model.Actor, subject, body string) (*model.Campaign, error)
	UpdateDraft(ctx context.Context, actor model.Actor, id int64, subject, body string) (*model.Campaign, error)
	DeleteDraft(ctx context.Context, actor model.Actor, id int64) error
	Launch(ctx context.Context, actor model.Actor, draftID int64, opts model.LaunchOptions) (*model.Campaign, error)
	Initiate(ctx context.Context, actor model.Actor, id int64) (int, error)
	ProcessBatch(ctx context.Context, actor model.Actor, id int64, size int) (*model.BatchResult, error)
	ProcessRetryBatch(ctx context.Context, actor model.Actor, id int64, size int) (*model.BatchResult, error)
	Pause(ctx context.Context, actor model.Actor, id int64) error
	Resume(ctx context.Context, actor model.Actor, id int64) error
}

// Dispatcher hands a campaign to the background worker.
type Dispatcher interface {
	Enqueue(ctx context.Context, campaignID int64) error
}

type CampaignController struct {
	Engine     CampaignEngine
	Dispatcher Dispatcher
	Logger     *zap.Logger
}

func NewCampaignController(engine CampaignEngine, dispatcher Dispatcher, log *zap.Logger) *CampaignController {
	if log == nil {
		log = zap.NewNop()
	}
	return &CampaignController{
		Engine:     engine,
		Dispatcher: dispatcher,
		Logger:     log.With(zap.String("component", "campaign_controller")),
	}
}

type draftRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type batchRequest struct {
	BatchSize int `json:"batch_size"`
}

// decode reads an optional JSON body; an empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return appErrors.NewInvalidInput("body", "malformed JSON")
	}
	return nil
}

// dispatch failures are logged only; the sweeper picks the campaign up later.
func (c *CampaignController) dispatch(ctx context.Context, id int64) {
	if c.Dispatcher == nil {
		return
	}
	if err := c.Dispatcher.Enqueue(ctx, id); err != nil {
		c.Logger.Warn("failed to enqueue campaign", logger.CampaignID(id), zap.Error(err))
	}
}

func (c *CampaignController) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var body draftRequest
	if err := decode(r, &body); err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}

	campaign, err := c.Engine.CreateDraft(r.Context(), handler.ActorFrom(r.Context()), body.Subject, body.Body)
	if err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}
	handler.JSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	id, err := handler.CampaignID(r)
	if err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}
	var body draftRequest
	if err := decode(r, &body); err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}

	campaign, err := c.Engine.UpdateDraft(r.Context(), handler.ActorFrom(r.Context()), id, body.Subject, body.Body)
	if err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}
	handler.JSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	id, err := handler.CampaignID(r)
	if err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}
	if err := c.Engine.DeleteDraft(r.Context(), handler.ActorFrom(r.Context()), id); err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Launch copies a draft into a new execution and starts it.
func (c *CampaignController) Launch(w http.ResponseWriter, r *http.Request) {
	id, err := handler.CampaignID(r)
	if err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}
	var opts model.LaunchOptions
	if err := decode(r, &opts); err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}

	campaign, err := c.Engine.Launch(r.Context(), handler.ActorFrom(r.Context()), id, opts)
	if err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}
	c.dispatch(r.Context(), campaign.ID)
	handler.JSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) Initiate(w http.ResponseWriter, r *http.Request) {
	id, err := handler.CampaignID(r)
	if err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}

	total, err := c.Engine.Initiate(r.Context(), handler.ActorFrom(r.Context()), id)
	if err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}
	c.dispatch(r.Context(), id)
	handler.JSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"campaign_id":      id,
		"total_recipients": total,
	})
}

func (c *CampaignController) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	c.batch(w, r, c.Engine.ProcessBatch)
}

func (c *CampaignController) ProcessRetryBatch(w http.ResponseWriter, r *http.Request) {
	c.batch(w, r, c.Engine.ProcessRetryBatch)
}

func (c *CampaignController) batch(w http.ResponseWriter, r *http.Request,
	run func(ctx context.Context, actor model.Actor, id int64, size int) (*model.BatchResult, error)) {
	id, err := handler.CampaignID(r)
	if err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}
	var body batchRequest
	if err := decode(r, &body); err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}

	result, err := run(r.Context(), handler.ActorFrom(r.Context()), id, body.BatchSize)
	if err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}
	handler.JSON(w, http.StatusOK, result)
}

func (c *CampaignController) Pause(w http.ResponseWriter, r *http.Request) {
	id, err := handler.CampaignID(r)
	if err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}
	if err := c.Engine.Pause(r.Context(), handler.ActorFrom(r.Context()), id); err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}
	handler.JSON(w, http.StatusOK, map[string]any{"success": true, "status": model.StatusPaused})
}

func (c *CampaignController) Resume(w http.ResponseWriter, r *http.Request) {
	id, err := handler.CampaignID(r)
	if err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}
	if err := c.Engine.Resume(r.Context(), handler.ActorFrom(r.Context()), id); err != nil {
		handler.WriteError(w, r, c.Logger, err)
		return
	}
	c.dispatch(r.Context(), id)
	handler.JSON(w, http.StatusOK, map[string]any{"success": true})
}
