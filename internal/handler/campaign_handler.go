// internal/handler/campaign_handler.go
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-batch-sender/internal/errors"
	"github.com/unclebandit/campaign-batch-sender/internal/model"
)

// CampaignReader is the read side of the campaign engine.
type CampaignReader interface {
	ListCampaigns(ctx context.Context, actor model.Actor, page, pageSize int, status model.CampaignStatus) ([]model.Campaign, model.Pagination, error)
	GetCampaignDetails(ctx context.Context, actor model.Actor, id int64) (*model.CampaignDetails, error)
	ListFailures(ctx context.Context, actor model.Actor, id int64, page, pageSize int) ([]model.FailureLog, model.Pagination, error)
}

type CampaignHandler struct {
	Reader CampaignReader
	Logger *zap.Logger
}

func NewCampaignHandler(reader CampaignReader, logger *zap.Logger) *CampaignHandler {
	return &CampaignHandler{Reader: reader, Logger: logger}
}

// CampaignID parses the {id} URL parameter.
func CampaignID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.NewInvalidInput("id", "must be a positive integer")
	}
	return id, nil
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}

// ListCampaigns returns a paginated list of campaigns
func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	status := model.CampaignStatus(r.URL.Query().Get("status"))

	campaigns, pagination, err := h.Reader.ListCampaigns(r.Context(), ActorFrom(r.Context()),
		queryInt(r, "page"), queryInt(r, "page_size"), status)
	if err != nil {
		WriteError(w, r, h.Logger, err)
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (h *CampaignHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := CampaignID(r)
	if err != nil {
		WriteError(w, r, h.Logger, err)
		return
	}

	details, err := h.Reader.GetCampaignDetails(r.Context(), ActorFrom(r.Context()), id)
	if err != nil {
		WriteError(w, r, h.Logger, err)
		return
	}
	JSON(w, http.StatusOK, details)
}

func (h *CampaignHandler) ListFailures(w http.ResponseWriter, r *http.Request) {
	id, err := CampaignID(r)
	if err != nil {
		WriteError(w, r, h.Logger, err)
		return
	}

	logs, pagination, err := h.Reader.ListFailures(r.Context(), ActorFrom(r.Context()), id,
		queryInt(r, "page"), queryInt(r, "page_size"))
	if err != nil {
		WriteError(w, r, h.Logger, err)
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"data":       logs,
		"pagination": pagination,
	})
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	DB Pinger
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
