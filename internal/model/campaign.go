// internal/model/campaign.go
package model

import (
	"math"
	"time"
)

// CampaignStatus is the closed set of states a campaign execution moves through.
type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "draft"
	StatusPending   CampaignStatus = "pending"
	StatusSending   CampaignStatus = "sending"
	StatusPaused    CampaignStatus = "paused"
	StatusRetryMode CampaignStatus = "retry_mode"
	StatusCompleted CampaignStatus = "completed"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusSending, StatusPaused, StatusRetryMode, StatusCompleted:
		return true
	}
	return false
}

// AcceptsNormalBatch reports whether forward (cursor-driven) batches may run.
func (s CampaignStatus) AcceptsNormalBatch() bool {
	return s == StatusPending || s == StatusSending
}

// IsActive reports whether a worker should keep advancing the campaign.
func (s CampaignStatus) IsActive() bool {
	return s == StatusPending || s == StatusSending || s == StatusRetryMode
}

// Campaign is one execution of a message. RetryCursor is the last failure log
// ID attempted in the current retry pass; RetryPassResolved counts the resends
// that succeeded during that pass.
type Campaign struct {
	ID                int64          `db:"id" json:"id"`
	SourceCampaignID  *int64         `db:"source_campaign_id" json:"source_campaign_id,omitempty"`
	Subject           string         `db:"subject" json:"subject"`
	Body              string         `db:"body" json:"body"`
	Status            CampaignStatus `db:"status" json:"status"`
	LastProcessedID   int64          `db:"last_processed_id" json:"last_processed_id"`
	SentCount         int            `db:"sent_count" json:"sent_count"`
	ErrorCount        int            `db:"error_count" json:"error_count"`
	TotalRecipients   int            `db:"total_recipients" json:"total_recipients"`
	MaxRecipientID    int64          `db:"max_recipient_id" json:"max_recipient_id"`
	StopAtCount       int            `db:"stop_at_count" json:"stop_at_count"`
	QuotaIncrement    int            `db:"quota_increment" json:"quota_increment"`
	QuotaHitAt        *time.Time     `db:"quota_hit_at" json:"quota_hit_at,omitempty"`
	RetryCursor       int64          `db:"retry_cursor" json:"-"`
	RetryPassResolved int            `db:"retry_pass_resolved" json:"-"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// Processed is the number of recipients attempted in normal mode.
func (c *Campaign) Processed() int {
	return c.SentCount + c.ErrorCount
}

// IsNormalDone reports whether every recipient in the snapshot has been attempted.
func (c *Campaign) IsNormalDone() bool {
	return c.Processed() >= c.TotalRecipients
}

// Progress returns the completion percentage rounded to two decimals, capped at 100.
func (c *Campaign) Progress() float64 {
	total := c.TotalRecipients
	if total < 1 {
		total = 1
	}
	p := math.Min(100, float64(c.Processed())/float64(total)*100)
	return math.Round(p*100) / 100
}

// ResetRetryPass starts the next retry pass from the oldest failure.
func (c *Campaign) ResetRetryPass() {
	c.RetryCursor = 0
	c.RetryPassResolved = 0
}

// LaunchOptions carries the per-execution quota settings chosen at launch time.
type LaunchOptions struct {
	StopAtCount    int `json:"stop_at_count"`
	QuotaIncrement int `json:"quota_increment"`
}
