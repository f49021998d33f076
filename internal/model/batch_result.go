// internal/model/batch_result.go
package model

import "time"

// BatchResult is returned by every batch-advancing call, including no-ops,
// so polling callers can treat responses uniformly.
type BatchResult struct {
	Status         CampaignStatus `json:"status"`
	ProcessedCount int            `json:"processed_count"`
	TotalSent      int            `json:"total_sent"`
	TotalErrors    int            `json:"total_errors"`
	Progress       float64        `json:"progress"`
	QuotaHitAt     *time.Time     `json:"quota_hit_at,omitempty"`
}

// ResultFor builds a result reflecting the campaign's current counters.
func ResultFor(c *Campaign, processed int) *BatchResult {
	return &BatchResult{
		Status:         c.Status,
		ProcessedCount: processed,
		TotalSent:      c.SentCount,
		TotalErrors:    c.ErrorCount,
		Progress:       c.Progress(),
		QuotaHitAt:     c.QuotaHitAt,
	}
}

type CampaignDetails struct {
	Campaign
	Progress        float64 `json:"progress"`
	PendingFailures int     `json:"pending_failures"`
	Remaining       int     `json:"remaining"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}
