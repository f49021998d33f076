package service

import "github.com/unclebandit/campaign-batch-sender/internal/model"

// RemainingBatchSize clamps requested to what the send quota still allows.
// A StopAtCount of zero or less means no quota.
func RemainingBatchSize(c *model.Campaign, requested int) int {
	if c.StopAtCount <= 0 {
		return requested
	}
	left := c.StopAtCount - c.SentCount
	if left < 0 {
		return 0
	}
	if left < requested {
		return left
	}
	return requested
}

func IsQuotaHit(c *model.Campaign, newSent int) bool {
	return c.StopAtCount > 0 && newSent >= c.StopAtCount
}
