package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unclebandit/campaign-batch-sender/internal/model"
)

func TestCampaignProgress(t *testing.T) {
	cases := []struct {
		name string
		c    model.Campaign
		want float64
	}{
		{"empty snapshot", model.Campaign{}, 0},
		{"third", model.Campaign{SentCount: 1, TotalRecipients: 3}, 33.33},
		{"errors count as processed", model.Campaign{SentCount: 40, ErrorCount: 10, TotalRecipients: 120}, 41.67},
		{"capped", model.Campaign{SentCount: 5, TotalRecipients: 4}, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.c.Progress())
		})
	}
}

func TestCampaignStatusPredicates(t *testing.T) {
	assert.True(t, model.StatusPending.AcceptsNormalBatch())
	assert.True(t, model.StatusSending.AcceptsNormalBatch())
	assert.False(t, model.StatusRetryMode.AcceptsNormalBatch())
	assert.True(t, model.StatusRetryMode.IsActive())
	assert.False(t, model.StatusPaused.IsActive())
	assert.False(t, model.CampaignStatus("archived").IsValid())
}

func TestTruncateDiagnostic(t *testing.T) {
	short := "smtp: 550 mailbox unavailable"
	assert.Equal(t, short, model.TruncateDiagnostic(short))

	long := strings.Repeat("é", model.MaxFailureMessageLength+20)
	got := model.TruncateDiagnostic(long)
	assert.Equal(t, model.MaxFailureMessageLength, len([]rune(got)))
}

func TestActorCan(t *testing.T) {
	viewer := model.ViewerActor("ops")
	assert.True(t, viewer.Can(model.PermViewCampaigns))
	assert.False(t, viewer.Can(model.PermSendCampaigns))
	assert.True(t, model.SystemActor("worker").Can(model.PermSendCampaigns))
}
