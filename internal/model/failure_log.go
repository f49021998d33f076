// internal/model/failure_log.go
package model

import "time"

const FailureStatusFailed = "failed"

// MaxFailureMessageLength bounds the stored diagnostic, in runes.
const MaxFailureMessageLength = 255

type FailureLog struct {
	ID           int64     `db:"id" json:"id"`
	CampaignID   int64     `db:"campaign_id" json:"campaign_id"`
	RecipientID  int64     `db:"recipient_id" json:"recipient_id"`
	Status       string    `db:"status" json:"status"` // always "failed"; successful sends are not logged
	ErrorMessage string    `db:"error_message" json:"error_message"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// TruncateDiagnostic cuts msg to MaxFailureMessageLength runes.
func TruncateDiagnostic(msg string) string {
	r := []rune(msg)
	if len(r) <= MaxFailureMessageLength {
		return msg
	}
	return string(r[:MaxFailureMessageLength])
}
