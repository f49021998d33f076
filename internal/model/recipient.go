// internal/model/recipient.go
package model

type Recipient struct {
	ID          int64  `db:"id" json:"id"`
	Email       string `db:"email" json:"email"`
	DisplayName string `db:"display_name" json:"display_name"`
}
