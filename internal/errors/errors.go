// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrAlreadyCompleted rejects Initiate on a finished campaign. Callers treat
// it as a refused transition, not a failure.
var ErrAlreadyCompleted = errors.New("campaign already completed")

// ErrLockNotAcquired means another worker is advancing the same campaign.
var ErrLockNotAcquired = errors.New("campaign is locked by another worker")

// ErrCampaignNotFound is returned when a campaign ID does not resolve.
type ErrCampaignNotFound struct {
	CampaignID int64
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

func NewCampaignNotFound(id int64) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrInvalidState rejects an operation the campaign's current status does not allow.
type ErrInvalidState struct {
	CampaignID int64
	Status     string
	Op         string
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("cannot %s campaign %d in status %s", e.Op, e.CampaignID, e.Status)
}

func NewInvalidState(id int64, status, op string) error {
	return &ErrInvalidState{CampaignID: id, Status: status, Op: op}
}

// ErrInvalidInput rejects a malformed request before any state is touched.
type ErrInvalidInput struct {
	Field  string
	Reason string
}

func (e *ErrInvalidInput) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewInvalidInput(field, reason string) error {
	return &ErrInvalidInput{Field: field, Reason: reason}
}

type ErrForbidden struct {
	ActorID    string
	Permission string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("actor %q lacks permission %s", e.ActorID, e.Permission)
}

func NewForbidden(actorID, permission string) error {
	return &ErrForbidden{ActorID: actorID, Permission: permission}
}

// ErrPersistence wraps a failed transactional update. Its message is
// deliberately generic; the cause is available through Unwrap for logging.
type ErrPersistence struct {
	Op  string
	Err error
}

func (e *ErrPersistence) Error() string {
	return fmt.Sprintf("%s: failed to persist campaign progress", e.Op)
}

func (e *ErrPersistence) Unwrap() error { return e.Err }

func NewPersistence(op string, err error) error {
	return &ErrPersistence{Op: op, Err: err}
}

func IsNotFound(err error) bool {
	var target *ErrCampaignNotFound
	return errors.As(err, &target)
}

func IsInvalidState(err error) bool {
	var target *ErrInvalidState
	return errors.As(err, &target)
}

func IsInvalidInput(err error) bool {
	var target *ErrInvalidInput
	return errors.As(err, &target)
}

func IsForbidden(err error) bool {
	var target *ErrForbidden
	return errors.As(err, &target)
}

func IsPersistence(err error) bool {
	var target *ErrPersistence
	return errors.As(err, &target)
}
