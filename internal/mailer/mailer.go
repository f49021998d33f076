// internal/mailer/mailer.go
package mailer

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/unclebandit/campaign-batch-sender/internal/model"
)

// Mailer delivers one message to one recipient. A non-nil error is a
// per-recipient failure; its text is kept as the diagnostic.
type Mailer interface {
	Send(ctx context.Context, to model.Recipient, subject, htmlBody string) error
}

var ErrMockSendFailed = errors.New("mock sending failed")

// MockMailer simulates delivery, succeeding with probability SuccessRate.
type MockMailer struct {
	SuccessRate float64

	mu   sync.Mutex
	rand *rand.Rand
}

func NewMockMailer(successRate float64) *MockMailer {
	return &MockMailer{
		SuccessRate: successRate,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewSeededMockMailer gives a reproducible outcome sequence.
func NewSeededMockMailer(successRate float64, seed int64) *MockMailer {
	return &MockMailer{SuccessRate: successRate, rand: rand.New(rand.NewSource(seed))}
}

func (m *MockMailer) Send(ctx context.Context, _ model.Recipient, _, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.rand == nil {
		m.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	r := m.rand.Float64()
	m.mu.Unlock()

	if r < m.SuccessRate {
		return nil
	}
	return ErrMockSendFailed
}

var _ Mailer = (*MockMailer)(nil)
