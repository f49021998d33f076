package mailer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-batch-sender/internal/mailer"
	"github.com/unclebandit/campaign-batch-sender/internal/model"
)

var alice = model.Recipient{ID: 1, Email: "alice@example.com", DisplayName: "Alice"}

func TestMockMailer(t *testing.T) {
	cases := []struct {
		name    string
		rate    float64
		wantErr bool
	}{
		{name: "given a success rate of one, it should always succeed", rate: 1},
		{name: "given a success rate of zero, it should always fail", rate: 0, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := mailer.NewSeededMockMailer(tc.rate, 42)
			for i := 0; i < 20; i++ {
				err := m.Send(context.Background(), alice, "s", "b")
				if tc.wantErr {
					assert.ErrorIs(t, err, mailer.ErrMockSendFailed)
				} else {
					assert.NoError(t, err)
				}
			}
		})
	}

	t.Run("given a cancelled context, it should fail", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, mailer.NewMockMailer(1).Send(ctx, alice, "s", "b"), context.Canceled)
	})
}

func TestWebhookMailer(t *testing.T) {
	t.Run("given an accepting relay, it should post the message", func(t *testing.T) {
		var got mailer.WebhookRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusAccepted)
		}))
		defer server.Close()

		m := mailer.NewWebhookMailer(server.URL, server.Client())
		require.NoError(t, m.Send(context.Background(), alice, "Hello", "<p>Hi</p>"))

		assert.Equal(t, "alice@example.com", got.To)
		assert.Equal(t, int64(1), got.RecipientID)
		assert.Equal(t, "Hello", got.Subject)
		assert.Equal(t, "<p>Hi</p>", got.HTMLBody)
	})

	t.Run("given a rejecting relay, it should return a diagnostic", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte("mailbox unavailable\n"))
		}))
		defer server.Close()

		err := mailer.NewWebhookMailer(server.URL, nil).Send(context.Background(), alice, "s", "b")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 422")
		assert.Contains(t, err.Error(), "mailbox unavailable")
	})
}

type countingMailer struct{ calls int }

func (c *countingMailer) Send(context.Context, model.Recipient, string, string) error {
	c.calls++
	return nil
}

func TestRateLimited(t *testing.T) {
	t.Run("given no rate, it should return the wrapped mailer", func(t *testing.T) {
		next := &countingMailer{}
		assert.Same(t, next, mailer.NewRateLimited(next, 0, 0))
	})

	t.Run("given an exhausted burst and a short deadline, it should fail without sending", func(t *testing.T) {
		next := &countingMailer{}
		m := mailer.NewRateLimited(next, 0.001, 1)

		require.NoError(t, m.Send(context.Background(), alice, "s", "b"))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.Error(t, m.Send(ctx, alice, "s", "b"))
		assert.Equal(t, 1, next.calls)
	})
}
