package resend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okredo/go-recurly/pkg/gorecurly"
)

func TestSend(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mailer := New("test-key", WithEndpoint(srv.URL))
	err := mailer.Send(context.Background(), &gorecurly.Email{
		To:      "invitee@example.com",
		From:    "invites@example.com",
		Subject: "You are invited",
		HTML:    "<p>hello</p>",
		Headers: map[string]string{"Content-Type": "text/html"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"invitee@example.com"}, got.To)
	assert.Equal(t, "invites@example.com", got.From)
	assert.Equal(t, "You are invited", got.Subject)
	assert.Equal(t, "<p>hello</p>", got.HTML)
}

func TestSendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	mailer := New("test-key", WithEndpoint(srv.URL))
	err := mailer.Send(context.Background(), &gorecurly.Email{To: "a@example.com"})
	assert.ErrorIs(t, err, ErrSendFailed)
}

func TestSendNotConfigured(t *testing.T) {
	mailer := New("")
	err := mailer.Send(context.Background(), &gorecurly.Email{To: "a@example.com"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
