package whatsapp_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/convoflow/pkg/whatsapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendText(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1000/messages", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "whatsapp", body["messaging_product"])
		assert.Equal(t, "5511999999999", body["to"])
		assert.Equal(t, map[string]any{"body": "Thanks for reaching out"}, body["text"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.OUT1"}]}`))
	}))
	defer server.Close()

	client := whatsapp.NewClient(slog.Default(), whatsapp.Config{BaseURL: server.URL + "/", AccessToken: "token"})

	id, err := client.SendText(context.Background(), "1000", "5511999999999", "Thanks for reaching out")
	require.NoError(t, err)
	assert.Equal(t, "wamid.OUT1", id)
}

func TestClient_SendTextErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
		wantErr   error
	}{
		{"invalid recipient", http.StatusBadRequest, `{"error":{"message":"Recipient phone number not in allowed list","code":131030}}`, true, whatsapp.ErrSendFailed},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"Too many messages","code":130429}}`, false, whatsapp.ErrSendFailed},
		{"server error", http.StatusBadGateway, `upstream down`, false, whatsapp.ErrSendFailed},
		{"no message id", http.StatusOK, `{"messages":[]}`, false, whatsapp.ErrNoMessageID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := whatsapp.NewClient(slog.Default(), whatsapp.Config{BaseURL: server.URL, AccessToken: "token"})

			_, err := client.SendText(context.Background(), "1000", "5511999999999", "hi")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.permanent, whatsapp.IsPermanent(err))
		})
	}
}

func TestClient_SendTextWithoutToken(t *testing.T) {
	t.Parallel()

	client := whatsapp.NewClient(slog.Default(), whatsapp.Config{})

	_, err := client.SendText(context.Background(), "1000", "5511999999999", "hi")
	assert.ErrorIs(t, err, whatsapp.ErrMissingConfig)
}
