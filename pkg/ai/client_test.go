package ai_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/convoflow/pkg/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Complete(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Our store opens at 9.  "}}]}`))
	}))
	defer server.Close()

	client := ai.NewClient(slog.Default(), ai.Config{BaseURL: server.URL + "/v1/", APIKey: "secret", Model: "test-model"})

	text, err := client.Complete(context.Background(), "When do you open?")
	require.NoError(t, err)
	assert.Equal(t, "Our store opens at 9.", text)
}

func TestClient_CompleteErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		delay   time.Duration
		wantErr error
	}{
		{"server error", http.StatusBadGateway, `upstream down`, 0, ai.ErrCompletionFailed},
		{"no choices", http.StatusOK, `{"choices":[]}`, 0, ai.ErrEmptyCompletion},
		{"blank content", http.StatusOK, `{"choices":[{"message":{"content":"  "}}]}`, 0, ai.ErrEmptyCompletion},
		{"timeout", http.StatusOK, `{}`, 200 * time.Millisecond, ai.ErrCompletionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(tt.delay)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := ai.NewClient(slog.Default(), ai.Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond})

			_, err := client.Complete(context.Background(), "hi")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
