package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/convoflow/pkg/cmd"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const delivery = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "WABA-1",
		"changes": [{
			"field": "messages",
			"value": {
				"messaging_product": "whatsapp",
				"metadata": {"phone_number_id": "1000"},
				"messages": [{"id": "wamid.API", "from": "5511999999999", "timestamp": "1714554000", "type": "text", "text": {"body": "hello"}}]
			}
		}]
	}]
}`

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	ctx := context.Background()

	pipeline, err := cmd.NewPipeline(ctx, slog.Default(), cmd.PipelineConfig{
		ServiceName: "convoflow-api-test",
		DatabaseURL: "memory://",
		EventBus:    "gochannel",
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pipeline.Close(ctx))
	})

	require.NoError(t, pipeline.Store.Accounts().Save(ctx, &models.Account{
		ID:            "acct-1",
		PhoneNumberID: "1000",
		Name:          "Acme",
	}))

	return NewAPI(slog.Default(), pipeline, web.WebhookConfig{VerifyToken: "verify-me"}).App()
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Convoflow API", readBody(t, resp))
}

func TestAPI_HealthCheck(t *testing.T) {
	app := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "OK", readBody(t, resp), path)
	}
}

func TestAPI_VerifyWebhook(t *testing.T) {
	app := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet,
		"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "42", readBody(t, resp))
}

func TestAPI_ReceiveAndDrain(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewBufferString(delivery))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var received web.WebhookResponse

	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &received))
	assert.Equal(t, 1, received.Received)
	assert.Equal(t, 1, received.Enqueued)

	for _, expected := range []int{1, 0} {
		resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/jobs/drain", nil))
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var drained map[string]int

		require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &drained))
		assert.Equal(t, expected, drained["processed"])
	}
}
