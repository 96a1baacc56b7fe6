package vapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/pharmacy-outreach/internal/config"
	"github.com/acme/pharmacy-outreach/internal/telephony"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(config.CallBridgeConfig{
		BaseURL:        srv.URL + "/",
		CallsPath:      "v1/call",
		APIKey:         "secret-key",
		AssistantID:    "assistant-1",
		RequestTimeout: 2 * time.Second,
	}, nil)
	require.NoError(t, err)
	return client
}

func TestInitiateCall_SendsPayloadAndReturnsProviderID(t *testing.T) {
	patientID := uuid.New()
	var got map[string]any

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/call", r.URL.Path)
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"prov-123","status":"queued"}`))
	})

	dispatch, err := client.InitiateCall(context.Background(), telephony.Request{
		CallID:      uuid.New(),
		Destination: "+12015550123",
		PatientID:   patientID,
		PatientName: "Ada",
	})
	require.NoError(t, err)
	assert.Equal(t, "prov-123", dispatch.ProviderCallID)
	assert.Equal(t, "queued", dispatch.Status)

	assert.Equal(t, "+12015550123", got["phoneNumber"])
	assert.Equal(t, "+12015550123", got["to"])
	assert.Equal(t, "assistant-1", got["assistantId"])
	assert.NotContains(t, got, "webhookUrl")
	metadata, ok := got["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, patientID.String(), metadata["patientId"])
}

func TestInitiateCall_FallsBackToAlternateIDField(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"callId":"alt-9"}`))
	})

	dispatch, err := client.InitiateCall(context.Background(), telephony.Request{Destination: "+12015550123"})
	require.NoError(t, err)
	assert.Equal(t, "alt-9", dispatch.ProviderCallID)
}

func TestInitiateCall_NonSuccessStatusIsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("invalid number"))
	})

	_, err := client.InitiateCall(context.Background(), telephony.Request{Destination: "+12015550123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "invalid number")
}

func TestInitiateCall_HonoursContextDeadline(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.InitiateCall(ctx, telephony.Request{Destination: "+12015550123"})
	require.Error(t, err)
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(config.CallBridgeConfig{BaseURL: "http://localhost"}, nil)
	assert.Error(t, err)
}
