package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/pharmacy-outreach/internal/config"
	"github.com/acme/pharmacy-outreach/internal/domain"
	"github.com/acme/pharmacy-outreach/internal/metrics"
	"github.com/acme/pharmacy-outreach/internal/repository/memory"
	callsvc "github.com/acme/pharmacy-outreach/internal/service/call"
	telephonyMock "github.com/acme/pharmacy-outreach/internal/telephony/mock"
)

func newMockLifecycle(t *testing.T, cfg config.CallBridgeConfig) (*callsvc.Service, *memory.Logs, domain.Patient) {
	t.Helper()
	patients := memory.NewPatients()
	patient := domain.Patient{ID: uuid.New(), Name: "Ada Lovelace", Phone: "+12015550123"}
	patients.Put(patient)

	gateway := telephonyMock.NewGateway(cfg, nil)
	t.Cleanup(func() { _ = gateway.Close() })

	logs := memory.NewLogs()
	m := metrics.New()
	calls := callsvc.NewService(callsvc.Dependencies{
		Patients: patients,
		Calls:    memory.NewCalls(),
		Logs:     logs,
		Stats:    memory.NewStats(),
		Gateway:  gateway,
		Metrics:  m,
	}, callsvc.Config{DispatchTimeout: time.Second})

	dispatcher := NewDispatcher(calls, logs, m, nil)
	gateway.SetSink(func(ctx context.Context, raw []byte) error {
		_, err := dispatcher.Dispatch(ctx, raw, true)
		return err
	})
	return calls, logs, patient
}

func TestMockDispatchedCallReachesCompleted(t *testing.T) {
	calls, logs, patient := newMockLifecycle(t, config.CallBridgeConfig{
		ProviderName:     "mock",
		MockCallDuration: 100 * time.Millisecond,
	})

	call, err := calls.CreateAndDispatch(context.Background(), patient.ID, nil)
	require.NoError(t, err)
	require.Equal(t, domain.CallStatusPending, call.Status)

	var final *domain.Call
	require.Eventually(t, func() bool {
		details, err := calls.GetCall(context.Background(), call.ID, 0, "")
		if err != nil {
			return false
		}
		final = details.Call
		return final.Status == domain.CallStatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	assert.Contains(t, final.Summary, patient.Name)
	require.NotNil(t, final.CompletedAt)
	assert.False(t, final.CompletedAt.Before(final.CreatedAt))

	types := logs.EventTypes(call.ID)
	assert.Contains(t, types, domain.LogCallStarted)
	assert.Contains(t, types, domain.LogTranscript)
	assert.Contains(t, types, domain.LogCallEnded)
	assert.NotEmpty(t, logs.Journal())
}

func TestMockUnansweredCallFails(t *testing.T) {
	calls, _, patient := newMockLifecycle(t, config.CallBridgeConfig{
		ProviderName:     "mock",
		MockNoAnswerRate: 1,
		MockCallDuration: 100 * time.Millisecond,
	})

	call, err := calls.CreateAndDispatch(context.Background(), patient.ID, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		details, err := calls.GetCall(context.Background(), call.ID, 0, "")
		return err == nil && details.Call.Status == domain.CallStatusFailed
	}, 3*time.Second, 10*time.Millisecond)
}
