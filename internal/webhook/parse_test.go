package webhook

import (
	"errors"
	"testing"

	"github.com/acme/pharmacy-outreach/internal/domain"
	apperrors "github.com/acme/pharmacy-outreach/pkg/errors"
)

func TestParseEnvelopeVariants(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		kind     domain.ProviderEventKind
		event    string
		provider string
		phone    string
		patient  string
	}{
		{
			name:     "call started with callId",
			body:     `{"event":"call-started","data":{"callId":"prov-1","phoneNumber":"+12015550123"}}`,
			kind:     domain.ProviderEventProgress,
			event:    EventCallStarted,
			provider: "prov-1",
			phone:    "+12015550123",
		},
		{
			name:     "ringing with id and customer number",
			body:     `{"event":"ringing","data":{"id":"prov-2","customer":{"number":"+12015550199"}}}`,
			kind:     domain.ProviderEventProgress,
			event:    EventRinging,
			provider: "prov-2",
			phone:    "+12015550199",
		},
		{
			name:     "answered with vapiCallId",
			body:     `{"event":"answered","data":{"vapiCallId":"prov-3","to":"+12015550100"}}`,
			kind:     domain.ProviderEventProgress,
			event:    EventAnswered,
			provider: "prov-3",
			phone:    "+12015550100",
		},
		{
			name:     "ended with nested call id and metadata",
			body:     `{"event":"call-ended","data":{"call":{"id":"prov-4"},"metadata":{"patientId":"p-1"}}}`,
			kind:     domain.ProviderEventEnded,
			event:    EventCallEnded,
			provider: "prov-4",
			patient:  "p-1",
		},
		{
			name:     "server message end of call report",
			body:     `{"message":{"type":"end-of-call-report","call":{"id":"prov-5","metadata":{"patientId":"p-2"}}}}`,
			kind:     domain.ProviderEventEnded,
			event:    EventCallEnded,
			provider: "prov-5",
			patient:  "p-2",
		},
		{
			name:     "server message status update in progress",
			body:     `{"message":{"type":"status-update","status":"in-progress","call":{"id":"prov-6"}}}`,
			kind:     domain.ProviderEventProgress,
			event:    EventCallStarted,
			provider: "prov-6",
		},
		{
			name:     "unknown event",
			body:     `{"event":"speech-update","data":{"callId":"prov-7"}}`,
			kind:     domain.ProviderEventUnrecognized,
			event:    "speech-update",
			provider: "prov-7",
		},
		{
			name:     "flat body without data",
			body:     `{"event":"queued","callId":"prov-8"}`,
			kind:     domain.ProviderEventProgress,
			event:    EventQueued,
			provider: "prov-8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Parse([]byte(tt.body))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if ev.Kind() != tt.kind {
				t.Fatalf("kind = %s, want %s", ev.Kind(), tt.kind)
			}
			if ev.Name() != tt.event {
				t.Fatalf("event = %q, want %q", ev.Name(), tt.event)
			}
			key := ev.Key()
			if key.ProviderCallID != tt.provider {
				t.Fatalf("provider id = %q, want %q", key.ProviderCallID, tt.provider)
			}
			if key.PhoneNumber != tt.phone {
				t.Fatalf("phone = %q, want %q", key.PhoneNumber, tt.phone)
			}
			if key.PatientID != tt.patient {
				t.Fatalf("patient = %q, want %q", key.PatientID, tt.patient)
			}
		})
	}
}

func TestParseEndedFields(t *testing.T) {
	body := `{"event":"call-ended","data":{
		"callId":"prov-1",
		"result":{"summary":"Delivery confirmed","transcript":"hi there"},
		"durationSeconds":"42.5",
		"state":"ended",
		"successEvaluation":"false",
		"endedReason":"customer-busy",
		"errorMessage":"line busy",
		"endedBy":"customer"
	}}`

	ev, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ended, ok := ev.(domain.EndedEvent)
	if !ok {
		t.Fatalf("got %T, want EndedEvent", ev)
	}
	if ended.Summary != "Delivery confirmed" || ended.Transcript != "hi there" {
		t.Fatalf("summary/transcript = %q/%q", ended.Summary, ended.Transcript)
	}
	if ended.DurationSeconds != 42.5 {
		t.Fatalf("duration = %v, want 42.5", ended.DurationSeconds)
	}
	if ended.Status != "ended" || ended.Reason != "customer-busy" || ended.Error != "line busy" || ended.HangupBy != "customer" {
		t.Fatalf("unexpected fields: %+v", ended)
	}
	if ended.Success == nil || *ended.Success {
		t.Fatalf("success = %v, want false", ended.Success)
	}
}

func TestParseEndedPrefersSuccessEvaluation(t *testing.T) {
	ev, err := Parse([]byte(`{"event":"call-ended","data":{"callId":"p","successEvaluation":true,"success":false,"duration":30}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ended := ev.(domain.EndedEvent)
	if ended.Success == nil || !*ended.Success {
		t.Fatalf("success = %v, want true", ended.Success)
	}
	if ended.DurationSeconds != 30 {
		t.Fatalf("duration = %v, want 30", ended.DurationSeconds)
	}
}

func TestParseEndedWithoutSuccessLeavesNil(t *testing.T) {
	ev, err := Parse([]byte(`{"event":"call-ended","data":{"callId":"p"}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ended := ev.(domain.EndedEvent); ended.Success != nil || ended.DurationSeconds != 0 {
		t.Fatalf("unexpected ended event: %+v", ended)
	}
}

func TestParseTranscriptAndFunctionCall(t *testing.T) {
	ev, err := Parse([]byte(`{"event":"transcript","data":{"callId":"p","speaker":"patient","transcript":"yes please","timestamp":"2024-05-01T10:00:00Z"}}`))
	if err != nil {
		t.Fatalf("Parse transcript: %v", err)
	}
	tr := ev.(domain.TranscriptEvent)
	if tr.Speaker != "patient" || tr.Transcript != "yes please" || tr.Timestamp == "" {
		t.Fatalf("unexpected transcript: %+v", tr)
	}

	ev, err = Parse([]byte(`{"event":"function-call","data":{"callId":"p","functionName":"confirmDelivery","parameters":{"date":"2024-05-03"}}}`))
	if err != nil {
		t.Fatalf("Parse function call: %v", err)
	}
	fc := ev.(domain.FunctionCallEvent)
	if fc.FunctionName != "confirmDelivery" || fc.Parameters["date"] != "2024-05-03" {
		t.Fatalf("unexpected function call: %+v", fc)
	}

	ev, err = Parse([]byte(`{"message":{"type":"tool-calls","call":{"id":"p"},"toolCallList":[{"function":{"name":"updateMedication","arguments":"{\"dose\":\"10mg\"}"}}]}}`))
	if err != nil {
		t.Fatalf("Parse tool calls: %v", err)
	}
	fc = ev.(domain.FunctionCallEvent)
	if fc.FunctionName != "updateMedication" || fc.Parameters["dose"] != "10mg" {
		t.Fatalf("unexpected tool call: %+v", fc)
	}
}

func TestParseRejectsMalformedBodies(t *testing.T) {
	bodies := map[string]string{
		"empty":             ``,
		"not json":          `event=call-ended`,
		"array":             `[1,2]`,
		"missing event":     `{"data":{"callId":"p"}}`,
		"data not object":   `{"event":"call-ended","data":"oops"}`,
		"message no type":   `{"message":{"call":{"id":"p"}}}`,
		"bad duration":      `{"event":"call-ended","data":{"callId":"p","duration":"long"}}`,
		"negative seconds":  `{"event":"call-ended","data":{"callId":"p","duration":-3}}`,
		"absurd duration":   `{"event":"call-ended","data":{"callId":"p","durationSeconds":1e12}}`,
		"duration over 24h": `{"event":"call-ended","data":{"callId":"p","durationSeconds":86401}}`,
		"nan duration":      `{"event":"call-ended","data":{"callId":"p","durationSeconds":"NaN"}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}
}
