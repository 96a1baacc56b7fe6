package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/acme/pharmacy-outreach/internal/domain"
	apperrors "github.com/acme/pharmacy-outreach/pkg/errors"
)

// Provider event names.
const (
	EventCallStarted  = "call-started"
	EventQueued       = "queued"
	EventRinging      = "ringing"
	EventAnswered     = "answered"
	EventCallEnded    = "call-ended"
	EventTranscript   = "transcript"
	EventFunctionCall = "function-call"

	// server-message names some provider accounts send instead
	eventStatusUpdate    = "status-update"
	eventEndOfCallReport = "end-of-call-report"
	eventServerToolCalls = "tool-calls"
)

// payload is a decoded JSON object with lookups over dotted paths.
type payload map[string]any

// Parse decodes a raw webhook body into one of the provider event variants.
// Both the {event, data} envelope and the {message: {type, ...}} form are
// accepted. Field name variants are folded into one canonical shape.
func Parse(raw []byte) (domain.ProviderEvent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("webhook: empty body: %w", apperrors.ErrValidation)
	}

	var envelope map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("webhook: decode body: %v: %w", err, apperrors.ErrValidation)
	}

	name, data, err := unwrap(envelope)
	if err != nil {
		return nil, err
	}

	key := domain.Correlation{
		ProviderCallID: data.first("callId", "id", "vapiCallId", "providerCallId", "call.id"),
		PatientID:      data.first("metadata.patientId", "patientId", "call.metadata.patientId"),
		PhoneNumber:    data.first("phoneNumber", "customer.number", "to", "call.customer.number"),
	}

	switch name {
	case EventCallStarted, EventQueued, EventRinging, EventAnswered:
		return domain.ProgressEvent{Correlation: key, Event: name, Status: data.first("status", "state")}, nil
	case EventCallEnded:
		return parseEnded(name, key, data)
	case EventTranscript:
		return domain.TranscriptEvent{
			Correlation: key,
			Event:       EventTranscript,
			Speaker:     data.first("speaker", "role"),
			Transcript:  data.first("transcript", "text"),
			Timestamp:   data.first("timestamp"),
		}, nil
	case EventFunctionCall, eventServerToolCalls:
		return parseFunctionCall(key, data), nil
	default:
		return domain.UnrecognizedEvent{Correlation: key, Event: name}, nil
	}
}

// unwrap locates the event name and its data object, folding server-message
// aliases onto the canonical names.
func unwrap(envelope map[string]any) (string, payload, error) {
	if msg, ok := envelope["message"].(map[string]any); ok {
		data := payload(msg)
		name := data.first("type")
		if name == "" {
			return "", nil, fmt.Errorf("webhook: message without type: %w", apperrors.ErrValidation)
		}
		switch name {
		case eventEndOfCallReport:
			name = EventCallEnded
		case eventStatusUpdate:
			name = statusUpdateEvent(data.first("status"))
		}
		return name, data, nil
	}

	name := cast.ToString(envelope["event"])
	if name == "" {
		name = cast.ToString(envelope["type"])
	}
	if name == "" {
		return "", nil, fmt.Errorf("webhook: missing event: %w", apperrors.ErrValidation)
	}

	switch data := envelope["data"].(type) {
	case map[string]any:
		return name, payload(data), nil
	case nil:
		return name, payload(envelope), nil
	default:
		return "", nil, fmt.Errorf("webhook: data must be an object: %w", apperrors.ErrValidation)
	}
}

func statusUpdateEvent(status string) string {
	switch strings.ToLower(status) {
	case "queued":
		return EventQueued
	case "ringing":
		return EventRinging
	case "in-progress", "in_progress":
		return EventCallStarted
	case "ended":
		return EventCallEnded
	default:
		return eventStatusUpdate
	}
}

func parseEnded(name string, key domain.Correlation, data payload) (domain.ProviderEvent, error) {
	ev := domain.EndedEvent{
		Correlation: key,
		Event:       name,
		Summary:     data.first("summary", "assistantSummary", "result.summary", "output.summary", "analysis.summary"),
		Transcript:  data.first("transcript", "fullTranscript", "result.transcript", "artifact.transcript"),
		Status:      data.first("status", "state"),
		Reason:      data.first("reason", "endedReason", "endReason"),
		Error:       data.first("error", "errorMessage", "error.message"),
		HangupBy:    data.first("hangupBy", "endedBy"),
	}

	for _, path := range []string{"duration", "durationSeconds", "callDurationSeconds"} {
		v, ok := data.lookup(path)
		if !ok || v == nil || v == "" {
			continue
		}
		d, err := cast.ToFloat64E(numberValue(v))
		if err != nil {
			return nil, fmt.Errorf("webhook: %s is not a number: %w", path, apperrors.ErrValidation)
		}
		if d < 0 {
			return nil, fmt.Errorf("webhook: %s is negative: %w", path, apperrors.ErrValidation)
		}
		if !(d <= domain.MaxCallDuration.Seconds()) {
			return nil, fmt.Errorf("webhook: %s exceeds %s: %w", path, domain.MaxCallDuration, apperrors.ErrValidation)
		}
		ev.DurationSeconds = d
		break
	}

	for _, path := range []string{"successEvaluation", "success", "result.success", "analysis.successEvaluation"} {
		v, ok := data.lookup(path)
		if !ok || v == nil {
			continue
		}
		if b, err := cast.ToBoolE(numberValue(v)); err == nil {
			ev.Success = &b
			break
		}
	}

	return ev, nil
}

func parseFunctionCall(key domain.Correlation, data payload) domain.FunctionCallEvent {
	ev := domain.FunctionCallEvent{
		Correlation:  key,
		Event:        EventFunctionCall,
		FunctionName: data.first("functionName", "name", "functionCall.name", "toolCallList.0.function.name"),
	}
	for _, path := range []string{"parameters", "functionCall.parameters", "toolCallList.0.function.arguments"} {
		v, ok := data.lookup(path)
		if !ok {
			continue
		}
		switch params := v.(type) {
		case map[string]any:
			ev.Parameters = params
		case string:
			var decoded map[string]any
			if json.Unmarshal([]byte(params), &decoded) == nil {
				ev.Parameters = decoded
			}
		}
		if ev.Parameters != nil {
			break
		}
	}
	return ev
}

// lookup walks a dotted path through nested objects. Numeric segments
// index into arrays.
func (p payload) lookup(path string) (any, bool) {
	var cur any = map[string]any(p)
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// first returns the first path holding a non-empty scalar, as a string.
func (p payload) first(paths ...string) string {
	for _, path := range paths {
		v, ok := p.lookup(path)
		if !ok || v == nil {
			continue
		}
		if _, nested := v.(map[string]any); nested {
			continue
		}
		s, err := cast.ToStringE(numberValue(v))
		if err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func numberValue(v any) any {
	if n, ok := v.(json.Number); ok {
		return n.String()
	}
	return v
}
