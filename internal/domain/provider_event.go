package domain

import "time"

// MaxCallDuration bounds the duration a call-ended event may report.
const MaxCallDuration = 24 * time.Hour

// ProviderEventKind discriminates normalized voice-provider webhook events.
type ProviderEventKind string

const (
	ProviderEventProgress     ProviderEventKind = "progress"
	ProviderEventEnded        ProviderEventKind = "ended"
	ProviderEventTranscript   ProviderEventKind = "transcript"
	ProviderEventFunctionCall ProviderEventKind = "function_call"
	ProviderEventUnrecognized ProviderEventKind = "unrecognized"
)

// Correlation carries the keys used to locate the call an event refers to.
type Correlation struct {
	ProviderCallID string
	PatientID      string
	PhoneNumber    string
}

// Empty reports whether no key is present.
func (c Correlation) Empty() bool {
	return c.ProviderCallID == "" && c.PatientID == "" && c.PhoneNumber == ""
}

// ProviderEvent is one of ProgressEvent, EndedEvent, TranscriptEvent,
// FunctionCallEvent or UnrecognizedEvent.
type ProviderEvent interface {
	Kind() ProviderEventKind
	Key() Correlation
	Name() string
}

// ProgressEvent covers call-started, queued, ringing and answered.
type ProgressEvent struct {
	Correlation
	Event  string
	Status string
}

// EndedEvent reports the end of a call.
type EndedEvent struct {
	Correlation
	Event           string
	Summary         string
	Transcript      string
	DurationSeconds float64
	Status          string
	Reason          string
	Error           string
	HangupBy        string
	Success         *bool
}

// TranscriptEvent carries an interim transcript fragment.
type TranscriptEvent struct {
	Correlation
	Event      string
	Speaker    string
	Transcript string
	Timestamp  string
}

// FunctionCallEvent reports a tool invocation made by the voice assistant.
type FunctionCallEvent struct {
	Correlation
	Event        string
	FunctionName string
	Parameters   map[string]any
}

// UnrecognizedEvent is any event type this service does not act on.
type UnrecognizedEvent struct {
	Correlation
	Event string
}

func (e ProgressEvent) Kind() ProviderEventKind     { return ProviderEventProgress }
func (e EndedEvent) Kind() ProviderEventKind        { return ProviderEventEnded }
func (e TranscriptEvent) Kind() ProviderEventKind   { return ProviderEventTranscript }
func (e FunctionCallEvent) Kind() ProviderEventKind { return ProviderEventFunctionCall }
func (e UnrecognizedEvent) Kind() ProviderEventKind { return ProviderEventUnrecognized }

func (e ProgressEvent) Key() Correlation     { return e.Correlation }
func (e EndedEvent) Key() Correlation        { return e.Correlation }
func (e TranscriptEvent) Key() Correlation   { return e.Correlation }
func (e FunctionCallEvent) Key() Correlation { return e.Correlation }
func (e UnrecognizedEvent) Key() Correlation { return e.Correlation }

func (e ProgressEvent) Name() string     { return e.Event }
func (e EndedEvent) Name() string        { return e.Event }
func (e TranscriptEvent) Name() string   { return e.Event }
func (e FunctionCallEvent) Name() string { return e.Event }
func (e UnrecognizedEvent) Name() string { return e.Event }
