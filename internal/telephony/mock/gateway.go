// Package mock provides a local Dispatch Gateway. When an event sink is
// attached it also plays the provider's side of the call, feeding
// started, transcript and ended webhooks back into the service.
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/pharmacy-outreach/internal/config"
	"github.com/acme/pharmacy-outreach/internal/telephony"
)

// ErrSimulatedFailure is returned for randomly rejected dispatches.
var ErrSimulatedFailure = errors.New("mock gateway: simulated dispatch failure")

const (
	maxRingDelay        = time.Second
	defaultCallDuration = 10 * time.Second
)

// EventSink receives raw provider webhook bodies produced by the simulation.
type EventSink func(ctx context.Context, raw []byte) error

// Gateway accepts calls locally without contacting a provider.
type Gateway struct {
	failureRate  float64
	noAnswerRate float64
	latency      time.Duration
	ringDelay    time.Duration
	callDuration time.Duration
	logger       *zap.Logger

	mu   sync.Mutex
	rng  *rand.Rand
	sink EventSink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGateway constructs a mock gateway.
func NewGateway(cfg config.CallBridgeConfig, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	duration := cfg.MockCallDuration
	if duration <= 0 {
		duration = defaultCallDuration
	}
	ring := duration / 5
	if ring > maxRingDelay {
		ring = maxRingDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		failureRate:  cfg.MockFailureRate,
		noAnswerRate: cfg.MockNoAnswerRate,
		latency:      50 * time.Millisecond,
		ringDelay:    ring,
		callDuration: duration,
		logger:       logger,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// SetSink attaches the receiver of simulated webhooks. Without one, accepted
// calls never progress.
func (g *Gateway) SetSink(sink EventSink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sink = sink
}

// InitiateCall simulates a provider acceptance with a mock-prefixed id.
func (g *Gateway) InitiateCall(ctx context.Context, req telephony.Request) (telephony.Dispatch, error) {
	if req.Destination == "" {
		return telephony.Dispatch{}, telephony.ErrMissingDestination
	}

	select {
	case <-ctx.Done():
		return telephony.Dispatch{}, ctx.Err()
	case <-time.After(g.latency):
	}

	if g.roll() < g.failureRate {
		return telephony.Dispatch{}, ErrSimulatedFailure
	}

	dispatch := telephony.Dispatch{ProviderCallID: "mock-" + uuid.NewString(), Status: "queued"}

	g.mu.Lock()
	sink := g.sink
	g.mu.Unlock()
	if sink != nil && g.ctx.Err() == nil {
		answered := g.roll() >= g.noAnswerRate
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.simulate(sink, req, dispatch.ProviderCallID, answered)
		}()
	}
	return dispatch, nil
}

// Close stops running simulations and waits for them to exit.
func (g *Gateway) Close() error {
	g.cancel()
	g.wg.Wait()
	return nil
}

func (g *Gateway) roll() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64()
}

func (g *Gateway) simulate(sink EventSink, req telephony.Request, providerCallID string, answered bool) {
	base := map[string]any{
		"callId":      providerCallID,
		"phoneNumber": req.Destination,
		"metadata":    map[string]any{"patientId": req.PatientID.String(), "callId": req.CallID.String()},
	}

	if !g.wait(g.ringDelay) {
		return
	}
	if !answered {
		g.emit(sink, "call-ended", base, map[string]any{
			"success":         false,
			"endedReason":     "customer-did-not-answer",
			"durationSeconds": 0,
		})
		return
	}

	if !g.emit(sink, "call-started", base, map[string]any{"status": "in-progress"}) {
		return
	}
	for _, line := range script(req.PatientName, req.Destination) {
		if !g.emit(sink, "transcript", base, map[string]any{"speaker": line.speaker, "transcript": line.text}) {
			return
		}
	}

	if !g.wait(g.callDuration) {
		return
	}
	g.emit(sink, "call-ended", base, map[string]any{
		"success":         true,
		"endedReason":     "completed(mock)",
		"durationSeconds": g.callDuration.Seconds(),
		"summary": fmt.Sprintf("Identity verified for %s (%s). Availability: Friday 2-4 PM. "+
			"Medication changes: none. Shipment feedback: on time, no issues.", req.PatientName, req.Destination),
	})
}

func (g *Gateway) wait(d time.Duration) bool {
	if d <= 0 {
		return g.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-g.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// emit sends one event. A sink error is logged and ends the simulation.
func (g *Gateway) emit(sink EventSink, event string, base, fields map[string]any) bool {
	data := make(map[string]any, len(base)+len(fields))
	for k, v := range base {
		data[k] = v
	}
	for k, v := range fields {
		data[k] = v
	}
	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		g.logger.Error("mock gateway: encode event", zap.String("event", event), zap.Error(err))
		return false
	}
	if err := sink(g.ctx, raw); err != nil {
		g.logger.Warn("mock gateway: deliver event",
			zap.String("event", event),
			zap.String("provider_call_id", fmt.Sprint(base["callId"])),
			zap.Error(err),
		)
		return false
	}
	return true
}

type line struct {
	speaker string
	text    string
}

func script(name, phone string) []line {
	return []line{
		{"agent", "Hello, this is Riley from Specialty Pharmacies. May I confirm your full name, phone, and address?"},
		{"patient", fmt.Sprintf("%s, %s, address confirmed.", name, phone)},
		{"agent", "Thanks. When will you be available at home for your upcoming delivery?"},
		{"patient", "Friday between 2 and 4 PM works for me."},
		{"agent", "Any changes in your medication needs? Skipped doses or delayed refills?"},
		{"patient", "No changes this month."},
		{"agent", "Any feedback about your last shipment?"},
		{"patient", "Everything arrived on time and in good condition."},
	}
}
