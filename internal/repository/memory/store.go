// Package memory provides in-process implementations of the repository
// interfaces with the same concurrency contract as the database-backed ones.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/pharmacy-outreach/internal/domain"
	"github.com/acme/pharmacy-outreach/internal/repository"
	"github.com/acme/pharmacy-outreach/pkg/phone"
)

// Patients is an in-memory repository.PatientRepository.
type Patients struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]domain.Patient
}

// NewPatients builds an empty patient store.
func NewPatients() *Patients {
	return &Patients{byID: make(map[uuid.UUID]domain.Patient)}
}

// Put inserts or replaces a patient.
func (p *Patients) Put(patient domain.Patient) {
	p.mu.Lock()
	defer p.mu.Unlock()
	patient.Phone = phone.Canonical(patient.Phone, "")
	p.byID[patient.ID] = patient
}

func (p *Patients) Get(_ context.Context, id uuid.UUID) (*domain.Patient, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	patient, ok := p.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &patient, nil
}

func (p *Patients) FindByPhone(_ context.Context, number string) (*domain.Patient, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, patient := range p.byID {
		if patient.Phone == number {
			found := patient
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

// Calls is an in-memory repository.CallStore.
type Calls struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]domain.Call
}

// NewCalls builds an empty call store.
func NewCalls() *Calls {
	return &Calls{byID: make(map[uuid.UUID]domain.Call)}
}

func (c *Calls) CreateCall(_ context.Context, call *domain.Call) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[call.ID]; ok {
		return repository.ErrConflict
	}
	if call.ProviderCallID != "" && c.providerIDTaken(call.ProviderCallID, call.ID) {
		return repository.ErrConflict
	}
	c.byID[call.ID] = cloneCall(*call)
	return nil
}

func (c *Calls) GetCall(_ context.Context, id uuid.UUID) (*domain.Call, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	call, ok := c.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneCall(call)
	return &out, nil
}

func (c *Calls) FindByProviderCallID(_ context.Context, providerCallID string) (*domain.Call, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, call := range c.byID {
		if call.ProviderCallID == providerCallID {
			out := cloneCall(call)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (c *Calls) FindActiveByPatient(_ context.Context, patientID uuid.UUID) (*domain.Call, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var pending, inProgress *domain.Call
	for _, call := range c.byID {
		if call.PatientID != patientID {
			continue
		}
		call := call
		switch call.Status {
		case domain.CallStatusPending:
			if pending == nil || call.CreatedAt.After(pending.CreatedAt) {
				pending = &call
			}
		case domain.CallStatusInProgress:
			if inProgress == nil || call.CreatedAt.After(inProgress.CreatedAt) {
				inProgress = &call
			}
		}
	}

	found := pending
	if found == nil {
		found = inProgress
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	out := cloneCall(*found)
	return &out, nil
}

func (c *Calls) SetProviderCallID(_ context.Context, id uuid.UUID, providerCallID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	if call.ProviderCallID == providerCallID {
		return nil
	}
	if call.ProviderCallID != "" || c.providerIDTaken(providerCallID, id) {
		return repository.ErrConflict
	}
	call.ProviderCallID = providerCallID
	c.byID[id] = call
	return nil
}

func (c *Calls) ApplyTransition(_ context.Context, t repository.CallTransition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.byID[t.CallID]
	if !ok {
		return repository.ErrNotFound
	}
	if call.Status != t.From {
		return repository.ErrConflict
	}
	if t.ProviderCallID != "" && call.ProviderCallID == "" {
		if c.providerIDTaken(t.ProviderCallID, call.ID) {
			return repository.ErrConflict
		}
		call.ProviderCallID = t.ProviderCallID
	}
	call.Status = t.To
	if t.Summary != nil {
		call.Summary = *t.Summary
	}
	if t.StructuredData != nil {
		call.StructuredData = cloneMap(t.StructuredData)
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		call.CompletedAt = &completed
	}
	call.UpdatedAt = t.UpdatedAt
	c.byID[t.CallID] = call
	return nil
}

func (c *Calls) ListCalls(_ context.Context, filter repository.CallFilter) ([]domain.Call, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []domain.Call
	for _, call := range c.byID {
		if filter.PatientID != nil && call.PatientID != *filter.PatientID {
			continue
		}
		if filter.ScheduledCallID != nil && (call.ScheduledCallID == nil || *call.ScheduledCallID != *filter.ScheduledCallID) {
			continue
		}
		if filter.Status != "" && call.Status != filter.Status {
			continue
		}
		out = append(out, cloneCall(call))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, filter.Offset, filter.Limit), nil
}

func (c *Calls) providerIDTaken(providerCallID string, except uuid.UUID) bool {
	for id, call := range c.byID {
		if id != except && call.ProviderCallID == providerCallID {
			return true
		}
	}
	return false
}

// Logs is an in-memory repository.CallLogStore and repository.WebhookJournal.
type Logs struct {
	mu      sync.RWMutex
	entries map[uuid.UUID][]domain.CallLog
	journal []repository.WebhookJournalEntry
	// FailAppend makes Append fail with the given error when set, limited
	// to FailAppendFor event types when that is non-empty.
	FailAppend    error
	FailAppendFor string
	// FailRecord makes Record fail with the given error when set.
	FailRecord error
}

// NewLogs builds an empty log store.
func NewLogs() *Logs {
	return &Logs{entries: make(map[uuid.UUID][]domain.CallLog)}
}

func (l *Logs) Append(_ context.Context, entry domain.CallLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailAppend != nil && (l.FailAppendFor == "" || l.FailAppendFor == entry.EventType) {
		return l.FailAppend
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.Data = cloneMap(entry.Data)
	l.entries[entry.CallID] = append(l.entries[entry.CallID], entry)
	return nil
}

func (l *Logs) List(_ context.Context, callID uuid.UUID, limit int, _ []byte) ([]domain.CallLog, []byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := append([]domain.CallLog(nil), l.entries[callID]...)
	return page(entries, 0, limit), nil, nil
}

func (l *Logs) Record(_ context.Context, entry repository.WebhookJournalEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailRecord != nil {
		return l.FailRecord
	}
	l.journal = append(l.journal, entry)
	return nil
}

// Journal returns a snapshot of recorded webhook entries.
func (l *Logs) Journal() []repository.WebhookJournalEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]repository.WebhookJournalEntry(nil), l.journal...)
}

// EventTypes returns the ordered event types logged for a call.
func (l *Logs) EventTypes(callID uuid.UUID) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	for _, e := range l.entries[callID] {
		out = append(out, e.EventType)
	}
	return out
}

// Schedules is an in-memory repository.ScheduleRepository.
type Schedules struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]domain.ScheduledCall
	attempts map[uuid.UUID]domain.CallAttempt
}

// NewSchedules builds an empty campaign store.
func NewSchedules() *Schedules {
	return &Schedules{
		byID:     make(map[uuid.UUID]domain.ScheduledCall),
		attempts: make(map[uuid.UUID]domain.CallAttempt),
	}
}

func (s *Schedules) Create(_ context.Context, schedule *domain.ScheduledCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[schedule.ID]; ok {
		return repository.ErrConflict
	}
	s.byID[schedule.ID] = cloneSchedule(*schedule)
	return nil
}

func (s *Schedules) Get(_ context.Context, id uuid.UUID) (*domain.ScheduledCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schedule, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneSchedule(schedule)
	return &out, nil
}

func (s *Schedules) List(_ context.Context, filter repository.ScheduleFilter) ([]*domain.ScheduledCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.ScheduledCall
	for _, schedule := range s.byID {
		if filter.PatientID != nil && schedule.PatientID != *filter.PatientID {
			continue
		}
		if filter.Status != "" && schedule.Status != filter.Status {
			continue
		}
		c := cloneSchedule(schedule)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, filter.Offset, filter.Limit), nil
}

func (s *Schedules) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.ScheduledCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.ScheduledCall
	for _, schedule := range s.byID {
		if schedule.Status != domain.ScheduleStatusScheduled && schedule.Status != domain.ScheduleStatusRunning {
			continue
		}
		if schedule.NextAttemptAt == nil || schedule.NextAttemptAt.After(now) {
			continue
		}
		c := cloneSchedule(schedule)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(*out[j].NextAttemptAt) })
	return page(out, 0, limit), nil
}

func (s *Schedules) Update(_ context.Context, schedule *domain.ScheduledCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[schedule.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if current.Version != schedule.Version {
		return repository.ErrConflict
	}
	schedule.Version++
	s.byID[schedule.ID] = cloneSchedule(*schedule)
	return nil
}

func (s *Schedules) RecordAttempt(_ context.Context, schedule *domain.ScheduledCall, attempt *domain.CallAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[schedule.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if current.Version != schedule.Version {
		return repository.ErrConflict
	}
	for _, existing := range s.attempts {
		if existing.CallID == attempt.CallID ||
			(existing.ScheduledCallID == attempt.ScheduledCallID && existing.AttemptNumber == attempt.AttemptNumber) {
			return repository.ErrConflict
		}
	}
	s.attempts[attempt.ID] = *attempt
	schedule.Version++
	s.byID[schedule.ID] = cloneSchedule(*schedule)
	return nil
}

func (s *Schedules) FindAttemptByCallID(_ context.Context, callID uuid.UUID) (*domain.CallAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, attempt := range s.attempts {
		if attempt.CallID == callID {
			out := attempt
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Schedules) ResolveAttempt(_ context.Context, id uuid.UUID, outcome domain.AttemptOutcome, endedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if attempt.Outcome != domain.AttemptOutcomeInProgress {
		return false, nil
	}
	attempt.Outcome = outcome
	attempt.EndedAt = &endedAt
	s.attempts[id] = attempt
	return true, nil
}

func (s *Schedules) ListAttempts(_ context.Context, scheduledCallID uuid.UUID) ([]domain.CallAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CallAttempt
	for _, attempt := range s.attempts {
		if attempt.ScheduledCallID == scheduledCallID {
			out = append(out, attempt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

// Stats is an in-memory repository.CallStatisticsRepository.
type Stats struct {
	mu    sync.Mutex
	byDay map[time.Time]domain.CallStats
}

// NewStats builds an empty statistics store.
func NewStats() *Stats {
	return &Stats{byDay: make(map[time.Time]domain.CallStats)}
}

func (s *Stats) Get(_ context.Context, day time.Time) (*domain.CallStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.byDay[repository.BucketDay(day)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &stats, nil
}

func (s *Stats) ApplyDelta(_ context.Context, day time.Time, delta repository.StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := repository.BucketDay(day)
	stats := s.byDay[key]
	stats.Day = key
	stats.TotalCalls += delta.TotalCallsDelta
	stats.PendingCalls += delta.PendingCallsDelta
	stats.InProgressCalls += delta.InProgressCallsDelta
	stats.CompletedCalls += delta.CompletedCallsDelta
	stats.FailedCalls += delta.FailedCallsDelta
	stats.CancelledCalls += delta.CancelledCallsDelta
	s.byDay[key] = stats
	return nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneCall(c domain.Call) domain.Call {
	c.StructuredData = cloneMap(c.StructuredData)
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		c.CompletedAt = &t
	}
	if c.ScheduledCallID != nil {
		id := *c.ScheduledCallID
		c.ScheduledCallID = &id
	}
	return c
}

func cloneSchedule(s domain.ScheduledCall) domain.ScheduledCall {
	if s.NextAttemptAt != nil {
		t := *s.NextAttemptAt
		s.NextAttemptAt = &t
	}
	return s
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
