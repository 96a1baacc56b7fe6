package domain

import (
	"time"

	"github.com/google/uuid"
)

// Default allowed calling window, in local hours.
const (
	DefaultAllowedHourStart = 9
	DefaultAllowedHourEnd   = 18
)

// Patient is the recipient of pharmacy outreach calls.
type Patient struct {
	ID              uuid.UUID
	Name            string
	Phone           string
	Address         string
	MedicationInfo  map[string]any
	CallPreferences CallPreferences
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CallPreferences holds per-patient contact constraints.
type CallPreferences struct {
	AllowedHours *AllowedHours `json:"allowedHours,omitempty"`
	TimeZone     string        `json:"timeZone,omitempty"`
}

// AllowedHours is a half-open [Start, End) window of local hours. A window
// with Start > End wraps midnight.
type AllowedHours struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Window returns the patient's effective calling window, if one applies.
func (p CallPreferences) Window() (AllowedHours, bool) {
	if p.AllowedHours == nil {
		return AllowedHours{}, false
	}
	w := *p.AllowedHours
	if w.Start < 0 || w.Start > 23 {
		w.Start = DefaultAllowedHourStart
	}
	if w.End < 0 || w.End > 24 {
		w.End = DefaultAllowedHourEnd
	}
	if w.Start == w.End {
		return AllowedHours{}, false
	}
	return w, true
}

// Contains reports whether hour falls inside the window.
func (w AllowedHours) Contains(hour int) bool {
	if w.Start < w.End {
		return hour >= w.Start && hour < w.End
	}
	return hour >= w.Start || hour < w.End
}
