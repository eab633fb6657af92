package schema

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped onto every persisted state document. Documents
// carrying an older (or absent) version pass through the migration chain
// in Load before decoding.
const SchemaVersion = 2

// TimeLayout is the wire format for all persisted timestamps.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// DefaultTimezone applies when settings carry no zone of their own.
const DefaultTimezone = "Europe/Amsterdam"

// Canonical log types. Type is free-form; these are the values the
// aggregation engine understands.
const (
	TypeWater    = "water"
	TypeSteps    = "steps"
	TypeSleep    = "sleep"
	TypeCaffeine = "caffeine"
	TypeMed      = "med"
	TypeNote     = "note"
)

// Log entry sources.
const (
	SourceManual  = "manual"
	SourceQuick   = "quick"
	SourceOffline = "offline"
	SourceQueue   = "queue"
)

// Canonical target keys.
const (
	TargetWaterML    = "water_ml"
	TargetSteps      = "steps"
	TargetSleepMin   = "sleep_min"
	TargetCaffeineMG = "caffeine_mg"
)

// LogEntry is one recorded user action. Entries are immutable after
// creation except through Store.UpdateLog, which bumps UpdatedAt.
type LogEntry struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Value     *float64 `json:"value"`
	Unit      string   `json:"unit"`
	Note      string   `json:"note"`
	CreatedAt string   `json:"createdAt"`
	UpdatedAt string   `json:"updatedAt"`
	Source    string   `json:"source"`
}

// TargetSet holds per-metric daily goals keyed by canonical target key.
type TargetSet map[string]float64

// MedicationEntry is one user-managed medication with its taken state.
type MedicationEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Taken bool   `json:"taken"`
}

// Settings is the recognized portion of the settings bag.
type Settings struct {
	TZ                string   `json:"tz"`
	LastDevicePingISO string   `json:"lastDevicePingISO,omitempty"`
	BatteryPct        *float64 `json:"batteryPct"`
	City              string   `json:"city,omitempty"`
}

// SettingsPatch carries a partial settings update; nil fields are left
// untouched by ApplySettingsPatch.
type SettingsPatch struct {
	TZ                *string
	LastDevicePingISO *string
	BatteryPct        *float64
	City              *string
}

// PersistedState is the root aggregate held by the store. The offline
// queue persists under its own document and is not part of this shape.
type PersistedState struct {
	Version   int               `json:"version"`
	Logs      []LogEntry        `json:"logs"`
	Targets   TargetSet         `json:"targets"`
	MedsToday []MedicationEntry `json:"meds_today"`
	Settings  Settings          `json:"settings"`
}

// DefaultTargets returns the hardcoded daily goals.
func DefaultTargets() TargetSet {
	return TargetSet{
		TargetWaterML:    2000,
		TargetSteps:      8000,
		TargetSleepMin:   420,
		TargetCaffeineMG: 300,
	}
}

// DefaultSettings returns the settings applied on first load.
func DefaultSettings() Settings {
	return Settings{TZ: DefaultTimezone}
}

// DefaultState returns the state created when storage holds nothing usable.
func DefaultState() PersistedState {
	return PersistedState{
		Version:   SchemaVersion,
		Logs:      []LogEntry{},
		Targets:   DefaultTargets(),
		MedsToday: []MedicationEntry{},
		Settings:  DefaultSettings(),
	}
}

// InferUnit maps a canonical log type to its implied unit. Unknown types
// carry no unit.
func InferUnit(logType string) string {
	switch logType {
	case TypeWater:
		return "ml"
	case TypeSteps:
		return "steps"
	case TypeSleep:
		return "min"
	case TypeCaffeine:
		return "mg"
	case TypeMed:
		return "dose"
	default:
		return ""
	}
}

// NewID issues a time-ordered unique identifier.
func NewID() string {
	if value, err := uuid.NewV7(); err == nil {
		return value.String()
	}
	return uuid.NewString()
}

// Float is a convenience for building optional numeric values.
func Float(value float64) *float64 {
	return &value
}

// ParseTime parses a persisted timestamp, reporting whether it was valid.
func ParseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// FormatTime renders an instant in the persisted wire format (UTC).
func FormatTime(at time.Time) string {
	return at.UTC().Format(TimeLayout)
}

// Clone returns a deep copy of the entry.
func (e LogEntry) Clone() LogEntry {
	copied := e
	if e.Value != nil {
		value := *e.Value
		copied.Value = &value
	}
	return copied
}

// Clone returns a deep copy of the target set.
func (t TargetSet) Clone() TargetSet {
	copied := make(TargetSet, len(t))
	for key, value := range t {
		copied[key] = value
	}
	return copied
}

// Clone returns a deep copy of the settings.
func (s Settings) Clone() Settings {
	copied := s
	if s.BatteryPct != nil {
		value := *s.BatteryPct
		copied.BatteryPct = &value
	}
	return copied
}

// Clone returns a deep copy of the whole state.
func (p PersistedState) Clone() PersistedState {
	copied := PersistedState{
		Version:   p.Version,
		Logs:      make([]LogEntry, 0, len(p.Logs)),
		Targets:   p.Targets.Clone(),
		MedsToday: make([]MedicationEntry, 0, len(p.MedsToday)),
		Settings:  p.Settings.Clone(),
	}
	for _, entry := range p.Logs {
		copied.Logs = append(copied.Logs, entry.Clone())
	}
	copied.MedsToday = append(copied.MedsToday, p.MedsToday...)
	return copied
}
