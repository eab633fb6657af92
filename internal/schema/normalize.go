package schema

import (
	"math"
	"sort"
	"strings"
	"time"
)

// NormalizeLog rewrites an entry so every field honors the canonical
// invariants: a present id, a lower-cased type, a finite or nil value, an
// inferred unit, and parseable timestamps. Invalid timestamps coerce to
// the supplied instant. Running it twice yields the same entry.
func NormalizeLog(entry LogEntry, now time.Time) LogEntry {
	normalized := entry.Clone()

	if strings.TrimSpace(normalized.ID) == "" {
		normalized.ID = NewID()
	}

	normalized.Type = strings.ToLower(strings.TrimSpace(normalized.Type))
	if normalized.Type == "" {
		normalized.Type = TypeNote
	}

	if normalized.Value != nil {
		if math.IsNaN(*normalized.Value) || math.IsInf(*normalized.Value, 0) {
			normalized.Value = nil
		}
	}

	if normalized.Unit == "" {
		normalized.Unit = InferUnit(normalized.Type)
	}

	createdAt, ok := ParseTime(normalized.CreatedAt)
	if !ok {
		createdAt = now
	}
	normalized.CreatedAt = FormatTime(createdAt)

	updatedAt, ok := ParseTime(normalized.UpdatedAt)
	if !ok {
		updatedAt = createdAt
	}
	normalized.UpdatedAt = FormatTime(updatedAt)

	return normalized
}

// NormalizeState rewrites a whole state so it honors every schema
// invariant: normalized logs sorted descending by creation time, targets
// merged over defaults with negatives clamped, sanitized medication
// entries, and settings with a resolved timezone. Idempotent.
func NormalizeState(state PersistedState, now time.Time) PersistedState {
	normalized := PersistedState{
		Version:   SchemaVersion,
		Logs:      make([]LogEntry, 0, len(state.Logs)),
		Targets:   MergeTargets(DefaultTargets(), state.Targets),
		MedsToday: NormalizeMeds(state.MedsToday),
		Settings:  normalizeSettings(state.Settings),
	}

	for _, entry := range state.Logs {
		normalized.Logs = append(normalized.Logs, NormalizeLog(entry, now))
	}
	SortLogs(normalized.Logs)

	return normalized
}

// SortLogs orders entries descending by CreatedAt. The sort is stable so
// entries sharing a timestamp keep their relative order.
func SortLogs(logs []LogEntry) {
	sort.SliceStable(logs, func(i, j int) bool {
		left, _ := ParseTime(logs[i].CreatedAt)
		right, _ := ParseTime(logs[j].CreatedAt)
		return left.After(right)
	})
}

// MergeTargets overlays patch onto base without touching unspecified keys.
// Non-finite values are discarded and negatives clamp to zero; targets are
// goals and goals are never negative.
func MergeTargets(base TargetSet, patch TargetSet) TargetSet {
	merged := base.Clone()
	if merged == nil {
		merged = TargetSet{}
	}
	for key, value := range patch {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		if value < 0 {
			value = 0
		}
		merged[key] = value
	}
	return merged
}

// NormalizeMeds guarantees each medication entry an id and a trimmed title.
func NormalizeMeds(meds []MedicationEntry) []MedicationEntry {
	normalized := make([]MedicationEntry, 0, len(meds))
	for _, med := range meds {
		if strings.TrimSpace(med.ID) == "" {
			med.ID = NewID()
		}
		med.Title = strings.TrimSpace(med.Title)
		normalized = append(normalized, med)
	}
	return normalized
}

// ApplySettingsPatch merges a partial update onto existing settings,
// leaving nil fields untouched.
func ApplySettingsPatch(base Settings, patch SettingsPatch) Settings {
	merged := base.Clone()
	if patch.TZ != nil {
		merged.TZ = *patch.TZ
	}
	if patch.LastDevicePingISO != nil {
		merged.LastDevicePingISO = *patch.LastDevicePingISO
	}
	if patch.BatteryPct != nil {
		value := *patch.BatteryPct
		merged.BatteryPct = &value
	}
	if patch.City != nil {
		merged.City = *patch.City
	}
	return merged
}

func normalizeSettings(settings Settings) Settings {
	normalized := settings.Clone()
	if strings.TrimSpace(normalized.TZ) == "" {
		normalized.TZ = DefaultTimezone
	}
	return normalized
}
