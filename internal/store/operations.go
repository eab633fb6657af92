package store

import (
	"strings"
	"time"

	"github.com/pulselog/pulselog/internal/broadcast"
	"github.com/pulselog/pulselog/internal/schema"
	"go.uber.org/zap"
)

// LogOptions carries the optional fields of a PushLog call.
type LogOptions struct {
	Unit      string
	Note      string
	Source    string
	CreatedAt string
}

// PushLog records a new entry, keeps the collection sorted descending by
// creation time, and stamps settings.lastDevicePingISO with the entry's
// timestamp.
func (s *Store) PushLog(logType string, value *float64, opts LogOptions) schema.LogEntry {
	source := opts.Source
	if source == "" {
		source = schema.SourceManual
	}
	entry := schema.NormalizeLog(schema.LogEntry{
		Type:      logType,
		Value:     value,
		Unit:      opts.Unit,
		Note:      opts.Note,
		CreatedAt: opts.CreatedAt,
		Source:    source,
	}, s.clock())

	s.mu.Lock()
	next := s.state.Clone()
	next.Logs = append([]schema.LogEntry{entry}, next.Logs...)
	next.Settings.LastDevicePingISO = entry.CreatedAt
	s.commitLocked(next)
	s.mu.Unlock()

	s.emit(broadcast.ChangePayload{Target: broadcast.TargetLogs, Action: broadcast.ActionPush, ID: entry.ID}, true)
	return entry.Clone()
}

// LogPatch carries a partial log update; nil fields stay untouched.
type LogPatch struct {
	Type      *string
	Value     *float64
	Unit      *string
	Note      *string
	Source    *string
	CreatedAt *string
}

// UpdateLog merges a patch into the entry with the given id and bumps its
// updatedAt. A missing id is a no-op returning nil, not an error.
func (s *Store) UpdateLog(id string, patch LogPatch) *schema.LogEntry {
	if id == "" {
		return nil
	}

	s.mu.Lock()
	next := s.state.Clone()
	var updated *schema.LogEntry
	for i, entry := range next.Logs {
		if entry.ID != id {
			continue
		}
		merged := entry.Clone()
		if patch.Type != nil {
			merged.Type = *patch.Type
			merged.Unit = ""
		}
		if patch.Value != nil {
			merged.Value = schema.Float(*patch.Value)
		}
		if patch.Unit != nil {
			merged.Unit = *patch.Unit
		}
		if patch.Note != nil {
			merged.Note = *patch.Note
		}
		if patch.Source != nil {
			merged.Source = *patch.Source
		}
		if patch.CreatedAt != nil {
			merged.CreatedAt = *patch.CreatedAt
		}
		merged.UpdatedAt = schema.FormatTime(s.clock())
		merged = schema.NormalizeLog(merged, s.clock())
		merged.ID = id
		next.Logs[i] = merged
		updated = &merged
		break
	}
	if updated == nil {
		s.mu.Unlock()
		return nil
	}
	s.commitLocked(next)
	s.mu.Unlock()

	s.emit(broadcast.ChangePayload{Target: broadcast.TargetLogs, Action: broadcast.ActionUpdate, ID: id}, true)
	result := updated.Clone()
	return &result
}

// RemoveLog deletes the entry with the given id and returns it so callers
// can offer undo. A missing id is a no-op returning nil.
func (s *Store) RemoveLog(id string) *schema.LogEntry {
	if id == "" {
		return nil
	}

	s.mu.Lock()
	next := s.state.Clone()
	var removed *schema.LogEntry
	remaining := make([]schema.LogEntry, 0, len(next.Logs))
	for _, entry := range next.Logs {
		if entry.ID == id && removed == nil {
			kept := entry.Clone()
			removed = &kept
			continue
		}
		remaining = append(remaining, entry)
	}
	if removed == nil {
		s.mu.Unlock()
		return nil
	}
	next.Logs = remaining
	s.commitLocked(next)
	s.mu.Unlock()

	s.emit(broadcast.ChangePayload{Target: broadcast.TargetLogs, Action: broadcast.ActionRemove, ID: id}, true)
	return removed
}

// Filter narrows a ListLogs read. Zero values match everything on their
// dimension; time bounds are inclusive.
type Filter struct {
	Type  string
	Since *time.Time
	Until *time.Time
	Limit int
}

// ListLogs returns the matching entries from the current snapshot, most
// recent first.
func (s *Store) ListLogs(filter Filter) []schema.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]schema.LogEntry, 0, len(s.state.Logs))
	wantType := strings.ToLower(strings.TrimSpace(filter.Type))
	for _, entry := range s.state.Logs {
		if wantType != "" && entry.Type != wantType {
			continue
		}
		createdAt, ok := schema.ParseTime(entry.CreatedAt)
		if !ok {
			continue
		}
		if filter.Since != nil && createdAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && createdAt.After(*filter.Until) {
			continue
		}
		matched = append(matched, entry.Clone())
		if filter.Limit > 0 && len(matched) == filter.Limit {
			break
		}
	}
	return matched
}

// Targets returns a copy of the current target set.
func (s *Store) Targets() schema.TargetSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Targets.Clone()
}

// SetTargets merges the patch into the current targets; unspecified keys
// stay untouched.
func (s *Store) SetTargets(patch schema.TargetSet) schema.TargetSet {
	s.mu.Lock()
	next := s.state.Clone()
	next.Targets = schema.MergeTargets(next.Targets, patch)
	committed := s.commitLocked(next)
	s.mu.Unlock()

	s.emit(broadcast.ChangePayload{Target: broadcast.TargetTargets, Action: broadcast.ActionSet}, true)
	return committed.Targets.Clone()
}

// Settings returns a copy of the current settings.
func (s *Store) Settings() schema.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Settings.Clone()
}

// SetSettings merges the patch into the current settings.
func (s *Store) SetSettings(patch schema.SettingsPatch) schema.Settings {
	s.mu.Lock()
	next := s.state.Clone()
	next.Settings = schema.ApplySettingsPatch(next.Settings, patch)
	committed := s.commitLocked(next)
	s.mu.Unlock()

	s.emit(broadcast.ChangePayload{Target: broadcast.TargetSettings, Action: broadcast.ActionSet}, true)
	return committed.Settings.Clone()
}

// MedsToday returns a copy of the medication list.
func (s *Store) MedsToday() []schema.MedicationEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meds := make([]schema.MedicationEntry, len(s.state.MedsToday))
	copy(meds, s.state.MedsToday)
	return meds
}

// SetMedsToday replaces the medication list as a unit. The list is managed
// whole by the caller, unlike the merge-setters.
func (s *Store) SetMedsToday(meds []schema.MedicationEntry) []schema.MedicationEntry {
	s.mu.Lock()
	next := s.state.Clone()
	next.MedsToday = schema.NormalizeMeds(meds)
	committed := s.commitLocked(next)
	s.mu.Unlock()

	s.emit(broadcast.ChangePayload{Target: broadcast.TargetMeds, Action: broadcast.ActionSet}, true)
	result := make([]schema.MedicationEntry, len(committed.MedsToday))
	copy(result, committed.MedsToday)
	return result
}

// MedPatch carries a partial medication update.
type MedPatch struct {
	Title *string
	Taken *bool
}

// UpdateMedToday patches a single medication entry by id. A missing id is
// a no-op returning nil.
func (s *Store) UpdateMedToday(id string, patch MedPatch) *schema.MedicationEntry {
	if id == "" {
		return nil
	}

	s.mu.Lock()
	next := s.state.Clone()
	var updated *schema.MedicationEntry
	for i, med := range next.MedsToday {
		if med.ID != id {
			continue
		}
		if patch.Title != nil {
			med.Title = *patch.Title
		}
		if patch.Taken != nil {
			med.Taken = *patch.Taken
		}
		next.MedsToday[i] = med
		updated = &med
		break
	}
	if updated == nil {
		s.mu.Unlock()
		return nil
	}
	s.commitLocked(next)
	s.mu.Unlock()

	s.emit(broadcast.ChangePayload{Target: broadcast.TargetMeds, Action: broadcast.ActionUpdate, ID: id}, true)
	result := *updated
	return &result
}

// NotesText returns the free-text notes document.
func (s *Store) NotesText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notesText
}

// SetNotesText replaces the free-text notes document, persisted under its
// own storage key.
func (s *Store) SetNotesText(text string) string {
	s.mu.Lock()
	s.notesText = text
	if err := s.storage.Set(s.notesKey, []byte(text)); err != nil {
		s.logger.Warn("notes persist failed, keeping in-memory text", zap.Error(err))
	}
	s.mu.Unlock()

	s.emit(broadcast.ChangePayload{Target: broadcast.TargetNotes, Action: broadcast.ActionSet}, true)
	return text
}
