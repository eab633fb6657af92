package schema

import (
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"
)

var noOpLogger = zap.NewNop()

// Load turns whatever was last persisted into a canonical state. It never
// fails: absent, truncated, or foreign-shaped documents fall back to
// defaults for the unparseable fragment. Documents below the current
// schema version pass through the migration chain first; every migration
// is idempotent, so replaying the chain on an already-migrated document
// is harmless.
func Load(raw []byte, now time.Time, logger *zap.Logger) PersistedState {
	if logger == nil {
		logger = noOpLogger
	}
	if len(raw) == 0 {
		return DefaultState()
	}

	var document map[string]any
	if err := json.Unmarshal(raw, &document); err != nil {
		logger.Warn("unparseable state document, using defaults", zap.Error(err))
		return DefaultState()
	}

	version := documentVersion(document)
	if version < 1 {
		migrateLegacyShapes(document)
	}
	if version < 2 {
		migrateLogIdentity(document)
	}

	return NormalizeState(decodeState(document), now)
}

func documentVersion(document map[string]any) int {
	value, ok := asNumber(document["version"])
	if !ok {
		return 0
	}
	return int(value)
}

// migrateLegacyShapes is the v0 -> v1 step. It renames flat target keys to
// their namespaced counterparts, hoists a medication list embedded in the
// targets into the top-level meds_today collection, copies legacy settings
// field names onto their canonical ones, and rewrites the plural "meds"
// log type to the singular "med".
func migrateLegacyShapes(document map[string]any) {
	targets := asMap(document["targets"])
	renames := map[string]string{
		"water":    TargetWaterML,
		"sleep":    TargetSleepMin,
		"caffeine": TargetCaffeineMG,
	}
	for legacy, canonical := range renames {
		if _, exists := targets[canonical]; exists {
			delete(targets, legacy)
			continue
		}
		if value, ok := asNumber(targets[legacy]); ok {
			targets[canonical] = value
			delete(targets, legacy)
		}
	}

	if embedded, ok := targets["meds"].([]any); ok {
		if existing, _ := document["meds_today"].([]any); len(existing) == 0 {
			hoisted := make([]any, 0, len(embedded))
			for _, item := range embedded {
				med := asMap(item)
				title, hasTitle := asString(med["title"])
				if !hasTitle {
					title, _ = asString(med["name"])
				}
				id, _ := asString(med["id"])
				taken, _ := med["taken"].(bool)
				hoisted = append(hoisted, map[string]any{
					"id":    id,
					"title": title,
					"taken": taken,
				})
			}
			document["meds_today"] = hoisted
		}
		delete(targets, "meds")
	}

	settings := asMap(document["settings"])
	copies := map[string]string{
		"deviceBattery":  "batteryPct",
		"lastDevicePing": "lastDevicePingISO",
	}
	for legacy, canonical := range copies {
		if _, exists := settings[canonical]; exists {
			continue
		}
		if value, exists := settings[legacy]; exists {
			settings[canonical] = value
		}
	}

	for _, item := range asSlice(document["logs"]) {
		log := asMap(item)
		if logType, _ := asString(log["type"]); logType == "meds" {
			log["type"] = TypeMed
		}
	}
}

// migrateLogIdentity is the v1 -> v2 step. Earlier iterations persisted
// logs without stable ids or units; this backfills both so later
// deduplication and display logic can rely on them.
func migrateLogIdentity(document map[string]any) {
	for _, item := range asSlice(document["logs"]) {
		log := asMap(item)
		if id, ok := asString(log["id"]); !ok || id == "" {
			log["id"] = NewID()
		}
		if unit, ok := asString(log["unit"]); !ok || unit == "" {
			logType, _ := asString(log["type"])
			if inferred := InferUnit(logType); inferred != "" {
				log["unit"] = inferred
			}
		}
	}
}

func decodeState(document map[string]any) PersistedState {
	state := PersistedState{
		Version:   SchemaVersion,
		Logs:      decodeLogs(document["logs"]),
		Targets:   decodeTargets(document["targets"]),
		MedsToday: decodeMeds(document["meds_today"]),
		Settings:  decodeSettings(document["settings"]),
	}
	return state
}

func decodeLogs(value any) []LogEntry {
	items := asSlice(value)
	logs := make([]LogEntry, 0, len(items))
	for _, item := range items {
		raw := asMap(item)
		if len(raw) == 0 {
			continue
		}
		entry := LogEntry{}
		entry.ID, _ = asString(raw["id"])
		entry.Type, _ = asString(raw["type"])
		if number, ok := asNumber(raw["value"]); ok {
			entry.Value = Float(number)
		}
		entry.Unit, _ = asString(raw["unit"])
		entry.Note, _ = asString(raw["note"])
		entry.CreatedAt, _ = asString(raw["createdAt"])
		if entry.CreatedAt == "" {
			// earliest schema recorded the creation instant under "ts"
			entry.CreatedAt, _ = asString(raw["ts"])
		}
		entry.UpdatedAt, _ = asString(raw["updatedAt"])
		entry.Source, _ = asString(raw["source"])
		logs = append(logs, entry)
	}
	return logs
}

func decodeTargets(value any) TargetSet {
	raw := asMap(value)
	targets := make(TargetSet, len(raw))
	for key, item := range raw {
		if number, ok := asNumber(item); ok {
			targets[key] = number
		}
	}
	return targets
}

func decodeMeds(value any) []MedicationEntry {
	items := asSlice(value)
	meds := make([]MedicationEntry, 0, len(items))
	for _, item := range items {
		raw := asMap(item)
		if len(raw) == 0 {
			continue
		}
		med := MedicationEntry{}
		med.ID, _ = asString(raw["id"])
		med.Title, _ = asString(raw["title"])
		med.Taken, _ = raw["taken"].(bool)
		meds = append(meds, med)
	}
	return meds
}

func decodeSettings(value any) Settings {
	raw := asMap(value)
	settings := Settings{}
	settings.TZ, _ = asString(raw["tz"])
	settings.LastDevicePingISO, _ = asString(raw["lastDevicePingISO"])
	if number, ok := asNumber(raw["batteryPct"]); ok {
		settings.BatteryPct = Float(number)
	}
	settings.City, _ = asString(raw["city"])
	return settings
}

func asMap(value any) map[string]any {
	result, _ := value.(map[string]any)
	return result
}

func asSlice(value any) []any {
	result, _ := value.([]any)
	return result
}

func asString(value any) (string, bool) {
	result, ok := value.(string)
	return result, ok
}

func asNumber(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case json.Number:
		parsed, err := typed.Float64()
		return parsed, err == nil
	case string:
		if typed == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(typed, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}
