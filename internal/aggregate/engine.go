// Package aggregate computes temporal rollups over the log collection:
// range and day sums, Monday-start week sums, and multi-day streak walks.
package aggregate

import (
	"errors"
	"time"

	"github.com/pulselog/pulselog/internal/clock"
	"github.com/pulselog/pulselog/internal/schema"
	"github.com/pulselog/pulselog/internal/store"
	"go.uber.org/zap"
)

var (
	errMissingLogs  = errors.New("aggregate: log source is required")
	errMissingClock = errors.New("aggregate: clock resolver is required")
)

// LogSource is the slice of the store the engine reads.
type LogSource interface {
	ListLogs(filter store.Filter) []schema.LogEntry
	Settings() schema.Settings
}

// Totals is one aggregation result. Med entries count occurrences; the
// other metrics sum values.
type Totals struct {
	WaterML    float64 `json:"water_ml"`
	Steps      float64 `json:"steps"`
	SleepMin   float64 `json:"sleep_min"`
	CaffeineMG float64 `json:"caffeine_mg"`
	MedsTaken  int     `json:"meds_taken"`
}

// Metric reads a total by its canonical target key. meds_taken is exposed
// for completeness.
func (t Totals) Metric(key string) float64 {
	switch key {
	case schema.TargetWaterML:
		return t.WaterML
	case schema.TargetSteps:
		return t.Steps
	case schema.TargetSleepMin:
		return t.SleepMin
	case schema.TargetCaffeineMG:
		return t.CaffeineMG
	case "meds_taken":
		return float64(t.MedsTaken)
	default:
		return 0
	}
}

// DayAggregate pairs a zoned day start with that day's totals.
type DayAggregate struct {
	Day    time.Time `json:"-"`
	DayISO string    `json:"day"`
	Totals Totals    `json:"totals"`
}

// Config carries the dependencies for an Engine.
type Config struct {
	Logs   LogSource
	Clock  *clock.Resolver
	Logger *zap.Logger
}

// Engine computes aggregates against the store's log collection.
type Engine struct {
	logs   LogSource
	clock  *clock.Resolver
	logger *zap.Logger
}

// New constructs an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Logs == nil {
		return nil, errMissingLogs
	}
	if cfg.Clock == nil {
		return nil, errMissingClock
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logs: cfg.Logs, clock: cfg.Clock, logger: logger}, nil
}

// Range sums logs whose creation instant falls within [start, end]
// inclusive. Unknown types are ignored; absent values contribute nothing.
func (e *Engine) Range(start, end time.Time) Totals {
	totals := Totals{}
	for _, entry := range e.logs.ListLogs(store.Filter{Since: &start, Until: &end}) {
		value := 0.0
		if entry.Value != nil {
			value = *entry.Value
		}
		switch entry.Type {
		case schema.TypeWater:
			totals.WaterML += value
		case schema.TypeSteps:
			totals.Steps += value
		case schema.TypeSleep:
			totals.SleepMin += value
		case schema.TypeCaffeine:
			totals.CaffeineMG += value
		case schema.TypeMed:
			totals.MedsTaken++
		}
	}
	return totals
}

// Day aggregates the zoned calendar day containing the instant. An empty
// tz resolves through settings, then the system zone, then UTC.
func (e *Engine) Day(date time.Time, tz string) Totals {
	location := e.location(tz)
	start, end := e.clock.DayWindow(date, location)
	return e.Range(start, end)
}

// Week aggregates the Monday-start week containing the instant.
func (e *Engine) Week(anchor time.Time, tz string) Totals {
	location := e.location(tz)
	start, end := e.clock.WeekWindow(anchor, location)
	return e.Range(start, end)
}

// Streaks returns per-day aggregates for exactly days consecutive calendar
// days ending today, most recent first.
func (e *Engine) Streaks(days int) []DayAggregate {
	if days <= 0 {
		return []DayAggregate{}
	}
	location := e.location("")
	today := e.clock.StartOfDay(e.clock.Now(), location)

	aggregates := make([]DayAggregate, 0, days)
	for i := 0; i < days; i++ {
		day := today.AddDate(0, 0, -i)
		start, end := e.clock.DayWindow(day, location)
		aggregates = append(aggregates, DayAggregate{
			Day:    start,
			DayISO: schema.FormatTime(start),
			Totals: e.Range(start, end),
		})
	}
	return aggregates
}

// Direction states whether a metric counts up toward a goal or must stay
// under a ceiling.
type Direction int

const (
	// HigherIsBetter streaks require the aggregate to meet or exceed the target.
	HigherIsBetter Direction = iota
	// LowerIsBetter streaks require the aggregate to stay at or below the
	// target (the caffeine ceiling).
	LowerIsBetter
)

// StreakLength walks day aggregates from today backward and counts the
// consecutive leading days meeting the target; the walk stops at the first
// failing day.
func StreakLength(days []DayAggregate, metric string, target float64, direction Direction) int {
	length := 0
	for _, day := range days {
		value := day.Totals.Metric(metric)
		met := value >= target
		if direction == LowerIsBetter {
			met = value <= target
		}
		if !met {
			break
		}
		length++
	}
	return length
}

func (e *Engine) location(tz string) *time.Location {
	if tz == "" {
		tz = e.logs.Settings().TZ
	}
	return e.clock.Location(tz)
}
