package clock

import (
	"time"

	"go.uber.org/zap"
)

// DefaultZone is used when neither the caller nor the settings supply a zone
// and the system zone cannot be resolved.
const DefaultZone = "UTC"

var noOpLogger = zap.NewNop()

// ResolverConfig carries the dependencies for a Resolver.
type ResolverConfig struct {
	// DefaultZone is the IANA zone consulted when a lookup receives an
	// empty or unknown zone name.
	DefaultZone string
	Now         func() time.Time
	Logger      *zap.Logger
}

// Resolver resolves IANA timezones and computes zoned day and week windows.
// Day boundaries always derive from calendar fields extracted in the target
// zone, so days shortened or stretched by DST transitions come out correct.
type Resolver struct {
	defaultZone string
	now         func() time.Time
	logger      *zap.Logger
}

// NewResolver constructs a Resolver. All config fields are optional.
func NewResolver(cfg ResolverConfig) *Resolver {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Resolver{
		defaultZone: cfg.DefaultZone,
		now:         now,
		logger:      logger,
	}
}

// Now returns the current instant from the injected clock.
func (r *Resolver) Now() time.Time {
	return r.now()
}

// Location resolves a zone name, falling back through the configured
// default zone and the system zone before settling on UTC.
func (r *Resolver) Location(name string) *time.Location {
	for _, candidate := range []string{name, r.defaultZone} {
		if candidate == "" {
			continue
		}
		location, err := time.LoadLocation(candidate)
		if err != nil {
			r.logger.Warn("unresolvable timezone", zap.String("zone", candidate), zap.Error(err))
			continue
		}
		return location
	}
	if time.Local != nil {
		return time.Local
	}
	return time.UTC
}

// StartOfDay returns midnight of the calendar day containing the instant,
// in the provided location.
func (r *Resolver) StartOfDay(at time.Time, location *time.Location) time.Time {
	year, month, day := at.In(location).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, location)
}

// EndOfDay returns the last representable millisecond of the calendar day
// containing the instant, in the provided location.
func (r *Resolver) EndOfDay(at time.Time, location *time.Location) time.Time {
	year, month, day := at.In(location).Date()
	return time.Date(year, month, day, 23, 59, 59, 999000000, location)
}

// DayWindow returns the inclusive [start, end] bounds of the zoned calendar
// day containing the instant.
func (r *Resolver) DayWindow(at time.Time, location *time.Location) (time.Time, time.Time) {
	return r.StartOfDay(at, location), r.EndOfDay(at, location)
}

// StartOfWeek returns midnight of the Monday opening the week that contains
// the instant.
func (r *Resolver) StartOfWeek(at time.Time, location *time.Location) time.Time {
	start := r.StartOfDay(at, location)
	offset := (int(start.Weekday()) + 6) % 7
	return start.AddDate(0, 0, -offset)
}

// WeekWindow returns the inclusive [start, end] bounds of the Monday-start
// week containing the instant.
func (r *Resolver) WeekWindow(at time.Time, location *time.Location) (time.Time, time.Time) {
	start := r.StartOfWeek(at, location)
	return start, r.EndOfDay(start.AddDate(0, 0, 6), location)
}
