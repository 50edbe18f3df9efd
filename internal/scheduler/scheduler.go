// Package scheduler owns the recurring weekly backup triggers.
//
// The live trigger table is derived entirely from the persisted week
// schedule; nothing else survives a restart. A trigger whose time already
// passed before the process started fires at its next weekly occurrence,
// never retroactively.
package scheduler

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/evotalks/backup-agent/internal/config"
)

var timeRe = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

// Manager maps weekdays to active cron triggers firing the backup cycle at
// a configured time of day in a fixed timezone.
type Manager struct {
	cron    *cron.Cron
	job     func()
	loc     *time.Location
	logger  zerolog.Logger

	mu      sync.Mutex
	entries map[time.Weekday]cron.EntryID
}

// New creates a Manager and starts its timer loop. job is invoked on every
// trigger fire.
func New(loc *time.Location, job func(), logger zerolog.Logger) *Manager {
	c := cron.New(cron.WithLocation(loc))
	c.Start()
	return &Manager{
		cron:    c,
		job:     job,
		loc:     loc,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		entries: make(map[time.Weekday]cron.EntryID),
	}
}

// Stop halts the timer loop. Active triggers are discarded.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cron.Stop()
	m.entries = make(map[time.Weekday]cron.EntryID)
}

// ScheduleWeekly replaces any existing trigger for the weekday with one
// firing at hhmm ("HH:MM", 24h). Cancel-then-recreate is unconditional so a
// double schedule can never produce duplicate fires for the same weekday.
func (m *Manager) ScheduleWeekly(weekday time.Weekday, hhmm string) error {
	match := timeRe.FindStringSubmatch(hhmm)
	if match == nil {
		return fmt.Errorf("invalid backup time %q, expected HH:MM", hhmm)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.entries[weekday]; ok {
		m.cron.Remove(id)
		delete(m.entries, weekday)
	}

	spec := fmt.Sprintf("%s %s * * %d", match[2], match[1], int(weekday))
	id, err := m.cron.AddFunc(spec, m.job)
	if err != nil {
		return fmt.Errorf("scheduling weekday %d at %s: %w", int(weekday), hhmm, err)
	}
	m.entries[weekday] = id

	m.logger.Info().
		Int("weekday", int(weekday)).
		Str("time", hhmm).
		Str("tz", m.loc.String()).
		Msg("weekly backup scheduled")
	return nil
}

// Cancel removes the trigger for one weekday, if any.
func (m *Manager) Cancel(weekday time.Weekday) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.entries[weekday]; ok {
		m.cron.Remove(id)
		delete(m.entries, weekday)
		m.logger.Info().Int("weekday", int(weekday)).Msg("weekly backup cancelled")
	}
}

// CancelAll removes every active trigger.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for weekday, id := range m.entries {
		m.cron.Remove(id)
		delete(m.entries, weekday)
	}
	m.logger.Info().Msg("all weekly backups cancelled")
}

// RestoreFromConfig rebuilds the trigger table from the persisted week
// schedule. Called once at process start, and again whenever the schedule
// is saved; both paths are idempotent because restore clears first.
func (m *Manager) RestoreFromConfig(week map[int]config.DaySchedule) error {
	m.CancelAll()

	days := make([]int, 0, len(week))
	for day := range week {
		days = append(days, day)
	}
	sort.Ints(days)

	for _, day := range days {
		entry := week[day]
		if !entry.Enabled {
			continue
		}
		if day < 0 || day > 6 {
			return fmt.Errorf("invalid weekday %d in schedule", day)
		}
		if err := m.ScheduleWeekly(time.Weekday(day), entry.Time); err != nil {
			return err
		}
	}
	return nil
}

// Active returns the weekdays that currently have a trigger, sorted.
func (m *Manager) Active() []time.Weekday {
	m.mu.Lock()
	defer m.mu.Unlock()

	days := make([]time.Weekday, 0, len(m.entries))
	for day := range m.entries {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

// NextFire returns the next scheduled fire time for a weekday, if active.
func (m *Manager) NextFire(weekday time.Weekday) (time.Time, bool) {
	m.mu.Lock()
	id, ok := m.entries[weekday]
	m.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := m.cron.Entry(id)
	if !entry.Valid() {
		return time.Time{}, false
	}
	return entry.Next, true
}
