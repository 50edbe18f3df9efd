package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Run statuses.
const (
	RunCompleted = "completed"
	RunSkipped   = "skipped"
	RunIdle      = "idle"
)

// Run records the outcome of one backup cycle.
type Run struct {
	ID          string    `json:"id"`
	Trigger     string    `json:"trigger"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	ChatsTotal  int       `json:"chatsTotal"`
	ChatsFailed int       `json:"chatsFailed"`
	ChatsLeft   []int     `json:"chatsLeft"`
	Status      string    `json:"status"`
}

// SaveRun persists a completed run record.
func (s *Store) SaveRun(run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	left, err := json.Marshal(run.ChatsLeft)
	if err != nil {
		return fmt.Errorf("encoding chats left: %w", err)
	}
	if run.ChatsLeft == nil {
		left = []byte("[]")
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, fired_by, started_at, finished_at, chats_total, chats_failed, chats_left, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Trigger, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
		run.ChatsTotal, run.ChatsFailed, string(left), run.Status,
	)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, fired_by, started_at, finished_at, chats_total, chats_failed, chats_left, status
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished int64
			left              string
		)
		if err := rows.Scan(&r.ID, &r.Trigger, &started, &finished, &r.ChatsTotal, &r.ChatsFailed, &left, &r.Status); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		if err := json.Unmarshal([]byte(left), &r.ChatsLeft); err != nil {
			r.ChatsLeft = nil
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CleaningCheck records the outcome of one day's retention check.
type CleaningCheck struct {
	Day       string    `json:"day"` // "2006-01-02"
	CheckedAt time.Time `json:"checkedAt"`
	Scheduled bool      `json:"scheduled"`
	FirstID   int       `json:"firstId"`
	LastID    int       `json:"lastId"`
	BackedUp  int       `json:"backedUp"`
	Failed    int       `json:"failed"`
}

// HasCleaningCheck reports whether a retention check already ran on the
// given calendar day. The gate is persisted so a mid-day restart cannot
// trigger a second sweep.
func (s *Store) HasCleaningCheck(day string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var got string
	err := s.db.QueryRow(`SELECT day FROM cleaning_checks WHERE day = ?`, day).Scan(&got)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying cleaning check: %w", err)
	}
	return true, nil
}

// SaveCleaningCheck records a day's retention check, replacing any earlier
// record for the same day.
func (s *Store) SaveCleaningCheck(check CleaningCheck) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scheduled := 0
	if check.Scheduled {
		scheduled = 1
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO cleaning_checks (day, checked_at, scheduled, first_id, last_id, backed_up, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		check.Day, check.CheckedAt.UnixMilli(), scheduled, check.FirstID, check.LastID, check.BackedUp, check.Failed,
	)
	if err != nil {
		return fmt.Errorf("saving cleaning check: %w", err)
	}
	return nil
}
