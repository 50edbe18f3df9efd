package api

import (
	"time"

	"github.com/evotalks/backup-agent/internal/archive"
	"github.com/evotalks/backup-agent/internal/config"
	"github.com/evotalks/backup-agent/internal/store"
)

// ProblemDetail is an RFC 7807 style error response.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// ChatListResponse is the payload of GET /api/v1/chats.
type ChatListResponse struct {
	Chats []archive.Record `json:"chats"`
	Total int              `json:"total"`
}

// ConfigResponse is the payload of GET /api/v1/config. The remote API key
// never leaves the daemon; only its presence is reported.
type ConfigResponse struct {
	APIKeySet    bool                       `json:"apiKeySet"`
	InstanceURL  string                     `json:"instanceUrl"`
	DownloadPath string                     `json:"downloadPath"`
	WeekSchedule map[int]config.DaySchedule `json:"weekSchedule"`
}

// UpdateConfigRequest is the payload of PUT /api/v1/config. An empty APIKey
// keeps the stored one, so the UI can save settings without re-entering it.
type UpdateConfigRequest struct {
	APIKey       string                     `json:"apiKey"`
	InstanceURL  string                     `json:"instanceUrl"`
	DownloadPath string                     `json:"downloadPath"`
	WeekSchedule map[int]config.DaySchedule `json:"weekSchedule"`
}

// ScheduleResponse is the payload of GET /api/v1/schedule.
type ScheduleResponse struct {
	WeekSchedule map[int]config.DaySchedule `json:"weekSchedule"`
	ActiveDays   []int                      `json:"activeDays"`
}

// UpdateScheduleRequest is the payload of PUT /api/v1/schedule.
type UpdateScheduleRequest struct {
	WeekSchedule map[int]config.DaySchedule `json:"weekSchedule"`
}

// RunListResponse is the payload of GET /api/v1/runs.
type RunListResponse struct {
	Runs []store.Run `json:"runs"`
}

// LastBackupResponse is the payload of GET /api/v1/backup/last.
type LastBackupResponse struct {
	LastBackup *time.Time `json:"lastBackup"`
}

// RunAcceptedResponse is the payload of POST /api/v1/backup/run.
type RunAcceptedResponse struct {
	Accepted bool   `json:"accepted"`
	Trigger  string `json:"trigger"`
}
