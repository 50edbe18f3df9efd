// Package orchestrator drives one backup cycle: retention check, closed-chat
// discovery and per-chat download and persistence.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evotalks/backup-agent/internal/config"
	"github.com/evotalks/backup-agent/internal/evotalks"
	"github.com/evotalks/backup-agent/internal/metrics"
	"github.com/evotalks/backup-agent/internal/store"
)

// Triggers identify what fired a cycle.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// ConfigSource supplies the persisted application config, read fresh per
// cycle so user changes apply without a restart.
type ConfigSource interface {
	Load() (config.AppConfig, error)
}

// Client is the slice of the remote client the orchestrator uses.
type Client interface {
	ListClosedChats(ctx context.Context, creds evotalks.Credentials, rng *evotalks.DateRange) evotalks.ChatIDsResult
	FetchChatBackup(ctx context.Context, creds evotalks.Credentials, chatID int, opts evotalks.BundleOptions) evotalks.BundleResult
}

// Archive is the slice of the archive store the orchestrator uses.
type Archive interface {
	PersistBundle(dir string, chatID int, raw []byte) error
	LastBackupTime(dir string) (time.Time, bool)
}

// Reconciler runs the pre-cycle retention check.
type Reconciler interface {
	Run(ctx context.Context, creds evotalks.Credentials, downloadDir string)
}

// RunStore persists cycle outcomes.
type RunStore interface {
	SaveRun(run store.Run) error
}

// Result summarizes one backup cycle. ChatsLeft holds the ids that failed
// this run; it is reported and recorded but never used to drive retries —
// the remote's closed-chat list is the only source of retry truth.
type Result struct {
	RunID     string `json:"runId"`
	Status    string `json:"status"`
	Total     int    `json:"total"`
	BackedUp  int    `json:"backedUp"`
	ChatsLeft []int  `json:"chatsLeft,omitempty"`
}

// Orchestrator owns the backup cycle. A run-lock coalesces overlapping
// trigger fires: a cycle that starts while another is still running is
// skipped, never run concurrently.
type Orchestrator struct {
	configs    ConfigSource
	client     Client
	archive    Archive
	reconciler Reconciler
	runs       RunStore
	metrics    *metrics.Metrics
	now        func() time.Time
	logger     zerolog.Logger

	mu sync.Mutex
}

// New creates an Orchestrator. runs and m may be nil.
func New(configs ConfigSource, client Client, archive Archive, reconciler Reconciler, runs RunStore, m *metrics.Metrics, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		configs:    configs,
		client:     client,
		archive:    archive,
		reconciler: reconciler,
		runs:       runs,
		metrics:    m,
		now:        time.Now,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
	}
}

// SetClock overrides the wall clock used for date-range computation.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// RunBackupCycle executes one cycle. It never returns an error: every
// internal failure is logged and attributed to a chat or to the cycle
// precondition, so nothing propagates to the scheduler.
func (o *Orchestrator) RunBackupCycle(ctx context.Context, trigger string) Result {
	if !o.mu.TryLock() {
		o.logger.Warn().Str("trigger", trigger).Msg("backup cycle already running, fire coalesced")
		o.recordCycle(trigger, store.RunSkipped)
		return Result{Status: store.RunSkipped}
	}
	defer o.mu.Unlock()

	started := o.now()
	runID := uuid.New().String()
	log := o.logger.With().Str("run_id", runID).Str("trigger", trigger).Logger()

	cfg, err := o.configs.Load()
	if err != nil {
		log.Error().Err(err).Msg("loading config")
		o.recordCycle(trigger, store.RunIdle)
		return Result{RunID: runID, Status: store.RunIdle}
	}

	creds := evotalks.Credentials{APIKey: cfg.APIKey, InstanceURL: cfg.InstanceURL}

	// The retention check always goes first; its failures never abort the
	// cycle.
	o.reconciler.Run(ctx, creds, cfg.DownloadPath)

	// Unconfigured is a valid idle state, not a fault.
	if !cfg.BackupConfigured() {
		log.Debug().Msg("credentials or download path not configured, cycle idle")
		o.recordCycle(trigger, store.RunIdle)
		return Result{RunID: runID, Status: store.RunIdle}
	}

	rng := o.queryRange(cfg.DownloadPath)
	list := o.client.ListClosedChats(ctx, creds, rng)
	if list.Status != evotalks.StatusOK || len(list.IDs) == 0 {
		log.Info().Stringer("status", list.Status).Msg("no closed chats to back up")
		result := Result{RunID: runID, Status: store.RunCompleted}
		o.finishRun(log, runID, trigger, started, result)
		return result
	}

	log.Info().Int("count", len(list.IDs)).Msg("backing up closed chats")

	var chatsLeft []int
	backedUp := 0
	for _, chatID := range list.IDs {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Msg("cycle interrupted")
			chatsLeft = append(chatsLeft, chatID)
			continue
		}

		bundle := o.client.FetchChatBackup(ctx, creds, chatID, evotalks.BundleOptions{
			AsJSON:       true,
			IncludeFiles: true,
		})
		if bundle.Status != evotalks.StatusOK {
			log.Warn().Int("chat_id", chatID).Stringer("status", bundle.Status).Msg("chat backup not available")
			chatsLeft = append(chatsLeft, chatID)
			continue
		}

		if err := o.archive.PersistBundle(cfg.DownloadPath, chatID, bundle.Data); err != nil {
			log.Error().Err(err).Int("chat_id", chatID).Msg("persisting chat bundle")
			chatsLeft = append(chatsLeft, chatID)
			continue
		}

		backedUp++
		if o.metrics != nil {
			o.metrics.ChatsBackedUpTotal.Inc()
		}
	}

	if o.metrics != nil {
		o.metrics.ChatFailuresTotal.Add(float64(len(chatsLeft)))
	}

	result := Result{
		RunID:     runID,
		Status:    store.RunCompleted,
		Total:     len(list.IDs),
		BackedUp:  backedUp,
		ChatsLeft: chatsLeft,
	}

	log.Info().
		Int("total", result.Total).
		Int("backed_up", result.BackedUp).
		Ints("chats_left", chatsLeft).
		Msg("backup cycle finished")

	o.finishRun(log, runID, trigger, started, result)
	return result
}

// queryRange computes the closed-chat query window: one day ending at the
// newest stored record's date, or at today when the archive is empty. The
// window deliberately never widens to cover multi-day gaps.
func (o *Orchestrator) queryRange(dir string) *evotalks.DateRange {
	end, ok := o.archive.LastBackupTime(dir)
	if !ok {
		end = o.now()
	}
	return &evotalks.DateRange{
		StartDate: end.AddDate(0, 0, -1).Format("2006-01-02"),
		EndDate:   end.Format("2006-01-02"),
	}
}

func (o *Orchestrator) finishRun(log zerolog.Logger, runID, trigger string, started time.Time, result Result) {
	finished := o.now()
	o.recordCycle(trigger, result.Status)
	if o.metrics != nil {
		o.metrics.ObserveCycleDuration(finished.Sub(started).Seconds())
	}

	if o.runs == nil {
		return
	}
	err := o.runs.SaveRun(store.Run{
		ID:          runID,
		Trigger:     trigger,
		StartedAt:   started,
		FinishedAt:  finished,
		ChatsTotal:  result.Total,
		ChatsFailed: len(result.ChatsLeft),
		ChatsLeft:   result.ChatsLeft,
		Status:      result.Status,
	})
	if err != nil {
		log.Error().Err(err).Msg("recording run history")
	}
}

func (o *Orchestrator) recordCycle(trigger, status string) {
	if o.metrics != nil {
		o.metrics.RecordCycle(trigger, status)
	}
}
