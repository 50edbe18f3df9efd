// Package reconciler guards local data against the remote retention purge.
//
// The remote system periodically deletes old chats ("cleaning"). Before each
// backup cycle the reconciler asks for the next purge window and, when one
// is scheduled, downloads every chat in the announced id range as a raw
// archive. The sweep runs at most once per calendar day: completeness is
// traded for idempotence, so a failed sweep is not retried until the next
// day.
package reconciler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/evotalks/backup-agent/internal/evotalks"
	"github.com/evotalks/backup-agent/internal/metrics"
	"github.com/evotalks/backup-agent/internal/store"
)

// DefaultMaxRange bounds the purge window the reconciler is willing to
// sweep. The range comes from an untrusted remote response; an absurd window
// must not turn into an unbounded download loop.
const DefaultMaxRange = 10000

// BackupClient is the slice of the remote client the reconciler uses.
type BackupClient interface {
	FetchCleaningInfo(ctx context.Context, creds evotalks.Credentials) evotalks.CleaningResult
	FetchChatBackup(ctx context.Context, creds evotalks.Credentials, chatID int, opts evotalks.BundleOptions) evotalks.BundleResult
}

// ArchiveWriter stores swept chats as raw archives.
type ArchiveWriter interface {
	SaveRawArchive(dir string, chatID int, raw []byte) error
}

// Gate persists the once-per-day check so it survives a restart.
type Gate interface {
	HasCleaningCheck(day string) (bool, error)
	SaveCleaningCheck(check store.CleaningCheck) error
}

// Reconciler runs the daily retention check.
type Reconciler struct {
	client   BackupClient
	archive  ArchiveWriter
	gate     Gate
	metrics  *metrics.Metrics
	now      func() time.Time
	maxRange int
	logger   zerolog.Logger
}

// New creates a Reconciler. m may be nil.
func New(client BackupClient, archive ArchiveWriter, gate Gate, m *metrics.Metrics, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		client:   client,
		archive:  archive,
		gate:     gate,
		metrics:  m,
		now:      time.Now,
		maxRange: DefaultMaxRange,
		logger:   logger.With().Str("component", "reconciler").Logger(),
	}
}

// SetClock overrides the wall clock used for the calendar-day gate.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// SetMaxRange overrides the purge-window sanity bound.
func (r *Reconciler) SetMaxRange(n int) {
	r.maxRange = n
}

// Run performs the daily check. Every failure is logged and absorbed here;
// the backup cycle proceeds regardless of the outcome. Once the check has
// run for the current calendar day it will not run again that day, even
// across process restarts.
func (r *Reconciler) Run(ctx context.Context, creds evotalks.Credentials, downloadDir string) {
	if creds.APIKey == "" || creds.InstanceURL == "" || downloadDir == "" {
		return
	}

	day := r.now().Format("2006-01-02")
	checked, err := r.gate.HasCleaningCheck(day)
	if err != nil {
		r.logger.Error().Err(err).Msg("reading cleaning gate")
		return
	}
	if checked {
		return
	}

	res := r.client.FetchCleaningInfo(ctx, creds)
	if res.Status != evotalks.StatusOK {
		r.logger.Warn().Stringer("status", res.Status).Msg("cleaning info not available")
		r.saveCheck(store.CleaningCheck{Day: day})
		return
	}

	info := res.Info
	if !info.Scheduled {
		r.logger.Debug().Msg("no cleaning scheduled")
		r.saveCheck(store.CleaningCheck{Day: day})
		return
	}

	check := store.CleaningCheck{
		Day:       day,
		Scheduled: true,
		FirstID:   info.FirstID,
		LastID:    info.LastID,
	}

	if info.LastID < info.FirstID || info.LastID-info.FirstID > r.maxRange {
		r.logger.Warn().
			Int("first_id", info.FirstID).
			Int("last_id", info.LastID).
			Int("max_range", r.maxRange).
			Msg("cleaning window failed sanity check, skipping sweep")
		r.saveCheck(check)
		return
	}

	r.logger.Info().
		Int("first_id", info.FirstID).
		Int("last_id", info.LastID).
		Msg("cleaning scheduled, sweeping purge window")

	for chatID := info.FirstID; chatID <= info.LastID; chatID++ {
		if ctx.Err() != nil {
			r.logger.Warn().Err(ctx.Err()).Int("chat_id", chatID).Msg("sweep interrupted")
			break
		}

		bundle := r.client.FetchChatBackup(ctx, creds, chatID, evotalks.BundleOptions{})
		if bundle.Status != evotalks.StatusOK {
			check.Failed++
			r.recordSweep("failed")
			r.logger.Warn().Int("chat_id", chatID).Stringer("status", bundle.Status).Msg("cleaning backup failed")
			continue
		}

		if err := r.archive.SaveRawArchive(downloadDir, chatID, bundle.Data); err != nil {
			check.Failed++
			r.recordSweep("failed")
			r.logger.Error().Err(err).Int("chat_id", chatID).Msg("storing cleaning backup")
			continue
		}
		check.BackedUp++
		r.recordSweep("backed_up")
	}

	r.logger.Info().Int("backed_up", check.BackedUp).Int("failed", check.Failed).Msg("cleaning sweep finished")
	r.saveCheck(check)
}

func (r *Reconciler) recordSweep(result string) {
	if r.metrics != nil {
		r.metrics.CleaningBackupsTotal.WithLabelValues(result).Inc()
	}
}

func (r *Reconciler) saveCheck(check store.CleaningCheck) {
	check.CheckedAt = r.now()
	if err := r.gate.SaveCleaningCheck(check); err != nil {
		r.logger.Error().Err(err).Msg("persisting cleaning gate")
	}
}
