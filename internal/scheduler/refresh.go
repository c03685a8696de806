// internal/scheduler/refresh.go
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/courtmaster/timemap/internal/timemap"
)

const refreshTimeout = 30 * time.Second

// TrackedDay identifies one grid currently held in memory.
type TrackedDay struct {
	Date        string
	ViewingType int
}

// DayFeed pulls updates from the booking backend.
type DayFeed interface {
	Poll(ctx context.Context, date string, viewingType int) (timemap.InstructionSet, error)
	FetchDay(ctx context.Context, date string, viewingType int) (timemap.RawSnapshot, error)
}

// DayState is the in-memory grid state the feed gets applied to.
type DayState interface {
	TrackedDays() []TrackedDay
	ApplyFeed(day TrackedDay, instructions timemap.InstructionSet) (refresh bool, err error)
	ReplaceDay(raw timemap.RawSnapshot) error
}

// SnapshotStore caches full upstream payloads between restarts.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, raw timemap.RawSnapshot) error
	DeleteSnapshotsBefore(ctx context.Context, cutoff string) (int64, error)
}

// RegisterRefreshJob polls the backend for every tracked day on a fixed
// interval and folds the updates into local state. A failed cycle is logged
// and skipped so a flaky backend never takes the grid down.
func RegisterRefreshJob(svc *Service, interval time.Duration, feed DayFeed, state DayState, store SnapshotStore) error {
	_, err := svc.AddIntervalJob("grid-refresh", interval, refreshTask(feed, state, store))
	return err
}

func refreshTask(feed DayFeed, state DayState, store SnapshotStore) func() {
	logger := log.With().Str("component", "refresh").Logger()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		for _, day := range state.TrackedDays() {
			dayLogger := logger.With().Str("date", day.Date).Int("type", day.ViewingType).Logger()

			instructions, err := feed.Poll(ctx, day.Date, day.ViewingType)
			if err != nil {
				dayLogger.Warn().Err(err).Msg("Poll failed, keeping current grid")
				continue
			}
			if instructions.Empty() {
				continue
			}

			refresh, err := state.ApplyFeed(day, instructions)
			if err != nil {
				dayLogger.Warn().Err(err).Msg("Feed rejected, requesting full day")
				refresh = true
			}
			if !refresh {
				continue
			}

			raw, err := feed.FetchDay(ctx, day.Date, day.ViewingType)
			if err != nil {
				dayLogger.Warn().Err(err).Msg("Full day fetch failed, keeping current grid")
				continue
			}
			if store != nil {
				if err := store.SaveSnapshot(ctx, raw); err != nil {
					dayLogger.Warn().Err(err).Msg("Snapshot cache write failed")
				}
			}
			if err := state.ReplaceDay(raw); err != nil {
				dayLogger.Error().Err(err).Msg("Fetched day is malformed, keeping current grid")
				continue
			}
			dayLogger.Info().Msg("Grid replaced from full day fetch")
		}
	}
}

// RegisterPruneJob drops cached day payloads older than keepDays once a day.
func RegisterPruneJob(svc *Service, cronExpr string, store SnapshotStore, keepDays int) error {
	_, err := svc.AddJob("snapshot-prune", cronExpr, pruneTask(store, keepDays, time.Now))
	return err
}

func pruneTask(store SnapshotStore, keepDays int, now func() time.Time) func() {
	logger := log.With().Str("component", "refresh").Logger()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		cutoff := now().AddDate(0, 0, -keepDays).Format("2006-01-02")
		removed, err := store.DeleteSnapshotsBefore(ctx, cutoff)
		if err != nil {
			logger.Warn().Err(err).Str("cutoff", cutoff).Msg("Snapshot prune failed")
			return
		}
		if removed > 0 {
			logger.Info().Int64("removed", removed).Str("cutoff", cutoff).Msg("Pruned cached days")
		}
	}
}
