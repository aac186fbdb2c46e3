package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chain-tracker/internal/storage"
)

// Result is the outcome of one source run.
type Result struct {
	Payload storage.SourcePayload
	Elapsed time.Duration
	// Err carries persistence failures only; pull failures live in Payload.
	Err error
}

// Runner drives the pull, log, persist lifecycle shared by all sources.
type Runner struct {
	store  storage.SnapshotStore
	pulls  storage.PullLogger
	mirror storage.Mirror
	logger zerolog.Logger
	now    Clock
}

// NewRunner wires the runner. mirror may be nil.
func NewRunner(store storage.SnapshotStore, pulls storage.PullLogger, mirror storage.Mirror, now Clock, logger zerolog.Logger) *Runner {
	if now == nil {
		now = time.Now
	}
	return &Runner{
		store:  store,
		pulls:  pulls,
		mirror: mirror,
		logger: logger.With().Str("component", "source_runner").Logger(),
		now:    now,
	}
}

// Run pulls src and stores the payload under date. A failure in one stage is
// logged and never stops the following stages.
func (r *Runner) Run(ctx context.Context, src Source, date string) Result {
	start := r.now()
	payload := SafePull(ctx, src, r.now)
	res := Result{Payload: payload, Elapsed: r.now().Sub(start)}

	log := r.logger.With().Str("source_id", payload.SourceID).Str("date", date).Logger()
	evt := log.Info()
	if payload.Status != storage.StatusOK {
		evt = log.Warn().Strs("errors", payload.Errors)
	}
	evt.Str("status", string(payload.Status)).Dur("elapsed", res.Elapsed).Msg("source pulled")

	if err := r.pulls.AppendPullLog(ctx, storage.NewPullLogEntry(payload)); err != nil {
		log.Error().Err(err).Msg("append pull log failed")
		res.Err = errors.Join(res.Err, err)
	}
	if err := r.store.SavePayload(ctx, date, payload); err != nil {
		log.Error().Err(err).Msg("save payload failed")
		res.Err = errors.Join(res.Err, err)
	}
	if r.mirror != nil {
		if err := r.mirror.UpsertPayload(ctx, date, payload); err != nil {
			log.Warn().Err(err).Msg("mirror payload failed")
		}
	}
	return res
}

// SafePull runs src.Pull and converts a panic into an error payload.
func SafePull(ctx context.Context, src Source, now Clock) (payload storage.SourcePayload) {
	if now == nil {
		now = time.Now
	}
	defer func() {
		if rec := recover(); rec != nil {
			payload = storage.SourcePayload{
				SourceID: src.ID(),
				PulledAt: storage.NewTimestamp(now()),
				Status:   storage.StatusError,
				Data:     map[string]*float64{},
				Errors:   []string{fmt.Sprintf("unhandled pull error: %v", rec)},
			}
		}
	}()

	payload = src.Pull(ctx)
	if payload.SourceID == "" {
		payload.SourceID = src.ID()
	}
	if payload.Data == nil {
		payload.Data = map[string]*float64{}
	}
	return payload
}
