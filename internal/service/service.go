package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"chain-tracker/internal/alerting"
	"chain-tracker/internal/analysis"
	"chain-tracker/internal/config"
	"chain-tracker/internal/metrics"
	"chain-tracker/internal/scheduler"
	"chain-tracker/internal/source"
	"chain-tracker/internal/storage"
)

// ErrLocked reports that another process holds the generation lock.
var ErrLocked = errors.New("advisory lock held elsewhere")

// Trimmer removes old snapshot dates.
type Trimmer interface {
	Trim(ctx context.Context, keep int) ([]string, error)
}

// Deps are the collaborators of a Service. Only Snapshots and Artifacts are
// required; the rest may be nil.
type Deps struct {
	Sources   []source.Source
	Snapshots storage.SnapshotStore
	PullLog   storage.PullLogger
	Artifacts storage.ArtifactStore
	Trimmer   Trimmer
	Mirror    storage.Mirror
	Locker    storage.AdvisoryLocker
	Notifier  alerting.Notifier
	Metrics   *metrics.Registry
	Scheduler *scheduler.Scheduler
	Now       func() time.Time
}

// Service orchestrates pulling, generation and notification.
type Service struct {
	deps   Deps
	runner *source.Runner
	logger zerolog.Logger

	opts      analysis.Options
	workers   int
	keepDays  int
	lockKey   int64
	location  *time.Location
	alertsOn  bool
	minStatus analysis.Status
	channels  []string
}

// New constructs the daily pipeline service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	pulls := deps.PullLog
	if pulls == nil {
		if pl, ok := deps.Snapshots.(storage.PullLogger); ok {
			pulls = pl
		}
	}

	workers := cfg.Pipeline.Workers
	if workers < 1 {
		workers = 1
	}

	return &Service{
		deps:      deps,
		runner:    source.NewRunner(deps.Snapshots, pulls, deps.Mirror, deps.Now, logger),
		logger:    logger.With().Str("component", "service").Logger(),
		opts:      analysis.OptionsFromConfig(cfg.Analysis),
		workers:   workers,
		keepDays:  cfg.Storage.KeepDays,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
		location:  cfg.Location(),
		alertsOn:  cfg.Alerting.Enabled,
		minStatus: analysis.Status(cfg.Alerting.MinStatus),
		channels:  cfg.Alerting.Channels,
	}
}

// Run drives RunDaily from the scheduler until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, s.RunDaily)
}

// Today is the current calendar date in the configured timezone.
func (s *Service) Today() string {
	return s.DateFor(s.deps.Now())
}

// DateFor formats t as a snapshot date in the configured timezone.
func (s *Service) DateFor(t time.Time) string {
	return t.In(s.location).Format(storage.DateLayout)
}

// DailyReport summarises one RunDaily invocation.
type DailyReport struct {
	RunID    string
	Date     string
	Pulls    []source.Result
	Package  analysis.Package
	Notified bool
	Trimmed  []string
}

// RunDaily pulls every source, generates the package, notifies and trims.
// When another process holds the advisory lock the run is skipped.
func (s *Service) RunDaily(ctx context.Context, fireAt time.Time) error {
	_, err := s.Daily(ctx, s.DateFor(fireAt))
	if errors.Is(err, ErrLocked) {
		s.logger.Info().Time("fire_at", fireAt).Msg("skip run because advisory lock held elsewhere")
		return nil
	}
	return err
}

// Daily runs the full pipeline for date under the advisory lock.
func (s *Service) Daily(ctx context.Context, date string) (DailyReport, error) {
	report := DailyReport{RunID: uuid.NewString(), Date: date}
	log := s.logger.With().Str("run_id", report.RunID).Str("date", date).Logger()

	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return report, err
	}
	defer unlock()

	report.Pulls = s.pullAll(ctx, log, date)

	pkg, err := s.generate(ctx, log, date)
	if err != nil {
		return report, err
	}
	report.Package = pkg

	notified, err := s.Notify(ctx, pkg, false)
	if err != nil {
		log.Error().Err(err).Msg("failed to dispatch notification")
	}
	report.Notified = notified

	if s.deps.Trimmer != nil && s.keepDays > 0 {
		deleted, err := s.deps.Trimmer.Trim(ctx, s.keepDays)
		if err != nil {
			log.Error().Err(err).Msg("trim failed")
		} else if len(deleted) > 0 {
			log.Info().Strs("deleted", deleted).Msg("trimmed old snapshots")
		}
		report.Trimmed = deleted
	}

	log.Info().Str("worst_status", string(pkg.Analysis.WorstStatus())).
		Bool("notified", notified).
		Msg("daily run complete")
	return report, nil
}

// PullAll runs every configured source for date. Sources run concurrently,
// bounded by the worker count; results keep source order.
func (s *Service) PullAll(ctx context.Context, date string) []source.Result {
	log := s.logger.With().Str("run_id", uuid.NewString()).Str("date", date).Logger()
	return s.pullAll(ctx, log, date)
}

func (s *Service) pullAll(ctx context.Context, log zerolog.Logger, date string) []source.Result {
	results := make([]source.Result, len(s.deps.Sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, src := range s.deps.Sources {
		i, src := i, src
		g.Go(func() error {
			res := s.runner.Run(gctx, src, date)
			results[i] = res
			s.deps.Metrics.ObservePull(res.Payload.SourceID, string(res.Payload.Status), res.Elapsed)
			return nil
		})
	}
	_ = g.Wait()

	counts := map[storage.Status]int{}
	for _, res := range results {
		counts[res.Payload.Status]++
	}
	log.Info().Int("sources", len(results)).
		Int("ok", counts[storage.StatusOK]).
		Int("partial", counts[storage.StatusPartial]).
		Int("error", counts[storage.StatusError]).
		Msg("pull complete")
	return results
}

// Generate builds and stores the daily package for date under the advisory
// lock.
func (s *Service) Generate(ctx context.Context, date string) (analysis.Package, error) {
	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return analysis.Package{}, err
	}
	defer unlock()

	log := s.logger.With().Str("run_id", uuid.NewString()).Str("date", date).Logger()
	return s.generate(ctx, log, date)
}

func (s *Service) generate(ctx context.Context, log zerolog.Logger, date string) (analysis.Package, error) {
	pkg, err := s.buildPackage(ctx, date)
	if err == nil {
		err = s.persist(ctx, log, pkg)
	}
	s.deps.Metrics.ObserveGeneration(err, s.deps.Now())
	if err != nil {
		return pkg, err
	}

	for _, layer := range pkg.Analysis.ChainState {
		s.deps.Metrics.SetLayer(layer.Name, layer.Status.Rank())
	}
	for _, w := range pkg.Warnings {
		log.Warn().Msg(w)
	}
	log.Info().Str("worst_status", string(pkg.Analysis.WorstStatus())).Msg("daily package generated")
	return pkg, nil
}

// Preview builds the package for date without storing or notifying.
func (s *Service) Preview(ctx context.Context, date string) (analysis.Package, error) {
	return s.buildPackage(ctx, date)
}

func (s *Service) buildPackage(ctx context.Context, date string) (analysis.Package, error) {
	if !storage.IsDate(date) {
		return analysis.Package{}, fmt.Errorf("invalid date %q", date)
	}

	current, err := s.deps.Snapshots.LoadSnapshot(ctx, date)
	if err != nil {
		return analysis.Package{}, fmt.Errorf("load snapshot %s: %w", date, err)
	}

	dates, err := s.deps.Snapshots.Dates(ctx)
	if err != nil {
		return analysis.Package{}, fmt.Errorf("list dates: %w", err)
	}
	var previous *storage.Snapshot
	if prevDate, ok := storage.PreviousDate(dates, date); ok {
		snap, err := s.deps.Snapshots.LoadSnapshot(ctx, prevDate)
		if err != nil {
			return analysis.Package{}, fmt.Errorf("load snapshot %s: %w", prevDate, err)
		}
		previous = &snap
	}

	history, err := s.deps.Snapshots.History(ctx)
	if err != nil {
		return analysis.Package{}, fmt.Errorf("load history: %w", err)
	}
	history = upTo(history, date)

	return analysis.Generate(analysis.Input{
		Date:        date,
		Current:     current,
		Previous:    previous,
		History:     history,
		GeneratedAt: s.deps.Now(),
	}, s.opts), nil
}

// upTo drops snapshots after date so regenerating a past day does not see the
// future.
func upTo(history []storage.Snapshot, date string) []storage.Snapshot {
	out := history[:0:0]
	for _, snap := range history {
		if snap.Date <= date {
			out = append(out, snap)
		}
	}
	return out
}

func (s *Service) persist(ctx context.Context, log zerolog.Logger, pkg analysis.Package) error {
	date := pkg.Analysis.Date
	if err := s.deps.Artifacts.WriteAnalysis(ctx, date, pkg.Analysis); err != nil {
		return fmt.Errorf("write analysis: %w", err)
	}
	if err := s.deps.Artifacts.WriteDigest(ctx, date, pkg.Digest); err != nil {
		return fmt.Errorf("write digest: %w", err)
	}

	if s.deps.Mirror != nil {
		body, err := json.Marshal(pkg.Analysis)
		if err != nil {
			return fmt.Errorf("marshal analysis: %w", err)
		}
		record := storage.AnalysisRecord{
			Date:        date,
			GeneratedAt: pkg.Analysis.GeneratedAt.Time,
			Analysis:    body,
			Digest:      pkg.Digest,
		}
		if err := s.deps.Mirror.UpsertAnalysis(ctx, record); err != nil {
			log.Warn().Err(err).Msg("mirror analysis failed")
		}
	}
	return nil
}

// Notify sends the package when alerting is on and the worst layer reaches
// the configured minimum status. It reports whether a notification went out.
func (s *Service) Notify(ctx context.Context, pkg analysis.Package, simulated bool) (bool, error) {
	if !s.alertsOn || s.deps.Notifier == nil {
		return false, nil
	}
	worst := pkg.Analysis.WorstStatus()
	if !worst.Notable() || worst.Rank() < s.minStatus.Rank() {
		s.logger.Debug().Str("worst_status", string(worst)).Msg("below alert threshold")
		return false, nil
	}

	note := alerting.Notification{
		Date:      pkg.Analysis.Date,
		Status:    worst,
		Layers:    pkg.Analysis.ChainState[:],
		Digest:    pkg.Digest,
		Channels:  s.channels,
		Simulated: simulated,
	}
	err := s.deps.Notifier.Notify(ctx, note)
	s.deps.Metrics.ObserveNotification(err)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), error) {
	if s.lockKey == 0 || s.deps.Locker == nil {
		return func() {}, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, ErrLocked
	}
	return unlock, nil
}
