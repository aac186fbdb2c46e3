package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"chain-tracker/internal/alerting"
	"chain-tracker/internal/config"
	"chain-tracker/internal/fetcher"
	"chain-tracker/internal/logging"
	"chain-tracker/internal/metrics"
	"chain-tracker/internal/scheduler"
	"chain-tracker/internal/service"
	"chain-tracker/internal/source"
	"chain-tracker/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output; it defaults to stdout.
	Out io.Writer

	now func() time.Time
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logging.Component(logger, "app"),
		Out:    os.Stdout,
		now:    time.Now,
	}
}

func (a *App) newFetcher() *fetcher.Client {
	f := a.Config.Fetch
	return fetcher.New(fetcher.Options{
		Timeout:         f.Timeout,
		UserAgent:       f.UserAgent,
		RatePerSecond:   f.RatePerSecond,
		Burst:           f.Burst,
		BreakerFailures: f.BreakerFailures,
		BreakerCooldown: f.BreakerCooldown,
		MaxBodyBytes:    f.MaxBodyBytes,
	}, a.Logger)
}

func (a *App) newSources(ids ...string) ([]source.Source, error) {
	client := a.newFetcher()
	return source.Select(a.Config.Sources, source.Deps{
		Documents: client,
		JSON:      client,
		Now:       a.now,
	}, ids...)
}

// newNotifier builds one notifier per configured channel. It returns nil
// when none is usable.
func (a *App) newNotifier() alerting.Notifier {
	var out alerting.Multi
	for _, channel := range a.Config.Alerting.Channels {
		switch channel {
		case "telegram":
			cfg := a.Config.Alerting.Telegram
			if !cfg.Enabled {
				a.Logger.Warn().Msg("telegram channel listed but alerting.telegram.enabled is false")
				continue
			}
			out = append(out, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger))
		case "log":
			out = append(out, alerting.NewLogNotifier(a.Logger))
		default:
			a.Logger.Warn().Str("channel", channel).Msg("unknown alert channel ignored")
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}

func (a *App) fileStore() *storage.FileStore {
	return storage.NewFileStore(a.Config.Storage.DataDir, a.Config.Storage.PullLog)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, nil
	}
	return store, store.Close, nil
}

// serviceOptions select the optional collaborators of a service.
type serviceOptions struct {
	sources   []string
	withPulls bool
	metrics   *metrics.Registry
	scheduler *scheduler.Scheduler
}

// newService wires the pipeline. The returned closer releases the database.
func (a *App) newService(ctx context.Context, opts serviceOptions) (*service.Service, func(), error) {
	files := a.fileStore()
	deps := service.Deps{
		Snapshots: files,
		PullLog:   files,
		Artifacts: files,
		Trimmer:   files,
		Notifier:  a.newNotifier(),
		Metrics:   opts.metrics,
		Scheduler: opts.scheduler,
		Now:       a.now,
	}

	if opts.withPulls {
		sources, err := a.newSources(opts.sources...)
		if err != nil {
			return nil, nil, err
		}
		deps.Sources = sources
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {}
	if store != nil {
		deps.Mirror = store
		deps.Locker = store
		closer = closeStore
	} else {
		a.Logger.Debug().Msg("database.dsn not configured; postgres mirror disabled")
	}

	return service.New(a.Config, deps, a.Logger), closer, nil
}

// RunOptions configure the run command.
type RunOptions struct {
	// Once runs the daily pipeline immediately and exits.
	Once bool
}

// Run executes the long-running scheduled service.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var reg *metrics.Registry
	if a.Config.Metrics.Enabled {
		reg = metrics.New()
		stop := a.serveMetrics(reg)
		defer stop()
	}

	var sched *scheduler.Scheduler
	if !opts.Once {
		var err error
		sched, err = scheduler.New(scheduler.Options{
			Cron:         a.Config.Scheduler.Cron,
			Location:     a.Config.Location(),
			StartupDelay: a.Config.Scheduler.StartupDelay,
			RunOnStart:   a.Config.Scheduler.RunOnStart,
		}, a.Logger)
		if err != nil {
			return err
		}
	}

	svc, closer, err := a.newService(ctx, serviceOptions{withPulls: true, metrics: reg, scheduler: sched})
	if err != nil {
		return err
	}
	defer closer()

	if opts.Once {
		report, err := svc.Daily(ctx, svc.Today())
		if err != nil {
			return err
		}
		a.printPulls(report.Pulls)
		a.printLayers(report.Package.Analysis.ChainState[:])
		return nil
	}

	a.Logger.Info().Str("cron", a.Config.Scheduler.Cron).Msg("starting chain tracker")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("chain tracker stopped")
	return nil
}

func (a *App) serveMetrics(reg *metrics.Registry) func() {
	srv := &http.Server{
		Addr:              a.Config.Metrics.Addr,
		Handler:           metrics.NewRouter(reg, a.Config.Metrics.Path),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Str("path", a.Config.Metrics.Path).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// PullOptions configure the pull command.
type PullOptions struct {
	Date    string
	Sources []string
}

// Pull runs the selected sources once and stores their payloads.
func (a *App) Pull(ctx context.Context, opts PullOptions) error {
	svc, closer, err := a.newService(ctx, serviceOptions{withPulls: true, sources: opts.Sources})
	if err != nil {
		return err
	}
	defer closer()

	date := opts.Date
	if date == "" {
		date = svc.Today()
	}
	if !storage.IsDate(date) {
		return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
	}

	a.printPulls(svc.PullAll(ctx, date))
	return nil
}

// GenerateOptions configure the generate command.
type GenerateOptions struct {
	Date   string
	Notify bool
}

// Generate builds the daily package for a date from stored snapshots.
func (a *App) Generate(ctx context.Context, opts GenerateOptions) error {
	svc, closer, err := a.newService(ctx, serviceOptions{})
	if err != nil {
		return err
	}
	defer closer()

	date := opts.Date
	if date == "" {
		date = svc.Today()
	}

	pkg, err := svc.Generate(ctx, date)
	if err != nil {
		return err
	}
	for _, w := range pkg.Warnings {
		fmt.Fprintf(a.Out, "warning: %s\n", w)
	}
	a.printLayers(pkg.Analysis.ChainState[:])

	if opts.Notify {
		sent, err := svc.Notify(ctx, pkg, false)
		if err != nil {
			return fmt.Errorf("notify: %w", err)
		}
		if !sent {
			fmt.Fprintln(a.Out, "no notification sent (alerting disabled or below min_status)")
		}
	}
	return nil
}

// Trim keeps the newest keep snapshot dates and deletes the rest.
func (a *App) Trim(ctx context.Context, keep int) error {
	if keep <= 0 {
		keep = a.Config.Storage.KeepDays
	}
	deleted, err := a.fileStore().Trim(ctx, keep)
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		fmt.Fprintf(a.Out, "nothing to trim (keeping %d days)\n", keep)
		return nil
	}
	for _, date := range deleted {
		fmt.Fprintf(a.Out, "deleted %s\n", date)
	}
	return nil
}

// Migrate applies the SQL migrations to the configured database.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; nothing to migrate")
	}
	defer closeStore()

	applied, err := store.Migrate(ctx, a.Config.Database.MigrationsPath)
	if err != nil {
		return err
	}
	for _, name := range applied {
		fmt.Fprintf(a.Out, "applied %s\n", name)
	}
	return nil
}

// ExportOptions hold parameters for exporting sparkline series.
type ExportOptions struct {
	From      string
	To        string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Date string
	// Recent lists the newest mirrored payload rows instead of one date.
	Recent int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From   string
	To     string
	DryRun bool
}
