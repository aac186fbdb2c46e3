package service

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chain-tracker/internal/alerting"
	"chain-tracker/internal/analysis"
	"chain-tracker/internal/config"
	"chain-tracker/internal/metrics"
	"chain-tracker/internal/source"
	"chain-tracker/internal/storage"
)

var runAt = time.Date(2026, 10, 18, 22, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }

func testConfig() *config.Config {
	return &config.Config{
		Storage:   config.StorageConfig{KeepDays: 21},
		Scheduler: config.SchedulerConfig{Timezone: "UTC"},
		Pipeline:  config.PipelineConfig{Workers: 2},
		Analysis: config.AnalysisConfig{
			Thresholds: config.ThresholdConfig{
				GlobalElevatedBps:     4,
				GlobalStressedBps:     10,
				ReservesElevatedMM:    -50,
				ReservesStressedMM:    -200,
				MonetaryElevatedMM:    300000,
				SpreadElevatedPct:     15,
				SpreadStressedPct:     25,
				SpreadDeltaElevatedPP: 0.5,
				SpreadDeltaStressedPP: 2,
			},
			Sparklines: config.SparklineConfig{Reserves: 30, Spread: 90, Yield: 30},
		},
		Alerting: config.AlertingConfig{Enabled: true, MinStatus: "elevated", Channels: []string{"telegram"}},
	}
}

type stubSource struct {
	id     string
	data   map[string]*float64
	panics bool
}

func (s stubSource) ID() string   { return s.id }
func (s stubSource) Name() string { return s.id }

func (s stubSource) Pull(context.Context) storage.SourcePayload {
	if s.panics {
		panic("layout changed")
	}
	return storage.SourcePayload{
		SourceID: s.id,
		PulledAt: storage.NewTimestamp(runAt),
		Status:   storage.StatusOK,
		Data:     s.data,
		Errors:   []string{},
	}
}

func currentSources() []source.Source {
	return []source.Source{
		stubSource{id: source.FREDID, data: map[string]*float64{source.FieldUS10Y: f64(4.52)}},
		stubSource{id: source.BCRAID, data: map[string]*float64{source.FieldReserves: f64(27500)}},
		stubSource{id: source.DolarHoyID, data: map[string]*float64{
			source.FieldBlueVenta: f64(1280),
			source.FieldSpread:    f64(17.43),
		}},
	}
}

func seedDay(t *testing.T, store *storage.FileStore, date string, blue, reserves, spread, y10 float64) {
	t.Helper()
	ctx := context.Background()
	payloads := []storage.SourcePayload{
		{SourceID: source.FREDID, Status: storage.StatusOK, Data: map[string]*float64{source.FieldUS10Y: f64(y10)}},
		{SourceID: source.BCRAID, Status: storage.StatusOK, Data: map[string]*float64{source.FieldReserves: f64(reserves)}},
		{SourceID: source.DolarHoyID, Status: storage.StatusOK, Data: map[string]*float64{
			source.FieldBlueVenta: f64(blue),
			source.FieldSpread:    f64(spread),
		}},
	}
	for _, p := range payloads {
		require.NoError(t, store.SavePayload(ctx, date, p))
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	return nil
}

type fakeLocker struct {
	acquired bool
	released bool
}

func (f *fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !f.acquired {
		return nil, false, nil
	}
	return func() { f.released = true }, true, nil
}

func newTestService(t *testing.T, cfg *config.Config, sources []source.Source, extra func(*Deps)) (*Service, *storage.FileStore) {
	t.Helper()
	dir := t.TempDir()
	store := storage.NewFileStore(filepath.Join(dir, "data"), filepath.Join(dir, "logs", "pull_log.jsonl"))
	deps := Deps{
		Sources:   sources,
		Snapshots: store,
		Artifacts: store,
		Trimmer:   store,
		Now:       func() time.Time { return runAt },
	}
	if extra != nil {
		extra(&deps)
	}
	return New(cfg, deps, zerolog.Nop()), store
}

func TestDailyEndToEnd(t *testing.T) {
	notifier := &recordingNotifier{}
	reg := metrics.New()
	svc, store := newTestService(t, testConfig(), currentSources(), func(d *Deps) {
		d.Notifier = notifier
		d.Metrics = reg
	})
	seedDay(t, store, "2026-10-17", 1250, 27650, 16.8, 4.53)

	report, err := svc.Daily(context.Background(), svc.Today())
	require.NoError(t, err)

	assert.Equal(t, "2026-10-18", report.Date)
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Pulls, 3)
	assert.Equal(t, source.FREDID, report.Pulls[0].Payload.SourceID)
	assert.Equal(t, source.DolarHoyID, report.Pulls[2].Payload.SourceID)
	assert.True(t, report.Notified)
	assert.Empty(t, report.Package.Warnings)

	var stored analysis.ChainAnalysis
	require.NoError(t, store.ReadAnalysis(context.Background(), "2026-10-18", &stored))
	assert.Equal(t, analysis.StatusElevated, stored.ChainState[1].Status)
	assert.Equal(t, analysis.StatusElevated, stored.ChainState[3].Status)
	assert.Equal(t, []float64{27650, 27500}, stored.Sparklines.Reserves)
	assert.Len(t, stored.DailyChanges, 4)

	digest, err := os.ReadFile(filepath.Join(store.DataDir(), "2026-10-18", storage.DigestFile))
	require.NoError(t, err)
	assert.Equal(t, report.Package.Digest, string(digest))

	require.Len(t, notifier.notes, 1)
	assert.Equal(t, analysis.StatusElevated, notifier.notes[0].Status)
	assert.Len(t, notifier.notes[0].Layers, analysis.LayerCount)

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.Generations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.PullsTotal.WithLabelValues(source.BCRAID, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.LayerStatus.WithLabelValues("Markets")))
}

func TestPullAllIsolatesPanics(t *testing.T) {
	sources := currentSources()
	sources[1] = stubSource{id: source.BCRAID, panics: true}
	svc, store := newTestService(t, testConfig(), sources, nil)

	results := svc.PullAll(context.Background(), "2026-10-18")
	require.Len(t, results, 3)
	assert.Equal(t, storage.StatusOK, results[0].Payload.Status)
	assert.Equal(t, storage.StatusError, results[1].Payload.Status)
	assert.Equal(t, []string{"unhandled pull error: layout changed"}, results[1].Payload.Errors)
	assert.Equal(t, storage.StatusOK, results[2].Payload.Status)

	snap, err := store.LoadSnapshot(context.Background(), "2026-10-18")
	require.NoError(t, err)
	assert.Len(t, snap.Payloads, 3)

	f, err := os.Open(filepath.Join(filepath.Dir(store.DataDir()), "logs", "pull_log.jsonl"))
	require.NoError(t, err)
	defer f.Close()
	lines := 0
	for sc := bufio.NewScanner(f); sc.Scan(); {
		lines++
	}
	assert.Equal(t, 3, lines)
}

func TestGenerateWithoutHistoryWarns(t *testing.T) {
	svc, store := newTestService(t, testConfig(), nil, nil)
	seedDay(t, store, "2026-10-18", 1280, 27500, 17.43, 4.52)

	pkg, err := svc.Generate(context.Background(), "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, []string{analysis.WarnNoPrevious}, pkg.Warnings)
}

func TestGenerateIgnoresLaterDates(t *testing.T) {
	svc, store := newTestService(t, testConfig(), nil, nil)
	seedDay(t, store, "2026-10-16", 1240, 27700, 16.5, 4.50)
	seedDay(t, store, "2026-10-17", 1250, 27650, 16.8, 4.53)
	seedDay(t, store, "2026-10-18", 1280, 27500, 17.43, 4.52)

	pkg, err := svc.Generate(context.Background(), "2026-10-17")
	require.NoError(t, err)
	assert.Equal(t, []float64{27700, 27650}, pkg.Analysis.Sparklines.Reserves)
	require.NotNil(t, pkg.Analysis.PreviousDay.Reserves)
	assert.Equal(t, 27700.0, *pkg.Analysis.PreviousDay.Reserves)
}

func TestGenerateRejectsBadDate(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), nil, nil)
	_, err := svc.Generate(context.Background(), "18/10/2026")
	assert.Error(t, err)
}

func TestNotifyRespectsMinStatus(t *testing.T) {
	cfg := testConfig()
	cfg.Alerting.MinStatus = "stressed"
	notifier := &recordingNotifier{}
	svc, store := newTestService(t, cfg, nil, func(d *Deps) { d.Notifier = notifier })
	seedDay(t, store, "2026-10-17", 1250, 27650, 16.8, 4.53)
	seedDay(t, store, "2026-10-18", 1280, 27500, 17.43, 4.52)

	pkg, err := svc.Generate(context.Background(), "2026-10-18")
	require.NoError(t, err)

	sent, err := svc.Notify(context.Background(), pkg, false)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, notifier.notes)
}

func TestNotifyDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Alerting.Enabled = false
	notifier := &recordingNotifier{}
	svc, _ := newTestService(t, cfg, nil, func(d *Deps) { d.Notifier = notifier })

	pkg := analysis.Package{Analysis: analysis.ChainAnalysis{ChainState: [analysis.LayerCount]analysis.LayerState{
		{Status: analysis.StatusStressed},
	}}}
	sent, err := svc.Notify(context.Background(), pkg, false)
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestAdvisoryLock(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.AdvisoryLockKey = 42

	busy := &fakeLocker{}
	svc, store := newTestService(t, cfg, currentSources(), func(d *Deps) { d.Locker = busy })
	seedDay(t, store, "2026-10-18", 1280, 27500, 17.43, 4.52)

	_, err := svc.Generate(context.Background(), "2026-10-18")
	assert.True(t, errors.Is(err, ErrLocked))
	assert.NoError(t, svc.RunDaily(context.Background(), runAt))

	free := &fakeLocker{acquired: true}
	svc, store = newTestService(t, cfg, nil, func(d *Deps) { d.Locker = free })
	seedDay(t, store, "2026-10-18", 1280, 27500, 17.43, 4.52)
	_, err = svc.Generate(context.Background(), "2026-10-18")
	require.NoError(t, err)
	assert.True(t, free.released)
}

func TestDailyTrimsOldDates(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.KeepDays = 2
	svc, store := newTestService(t, cfg, currentSources(), nil)
	seedDay(t, store, "2026-10-15", 1240, 27700, 16.5, 4.50)
	seedDay(t, store, "2026-10-16", 1245, 27680, 16.6, 4.51)
	seedDay(t, store, "2026-10-17", 1250, 27650, 16.8, 4.53)

	report, err := svc.Daily(context.Background(), "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-10-15", "2026-10-16"}, report.Trimmed)

	dates, err := store.Dates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-10-17", "2026-10-18"}, dates)
}
