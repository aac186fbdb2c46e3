package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func samplePayload(source string) SourcePayload {
	return SourcePayload{
		SourceID: source,
		PulledAt: NewTimestamp(time.Date(2026, 10, 18, 12, 30, 15, 999, time.UTC)),
		Status:   StatusPartial,
		Data: map[string]*float64{
			"dolar_blue_venta":    f64(1280),
			"dolar_oficial_venta": nil,
		},
		Errors:     []string{"dolar_oficial_venta not found"},
		RawSnippet: "<html>",
	}
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir(), filepath.Join(t.TempDir(), "pull_log.jsonl"))

	require.NoError(t, store.SavePayload(ctx, "2026-10-18", samplePayload("fx_rates_dolarhoy")))
	require.NoError(t, store.WriteAnalysis(ctx, "2026-10-18", map[string]string{"date": "2026-10-18"}))

	snap, err := store.LoadSnapshot(ctx, "2026-10-18")
	require.NoError(t, err)
	require.Len(t, snap.Payloads, 1)

	got := snap.Payloads["fx_rates_dolarhoy"]
	assert.Equal(t, StatusPartial, got.Status)
	assert.Equal(t, "2026-10-18T12:30:15Z", got.PulledAt.String())
	require.NotNil(t, snap.Value("fx_rates_dolarhoy", "dolar_blue_venta"))
	assert.Equal(t, 1280.0, *snap.Value("fx_rates_dolarhoy", "dolar_blue_venta"))
	assert.Nil(t, snap.Value("fx_rates_dolarhoy", "dolar_oficial_venta"))
	assert.Nil(t, snap.Value("bcra_reserves", "reservas_internacionales_usd_mm"))
}

func TestPayloadFileShape(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir, filepath.Join(dir, "logs", "pull_log.jsonl"))

	payload := samplePayload("fx_rates_dolarhoy")
	payload.Errors = nil
	require.NoError(t, store.SavePayload(ctx, "2026-10-18", payload))

	body, err := os.ReadFile(filepath.Join(dir, "2026-10-18", "fx_rates_dolarhoy.json"))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Equal(t, "2026-10-18T12:30:15Z", raw["pulled_at_utc"])
	assert.Equal(t, []any{}, raw["errors"])
	assert.Contains(t, raw, "raw_response_snippet")
	data := raw["data"].(map[string]any)
	assert.Nil(t, data["dolar_oficial_venta"])
	assert.Contains(t, data, "dolar_oficial_venta")
}

func TestSavePayloadRejectsBadInput(t *testing.T) {
	store := NewFileStore(t.TempDir(), filepath.Join(t.TempDir(), "log.jsonl"))
	assert.Error(t, store.SavePayload(context.Background(), "18-10-2026", samplePayload("x")))
	assert.Error(t, store.SavePayload(context.Background(), "2026-10-18", SourcePayload{}))
}

func TestLoadSnapshotMissingDate(t *testing.T) {
	store := NewFileStore(t.TempDir(), filepath.Join(t.TempDir(), "log.jsonl"))
	snap, err := store.LoadSnapshot(context.Background(), "2026-01-01")
	require.NoError(t, err)
	assert.Empty(t, snap.Payloads)
}

func TestDatesAndHistory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir, filepath.Join(dir, "log.jsonl"))

	for _, date := range []string{"2026-10-17", "2026-10-15", "2026-10-16"} {
		require.NoError(t, store.SavePayload(ctx, date, samplePayload("bcra_reserves")))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "community"), 0o755))

	dates, err := store.Dates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-10-15", "2026-10-16", "2026-10-17"}, dates)

	prev, ok := PreviousDate(dates, "2026-10-17")
	assert.True(t, ok)
	assert.Equal(t, "2026-10-16", prev)
	_, ok = PreviousDate(dates, "2026-10-15")
	assert.False(t, ok)

	history, err := store.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "2026-10-15", history[0].Date)
	assert.Equal(t, "2026-10-17", history[2].Date)
}

func TestAppendPullLogConcurrent(t *testing.T) {
	ctx := context.Background()
	logPath := filepath.Join(t.TempDir(), "logs", "pull_log.jsonl")
	store := NewFileStore(t.TempDir(), logPath)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.AppendPullLog(ctx, NewPullLogEntry(samplePayload("fred_us_yields"))))
		}()
	}
	wg.Wait()

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		assert.Equal(t, "fred_us_yields", entry["source_id"])
		assert.Equal(t, "partial", entry["status"])
		assert.Equal(t, 1.0, entry["error_count"])
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 20, lines)
}

func TestReadAnalysisNotFound(t *testing.T) {
	store := NewFileStore(t.TempDir(), filepath.Join(t.TempDir(), "log.jsonl"))
	var out map[string]any
	assert.ErrorIs(t, store.ReadAnalysis(context.Background(), "2026-10-18", &out), ErrNotFound)
}

func TestTrimKeepsNewest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir, filepath.Join(dir, "log.jsonl"))
	for _, date := range []string{"2026-10-14", "2026-10-15", "2026-10-16", "2026-10-17"} {
		require.NoError(t, store.WriteDigest(ctx, date, "brief\n"))
	}

	deleted, err := store.Trim(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-10-14", "2026-10-15"}, deleted)

	dates, err := store.Dates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-10-16", "2026-10-17"}, dates)

	deleted, err = store.Trim(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-10-16"}, deleted)
}

func TestStatusRank(t *testing.T) {
	assert.Greater(t, StatusOK.Rank(), StatusPartial.Rank())
	assert.Greater(t, StatusPartial.Rank(), StatusError.Rank())
}

func TestTruncateSnippet(t *testing.T) {
	long := make([]rune, MaxSnippetLen+20)
	for i := range long {
		long[i] = 'ñ'
	}
	assert.Len(t, []rune(TruncateSnippet(string(long))), MaxSnippetLen)
	assert.Equal(t, "short", TruncateSnippet("short"))
}
