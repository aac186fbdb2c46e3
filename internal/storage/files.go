package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// AnalysisFile is the daily chain analysis artifact.
	AnalysisFile = "chain_analysis.json"
	// DigestFile is the daily narrative brief.
	DigestFile = "daily_brief.md"
)

// ErrNotFound reports a missing artifact.
var ErrNotFound = errors.New("storage: not found")

// SnapshotStore persists and retrieves per-date, per-source payloads.
type SnapshotStore interface {
	SavePayload(ctx context.Context, date string, payload SourcePayload) error
	LoadSnapshot(ctx context.Context, date string) (Snapshot, error)
	Dates(ctx context.Context) ([]string, error)
	History(ctx context.Context) ([]Snapshot, error)
}

// PullLogger appends pull summaries to a tailable log.
type PullLogger interface {
	AppendPullLog(ctx context.Context, entry PullLogEntry) error
}

// ArtifactStore holds the generated daily artifacts.
type ArtifactStore interface {
	WriteAnalysis(ctx context.Context, date string, analysis any) error
	ReadAnalysis(ctx context.Context, date string, out any) error
	WriteDigest(ctx context.Context, date string, digest string) error
}

// FileStore keeps snapshots as data/{date}/{source_id}.json and the pull log
// as JSON lines.
type FileStore struct {
	dataDir string
	logPath string
	logMu   sync.Mutex
}

// NewFileStore returns a store rooted at dataDir writing its pull log to logPath.
func NewFileStore(dataDir, logPath string) *FileStore {
	return &FileStore{dataDir: dataDir, logPath: logPath}
}

// DataDir returns the snapshot root.
func (s *FileStore) DataDir() string {
	return s.dataDir
}

// IsDate reports whether name is a YYYY-MM-DD calendar date.
func IsDate(name string) bool {
	if len(name) != len(DateLayout) {
		return false
	}
	_, err := time.Parse(DateLayout, name)
	return err == nil
}

// SavePayload writes the payload for date, replacing any previous file atomically.
func (s *FileStore) SavePayload(ctx context.Context, date string, payload SourcePayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !IsDate(date) {
		return fmt.Errorf("save payload: invalid date %q", date)
	}
	if payload.SourceID == "" {
		return errors.New("save payload: empty source id")
	}
	if payload.Errors == nil {
		payload.Errors = []string{}
	}
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dataDir, date, payload.SourceID+".json"), body)
}

// LoadSnapshot reads every payload stored for date. A missing directory
// yields an empty snapshot; unreadable files are skipped.
func (s *FileStore) LoadSnapshot(ctx context.Context, date string) (Snapshot, error) {
	snap := Snapshot{Date: date, Payloads: map[string]SourcePayload{}}
	if err := ctx.Err(); err != nil {
		return snap, err
	}

	dir := filepath.Join(s.dataDir, date)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snap, nil
		}
		return snap, fmt.Errorf("read snapshot dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == AnalysisFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var payload SourcePayload
		if err := json.Unmarshal(body, &payload); err != nil {
			continue
		}
		if payload.SourceID == "" {
			payload.SourceID = strings.TrimSuffix(name, ".json")
		}
		snap.Payloads[payload.SourceID] = payload
	}
	return snap, nil
}

// Dates lists stored snapshot dates in ascending order.
func (s *FileStore) Dates(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	dates := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && IsDate(entry.Name()) {
			dates = append(dates, entry.Name())
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// PreviousDate returns the latest stored date strictly before date.
func PreviousDate(dates []string, date string) (string, bool) {
	prev := ""
	for _, d := range dates {
		if d < date {
			prev = d
		}
	}
	return prev, prev != ""
}

// History loads every stored snapshot in ascending date order.
func (s *FileStore) History(ctx context.Context) ([]Snapshot, error) {
	dates, err := s.Dates(ctx)
	if err != nil {
		return nil, err
	}
	history := make([]Snapshot, 0, len(dates))
	for _, date := range dates {
		snap, err := s.LoadSnapshot(ctx, date)
		if err != nil {
			return nil, err
		}
		history = append(history, snap)
	}
	return history, nil
}

// AppendPullLog writes entry as a single JSON line and flushes it to disk.
func (s *FileStore) AppendPullLog(ctx context.Context, entry PullLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.Errors == nil {
		entry.Errors = []string{}
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal pull log entry: %w", err)
	}
	line = append(line, '\n')

	s.logMu.Lock()
	defer s.logMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.logPath), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open pull log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append pull log: %w", err)
	}
	return f.Sync()
}

// WriteAnalysis stores the chain analysis artifact for date.
func (s *FileStore) WriteAnalysis(ctx context.Context, date string, analysis any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dataDir, date, AnalysisFile), body)
}

// ReadAnalysis decodes the stored chain analysis for date into out.
func (s *FileStore) ReadAnalysis(ctx context.Context, date string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := os.ReadFile(filepath.Join(s.dataDir, date, AnalysisFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("read analysis: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode analysis: %w", err)
	}
	return nil
}

// WriteDigest stores the narrative brief for date.
func (s *FileStore) WriteDigest(ctx context.Context, date string, digest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.dataDir, date, DigestFile), []byte(digest))
}

// Trim deletes the oldest date directories so that at most keep remain.
// keep below one is treated as one. It returns the deleted dates.
func (s *FileStore) Trim(ctx context.Context, keep int) ([]string, error) {
	dates, err := s.Dates(ctx)
	if err != nil {
		return nil, err
	}
	if keep < 1 {
		keep = 1
	}
	if len(dates) <= keep {
		return nil, nil
	}

	stale := dates[:len(dates)-keep]
	deleted := make([]string, 0, len(stale))
	for _, date := range stale {
		if err := os.RemoveAll(filepath.Join(s.dataDir, date)); err != nil {
			return deleted, fmt.Errorf("remove %s: %w", date, err)
		}
		deleted = append(deleted, date)
	}
	return deleted, nil
}

func writeFileAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

var (
	_ SnapshotStore = (*FileStore)(nil)
	_ PullLogger    = (*FileStore)(nil)
	_ ArtifactStore = (*FileStore)(nil)
)
