// Package history records script runs as JSON files.
package history

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/emattiza/nix-runner/internal/directive"
	"github.com/emattiza/nix-runner/internal/runstate"
)

// Store manages run history persistence. Reads pick up entries written by
// other processes since the last look.
type Store struct {
	dir string

	mu      sync.Mutex
	entries map[string]*Entry    // keyed by run ID
	stamps  map[string]fileStamp // on-disk state each entry was read from
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

// Entry is one recorded run.
type Entry struct {
	RunID       string                         `json:"run_id"`
	ScriptPath  string                         `json:"script_path"`
	Digest      string                         `json:"digest"` // BLAKE2b-256 of the body
	Config      *directive.RunnerConfiguration `json:"config,omitempty"`
	Backend     string                         `json:"backend,omitempty"`
	Argv        []string                       `json:"argv,omitempty"`
	Args        []string                       `json:"args,omitempty"`
	Body        string                         `json:"body,omitempty"`
	BodyPreview string                         `json:"body_preview"` // First 200 bytes

	State           runstate.State `json:"state"`
	ExitCode        *int           `json:"exit_code,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     time.Time      `json:"completed_at"`
	DurationSeconds float64        `json:"duration_seconds"`
	Error           *EntryError    `json:"error,omitempty"`
}

// EntryError captures why a run did not complete.
type EntryError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ListOptions controls pagination for List.
type ListOptions struct {
	Page  int // 1-indexed page number
	Limit int // Items per page (max 100)
	// State keeps only runs in this state when set.
	State runstate.State
}

// ListResult contains paginated history entries.
type ListResult struct {
	Entries    []EntrySummary `json:"entries"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	Total      int            `json:"total"`
	TotalPages int            `json:"total_pages"`
}

// EntrySummary is a lightweight version of Entry for list responses.
type EntrySummary struct {
	RunID           string         `json:"run_id"`
	ScriptPath      string         `json:"script_path"`
	Digest          string         `json:"digest"`
	State           runstate.State `json:"state"`
	BodyPreview     string         `json:"body_preview"`
	Backend         string         `json:"backend,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	DurationSeconds float64        `json:"duration_seconds"`
	ExitCode        *int           `json:"exit_code,omitempty"`
	Error           *EntryError    `json:"error,omitempty"`
}

// Retention limits
const (
	MaxEntries    = 200
	PreviewLength = 200
)

// NewRunID returns a short unique run identifier.
func NewRunID() string {
	return "run-" + uuid.New().String()[:8]
}

// Digest returns the hex BLAKE2b-256 digest of a script body.
func Digest(body string) string {
	sum := blake2b.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// NewStore creates a new history store at the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	s := &Store{
		dir:     dir,
		entries: make(map[string]*Entry),
		stamps:  make(map[string]fileStamp),
	}
	if err := s.refreshUnlocked(); err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return s, nil
}

// Save persists a run and prunes the oldest runs beyond MaxEntries.
func (s *Store) Save(entry *Entry) error {
	if !isSafeRunID(entry.RunID) {
		return fmt.Errorf("invalid run id %q", entry.RunID)
	}

	if entry.Digest == "" {
		entry.Digest = Digest(entry.Body)
	}
	entry.BodyPreview = truncate(entry.Body, PreviewLength)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSON(s.dir, s.path(entry.RunID), entry); err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	s.entries[entry.RunID] = entry
	if info, err := os.Stat(s.path(entry.RunID)); err == nil {
		s.stamps[entry.RunID] = stampOf(info)
	}
	if err := s.refreshUnlocked(); err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	s.pruneUnlocked()
	return nil
}

// Get retrieves a run by ID.
func (s *Store) Get(runID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refreshUnlocked(); err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	entry, ok := s.entries[runID]
	if !ok {
		return nil, fmt.Errorf("%s not found in history", runID)
	}
	return entry, nil
}

// List returns paginated runs, newest first.
// Files that cannot be listed leave the previous view in place.
func (s *Store) List(opts ListOptions) ListResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.refreshUnlocked()

	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}

	sorted := s.sortedUnlocked()
	if opts.State != "" {
		kept := sorted[:0]
		for _, e := range sorted {
			if e.State == opts.State {
				kept = append(kept, e)
			}
		}
		sorted = kept
	}
	total := len(sorted)
	totalPages := (total + opts.Limit - 1) / opts.Limit

	start := min((opts.Page-1)*opts.Limit, total)
	end := min(start+opts.Limit, total)

	entries := make([]EntrySummary, 0, end-start)
	for _, e := range sorted[start:end] {
		entries = append(entries, EntrySummary{
			RunID:           e.RunID,
			ScriptPath:      e.ScriptPath,
			Digest:          e.Digest,
			State:           e.State,
			BodyPreview:     e.BodyPreview,
			Backend:         e.Backend,
			StartedAt:       e.StartedAt,
			DurationSeconds: e.DurationSeconds,
			ExitCode:        e.ExitCode,
			Error:           e.Error,
		})
	}

	return ListResult{
		Entries:    entries,
		Page:       opts.Page,
		Limit:      opts.Limit,
		Total:      total,
		TotalPages: totalPages,
	}
}

// refreshUnlocked syncs entries with the directory: new or changed files
// are read, and entries whose file is gone are dropped. Must be called with
// lock held.
func (s *Store) refreshUnlocked() error {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return err
	}

	present := make(map[string]bool, len(files))
	for _, path := range files {
		runID := strings.TrimSuffix(filepath.Base(path), ".json")
		if !isSafeRunID(runID) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue // Removed since the glob
		}
		present[runID] = true

		stamp := stampOf(info)
		if _, ok := s.entries[runID]; ok && s.stamps[runID].matches(stamp) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			continue // Skip unreadable files
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil || entry.RunID != runID {
			// Skip invalid JSON
			delete(s.entries, runID)
			delete(s.stamps, runID)
			continue
		}
		s.entries[runID] = &entry
		s.stamps[runID] = stamp
	}

	for runID := range s.entries {
		if !present[runID] {
			delete(s.entries, runID)
			delete(s.stamps, runID)
		}
	}
	return nil
}

func stampOf(info os.FileInfo) fileStamp {
	return fileStamp{modTime: info.ModTime(), size: info.Size()}
}

func (f fileStamp) matches(other fileStamp) bool {
	return f.size == other.size && f.modTime.Equal(other.modTime)
}

// sortedUnlocked returns entries newest first. Must be called with lock held.
func (s *Store) sortedUnlocked() []*Entry {
	sorted := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].StartedAt.Equal(sorted[j].StartedAt) {
			return sorted[i].RunID > sorted[j].RunID
		}
		return sorted[i].StartedAt.After(sorted[j].StartedAt)
	})
	return sorted
}

// pruneUnlocked removes the oldest runs beyond MaxEntries.
// Must be called with lock held.
func (s *Store) pruneUnlocked() {
	sorted := s.sortedUnlocked()
	for i := MaxEntries; i < len(sorted); i++ {
		runID := sorted[i].RunID
		os.Remove(s.path(runID))
		delete(s.entries, runID)
		delete(s.stamps, runID)
	}
}

func (s *Store) path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

// isSafeRunID keeps run IDs usable as file names.
func isSafeRunID(runID string) bool {
	if runID == "" || len(runID) > 64 {
		return false
	}
	return strings.IndexFunc(runID, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_')
	}) < 0
}

// truncate cuts s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// writeJSON replaces path atomically so concurrent readers never see a
// partial entry.
func writeJSON(dir, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".entry-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
