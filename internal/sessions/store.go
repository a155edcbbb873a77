// Package sessions persists conversation transcripts as line-delimited JSON
// files, one per session, and layers history management (truncation,
// compaction, pruning) on top of the raw store.
package sessions

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/pkg/models"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600

	entryTypeMeta    = "meta"
	entryTypeMessage = "message"
)

// validSessionID is the only path-traversal defense: ids never reach the
// filesystem unless they match it.
var validSessionID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrSessionExists is returned by Create for an id that already has a file.
var ErrSessionExists = errors.New("session already exists")

// Entry is one transcript line: either the leading metadata record or a
// message.
type Entry struct {
	Meta    *models.SessionMeta
	Message *models.Message
}

type metaLine struct {
	Type string `json:"type"`
	models.SessionMeta
}

type messageLine struct {
	Type string `json:"type"`
	models.Message
}

// Store owns the on-disk session directory. All appends for one session id
// serialize through a per-id lock so concurrent writers interleave whole
// lines, never partial ones.
type Store struct {
	dir    string
	locks  *lockMap
	logger *slog.Logger
}

// NewStore creates the session directory (0700) if needed and returns a
// store rooted there.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("session directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{
		dir:    dir,
		locks:  newLockMap(),
		logger: logger.With("component", "sessions"),
	}, nil
}

// Dir returns the directory the store writes to.
func (s *Store) Dir() string { return s.dir }

// ValidateID reports whether id is safe to use as a session file name.
func ValidateID(id string) error {
	if !validSessionID.MatchString(id) {
		return errdefs.Validationf("invalid session id %q: only [A-Za-z0-9_-] allowed", id)
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".jsonl")
}

// Create writes a new session file whose first line is the metadata record.
func (s *Store) Create(id string, meta *models.SessionMeta) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	m := models.SessionMeta{CreatedAt: time.Now().UnixMilli()}
	if meta != nil {
		m = *meta
		if m.CreatedAt == 0 {
			m.CreatedAt = time.Now().UnixMilli()
		}
	}
	line, err := json.Marshal(metaLine{Type: entryTypeMeta, SessionMeta: m})
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	unlock := s.locks.lock(id)
	defer unlock()

	if _, err := os.Stat(s.path(id)); err == nil {
		return ErrSessionExists
	}
	f, err := os.OpenFile(s.path(id), os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return fmt.Errorf("create session file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write session meta: %w", err)
	}
	return nil
}

// Exists reports whether a session file is present for id.
func (s *Store) Exists(id string) bool {
	if ValidateID(id) != nil {
		return false
	}
	_, err := os.Stat(s.path(id))
	return err == nil
}

// AppendMessage appends one message line. The session file is created with
// a default metadata record on first append.
func (s *Store) AppendMessage(id string, msg models.Message) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	line, err := json.Marshal(messageLine{Type: entryTypeMessage, Message: msg})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	unlock := s.locks.lock(id)
	defer unlock()

	if _, statErr := os.Stat(s.path(id)); os.IsNotExist(statErr) {
		meta, err := json.Marshal(metaLine{
			Type:        entryTypeMeta,
			SessionMeta: models.SessionMeta{CreatedAt: time.Now().UnixMilli()},
		})
		if err != nil {
			return fmt.Errorf("marshal meta: %w", err)
		}
		if err := os.WriteFile(s.path(id), append(meta, '\n'), filePerm); err != nil {
			return fmt.Errorf("create session file: %w", err)
		}
	}

	f, err := os.OpenFile(s.path(id), os.O_WRONLY|os.O_APPEND, filePerm)
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()
	// One write call for the whole line keeps concurrent appends whole-line
	// atomic on POSIX filesystems.
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ReadEntries parses the full transcript for id, metadata record first.
func (s *Store) ReadEntries(id string) ([]Entry, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errdefs.NotFoundError{Kind: "session", ID: id}
		}
		return nil, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		entry, err := parseEntry([]byte(raw))
		if err != nil {
			return nil, &errdefs.CorruptSessionError{SessionID: id, Line: lineNo, Err: err}
		}
		if lineNo == 1 && entry.Meta == nil {
			return nil, &errdefs.CorruptSessionError{SessionID: id, Line: 1, Err: errors.New("first entry is not a metadata record")}
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	return entries, nil
}

// ReadMessages returns only the message entries for id, in append order.
func (s *Store) ReadMessages(id string) ([]models.Message, error) {
	entries, err := s.ReadEntries(id)
	if err != nil {
		return nil, err
	}
	msgs := make([]models.Message, 0, len(entries))
	for _, entry := range entries {
		if entry.Message != nil {
			msgs = append(msgs, *entry.Message)
		}
	}
	return msgs, nil
}

// Delete removes the session file for id.
func (s *Store) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return &errdefs.NotFoundError{Kind: "session", ID: id}
		}
		return fmt.Errorf("delete session file: %w", err)
	}
	return nil
}

// List derives a listing view for every parseable session file, newest
// update first. Unparseable files are skipped with a warning.
func (s *Store) List() ([]models.SessionListItem, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read session dir: %w", err)
	}

	items := make([]models.SessionListItem, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(name, ".jsonl")
		entries, err := s.ReadEntries(id)
		if err != nil {
			s.logger.Warn("skipping unreadable session", "session_id", id, "error", err)
			continue
		}
		items = append(items, buildListItem(id, entries))
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return items, nil
}

func buildListItem(id string, entries []Entry) models.SessionListItem {
	item := models.SessionListItem{ID: id}
	var latest int64
	for _, entry := range entries {
		if entry.Meta != nil {
			item.Title = entry.Meta.Title
			item.CreatedAt = time.UnixMilli(entry.Meta.CreatedAt)
			continue
		}
		if entry.Message != nil {
			item.MessageCount++
			if entry.Message.Timestamp > latest {
				latest = entry.Message.Timestamp
			}
		}
	}
	if latest > 0 {
		item.UpdatedAt = time.UnixMilli(latest)
	} else {
		item.UpdatedAt = item.CreatedAt
	}
	return item
}

// PruneOptions selects which files Prune removes.
type PruneOptions struct {
	// MaxAgeDays deletes files whose mtime is older than this many days.
	// Zero disables the age policy.
	MaxAgeDays int
	// MaxSizeMB caps the total size of the session directory. Zero disables
	// the size policy.
	MaxSizeMB int
}

// PruneStats reports what Prune removed.
type PruneStats struct {
	DeletedCount int   `json:"deleted_count"`
	FreedBytes   int64 `json:"freed_bytes"`
}

// Prune applies the age policy, then the size policy (oldest first) until
// the directory fits under MaxSizeMB.
func (s *Store) Prune(opts PruneOptions) (PruneStats, error) {
	var stats PruneStats

	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return stats, fmt.Errorf("read session dir: %w", err)
	}

	type fileInfo struct {
		path    string
		size    int64
		modTime time.Time
	}
	var files []fileInfo
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".jsonl") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			path:    filepath.Join(s.dir, de.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}

	remaining := files[:0]
	if opts.MaxAgeDays > 0 {
		cutoff := time.Now().Add(-time.Duration(opts.MaxAgeDays) * 24 * time.Hour)
		for _, fi := range files {
			if fi.modTime.Before(cutoff) {
				if err := os.Remove(fi.path); err != nil {
					s.logger.Warn("prune: delete failed", "path", fi.path, "error", err)
					remaining = append(remaining, fi)
					continue
				}
				stats.DeletedCount++
				stats.FreedBytes += fi.size
				continue
			}
			remaining = append(remaining, fi)
		}
	} else {
		remaining = files
	}

	if opts.MaxSizeMB > 0 {
		limit := int64(opts.MaxSizeMB) * 1024 * 1024
		var total int64
		for _, fi := range remaining {
			total += fi.size
		}
		if total > limit {
			sort.Slice(remaining, func(i, j int) bool {
				return remaining[i].modTime.Before(remaining[j].modTime)
			})
			for _, fi := range remaining {
				if total <= limit {
					break
				}
				if err := os.Remove(fi.path); err != nil {
					s.logger.Warn("prune: delete failed", "path", fi.path, "error", err)
					continue
				}
				stats.DeletedCount++
				stats.FreedBytes += fi.size
				total -= fi.size
			}
		}
	}
	return stats, nil
}

func parseEntry(raw []byte) (Entry, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Entry{}, err
	}
	switch probe.Type {
	case entryTypeMeta:
		var line metaLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return Entry{}, err
		}
		meta := line.SessionMeta
		return Entry{Meta: &meta}, nil
	case entryTypeMessage:
		var line messageLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return Entry{}, err
		}
		msg := line.Message
		return Entry{Message: &msg}, nil
	default:
		return Entry{}, fmt.Errorf("unknown entry type %q", probe.Type)
	}
}
