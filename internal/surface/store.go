// Package surface stores per-session surface documents as JSON files.
package surface

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/value"
)

const (
	sessionsDirName = "sessions"
	currentFileName = "current"
	maxSessionIDLen = 128
)

// Store is a file-backed DocumentStore rooted at <base>/sessions.
//
// Read-modify-write cycles are serialized per (session, kind) by an in-process
// mutex and an advisory lock on a sibling .lock file.
type Store struct {
	root   string
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// SessionInfo describes a session directory.
type SessionInfo struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
	Current   bool      `json:"current"`
}

// New returns a Store under baseDir. A nil logger discards output.
func New(baseDir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		root:   filepath.Join(baseDir, sessionsDirName),
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// ValidateSessionID rejects ids that cannot safely name a directory.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.NewInvalidRequest("session id is required")
	}
	if len(id) > maxSessionIDLen {
		return errors.NewInvalidRequest(fmt.Sprintf("session id exceeds %d characters", maxSessionIDLen))
	}
	if id == "." || id == ".." || id == currentFileName || strings.Contains(id, "..") {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid session id: %q", id))
	}
	for _, r := range id {
		if r == '/' || r == '\\' || r < 32 || r == 127 {
			return errors.NewInvalidRequest(fmt.Sprintf("invalid session id: %q", id))
		}
	}
	return nil
}

func (s *Store) sessionDir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *Store) docPath(id string, k Kind) string {
	return filepath.Join(s.sessionDir(id), string(k)+".json")
}

func checkKind(k Kind) error {
	if _, ok := strategies[k]; !ok {
		return errors.NewInvalidSurface(string(k))
	}
	return nil
}

// Read returns the stored document, or the kind's default shape when the file
// is missing or does not parse as a JSON object.
func (s *Store) Read(ctx context.Context, sessionID string, k Kind) (value.Value, error) {
	if err := checkKind(k); err != nil {
		return value.Value{}, err
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return value.Value{}, err
	}
	if err := ctx.Err(); err != nil {
		return value.Value{}, err
	}
	return s.load(sessionID, k), nil
}

func (s *Store) load(sessionID string, k Kind) value.Value {
	data, err := readFileNoFollow(s.docPath(sessionID, k))
	if err != nil {
		if !stderrors.Is(err, os.ErrNotExist) {
			s.logger.Warn("surface unreadable, using default",
				zap.String("session.id", sessionID),
				zap.String("surface", string(k)),
				zap.Error(err))
			DefaultReadsTotal.WithLabelValues(string(k), "corrupt").Inc()
		} else {
			DefaultReadsTotal.WithLabelValues(string(k), "missing").Inc()
		}
		return Default(k)
	}

	doc, err := value.Parse(data)
	if err != nil || !doc.IsObject() {
		s.logger.Warn("surface corrupt, using default",
			zap.String("session.id", sessionID),
			zap.String("surface", string(k)),
			zap.Error(err))
		DefaultReadsTotal.WithLabelValues(string(k), "corrupt").Inc()
		return Default(k)
	}
	return doc
}

// Write merges content into the stored document with the kind's strategy and
// returns the merged result.
func (s *Store) Write(ctx context.Context, sessionID string, k Kind, content value.Value) (merged value.Value, err error) {
	if err := checkKind(k); err != nil {
		return value.Value{}, err
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return value.Value{}, err
	}
	if !content.IsObject() {
		return value.Value{}, errors.NewInvalidRequest(fmt.Sprintf("surface %s content must be a JSON object", k))
	}
	if err := ctx.Err(); err != nil {
		return value.Value{}, err
	}
	defer func() { recordWrite(k, err) }()

	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return value.Value{}, errors.NewStorage("create session directory", err)
	}

	unlock, err := s.lock(sessionID, k)
	if err != nil {
		return value.Value{}, errors.NewStorage("lock "+string(k), err)
	}
	defer unlock()

	merged = Merge(k, s.load(sessionID, k), content)
	if err := writeAtomic(s.docPath(sessionID, k), merged); err != nil {
		return value.Value{}, errors.NewStorage("write "+string(k), err)
	}

	s.logger.Debug("surface written",
		zap.String("session.id", sessionID),
		zap.String("surface", string(k)),
		zap.Stringer("strategy", StrategyFor(k)))
	return merged, nil
}

// lock takes the in-process mutex for (session, kind) and then the file lock.
func (s *Store) lock(sessionID string, k Kind) (func(), error) {
	key := sessionID + "/" + string(k)

	s.mu.Lock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.mu.Unlock()

	m.Lock()
	f, err := acquireFileLock(filepath.Join(s.sessionDir(sessionID), "."+string(k)+".lock"))
	if err != nil {
		m.Unlock()
		return nil, err
	}
	return func() {
		releaseFileLock(f)
		m.Unlock()
	}, nil
}

// CreateSession creates the session directory and writes the default shape
// of every kind that has no document yet.
func (s *Store) CreateSession(ctx context.Context, sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(s.sessionDir(sessionID), 0700); err != nil {
		return errors.NewStorage("create session directory", err)
	}

	for _, k := range Kinds {
		path := s.docPath(sessionID, k)
		if _, err := os.Lstat(path); err == nil {
			continue
		}
		if err := writeAtomic(path, Default(k)); err != nil {
			return errors.NewStorage("materialize "+string(k), err)
		}
	}
	return nil
}

// SessionExists reports whether the session directory exists.
func (s *Store) SessionExists(sessionID string) bool {
	if ValidateSessionID(sessionID) != nil {
		return false
	}
	info, err := os.Stat(s.sessionDir(sessionID))
	return err == nil && info.IsDir()
}

// ListSessions returns sessions ordered by most recent activity.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []SessionInfo{}, nil
		}
		return nil, errors.NewStorage("list sessions", err)
	}

	current, _ := s.Current(ctx)

	sessions := make([]SessionInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		sessions = append(sessions, SessionInfo{
			ID:        e.Name(),
			UpdatedAt: info.ModTime().UTC(),
			Current:   e.Name() == current,
		})
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// SetCurrent records sessionID as the current session.
func (s *Store) SetCurrent(ctx context.Context, sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.SessionExists(sessionID) {
		return errors.NewNotFound("session " + sessionID)
	}
	if err := writeFileAtomic(filepath.Join(s.root, currentFileName), []byte(sessionID+"\n")); err != nil {
		return errors.NewStorage("set current session", err)
	}
	return nil
}

// Current returns the current session id, or "" when none is set or the
// recorded session no longer exists.
func (s *Store) Current(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := readFileNoFollow(filepath.Join(s.root, currentFileName))
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", errors.NewStorage("read current session", err)
	}
	id := strings.TrimSpace(string(data))
	if !s.SessionExists(id) {
		return "", nil
	}
	return id, nil
}

func writeAtomic(path string, doc value.Value) error {
	data, err := value.Indent(doc)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic writes to a temp file in the same directory and renames it
// over path, so readers see either the old or the new document.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return fmt.Errorf("generate temp file name: %w", err)
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"

	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return err
	}

	success := false
	defer func() {
		if !success {
			file.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		return err
	}
	success = true
	return nil
}
