package handoff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/freq"
	apperrors "github.com/Adithya-Monish-Kumar-K/termfreq/pkg/errors"
)

// Sink receives the finished table of one worker. Each worker delivers
// exactly once.
type Sink interface {
	Deliver(ctx context.Context, worker int, table *freq.Table) error
}

// Source hands a delivered table to the coordinator. Collect consumes the
// message: a second Collect for the same worker fails.
type Source interface {
	Collect(ctx context.Context, worker int) (*freq.Table, error)
}

// FileStore keeps one artifact per worker in a directory. It is the
// transport between worker processes and their parent.
type FileStore struct {
	dir       string
	termWidth int
	logger    *slog.Logger
}

// NewFileStore creates a FileStore writing records of termWidth bytes into dir.
func NewFileStore(dir string, termWidth int) *FileStore {
	return &FileStore{
		dir:       dir,
		termWidth: termWidth,
		logger:    slog.Default().With("component", "handoff-store"),
	}
}

// Path returns the artifact path of the given worker.
func (s *FileStore) Path(worker int) string {
	return filepath.Join(s.dir, fmt.Sprintf("partition_%d.tfh", worker))
}

// Deliver atomically writes the worker's table. It writes to a .tmp file
// first and renames on success, so a crashed worker never leaves a partial
// artifact under the final name.
func (s *FileStore) Deliver(ctx context.Context, worker int, table *freq.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating handoff directory: %w", err)
	}
	finalPath := s.Path(worker)
	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp artifact: %w", err)
	}
	defer f.Close()
	if err := Encode(f, s.termWidth, table.Entries()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("encoding partition %d: %w", worker, err)
	}
	if err := f.Sync(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("syncing artifact: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming artifact: %w", err)
	}
	s.logger.Debug("partition handed off",
		"worker", worker,
		"terms", table.Len(),
		"path", finalPath,
	)
	return nil
}

// Collect reads the worker's artifact and deletes it.
func (s *FileStore) Collect(ctx context.Context, worker int) (*freq.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.Path(worker)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no handoff from worker %d", apperrors.ErrWorkerFailed, worker)
		}
		return nil, fmt.Errorf("opening artifact: %w", err)
	}
	entries, err := Decode(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil {
		s.logger.Warn("failed to remove consumed artifact", "path", path, "error", err)
	}
	return freq.FromEntries(entries), nil
}

// Mailbox is an in-memory Sink and Source: one serialized message per
// worker, consumed once. It lets the process pipeline run without touching
// the filesystem.
type Mailbox struct {
	mu        sync.Mutex
	termWidth int
	messages  map[int][]byte
}

// NewMailbox creates an empty Mailbox encoding records of termWidth bytes.
func NewMailbox(termWidth int) *Mailbox {
	return &Mailbox{
		termWidth: termWidth,
		messages:  make(map[int][]byte),
	}
}

func (m *Mailbox) Deliver(ctx context.Context, worker int, table *freq.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, m.termWidth, table.Entries()); err != nil {
		return fmt.Errorf("encoding partition %d: %w", worker, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.messages[worker]; exists {
		return fmt.Errorf("worker %d already delivered", worker)
	}
	m.messages[worker] = buf.Bytes()
	return nil
}

func (m *Mailbox) Collect(ctx context.Context, worker int) (*freq.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	msg, ok := m.messages[worker]
	delete(m.messages, worker)
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no handoff from worker %d", apperrors.ErrWorkerFailed, worker)
	}
	entries, err := Decode(bytes.NewReader(msg))
	if err != nil {
		return nil, fmt.Errorf("decoding message from worker %d: %w", worker, err)
	}
	return freq.FromEntries(entries), nil
}

// Pending returns the number of delivered but uncollected messages.
func (m *Mailbox) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}
