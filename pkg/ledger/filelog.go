package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrCorruptLog is returned when a ledger file contains an undecodable record
var ErrCorruptLog = errors.New("corrupt ledger file")

const (
	pendingFileName = "pending_orders.jsonl"
	historyFileName = "plan_history.jsonl"
	maxLineSize     = 1024 * 1024
)

// FileLogConfig configures the file-backed ledger
type FileLogConfig struct {
	Dir string // Directory holding the ledger files
	// CompactRatio triggers compaction on open when the pending log holds
	// more than this many lines per live record. Zero disables it.
	CompactRatio int
}

// FileLog is an append-only JSON Lines ledger with an in-memory index.
// Every Save or Append writes one line; the latest line per key wins on replay.
type FileLog struct {
	dir         string
	mu          sync.RWMutex
	pendingFile *os.File
	historyFile *os.File
	pending     map[Key]PendingOrder
	history     []PlanChange
	lines       int
	now         func() time.Time
}

// OpenFileLog opens or creates the ledger files in cfg.Dir and replays them
func OpenFileLog(cfg FileLogConfig) (*FileLog, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	l := &FileLog{
		dir:     cfg.Dir,
		pending: make(map[Key]PendingOrder),
		now:     time.Now,
	}

	if err := l.replayPending(); err != nil {
		return nil, err
	}
	if err := l.replayHistory(); err != nil {
		return nil, err
	}

	if cfg.CompactRatio > 0 && len(l.pending) > 0 && l.lines > cfg.CompactRatio*len(l.pending) {
		if err := l.compactLocked(); err != nil {
			return nil, err
		}
	}

	var err error
	if l.pendingFile == nil {
		if l.pendingFile, err = openAppend(l.path(pendingFileName)); err != nil {
			return nil, err
		}
	}
	if l.historyFile, err = openAppend(l.path(historyFileName)); err != nil {
		l.pendingFile.Close()
		return nil, err
	}

	return l, nil
}

func (l *FileLog) path(name string) string {
	return filepath.Join(l.dir, name)
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}
	return f, nil
}

// replayLines decodes each complete line of path with decode. It returns the
// number of records and the offset where a torn final line from an
// interrupted write begins, or -1 when the file ends on a newline.
func replayLines(path string, decode func([]byte) error) (int, int64, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, -1, nil
	}
	if err != nil {
		return 0, -1, fmt.Errorf("failed to read ledger file: %w", err)
	}

	complete := bytes.LastIndexByte(data, '\n') + 1
	tornAt := int64(-1)
	if complete < len(data) {
		tornAt = int64(complete)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data[:complete]))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	n := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := decode(line); err != nil {
			return n, -1, fmt.Errorf("%w: %s line %d: %v", ErrCorruptLog, filepath.Base(path), lineNo, err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, -1, fmt.Errorf("failed to scan ledger file: %w", err)
	}
	return n, tornAt, nil
}

// dropTornLine cuts an unacknowledged partial record so later appends start on a fresh line
func dropTornLine(path string, tornAt int64) error {
	if tornAt < 0 {
		return nil
	}
	if err := os.Truncate(path, tornAt); err != nil {
		return fmt.Errorf("failed to truncate torn ledger record: %w", err)
	}
	return nil
}

func (l *FileLog) replayPending() error {
	path := l.path(pendingFileName)
	n, tornAt, err := replayLines(path, func(line []byte) error {
		var p PendingOrder
		if err := json.Unmarshal(line, &p); err != nil {
			return err
		}
		l.pending[p.Key()] = p
		return nil
	})
	l.lines = n
	if err != nil {
		return err
	}
	return dropTornLine(path, tornAt)
}

func (l *FileLog) replayHistory() error {
	path := l.path(historyFileName)
	_, tornAt, err := replayLines(path, func(line []byte) error {
		var c PlanChange
		if err := json.Unmarshal(line, &c); err != nil {
			return err
		}
		l.history = append(l.history, c)
		return nil
	})
	if err != nil {
		return err
	}
	return dropTornLine(path, tornAt)
}

func writeLine(f *os.File, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode ledger record: %w", err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write ledger record: %w", err)
	}
	return f.Sync()
}

// Get implements PendingStore.Get
func (l *FileLog) Get(ctx context.Context, subscriptionID string, dueDate time.Time) (*PendingOrder, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.pending[KeyFor(subscriptionID, dueDate)]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// Save implements PendingStore.Save
func (l *FileLog) Save(ctx context.Context, order *PendingOrder) error {
	if err := validatePending(order); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := order.Key()
	now := l.now()
	if existing, ok := l.pending[key]; ok {
		if existing.Generated() {
			return fmt.Errorf("%w: %s/%s", ErrAlreadyGenerated, key.SubscriptionID, key.DueDate)
		}
		order.CreatedAt = existing.CreatedAt
	} else if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	if err := writeLine(l.pendingFile, order); err != nil {
		return err
	}
	l.pending[key] = *order
	l.lines++
	return nil
}

// ListByDueDate implements PendingStore.ListByDueDate
func (l *FileLog) ListByDueDate(ctx context.Context, dueDate time.Time) ([]*PendingOrder, error) {
	want := DateKey(dueDate)
	return l.listPending(func(k Key) bool { return k.DueDate == want }), nil
}

// List implements PendingStore.List
func (l *FileLog) List(ctx context.Context) ([]*PendingOrder, error) {
	return l.listPending(func(Key) bool { return true }), nil
}

func (l *FileLog) listPending(keep func(Key) bool) []*PendingOrder {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*PendingOrder
	for k, p := range l.pending {
		if keep(k) {
			p := p
			out = append(out, &p)
		}
	}
	sortPending(out)
	return out
}

// History returns the plan-change view of the log
func (l *FileLog) History() HistoryStore {
	return fileHistory{l}
}

type fileHistory struct {
	l *FileLog
}

func (h fileHistory) Append(ctx context.Context, change *PlanChange) error {
	if change.ID == "" {
		return fmt.Errorf("%w: plan change id is required", ErrInvalidRecord)
	}

	h.l.mu.Lock()
	defer h.l.mu.Unlock()

	if err := writeLine(h.l.historyFile, change); err != nil {
		return err
	}
	h.l.history = append(h.l.history, *change)
	return nil
}

func (h fileHistory) List(ctx context.Context) ([]*PlanChange, error) {
	return h.collect(""), nil
}

func (h fileHistory) ListForUser(ctx context.Context, userID string) ([]*PlanChange, error) {
	return h.collect(userID), nil
}

func (h fileHistory) collect(userID string) []*PlanChange {
	h.l.mu.RLock()
	defer h.l.mu.RUnlock()

	var out []*PlanChange
	for _, c := range h.l.history {
		if userID == "" || c.UserID == userID {
			c := c
			out = append(out, &c)
		}
	}
	return out
}

// Compact rewrites the pending log so it holds one line per key
func (l *FileLog) Compact() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.compactLocked()
}

func (l *FileLog) compactLocked() error {
	tmpPath := l.path(pendingFileName + ".tmp")
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create compaction file: %w", err)
	}

	records := make([]*PendingOrder, 0, len(l.pending))
	for _, p := range l.pending {
		p := p
		records = append(records, &p)
	}
	sortPending(records)

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, p := range records {
		if err := enc.Encode(p); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to write compacted record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to flush compacted ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync compacted ledger: %w", err)
	}
	tmp.Close()

	if l.pendingFile != nil {
		l.pendingFile.Close()
		l.pendingFile = nil
	}
	if err := os.Rename(tmpPath, l.path(pendingFileName)); err != nil {
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}

	f, err := openAppend(l.path(pendingFileName))
	if err != nil {
		return err
	}
	l.pendingFile = f
	l.lines = len(records)
	return nil
}

// Close closes the underlying files
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	if l.pendingFile != nil {
		errs = append(errs, l.pendingFile.Close())
		l.pendingFile = nil
	}
	if l.historyFile != nil {
		errs = append(errs, l.historyFile.Close())
		l.historyFile = nil
	}
	return errors.Join(errs...)
}
