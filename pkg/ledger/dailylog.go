package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DailyLog is the append-only collaborator receiving long and important
// memories plus consolidation summaries. A nil DailyLog disables
// mirroring.
type DailyLog interface {
	Append(ctx context.Context, line string) error
}

// FileDailyLog appends timestamped lines to one log file per day
// (memory-YYYY-MM-DD.log) inside a directory.
type FileDailyLog struct {
	dir string
	mu  sync.Mutex
}

// NewFileDailyLog creates a file-backed daily log writing into dir.
func NewFileDailyLog(dir string) *FileDailyLog {
	return &FileDailyLog{dir: dir}
}

// Append writes one line to today's log file, creating it as needed.
func (f *FileDailyLog) Append(_ context.Context, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return err
	}
	now := time.Now()
	path := filepath.Join(f.dir, fmt.Sprintf("memory-%s.log", now.Format("2006-01-02")))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = fmt.Fprintf(file, "%s %s\n", now.Format(time.RFC3339), line)
	return err
}
