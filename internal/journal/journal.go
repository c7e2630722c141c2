// Package journal appends every relayed message to date-organized JSON
// lines files, so a session can be replayed when a widget misbehaves.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/moneymask/internal/relay"
)

const fileName = "relay.jsonl"

// Record is one journal line.
type Record struct {
	Time    time.Time       `json:"ts"`
	Tab     int             `json:"tab,omitempty"`
	Type    relay.Type      `json:"type"`
	Message json.RawMessage `json:"message"`
}

// Journal writes records under <dir>/<YYYY-MM-DD>/relay.jsonl, rotating by
// size within a day.
type Journal struct {
	dir       string
	maxSizeMB int
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	currentDate string
	out         *lumberjack.Logger
}

// New returns a Journal rooted at dir.
func New(dir string, maxSizeMB int, logger *slog.Logger) *Journal {
	if maxSizeMB <= 0 {
		maxSizeMB = 25
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		dir:       dir,
		maxSizeMB: maxSizeMB,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Follow journals broker events until ctx is done.
func (j *Journal) Follow(ctx context.Context, broker *relay.Broker) error {
	id, events := broker.Subscribe()
	defer broker.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := j.Append(evt); err != nil {
				j.logger.Warn("journal append failed", "type", evt.Type, "error", err)
			}
		}
	}
}

// Append writes one event.
func (j *Journal) Append(evt relay.Event) error {
	rec := Record{Time: j.now(), Tab: evt.Tab, Type: evt.Type, Message: json.RawMessage(evt.Payload)}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if date := rec.Time.Format("2006-01-02"); date != j.currentDate || j.out == nil {
		if err := j.rotateLocked(date); err != nil {
			return err
		}
	}
	if _, err := j.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	return nil
}

func (j *Journal) rotateLocked(date string) error {
	if j.out != nil {
		if err := j.out.Close(); err != nil {
			j.logger.Debug("journal close failed", "date", j.currentDate, "error", err)
		}
		j.out = nil
	}
	dir := filepath.Join(j.dir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("journal: mkdir %s: %w", dir, err)
	}
	j.out = &lumberjack.Logger{
		Filename:   filepath.Join(dir, fileName),
		MaxSize:    j.maxSizeMB,
		MaxBackups: 20,
		MaxAge:     30,
	}
	j.currentDate = date
	j.logger.Debug("journal opened", "file", j.out.Filename)
	return nil
}

// Close releases the current file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.out == nil {
		return nil
	}
	err := j.out.Close()
	j.out = nil
	return err
}
