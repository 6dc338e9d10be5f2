package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/natefinch/lumberjack.v2"
)

// JournalEntry is one line of the event journal.
type JournalEntry struct {
	Time  time.Time `json:"time"`
	Event string    `json:"event"`
	Data  any       `json:"data,omitempty"`
}

// Journal appends events as JSON lines to date-organized files in the
// background. A full buffer drops records instead of blocking the caller.
type Journal struct {
	baseDir   string
	maxSizeMB int
	now       func() time.Time

	writeCh chan JournalEntry
	done    chan struct{}
	wg      sync.WaitGroup

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
}

// NewJournal starts a journal writing under baseDir.
func NewJournal(baseDir string, bufferSize, maxSizeMB int) *Journal {
	j := &Journal{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		now:       time.Now,
		writeCh:   make(chan JournalEntry, bufferSize),
		done:      make(chan struct{}),
	}
	j.wg.Add(1)
	go j.writeLoop()
	return j
}

// Record queues one event.
func (j *Journal) Record(event string, data any) error {
	entry := JournalEntry{Time: j.now().UTC(), Event: event, Data: data}
	select {
	case <-j.done:
		return fmt.Errorf("journal is closed")
	default:
	}
	select {
	case j.writeCh <- entry:
		return nil
	default:
		slog.Warn("Journal buffer full, dropping record", "event", event)
		return fmt.Errorf("buffer full")
	}
}

// Close drains queued records and closes the current file.
func (j *Journal) Close() error {
	close(j.done)
	j.wg.Wait()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case entry := <-j.writeCh:
			j.write(entry)
		case <-timeout:
			slog.Warn("Journal close timeout, some records may be lost")
			return j.closeFile()
		default:
			return j.closeFile()
		}
	}
}

func (j *Journal) closeFile() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.logger != nil {
		return j.logger.Close()
	}
	return nil
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for {
		select {
		case entry := <-j.writeCh:
			j.write(entry)
		case <-j.done:
			return
		}
	}
}

func (j *Journal) write(entry JournalEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Error("Failed to marshal journal entry", "event", entry.Event, "error", err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	date := entry.Time.Format("2006-01-02")
	if j.logger == nil || date != j.currentDate {
		if !j.rotate(date) {
			return
		}
	}
	if _, err := j.logger.Write(append(data, '\n')); err != nil {
		slog.Error("Failed to write journal entry", "event", entry.Event, "error", err)
	}
}

func (j *Journal) rotate(date string) bool {
	if j.logger != nil {
		j.logger.Close()
		j.logger = nil
	}
	dir := filepath.Join(j.baseDir, date)
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("Failed to create journal directory", "dir", dir, "error", err)
		return false
	}
	filename := filepath.Join(dir, "events.jsonl")
	j.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    j.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		LocalTime:  false,
	}
	j.currentDate = date
	slog.Info("Opened journal file", "file", filename)
	return true
}
