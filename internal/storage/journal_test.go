package storage

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestJournalWritesDatedLines(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, 8, 1)
	fixed := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return fixed }

	if err := j.Record("request_started", map[string]string{"request_id": "1"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := j.Record("request_finished", map[string]string{"request_id": "1"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "2024-03-09", "events.jsonl"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	var events []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e JournalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad journal line %q: %v", sc.Text(), err)
		}
		events = append(events, e.Event)
	}
	if len(events) != 2 || events[0] != "request_started" || events[1] != "request_finished" {
		t.Fatalf("events = %v; want [request_started request_finished]", events)
	}
}

func TestJournalRejectsAfterClose(t *testing.T) {
	j := NewJournal(t.TempDir(), 1, 1)
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := j.Record("late", nil); err == nil {
		t.Fatal("Record() after Close() error = nil")
	}
}
