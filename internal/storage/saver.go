package storage

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"
)

func marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

type pendingOp struct {
	data   []byte
	remove bool
}

// Saver writes records to a KV in the background. Repeated saves of the same
// key before a flush collapse into one write, and a save whose bytes match
// what is already stored is skipped.
type Saver struct {
	kv KV

	flushMu sync.Mutex

	mu      sync.Mutex
	pending map[string]pendingOp
	order   []string
	stored  map[string][]byte

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewSaver starts a saver over kv.
func NewSaver(kv KV) *Saver {
	s := &Saver{
		kv:      kv,
		pending: make(map[string]pendingOp),
		stored:  make(map[string][]byte),
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s
}

// Save queues v for key. It never blocks on I/O.
func (s *Saver) Save(key string, v any) {
	data, err := marshal(v)
	if err != nil {
		slog.Error("Failed to marshal record", "key", key, "error", err)
		return
	}
	s.mu.Lock()
	if _, queued := s.pending[key]; !queued {
		if prev, ok := s.stored[key]; ok && bytes.Equal(prev, data) {
			s.mu.Unlock()
			return
		}
		s.order = append(s.order, key)
	}
	s.pending[key] = pendingOp{data: data}
	s.mu.Unlock()
	s.signal()
}

// Remove queues deletion of key.
func (s *Saver) Remove(key string) {
	s.mu.Lock()
	if _, queued := s.pending[key]; !queued {
		s.order = append(s.order, key)
	}
	s.pending[key] = pendingOp{remove: true}
	s.mu.Unlock()
	s.signal()
}

// Seed records data as already stored under key so an identical save is
// skipped. Used after loading from the KV.
func (s *Saver) Seed(key string, v any) {
	data, err := marshal(v)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.stored[key] = data
	s.mu.Unlock()
}

func (s *Saver) signal() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Flush writes everything queued so far.
func (s *Saver) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	order := s.order
	ops := s.pending
	s.order = nil
	s.pending = make(map[string]pendingOp)
	s.mu.Unlock()

	var firstErr error
	for _, key := range order {
		op := ops[key]
		var err error
		if op.remove {
			err = s.kv.Delete(key)
		} else {
			err = s.kv.Put(key, op.data)
		}
		if err != nil {
			slog.Error("Failed to persist record", "key", key, "remove", op.remove, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("persist %s: %w", key, err)
			}
			continue
		}
		s.mu.Lock()
		if op.remove {
			delete(s.stored, key)
		} else {
			s.stored[key] = op.data
		}
		s.mu.Unlock()
	}
	return firstErr
}

// Close stops the background loop and flushes what is left.
func (s *Saver) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.Flush()
}

func (s *Saver) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.kick:
			s.Flush()
		case <-s.done:
			return
		}
	}
}
