package ipcache

import (
	"fmt"
	"sort"
	"testing"

	"github.com/dgnsrekt/ipvwatch/internal/storage"
)

type recordingSaver struct {
	saved   map[string]any
	removed []string
}

func newRecordingSaver() *recordingSaver {
	return &recordingSaver{saved: map[string]any{}}
}

func (r *recordingSaver) Save(key string, v any) { r.saved[key] = v }

func (r *recordingSaver) Remove(key string) {
	delete(r.saved, key)
	r.removed = append(r.removed, key)
}

func TestRememberAndLookup(t *testing.T) {
	s := newRecordingSaver()
	c := New(4, s)
	c.Remember("example.com", "192.0.2.1")

	addr, ok := c.Lookup("example.com")
	if !ok || addr != "192.0.2.1" {
		t.Fatalf("Lookup() = %q, %v; want %q, true", addr, ok, "192.0.2.1")
	}
	rec, ok := s.saved[storage.AddrKey("example.com")].(storage.AddrRecord)
	if !ok || rec.Addr != "192.0.2.1" {
		t.Fatalf("saved record = %+v", s.saved[storage.AddrKey("example.com")])
	}
	if _, ok := c.Lookup("missing.example"); ok {
		t.Fatal("Lookup(missing) = true")
	}
}

func TestRememberIgnoresEmptyAddress(t *testing.T) {
	c := New(4, nil)
	c.Remember("example.com", "")
	if c.Len() != 0 {
		t.Fatalf("Len() = %d; want 0", c.Len())
	}
}

func TestEvictionRemovesPersistedEntry(t *testing.T) {
	s := newRecordingSaver()
	c := New(2, s)
	c.Remember("a.example", "192.0.2.1")
	c.Remember("b.example", "192.0.2.2")
	c.Lookup("a.example")
	c.Remember("c.example", "192.0.2.3")

	if _, ok := c.Lookup("b.example"); ok {
		t.Fatal("least recently used entry survived")
	}
	if len(s.removed) != 1 || s.removed[0] != storage.AddrKey("b.example") {
		t.Fatalf("removed = %v; want [%s]", s.removed, storage.AddrKey("b.example"))
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d; want 2", c.Len())
	}
}

func TestLoadKeepsNewest(t *testing.T) {
	c := New(2, nil)
	c.Load([]storage.AddrRecord{
		{Domain: "old.example", Addr: "192.0.2.1", Time: 1},
		{Domain: "mid.example", Addr: "192.0.2.2", Time: 2},
		{Domain: "new.example", Addr: "192.0.2.3", Time: 3},
	})
	if _, ok := c.Lookup("old.example"); ok {
		t.Fatal("oldest record survived Load")
	}
	for _, d := range []string{"mid.example", "new.example"} {
		if _, ok := c.Lookup(d); !ok {
			t.Fatalf("Lookup(%s) = false after Load", d)
		}
	}
}

func TestEvictedRecordsRemovedInBatches(t *testing.T) {
	s := newRecordingSaver()
	c := New(32, s)
	for i := 0; i < 33; i++ {
		c.Remember(fmt.Sprintf("d%02d.example", i), "192.0.2.1")
	}
	if len(s.removed) != 0 {
		t.Fatalf("removed = %v after one eviction; want none yet", s.removed)
	}
	if _, ok := c.Lookup("d00.example"); ok {
		t.Fatal("least recently used entry survived")
	}

	c.Remember("d33.example", "192.0.2.1")
	sort.Strings(s.removed)
	want := []string{storage.AddrKey("d00.example"), storage.AddrKey("d01.example")}
	if fmt.Sprint(s.removed) != fmt.Sprint(want) {
		t.Fatalf("removed = %v; want %v", s.removed, want)
	}
	if len(s.saved) != 32 {
		t.Fatalf("saved records = %d; want 32", len(s.saved))
	}
}

func TestLoadPrunesRecordsThatDoNotFit(t *testing.T) {
	s := newRecordingSaver()
	c := New(2, s)
	c.Load([]storage.AddrRecord{
		{Domain: "old.example", Addr: "192.0.2.1", Time: 1},
		{Domain: "mid.example", Addr: "192.0.2.2", Time: 2},
		{Domain: "new.example", Addr: "192.0.2.3", Time: 3},
	})
	if len(s.removed) != 1 || s.removed[0] != storage.AddrKey("old.example") {
		t.Fatalf("removed = %v; want [%s]", s.removed, storage.AddrKey("old.example"))
	}
}
