// Package badge keeps the badge each tab should currently show and renders
// its pattern into text glyphs.
package badge

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/ipvwatch/internal/tracker"
)

// Placeholder is shown instead of glyphs when the glyph set failed to load.
const Placeholder = "[!]"

// DefaultGlyphs renders each pattern symbol as itself.
var DefaultGlyphs = map[string]string{
	"4": "4",
	"6": "6",
	"?": "?",
}

// Badge is the rendered state of one tab's badge.
type Badge struct {
	TabID   string    `json:"tab_id"`
	Pattern string    `json:"pattern"`
	Text    string    `json:"text"`
	Tooltip string    `json:"tooltip"`
	Scheme  string    `json:"scheme"`
	Updated time.Time `json:"updated"`
	Redraws int       `json:"redraws"`
}

// Board implements tracker.IconRenderer by remembering the latest badge per
// tab.
type Board struct {
	mu     sync.RWMutex
	badges map[string]Badge
	glyphs map[string]string
	broken bool
	now    func() time.Time
}

// NewBoard returns a board rendering with glyphs. A nil map selects
// DefaultGlyphs.
func NewBoard(glyphs map[string]string) *Board {
	if glyphs == nil {
		glyphs = DefaultGlyphs
	}
	return &Board{badges: make(map[string]Badge), glyphs: glyphs, now: time.Now}
}

// NewBoardFromFile loads glyphs from a YAML file. If the file cannot be read
// the board still works but renders Placeholder.
func NewBoardFromFile(path string) *Board {
	if path == "" {
		return NewBoard(nil)
	}
	glyphs, err := LoadGlyphs(path)
	if err != nil {
		slog.Warn("Glyph set unavailable, badges will show a placeholder", "path", path, "error", err)
		b := NewBoard(nil)
		b.broken = true
		return b
	}
	return NewBoard(glyphs)
}

// LoadGlyphs reads a symbol -> glyph YAML mapping.
func LoadGlyphs(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read glyphs: %w", err)
	}
	var glyphs map[string]string
	if err := yaml.Unmarshal(data, &glyphs); err != nil {
		return nil, fmt.Errorf("parse glyphs: %w", err)
	}
	for _, sym := range []string{"4", "6", "?"} {
		if _, ok := glyphs[sym]; !ok {
			return nil, fmt.Errorf("glyph for %q missing", sym)
		}
	}
	return glyphs, nil
}

// Render turns a pattern into badge text.
func (b *Board) Render(pattern string) string {
	if b.broken {
		return Placeholder
	}
	var sb strings.Builder
	for _, r := range pattern {
		if g, ok := b.glyphs[string(r)]; ok {
			sb.WriteString(g)
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// RenderIcon records the new badge for tab.
func (b *Board) RenderIcon(tab string, icon tracker.Icon) {
	text := b.Render(icon.Pattern)

	b.mu.Lock()
	prev := b.badges[tab]
	b.badges[tab] = Badge{
		TabID:   tab,
		Pattern: icon.Pattern,
		Text:    text,
		Tooltip: icon.Tooltip,
		Scheme:  icon.Scheme,
		Updated: b.now(),
		Redraws: prev.Redraws + 1,
	}
	b.mu.Unlock()

	slog.Debug("Badge redrawn", "tab_id", tab, "pattern", icon.Pattern, "scheme", icon.Scheme)
}

// ForgetIcon drops the badge of a closed tab.
func (b *Board) ForgetIcon(tab string) {
	b.mu.Lock()
	delete(b.badges, tab)
	b.mu.Unlock()
}

// Get returns the current badge of tab.
func (b *Board) Get(tab string) (Badge, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	badge, ok := b.badges[tab]
	return badge, ok
}
